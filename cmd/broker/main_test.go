package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/example/rental-broker/internal/config"
	"github.com/example/rental-broker/internal/events"
	"github.com/example/rental-broker/internal/logging"
	"github.com/example/rental-broker/internal/persistence/memory"
	"github.com/example/rental-broker/internal/ratelimit"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testConfig() config.Config {
	return config.Config{
		HTTPPort:          8080,
		DBDriver:          config.DriverMemory,
		MigrationsEnabled: true,
		SessionSecret:     testSecret,
		SessionTTL:        time.Hour,
		TokenIssuer:       "rental-broker",
		AdminEmail:        "admin@example.com",
		RateLimit:         5,
		RateWindow:        time.Minute,
		LogFormat:         logging.FormatText,
		LogLevel:          "debug",
		PageSize:          24,
		PublishedCacheTTL: 30 * time.Second,
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, closeLogger, err := newLogger(testConfig(), &buf)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	defer func() { _ = closeLogger() }()

	logger.Debug("startup", "component", "main")
	if out := buf.String(); !strings.Contains(out, "msg=startup") || !strings.Contains(out, "component=main") {
		t.Fatalf("expected text output at debug level, got %q", out)
	}

	cfg := testConfig()
	cfg.LogLevel = "loud"
	if _, _, err := newLogger(cfg, &buf); err == nil {
		t.Fatalf("expected invalid level to fail")
	}
}

func TestOpenStore(t *testing.T) {
	t.Parallel()

	t.Run("memory", func(t *testing.T) {
		t.Parallel()
		storage, err := openStore(context.Background(), testConfig(), logging.Discard())
		if err != nil {
			t.Fatalf("openStore: %v", err)
		}
		if _, ok := storage.(*memory.Store); !ok {
			t.Fatalf("expected memory store, got %T", storage)
		}
	})

	t.Run("sqlite with migrations", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		cfg.DBDriver = config.DriverSQLite
		cfg.DBDSN = filepath.Join(t.TempDir(), "broker.db")

		storage, err := openStore(context.Background(), cfg, logging.Discard())
		if err != nil {
			t.Fatalf("openStore: %v", err)
		}
		defer func() { _ = storage.Close() }()

		if err := storage.Ping(context.Background()); err != nil {
			t.Fatalf("Ping: %v", err)
		}
		users, err := storage.ListUsers(context.Background())
		if err != nil || len(users) != 0 {
			t.Fatalf("expected an empty migrated schema, got %v (%v)", users, err)
		}
	})
}

func TestDefaultAdapters(t *testing.T) {
	t.Parallel()

	limiter, closeLimiter, err := newLimiter(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("newLimiter: %v", err)
	}
	defer func() { _ = closeLimiter() }()
	if _, ok := limiter.(*ratelimit.InMemory); !ok {
		t.Fatalf("expected in-memory limiter without redis, got %T", limiter)
	}

	publisher, closePublisher, err := newPublisher(testConfig())
	if err != nil {
		t.Fatalf("newPublisher: %v", err)
	}
	defer func() { _ = closePublisher() }()
	if _, ok := publisher.(events.Nop); !ok {
		t.Fatalf("expected no-op publisher without amqp, got %T", publisher)
	}
}

func TestPublishedCacheTTL(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	if got := publishedCacheTTL(cfg); got != 30*time.Second {
		t.Fatalf("expected configured TTL without redis, got %s", got)
	}
	cfg.RedisURL = "redis://localhost:6379/0"
	if got := publishedCacheTTL(cfg); got != 0 {
		t.Fatalf("expected the cache to be off with redis, got %s", got)
	}
}

func TestClosersRunInReverse(t *testing.T) {
	t.Parallel()

	var order []string
	var c closers
	for _, name := range []string{"logger", "store", "limiter"} {
		name := name
		c.add(func() error {
			order = append(order, name)
			if name == "store" {
				return errors.New("close failed")
			}
			return nil
		})
	}
	c.close(logging.Discard())

	if want := []string{"limiter", "store", "logger"}; !reflect.DeepEqual(order, want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
}

func TestNewHandlerServesTheAPI(t *testing.T) {
	t.Parallel()

	ids := 0
	recorder := events.NewRecorder()
	handler, err := newHandler(testConfig(), dependencies{
		store:     memory.New(),
		limiter:   ratelimit.NewInMemory(5, time.Minute, nil),
		publisher: recorder,
		now:       func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) },
		newID: func() string {
			ids++
			return fmt.Sprintf("id-%d", ids)
		},
		logger: logging.Discard(),
	})
	if err != nil {
		t.Fatalf("newHandler: %v", err)
	}

	send := func(method, path, token string, body any) *httptest.ResponseRecorder {
		t.Helper()
		var raw []byte
		if body != nil {
			raw, _ = json.Marshal(body)
		}
		req := httptest.NewRequest(method, path, bytes.NewReader(raw))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := send(http.MethodGet, "/api/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}

	rec := send(http.MethodPost, "/api/auth/register", "", map[string]any{
		"email": "Admin@example.com", "password": "correct horse", "display_name": "Admin",
	})
	if rec.Code != http.StatusCreated || !strings.Contains(rec.Body.String(), `"role":"ADMIN"`) {
		t.Fatalf("register: %d %s", rec.Code, rec.Body.String())
	}

	rec = send(http.MethodPost, "/api/auth/sessions", "", map[string]any{
		"email": "admin@example.com", "password": "correct horse",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("login: %d %s", rec.Code, rec.Body.String())
	}
	var session struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil || session.Token == "" {
		t.Fatalf("decode session: %v %s", err, rec.Body.String())
	}

	if rec := send(http.MethodGet, "/api/users", session.Token, nil); rec.Code != http.StatusOK {
		t.Fatalf("list users: %d %s", rec.Code, rec.Body.String())
	}
	if got := recorder.Types(); len(got) != 1 || got[0] != events.UserRegistered {
		t.Fatalf("expected a registration event, got %v", got)
	}
}

func TestNewHandlerRejectsShortSecret(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.SessionSecret = "short"
	_, err := newHandler(cfg, dependencies{store: memory.New(), now: time.Now, newID: func() string { return "x" }, logger: logging.Discard()})
	if err == nil {
		t.Fatalf("expected token issuer construction to fail")
	}
}
