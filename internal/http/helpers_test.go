package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/rental-broker/internal/logging"
	"github.com/example/rental-broker/internal/testfixtures"
)

const testAdminEmail = "admin@example.com"

type testAPI struct {
	handler  http.Handler
	factory  *testfixtures.ServiceFactory
	services testfixtures.Services
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	factory := testfixtures.NewServiceFactory(testfixtures.WithAdminEmail(testAdminEmail))
	services, err := factory.Build(testfixtures.NewMemoryHarness(t))
	if err != nil {
		t.Fatalf("build services: %v", err)
	}

	logger := logging.Discard()
	handler := NewRouter(RouterConfig{
		Auth:      NewAuthHandler(services.Auth, logger),
		Users:     NewUserHandler(services.Users, logger),
		Listings:  NewListingHandler(services.Listings, logger),
		Viewings:  NewViewingHandler(services.Viewings, logger),
		Favorites: NewFavoriteHandler(services.Favorites, logger),
		Sessions:  services.Auth,
		Logger:    logger,
	})
	return &testAPI{handler: handler, factory: factory, services: services}
}

// do sends body (marshalled unless it is already a string) with an optional bearer token.
func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

// account registers a user with role and returns a session token for it.
func (a *testAPI) account(t *testing.T, email, role string) string {
	t.Helper()

	rec := a.do(t, http.MethodPost, "/api/auth/register", "", map[string]any{
		"email":        email,
		"password":     "correct horse",
		"display_name": email,
		"role":         role,
	})
	expectStatus(t, rec, http.StatusCreated)

	rec = a.do(t, http.MethodPost, "/api/auth/sessions", "", map[string]any{
		"email":    email,
		"password": "correct horse",
	})
	expectStatus(t, rec, http.StatusCreated)
	return decodeBody[sessionResponse](t, rec).Token
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) errorResponse {
	t.Helper()
	expectStatus(t, rec, status)
	resp := decodeBody[errorResponse](t, rec)
	if resp.ErrorCode != code {
		t.Fatalf("expected error code %s, got %+v", code, resp)
	}
	return resp
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func completeListingBody() map[string]any {
	return map[string]any{
		"title":       "Sunny two-bedroom",
		"city":        "lisbon",
		"price_cents": 120000,
		"bedrooms":    2,
		"bathrooms":   1,
		"images":      []string{"https://img.example.com/1.jpg"},
	}
}
