package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/example/rental-broker/internal/application"
	"github.com/example/rental-broker/internal/config"
	"github.com/example/rental-broker/internal/events"
	"github.com/example/rental-broker/internal/events/rabbitmq"
	httptransport "github.com/example/rental-broker/internal/http"
	"github.com/example/rental-broker/internal/logging"
	"github.com/example/rental-broker/internal/persistence"
	"github.com/example/rental-broker/internal/persistence/memory"
	"github.com/example/rental-broker/internal/persistence/sqlstore"
	"github.com/example/rental-broker/internal/ratelimit"
	"github.com/example/rental-broker/internal/token"
)

func main() {
	bootstrap := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		bootstrap.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, os.Stdout); err != nil {
		bootstrap.Error("broker exited with error", "error", err)
		os.Exit(1)
	}
}

// store is satisfied by both the SQL and the memory implementations.
type store interface {
	persistence.UserRepository
	persistence.ListingRepository
	persistence.ViewingRepository
	persistence.SessionRepository
	persistence.FavoriteRepository
	Ping(ctx context.Context) error
	Close() error
}

// closers runs cleanup functions in reverse registration order.
type closers []func() error

func (c *closers) add(fn func() error) {
	*c = append(*c, fn)
}

func (c closers) close(logger *slog.Logger) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			logger.Error("failed to release resource", "error", err)
		}
	}
}

func run(ctx context.Context, cfg config.Config, stdout io.Writer) error {
	var cleanup closers

	logger, closeLogger, err := newLogger(cfg, stdout)
	if err != nil {
		return err
	}
	cleanup.add(closeLogger)
	defer cleanup.close(logger)

	storage, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	cleanup.add(storage.Close)

	limiter, closeLimiter, err := newLimiter(ctx, cfg)
	if err != nil {
		return err
	}
	cleanup.add(closeLimiter)

	publisher, closePublisher, err := newPublisher(cfg)
	if err != nil {
		return err
	}
	cleanup.add(closePublisher)

	handler, err := newHandler(cfg, dependencies{
		store:     storage,
		limiter:   limiter,
		publisher: publisher,
		now:       time.Now,
		newID:     uuid.NewString,
		logger:    logger,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("rental broker API listening",
		"addr", server.Addr,
		"db_driver", cfg.DBDriver,
		"redis", cfg.RedisURL != "",
		"amqp", cfg.AMQPURL != "",
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	logger.Info("rental broker API stopped")
	return nil
}

// newLogger builds the process logger. When a fluent host is configured,
// records are written to both stdout and the collector.
func newLogger(cfg config.Config, stdout io.Writer) (*slog.Logger, func() error, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	handler, err := logging.NewHandler(stdout, cfg.LogFormat, level)
	if err != nil {
		return nil, nil, err
	}
	if cfg.FluentHost == "" {
		return slog.New(handler), func() error { return nil }, nil
	}

	client, err := logging.DialFluent(logging.FluentConfig{
		Host: cfg.FluentHost,
		Port: cfg.FluentPort,
		Tag:  cfg.FluentTag,
	})
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(logging.Fanout(handler, logging.NewFluentHandler(client, level)))
	return logger, client.Close, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store, error) {
	if cfg.DBDriver == config.DriverMemory {
		logger.Warn("using in-memory storage, data is lost on restart")
		return memory.New(), nil
	}

	dbConfig := sqlstore.DefaultDatabaseConfig(cfg.DBDriver, cfg.DBDSN)
	dbConfig.MigrationsEnabled = cfg.MigrationsEnabled
	storage, err := sqlstore.Open(ctx, dbConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.DBDriver, err)
	}
	return storage, nil
}

func newLimiter(ctx context.Context, cfg config.Config) (application.RateLimiter, func() error, error) {
	if cfg.RedisURL == "" {
		return ratelimit.NewInMemory(cfg.RateLimit, cfg.RateWindow, time.Now), func() error { return nil }, nil
	}
	client, err := ratelimit.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return ratelimit.NewRedis(client, "broker:ratelimit", cfg.RateLimit, cfg.RateWindow), client.Close, nil
}

func newPublisher(cfg config.Config) (application.EventPublisher, func() error, error) {
	if cfg.AMQPURL == "" {
		return events.Nop{}, func() error { return nil }, nil
	}
	publisher, err := rabbitmq.Dial(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		return nil, nil, err
	}
	return publisher, publisher.Close, nil
}

// publishedCacheTTL turns the catalogue cache off when Redis is configured.
// Redis means several replicas share rate limits, and the cache cannot be
// invalidated across them.
func publishedCacheTTL(cfg config.Config) time.Duration {
	if cfg.RedisURL != "" {
		return 0
	}
	return cfg.PublishedCacheTTL
}

type dependencies struct {
	store     store
	limiter   application.RateLimiter
	publisher application.EventPublisher
	now       func() time.Time
	newID     func() string
	logger    *slog.Logger
}

// newHandler wires the services over deps and returns the API router.
func newHandler(cfg config.Config, deps dependencies) (http.Handler, error) {
	issuer, err := token.NewIssuer(cfg.SessionSecret, cfg.TokenIssuer, deps.now)
	if err != nil {
		return nil, fmt.Errorf("create token issuer: %w", err)
	}

	userService := application.NewUserServiceWithLogger(deps.store, application.HashPassword, deps.limiter, deps.publisher, deps.newID, deps.now, deps.logger).
		WithAdminEmail(cfg.AdminEmail)
	authService := application.NewAuthServiceWithLogger(deps.store, deps.store, issuer, application.VerifyPassword, deps.limiter, deps.newID, deps.now, cfg.SessionTTL, deps.logger)
	listingService := application.NewListingServiceWithLogger(deps.store, deps.publisher, deps.newID, deps.now, deps.logger).
		WithPageSize(cfg.PageSize).
		WithPublishedCacheTTL(publishedCacheTTL(cfg))
	viewingService := application.NewViewingServiceWithLogger(deps.store, deps.store, deps.publisher, deps.newID, deps.now, deps.logger)
	favoriteService := application.NewFavoriteServiceWithLogger(deps.store, deps.store, deps.now, deps.logger)

	return httptransport.NewRouter(httptransport.RouterConfig{
		Auth:        httptransport.NewAuthHandler(authService, deps.logger),
		Users:       httptransport.NewUserHandler(userService, deps.logger),
		Listings:    httptransport.NewListingHandler(listingService, deps.logger),
		Viewings:    httptransport.NewViewingHandler(viewingService, deps.logger),
		Favorites:   httptransport.NewFavoriteHandler(favoriteService, deps.logger),
		Sessions:    authService,
		Health:      deps.store,
		Logger:      deps.logger,
		CORSOrigins: cfg.CORSOrigins,
	}), nil
}
