package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig wires handlers and cross-cutting middleware into the router.
// Nil handlers leave their routes unregistered.
type RouterConfig struct {
	Auth        *AuthHandler
	Users       *UserHandler
	Listings    *ListingHandler
	Viewings    *ViewingHandler
	Favorites   *FavoriteHandler
	Sessions    SessionValidator
	Health      Pinger // pinged by /api/healthz when set
	Logger      *slog.Logger
	CORSOrigins []string
	Middleware  []func(http.Handler) http.Handler
}

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := defaultLogger(cfg.Logger)

	r := chi.NewRouter()
	r.Use(middleware.RealIP, middleware.RequestID, RequestLogger(logger), middleware.Recoverer)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", sessionHeaderName},
			ExposedHeaders:   []string{sessionHeaderName, requestIDHeaderKey},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	for _, mw := range cfg.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	requireSession := RequireSession(cfg.Sessions, logger)
	optionalSession := OptionalSession(cfg.Sessions, logger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/healthz", healthz(cfg.Health, logger))

		if cfg.Users != nil {
			r.Post("/auth/register", cfg.Users.Register)
		}
		if cfg.Auth != nil {
			r.Post("/auth/sessions", cfg.Auth.CreateSession)
			r.Post("/auth/sessions/refresh", cfg.Auth.RefreshSession)
			r.With(requireSession).Delete("/auth/sessions/current", cfg.Auth.DeleteCurrentSession)
		}

		if cfg.Listings != nil {
			r.Get("/listings", cfg.Listings.Browse)
			r.With(optionalSession).Get("/listings/{id}", cfg.Listings.Get)
		}

		r.Group(func(r chi.Router) {
			r.Use(requireSession)

			if cfg.Listings != nil {
				r.Post("/listings", cfg.Listings.Create)
				r.Put("/listings/{id}", cfg.Listings.Update)
				r.Post("/listings/{id}/submit", cfg.Listings.Submit)
				r.Post("/listings/{id}/decision", cfg.Listings.Decide)
				r.Post("/listings/{id}/revise", cfg.Listings.Revise)
				r.Get("/me/listings", cfg.Listings.ListMine)
				r.Get("/admin/listings/pending", cfg.Listings.ListPending)
			}
			if cfg.Viewings != nil {
				r.Post("/listings/{id}/viewings", cfg.Viewings.Create)
				r.Get("/viewings/{id}", cfg.Viewings.Get)
				r.Post("/viewings/{id}/decision", cfg.Viewings.Decide)
				r.Post("/viewings/{id}/cancel", cfg.Viewings.Cancel)
				r.Get("/me/viewings", cfg.Viewings.ListMine)
			}
			if cfg.Favorites != nil {
				r.Put("/listings/{id}/favorite", cfg.Favorites.Save)
				r.Delete("/listings/{id}/favorite", cfg.Favorites.Remove)
				r.Get("/me/favorites", cfg.Favorites.ListMine)
			}
			if cfg.Users != nil {
				r.Get("/users", cfg.Users.List)
				r.Put("/users/{id}/role", cfg.Users.ChangeRole)
			}
		})
	})

	return r
}

func healthz(pinger Pinger, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if pinger != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := pinger.Ping(ctx); err != nil {
				logger.WarnContext(r.Context(), "health check failed", "error", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}` + "\n"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
	}
}
