package http

import (
	"context"
	"log/slog"

	"github.com/example/rental-broker/internal/logging"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// handlerLogger prefers the request scoped logger installed by RequestLogger
// so handler records carry the request id.
func handlerLogger(ctx context.Context, fallback *slog.Logger, handlerName, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = defaultLogger(fallback)
	}

	scoped := logger.With("handler", handlerName)
	if operation != "" {
		scoped = scoped.With("operation", operation)
	}
	if len(attrs) == 0 {
		return scoped
	}
	return scoped.With(attrs...)
}
