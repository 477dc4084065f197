package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/example/rental-broker/internal/events"
)

// EventPublisher receives notifications after a state change has been committed.
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// RateLimiter decides whether another attempt identified by key is admitted.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// publish hands event to publisher. A failed publish never undoes the
// committed write, so it is only logged.
func publish(ctx context.Context, publisher EventPublisher, logger *slog.Logger, event events.Event) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, event); err != nil {
		logger.WarnContext(ctx, "event publish failed",
			"event_type", string(event.Type),
			"aggregate_id", event.AggregateID,
			"error", err,
		)
	}
}

func checkRate(ctx context.Context, limiter RateLimiter, key string) error {
	if limiter == nil {
		return nil
	}
	allowed, err := limiter.Allow(ctx, key)
	if err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	if !allowed {
		return ErrRateLimited
	}
	return nil
}
