package events

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestRecorder(t *testing.T) {
	t.Parallel()

	t.Run("records concurrently published events", func(t *testing.T) {
		t.Parallel()

		rec := NewRecorder()
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = rec.Publish(context.Background(), Event{Type: ListingSubmitted})
			}()
		}
		wg.Wait()

		if got := len(rec.Events()); got != 20 {
			t.Fatalf("expected 20 events, got %d", got)
		}
	})

	t.Run("returns the configured failure", func(t *testing.T) {
		t.Parallel()

		rec := NewRecorder()
		boom := errors.New("broker down")
		rec.FailWith(boom)
		if err := rec.Publish(context.Background(), Event{Type: ViewingCancelled}); !errors.Is(err, boom) {
			t.Fatalf("expected configured error, got %v", err)
		}
		if len(rec.Types()) != 0 {
			t.Fatalf("failed publishes must not be recorded")
		}
	})

	t.Run("nop accepts everything", func(t *testing.T) {
		t.Parallel()
		var pub Publisher = Nop{}
		if err := pub.Publish(context.Background(), Event{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
