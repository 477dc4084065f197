package testfixtures

import (
	"testing"
	"time"
)

func TestClock(t *testing.T) {
	t.Parallel()

	t.Run("defaults to the reference time", func(t *testing.T) {
		t.Parallel()
		if got := NewClock(time.Time{}).Now(); !got.Equal(ReferenceTime()) {
			t.Fatalf("expected ReferenceTime, got %v", got)
		}
	})

	t.Run("advances and jumps", func(t *testing.T) {
		t.Parallel()
		start := time.Date(2024, time.March, 14, 9, 26, 0, 0, time.UTC)
		clock := NewClock(start)

		if got := clock.Advance(90 * time.Minute); !got.Equal(start.Add(90 * time.Minute)) {
			t.Fatalf("Advance returned %v", got)
		}
		clock.Set(start.Add(-time.Hour))
		if got := clock.Now(); !got.Equal(start.Add(-time.Hour)) {
			t.Fatalf("expected %v after Set, got %v", start.Add(-time.Hour), got)
		}
	})

	t.Run("normalizes to UTC", func(t *testing.T) {
		t.Parallel()
		lisbon := time.FixedZone("WEST", 3600)
		clock := NewClock(time.Date(2024, time.June, 1, 10, 0, 0, 0, lisbon))
		if loc := clock.Now().Location(); loc != time.UTC {
			t.Fatalf("expected UTC, got %v", loc)
		}
	})
}
