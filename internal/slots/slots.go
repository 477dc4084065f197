// Package slots validates proposed viewing windows and detects overlaps
// between confirmed ones.
package slots

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// MaxProposed is the largest number of windows a renter may offer.
const MaxProposed = 3

var (
	// ErrNoSlots is returned when a proposal carries no windows.
	ErrNoSlots = errors.New("slots: at least one slot is required")
	// ErrTooManySlots is returned when a proposal carries more than MaxProposed windows.
	ErrTooManySlots = errors.New("slots: too many slots")
	// ErrEmptyWindow is returned when a window does not end strictly after it starts.
	ErrEmptyWindow = errors.New("slots: start must be before end")
	// ErrOutOfRange is returned when a bound falls outside years 1..9999 in UTC.
	ErrOutOfRange = errors.New("slots: time out of range")
)

// Bounds of the representable window. Stored timestamps carry a four digit
// UTC year.
var (
	earliest = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)
	latest   = time.Date(10000, time.January, 1, 0, 0, 0, 0, time.UTC)
)

func inRange(t time.Time) bool {
	return !t.Before(earliest) && t.Before(latest)
}

// InRange reports whether both bounds fall within years 1..9999 in UTC.
func (s Slot) InRange() bool {
	return inRange(s.Start) && inRange(s.End)
}

// Slot is a half-open [Start, End) viewing window.
type Slot struct {
	Start time.Time
	End   time.Time
}

// Equal reports whether two slots denote the same instants.
func (s Slot) Equal(other Slot) bool {
	return s.Start.Equal(other.Start) && s.End.Equal(other.End)
}

// Overlaps reports whether two windows share any instant.
func (s Slot) Overlaps(other Slot) bool {
	return s.Start.Before(other.End) && other.Start.Before(s.End)
}

// UTC returns the slot with both bounds converted to UTC.
func (s Slot) UTC() Slot {
	return Slot{Start: s.Start.UTC(), End: s.End.UTC()}
}

func (s Slot) String() string {
	return fmt.Sprintf("%s/%s", s.Start.UTC().Format(time.RFC3339), s.End.UTC().Format(time.RFC3339))
}

// Validate checks a renter's proposal: 1..MaxProposed windows, each non-empty
// and within years 1..9999 in UTC.
func Validate(proposed []Slot) error {
	if len(proposed) == 0 {
		return ErrNoSlots
	}
	if len(proposed) > MaxProposed {
		return fmt.Errorf("%w: got %d, max %d", ErrTooManySlots, len(proposed), MaxProposed)
	}
	for i, slot := range proposed {
		if slot.Start.IsZero() || slot.End.IsZero() || !slot.Start.Before(slot.End) {
			return fmt.Errorf("%w: slot %d", ErrEmptyWindow, i+1)
		}
		if !slot.InRange() {
			return fmt.Errorf("%w: slot %d", ErrOutOfRange, i+1)
		}
	}
	return nil
}

// Match returns the index of the proposed slot equal to chosen, or -1.
func Match(proposed []Slot, chosen Slot) int {
	for i, slot := range proposed {
		if slot.Equal(chosen) {
			return i
		}
	}
	return -1
}

// Booking is a confirmed window held by some request.
type Booking struct {
	RequestID string
	Slot      Slot
}

// Overlap names an existing booking that shares time with a candidate.
type Overlap struct {
	WithRequestID string
	Slot          Slot
}

// DetectOverlaps returns every booking other than candidateID whose window
// intersects candidate, ordered by start time.
func DetectOverlaps(existing []Booking, candidateID string, candidate Slot) []Overlap {
	var out []Overlap
	for _, booking := range existing {
		if booking.RequestID == candidateID {
			continue
		}
		if booking.Slot.Overlaps(candidate) {
			out = append(out, Overlap{WithRequestID: booking.RequestID, Slot: booking.Slot})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Slot.Start.Equal(out[j].Slot.Start) {
			return out[i].WithRequestID < out[j].WithRequestID
		}
		return out[i].Slot.Start.Before(out[j].Slot.Start)
	})
	return out
}
