// Package events defines the domain notifications emitted after a committed
// state change and the publisher port they are handed to.
package events

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Type names an event. Publishers use it as the routing key.
type Type string

const (
	ListingCreated   Type = "listing.created"
	ListingSubmitted Type = "listing.submitted"
	ListingApproved  Type = "listing.approved"
	ListingRejected  Type = "listing.rejected"
	ListingRevised   Type = "listing.revised"

	ViewingRequested Type = "viewing.requested"
	ViewingApproved  Type = "viewing.approved"
	ViewingDeclined  Type = "viewing.declined"
	ViewingCancelled Type = "viewing.cancelled"

	UserRegistered Type = "user.registered"
)

// Event is a fact about one aggregate. Attributes carry the recipients an
// outbound mailer needs (for example "landlord_id" or "renter_id").
type Event struct {
	ID          string            `json:"id"`
	Type        Type              `json:"type"`
	AggregateID string            `json:"aggregate_id"`
	ActorID     string            `json:"actor_id,omitempty"`
	Status      string            `json:"status,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Publisher delivers events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// ErrPublisherClosed is returned by publishers used after Close.
var ErrPublisherClosed = errors.New("events: publisher closed")

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

// FailWith makes subsequent Publish calls return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the published event types in order.
func (r *Recorder) Types() []Type {
	events := r.Events()
	out := make([]Type, 0, len(events))
	for _, event := range events {
		out = append(out, event.Type)
	}
	return out
}
