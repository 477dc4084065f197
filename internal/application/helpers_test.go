package application

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/rental-broker/internal/authz"
	"github.com/example/rental-broker/internal/lifecycle"
	"github.com/example/rental-broker/internal/persistence"
	"github.com/example/rental-broker/internal/persistence/memory"
	"github.com/example/rental-broker/internal/slots"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

var (
	landlord = authz.Actor{ID: "landlord-1", Role: authz.RoleLandlord}
	renter   = authz.Actor{ID: "renter-1", Role: authz.RoleUser}
	admin    = authz.Actor{ID: "admin-1", Role: authz.RoleAdmin}
	stranger = authz.Actor{ID: "stranger-1", Role: authz.RoleLandlord}
)

// newSequence returns a generator yielding prefix-1, prefix-2, ...
func newSequence(prefix string) func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

// newSeededStore returns a memory store holding an account for every test actor.
func newSeededStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	for _, actor := range []authz.Actor{landlord, renter, admin, stranger} {
		err := store.CreateUser(context.Background(), persistence.User{
			ID:           actor.ID,
			Email:        actor.ID + "@example.com",
			DisplayName:  actor.ID,
			PasswordHash: "hash:secret",
			Role:         actor.Role,
			CreatedAt:    testNow,
			UpdatedAt:    testNow,
		})
		if err != nil {
			t.Fatalf("seed user %s: %v", actor.ID, err)
		}
	}
	return store
}

// seedListing stores a complete listing owned by landlord in status.
func seedListing(t *testing.T, store *memory.Store, id string, status lifecycle.ListingStatus) persistence.Listing {
	t.Helper()
	beds, baths := 2, 1
	listing := persistence.Listing{
		ID:         id,
		OwnerID:    landlord.ID,
		Status:     status,
		Title:      "Sunny two-bedroom",
		City:       "Lisbon",
		PriceCents: 120000,
		Bedrooms:   &beds,
		Bathrooms:  &baths,
		Images:     []string{"https://img.example.com/1.jpg"},
		Amenities:  []string{},
		CreatedAt:  testNow.Add(-time.Hour),
		UpdatedAt:  testNow.Add(-time.Hour),
	}
	if err := store.CreateListing(context.Background(), listing); err != nil {
		t.Fatalf("seed listing %s: %v", id, err)
	}
	return listing
}

func completeInput() ListingInput {
	return ListingInput{
		Title:      "Sunny two-bedroom",
		City:       "lisbon",
		PriceCents: 120000,
		Bedrooms:   intPtr(2),
		Bathrooms:  intPtr(1),
		Images:     []string{"https://img.example.com/1.jpg"},
	}
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

// slotAt returns a thirty minute slot starting at hour:minute on the day after testNow.
func slotAt(hour, minute int) slots.Slot {
	start := time.Date(2024, 3, 2, hour, minute, 0, 0, time.UTC)
	return slots.Slot{Start: start, End: start.Add(30 * time.Minute)}
}

func newListingServiceForTest(repo ListingRepository, publisher EventPublisher) *ListingService {
	return NewListingService(repo, publisher, newSequence("id"), fixedNow)
}

func newViewingServiceForTest(store *memory.Store, publisher EventPublisher) *ViewingService {
	return NewViewingService(store, store, publisher, newSequence("viewing"), fixedNow)
}

// racingListingRepository lets a competing writer move the listing between
// the service's read and its conditional write.
type racingListingRepository struct {
	ListingRepository
	before func(ctx context.Context, transition persistence.ListingTransition)
}

func (r *racingListingRepository) TransitionListing(ctx context.Context, transition persistence.ListingTransition) (persistence.Listing, error) {
	if r.before != nil {
		r.before(ctx, transition)
	}
	return r.ListingRepository.TransitionListing(ctx, transition)
}

// failingListingRepository fails every call with err.
type failingListingRepository struct {
	err error
}

func (f failingListingRepository) CreateListing(context.Context, persistence.Listing) error {
	return f.err
}

func (f failingListingRepository) GetListing(context.Context, string) (persistence.Listing, error) {
	return persistence.Listing{}, f.err
}

func (f failingListingRepository) UpdateListingContent(context.Context, persistence.Listing, lifecycle.ListingStatus) (persistence.Listing, error) {
	return persistence.Listing{}, f.err
}

func (f failingListingRepository) TransitionListing(context.Context, persistence.ListingTransition) (persistence.Listing, error) {
	return persistence.Listing{}, f.err
}

func (f failingListingRepository) ListListings(context.Context, persistence.ListingFilter) ([]persistence.Listing, error) {
	return nil, f.err
}

// countingListingRepository counts ListListings calls to observe the cache.
type countingListingRepository struct {
	ListingRepository
	mu    sync.Mutex
	lists int
}

func (c *countingListingRepository) ListListings(ctx context.Context, filter persistence.ListingFilter) ([]persistence.Listing, error) {
	c.mu.Lock()
	c.lists++
	c.mu.Unlock()
	return c.ListingRepository.ListListings(ctx, filter)
}

func (c *countingListingRepository) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lists
}

// limiterStub admits the first allow calls per key.
type limiterStub struct {
	mu    sync.Mutex
	allow int
	err   error
	seen  map[string]int
}

func (l *limiterStub) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.seen == nil {
		l.seen = make(map[string]int)
	}
	l.seen[key]++
	return l.seen[key] <= l.allow, nil
}
