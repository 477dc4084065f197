package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/rental-broker/internal/authz"
	"github.com/example/rental-broker/internal/lifecycle"
	"github.com/example/rental-broker/internal/persistence"
	"github.com/example/rental-broker/internal/persistence/memory"
)

func newFavoriteServiceForTest(store *memory.Store, now func() time.Time) *FavoriteService {
	return NewFavoriteService(store, store, now)
}

func TestFavoriteService_Save(t *testing.T) {
	t.Parallel()

	t.Run("saves approved listings once", func(t *testing.T) {
		t.Parallel()

		store := newSeededStore(t)
		seedListing(t, store, "listing-1", lifecycle.ListingApproved)
		clock := testNow
		svc := newFavoriteServiceForTest(store, func() time.Time { return clock })

		favorite, err := svc.Save(context.Background(), ListingActionParams{Actor: renter, ListingID: "listing-1"})
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if favorite.ListingID != "listing-1" || !favorite.SavedAt.Equal(testNow) {
			t.Fatalf("unexpected favorite %+v", favorite)
		}

		clock = testNow.Add(time.Hour)
		again, err := svc.Save(context.Background(), ListingActionParams{Actor: renter, ListingID: "listing-1"})
		if err != nil {
			t.Fatalf("repeated Save failed: %v", err)
		}
		if !again.SavedAt.Equal(testNow) {
			t.Fatalf("expected the original save time, got %s", again.SavedAt)
		}
		records, err := store.ListFavorites(context.Background(), renter.ID)
		if err != nil || len(records) != 1 {
			t.Fatalf("expected a single stored favorite, got %v (%v)", records, err)
		}
	})

	t.Run("rejects unpublished and unknown listings", func(t *testing.T) {
		t.Parallel()

		store := newSeededStore(t)
		seedListing(t, store, "draft", lifecycle.ListingDraft)
		seedListing(t, store, "pending", lifecycle.ListingPending)
		svc := newFavoriteServiceForTest(store, fixedNow)

		tests := []struct {
			name      string
			actor     authz.Actor
			listingID string
			want      error
		}{
			{"missing listing", renter, "missing", ErrNotFound},
			{"draft hidden from renters", renter, "draft", ErrNotFound},
			{"pending hidden from strangers", stranger, "pending", ErrNotFound},
			{"owner sees the state conflict", landlord, "pending", ErrInvalidState},
			{"admin sees the state conflict", admin, "draft", ErrInvalidState},
			{"anonymous", authz.Actor{}, "draft", ErrForbidden},
		}
		for _, tt := range tests {
			tt := tt
			t.Run(tt.name, func(t *testing.T) {
				_, err := svc.Save(context.Background(), ListingActionParams{Actor: tt.actor, ListingID: tt.listingID})
				if !errors.Is(err, tt.want) {
					t.Fatalf("expected %v, got %v", tt.want, err)
				}
			})
		}
	})
}

func TestFavoriteService_Remove(t *testing.T) {
	t.Parallel()

	store := newSeededStore(t)
	seedListing(t, store, "listing-1", lifecycle.ListingApproved)
	svc := newFavoriteServiceForTest(store, fixedNow)

	if _, err := svc.Save(context.Background(), ListingActionParams{Actor: renter, ListingID: "listing-1"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := svc.Remove(context.Background(), ListingActionParams{Actor: stranger, ListingID: "listing-1"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected other users' favorites to be untouched, got %v", err)
	}
	if err := svc.Remove(context.Background(), ListingActionParams{Actor: renter, ListingID: "listing-1"}); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := svc.Remove(context.Background(), ListingActionParams{Actor: renter, ListingID: "listing-1"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second removal, got %v", err)
	}
	if err := svc.Remove(context.Background(), ListingActionParams{ListingID: "listing-1"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for anonymous actor, got %v", err)
	}
}

func TestFavoriteService_List(t *testing.T) {
	t.Parallel()

	store := newSeededStore(t)
	seedListing(t, store, "older", lifecycle.ListingApproved)
	seedListing(t, store, "newer", lifecycle.ListingApproved)
	seedListing(t, store, "revised", lifecycle.ListingApproved)
	clock := testNow
	svc := newFavoriteServiceForTest(store, func() time.Time { return clock })

	for _, id := range []string{"older", "revised", "newer"} {
		if _, err := svc.Save(context.Background(), ListingActionParams{Actor: renter, ListingID: id}); err != nil {
			t.Fatalf("Save(%s) failed: %v", id, err)
		}
		clock = clock.Add(time.Minute)
	}

	_, err := store.TransitionListing(context.Background(), persistence.ListingTransition{
		ID: "revised", From: lifecycle.ListingApproved, To: lifecycle.ListingDraft, At: testNow, ClearReview: true,
	})
	if err != nil {
		t.Fatalf("TransitionListing failed: %v", err)
	}

	saved, err := svc.List(context.Background(), renter)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(saved) != 2 || saved[0].Listing.ID != "newer" || saved[1].Listing.ID != "older" {
		t.Fatalf("expected approved favorites newest first, got %+v", saved)
	}
	if !saved[1].SavedAt.Equal(testNow) {
		t.Fatalf("unexpected saved time %s", saved[1].SavedAt)
	}

	if others, err := svc.List(context.Background(), stranger); err != nil || len(others) != 0 {
		t.Fatalf("expected an empty list for another user, got %v (%v)", others, err)
	}
	if _, err := svc.List(context.Background(), authz.Actor{}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for anonymous actor, got %v", err)
	}
}
