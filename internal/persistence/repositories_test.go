package persistence_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/rental-broker/internal/authz"
	"github.com/example/rental-broker/internal/lifecycle"
	"github.com/example/rental-broker/internal/persistence"
	"github.com/example/rental-broker/internal/slots"
	"github.com/example/rental-broker/internal/testfixtures"
)

func forEachStore(t *testing.T, fn func(t *testing.T, h *testfixtures.StoreHarness)) {
	t.Helper()
	for _, open := range testfixtures.AllStores() {
		h := open(t)
		t.Run(h.Name, func(t *testing.T) {
			fn(t, h)
		})
	}
}

// seedParties stores a landlord, a renter and an admin.
func seedParties(t *testing.T, h *testfixtures.StoreHarness) (landlord, renter, admin persistence.User) {
	t.Helper()
	ctx := context.Background()
	landlord = testfixtures.NewUserFixture(testfixtures.WithUserID("landlord-001"), testfixtures.WithUserRole(authz.RoleLandlord)).Persistence()
	renter = testfixtures.NewUserFixture(testfixtures.WithUserID("renter-001")).Persistence()
	admin = testfixtures.NewUserFixture(testfixtures.WithUserID("admin-001"), testfixtures.WithUserRole(authz.RoleAdmin)).Persistence()
	for _, u := range []persistence.User{landlord, renter, admin} {
		if err := h.Users.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser(%s) failed: %v", u.ID, err)
		}
	}
	return landlord, renter, admin
}

func createListing(t *testing.T, h *testfixtures.StoreHarness, opts ...testfixtures.ListingOption) persistence.Listing {
	t.Helper()
	listing := testfixtures.NewListingFixture(opts...).Persistence()
	if err := h.Listings.CreateListing(context.Background(), listing); err != nil {
		t.Fatalf("CreateListing failed: %v", err)
	}
	return listing
}

func TestUserRepository(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *testfixtures.StoreHarness) {
		ctx := context.Background()
		base := testfixtures.ReferenceTime()

		user := testfixtures.NewUserFixture(
			testfixtures.WithUserID("user-a"),
			testfixtures.WithUserEmail("alice@example.com"),
			testfixtures.WithUserDisplayName("Alice"),
			testfixtures.WithUserRole(authz.RoleLandlord),
			testfixtures.WithUserTimestamps(base, base),
		).Persistence()
		if err := h.Users.CreateUser(ctx, user); err != nil {
			t.Fatalf("CreateUser failed: %v", err)
		}

		fetched, err := h.Users.GetUser(ctx, user.ID)
		if err != nil {
			t.Fatalf("GetUser failed: %v", err)
		}
		if fetched.Email != user.Email || fetched.Role != authz.RoleLandlord || !fetched.CreatedAt.Equal(base) {
			t.Fatalf("unexpected user data: %#v", fetched)
		}

		user.Role = authz.RoleAdmin
		user.DisplayName = "Alice Admin"
		user.UpdatedAt = base.Add(time.Hour)
		if err := h.Users.UpdateUser(ctx, user); err != nil {
			t.Fatalf("UpdateUser failed: %v", err)
		}
		fetched, err = h.Users.GetUserByEmail(ctx, "alice@example.com")
		if err != nil {
			t.Fatalf("GetUserByEmail failed: %v", err)
		}
		if fetched.Role != authz.RoleAdmin || fetched.DisplayName != "Alice Admin" || !fetched.UpdatedAt.Equal(base.Add(time.Hour)) {
			t.Fatalf("unexpected updated user: %#v", fetched)
		}

		duplicate := testfixtures.NewUserFixture(testfixtures.WithUserID("user-b"), testfixtures.WithUserEmail("alice@example.com")).Persistence()
		if err := h.Users.CreateUser(ctx, duplicate); !errors.Is(err, persistence.ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}

		bogus := testfixtures.NewUserFixture(testfixtures.WithUserRole(authz.Role("ROOT"))).Persistence()
		if err := h.Users.CreateUser(ctx, bogus); !errors.Is(err, persistence.ErrUnknownEnum) {
			t.Fatalf("expected ErrUnknownEnum, got %v", err)
		}

		if _, err := h.Users.GetUser(ctx, "missing"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		missing := testfixtures.NewUserFixture(testfixtures.WithUserID("ghost")).Persistence()
		if err := h.Users.UpdateUser(ctx, missing); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound on update, got %v", err)
		}

		users, err := h.Users.ListUsers(ctx)
		if err != nil {
			t.Fatalf("ListUsers failed: %v", err)
		}
		if len(users) != 1 || users[0].ID != "user-a" {
			t.Fatalf("expected single user, got %#v", users)
		}
	})
}

func TestListingRepository_CreateAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *testfixtures.StoreHarness) {
		ctx := context.Background()
		landlord, _, _ := seedParties(t, h)

		description := "Sunny two bedroom flat"
		listing := testfixtures.NewListingFixture(testfixtures.WithListingOwner(landlord.ID)).Persistence()
		listing.Description = &description
		listing.Bathrooms = nil
		if err := h.Listings.CreateListing(ctx, listing); err != nil {
			t.Fatalf("CreateListing failed: %v", err)
		}

		fetched, err := h.Listings.GetListing(ctx, listing.ID)
		if err != nil {
			t.Fatalf("GetListing failed: %v", err)
		}
		if fetched.Status != lifecycle.ListingDraft || fetched.OwnerID != landlord.ID {
			t.Fatalf("unexpected listing: %#v", fetched)
		}
		if fetched.Description == nil || *fetched.Description != description {
			t.Fatalf("expected description to round-trip, got %v", fetched.Description)
		}
		if fetched.Bathrooms != nil || fetched.Bedrooms == nil || *fetched.Bedrooms != 2 {
			t.Fatalf("unexpected room counts: bedrooms=%v bathrooms=%v", fetched.Bedrooms, fetched.Bathrooms)
		}
		if len(fetched.Images) != 1 || fetched.Images[0] != listing.Images[0] {
			t.Fatalf("unexpected images: %v", fetched.Images)
		}

		if err := h.Listings.CreateListing(ctx, listing); !errors.Is(err, persistence.ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}

		orphan := testfixtures.NewListingFixture(testfixtures.WithListingOwner("nobody")).Persistence()
		if err := h.Listings.CreateListing(ctx, orphan); !errors.Is(err, persistence.ErrConstraintViolation) {
			t.Fatalf("expected ErrConstraintViolation, got %v", err)
		}

		unknown := testfixtures.NewListingFixture(
			testfixtures.WithListingOwner(landlord.ID),
			testfixtures.WithListingStatus(lifecycle.ListingStatus("ARCHIVED")),
		).Persistence()
		if err := h.Listings.CreateListing(ctx, unknown); !errors.Is(err, persistence.ErrUnknownEnum) {
			t.Fatalf("expected ErrUnknownEnum, got %v", err)
		}

		if _, err := h.Listings.GetListing(ctx, "missing"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestListingRepository_ConditionalWrites(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *testfixtures.StoreHarness) {
		ctx := context.Background()
		landlord, _, admin := seedParties(t, h)
		listing := createListing(t, h, testfixtures.WithListingOwner(landlord.ID))
		at := testfixtures.ReferenceTime().Add(24 * time.Hour)

		t.Run("content update requires the expected status", func(t *testing.T) {
			edit := listing
			edit.Title = "Renovated flat"
			edit.UpdatedAt = at
			updated, err := h.Listings.UpdateListingContent(ctx, edit, lifecycle.ListingDraft)
			if err != nil {
				t.Fatalf("UpdateListingContent failed: %v", err)
			}
			if updated.Title != "Renovated flat" || !updated.UpdatedAt.Equal(at) || updated.Status != lifecycle.ListingDraft {
				t.Fatalf("unexpected listing after update: %#v", updated)
			}
			if _, err := h.Listings.UpdateListingContent(ctx, edit, lifecycle.ListingRejected); !errors.Is(err, persistence.ErrStaleState) {
				t.Fatalf("expected ErrStaleState, got %v", err)
			}
			edit.ID = "missing"
			if _, err := h.Listings.UpdateListingContent(ctx, edit, lifecycle.ListingDraft); !errors.Is(err, persistence.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})

		t.Run("transition is keyed on the status read", func(t *testing.T) {
			submitted, err := h.Listings.TransitionListing(ctx, persistence.ListingTransition{
				ID: listing.ID, From: lifecycle.ListingDraft, To: lifecycle.ListingPending, At: at,
			})
			if err != nil {
				t.Fatalf("TransitionListing failed: %v", err)
			}
			if submitted.Status != lifecycle.ListingPending {
				t.Fatalf("expected PENDING, got %s", submitted.Status)
			}

			_, err = h.Listings.TransitionListing(ctx, persistence.ListingTransition{
				ID: listing.ID, From: lifecycle.ListingDraft, To: lifecycle.ListingPending, At: at,
			})
			if !errors.Is(err, persistence.ErrStaleState) {
				t.Fatalf("expected ErrStaleState on replay, got %v", err)
			}

			_, err = h.Listings.TransitionListing(ctx, persistence.ListingTransition{
				ID: "missing", From: lifecycle.ListingDraft, To: lifecycle.ListingPending, At: at,
			})
			if !errors.Is(err, persistence.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})

		t.Run("review fields are recorded and cleared", func(t *testing.T) {
			reviewer := admin.ID
			approved, err := h.Listings.TransitionListing(ctx, persistence.ListingTransition{
				ID: listing.ID, From: lifecycle.ListingPending, To: lifecycle.ListingApproved,
				At: at.Add(time.Hour), ReviewerID: &reviewer,
			})
			if err != nil {
				t.Fatalf("approve failed: %v", err)
			}
			if approved.ReviewedBy == nil || *approved.ReviewedBy != admin.ID || approved.ReviewedAt == nil || !approved.ReviewedAt.Equal(at.Add(time.Hour)) {
				t.Fatalf("expected review fields, got %#v", approved)
			}

			revised, err := h.Listings.TransitionListing(ctx, persistence.ListingTransition{
				ID: listing.ID, From: lifecycle.ListingApproved, To: lifecycle.ListingDraft,
				At: at.Add(2 * time.Hour), ClearReview: true,
			})
			if err != nil {
				t.Fatalf("revise failed: %v", err)
			}
			if revised.ReviewedBy != nil || revised.ReviewedAt != nil || revised.Status != lifecycle.ListingDraft {
				t.Fatalf("expected cleared review, got %#v", revised)
			}
		})
	})
}

func TestListingRepository_ConcurrentTransitions(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *testfixtures.StoreHarness) {
		ctx := context.Background()
		landlord, _, admin := seedParties(t, h)
		listing := createListing(t, h,
			testfixtures.WithListingOwner(landlord.ID),
			testfixtures.WithListingStatus(lifecycle.ListingPending),
		)

		const workers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			stale     int
		)
		reviewer := admin.ID
		for i := 0; i < workers; i++ {
			target := lifecycle.ListingApproved
			if i%2 == 1 {
				target = lifecycle.ListingRejected
			}
			wg.Add(1)
			go func(to lifecycle.ListingStatus) {
				defer wg.Done()
				_, err := h.Listings.TransitionListing(ctx, persistence.ListingTransition{
					ID: listing.ID, From: lifecycle.ListingPending, To: to,
					At: testfixtures.ReferenceTime(), ReviewerID: &reviewer,
				})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, persistence.ErrStaleState):
					stale++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(target)
		}
		wg.Wait()

		if successes != 1 || stale != workers-1 {
			t.Fatalf("expected exactly one winner, got %d successes and %d stale", successes, stale)
		}
	})
}

func TestListingRepository_ListListings(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *testfixtures.StoreHarness) {
		ctx := context.Background()
		landlord, _, _ := seedParties(t, h)
		base := testfixtures.ReferenceTime()
		one, three := 1, 3

		lisbon := createListing(t, h,
			testfixtures.WithListingID("l-lisbon"),
			testfixtures.WithListingOwner(landlord.ID),
			testfixtures.WithListingStatus(lifecycle.ListingApproved),
			testfixtures.WithListingCity("Lisbon"),
			testfixtures.WithListingBedrooms(&three),
			testfixtures.WithListingPrice(150000),
			testfixtures.WithListingTimestamps(base, base.Add(3*time.Hour)),
		)
		porto := createListing(t, h,
			testfixtures.WithListingID("l-porto"),
			testfixtures.WithListingOwner(landlord.ID),
			testfixtures.WithListingStatus(lifecycle.ListingApproved),
			testfixtures.WithListingCity("Porto"),
			testfixtures.WithListingBedrooms(&one),
			testfixtures.WithListingPrice(80000),
			testfixtures.WithListingTimestamps(base.Add(time.Hour), base.Add(time.Hour)),
		)
		pending := createListing(t, h,
			testfixtures.WithListingID("l-pending"),
			testfixtures.WithListingOwner(landlord.ID),
			testfixtures.WithListingStatus(lifecycle.ListingPending),
			testfixtures.WithListingCity("Lisbon"),
			testfixtures.WithListingTimestamps(base.Add(2*time.Hour), base.Add(2*time.Hour)),
		)

		approved := []lifecycle.ListingStatus{lifecycle.ListingApproved}
		tests := []struct {
			name     string
			filter   persistence.ListingFilter
			expected []string
		}{
			{
				name:     "published newest first",
				filter:   persistence.ListingFilter{Statuses: approved},
				expected: []string{porto.ID, lisbon.ID},
			},
			{
				name:     "city substring ignores case",
				filter:   persistence.ListingFilter{Statuses: approved, CityContains: "LIS"},
				expected: []string{lisbon.ID},
			},
			{
				name:     "minimum bedrooms",
				filter:   persistence.ListingFilter{Statuses: approved, MinBedrooms: &three},
				expected: []string{lisbon.ID},
			},
			{
				name:     "maximum price",
				filter:   persistence.ListingFilter{Statuses: approved, MaxPriceCents: func() *int64 { v := int64(100000); return &v }()},
				expected: []string{porto.ID},
			},
			{
				name:     "owner sees every status",
				filter:   persistence.ListingFilter{OwnerID: landlord.ID},
				expected: []string{pending.ID, porto.ID, lisbon.ID},
			},
			{
				name:     "oldest update first",
				filter:   persistence.ListingFilter{Order: persistence.OrderOldestUpdate},
				expected: []string{porto.ID, pending.ID, lisbon.ID},
			},
			{
				name:     "limit",
				filter:   persistence.ListingFilter{Limit: 1},
				expected: []string{pending.ID},
			},
			{
				name:     "wildcards are literal",
				filter:   persistence.ListingFilter{CityContains: "%"},
				expected: []string{},
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				listings, err := h.Listings.ListListings(ctx, tt.filter)
				if err != nil {
					t.Fatalf("ListListings failed: %v", err)
				}
				got := make([]string, len(listings))
				for i, l := range listings {
					got[i] = l.ID
				}
				if len(got) != len(tt.expected) {
					t.Fatalf("expected %v, got %v", tt.expected, got)
				}
				for i := range got {
					if got[i] != tt.expected[i] {
						t.Fatalf("expected %v, got %v", tt.expected, got)
					}
				}
			})
		}
	})
}

func TestViewingRepository(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *testfixtures.StoreHarness) {
		ctx := context.Background()
		landlord, renter, _ := seedParties(t, h)
		listing := createListing(t, h,
			testfixtures.WithListingID("listing-001"),
			testfixtures.WithListingOwner(landlord.ID),
			testfixtures.WithListingStatus(lifecycle.ListingApproved),
		)
		at := testfixtures.ReferenceTime().Add(time.Hour)

		first := testfixtures.NewViewingFixture(
			testfixtures.WithViewingID("v-1"),
			testfixtures.WithViewingParties(listing.ID, renter.ID, landlord.ID),
			testfixtures.WithViewingNote("Can I bring my dog?"),
			testfixtures.WithViewingCreatedAt(testfixtures.ReferenceTime()),
		).Persistence()
		second := testfixtures.NewViewingFixture(
			testfixtures.WithViewingID("v-2"),
			testfixtures.WithViewingParties(listing.ID, renter.ID, landlord.ID),
			testfixtures.WithViewingCreatedAt(testfixtures.ReferenceTime().Add(time.Minute)),
		).Persistence()
		for _, v := range []persistence.ViewingRequest{first, second} {
			if err := h.Viewings.CreateViewing(ctx, v); err != nil {
				t.Fatalf("CreateViewing(%s) failed: %v", v.ID, err)
			}
		}

		t.Run("round-trips proposed slots", func(t *testing.T) {
			fetched, err := h.Viewings.GetViewing(ctx, first.ID)
			if err != nil {
				t.Fatalf("GetViewing failed: %v", err)
			}
			if len(fetched.ProposedSlots) != 2 || !fetched.ProposedSlots[1].Equal(first.ProposedSlots[1]) {
				t.Fatalf("unexpected slots: %v", fetched.ProposedSlots)
			}
			if fetched.ChosenSlot != nil || fetched.Note == nil || *fetched.Note != "Can I bring my dog?" {
				t.Fatalf("unexpected viewing: %#v", fetched)
			}
		})

		t.Run("rejects slots past year 9999 in UTC", func(t *testing.T) {
			east := time.FixedZone("EST", -5*60*60)
			late := testfixtures.NewViewingFixture(
				testfixtures.WithViewingID("v-late"),
				testfixtures.WithViewingParties(listing.ID, renter.ID, landlord.ID),
				testfixtures.WithViewingSlots(slots.Slot{
					Start: time.Date(9999, time.December, 31, 23, 0, 0, 0, east),
					End:   time.Date(9999, time.December, 31, 23, 30, 0, 0, east),
				}),
			).Persistence()
			if err := h.Viewings.CreateViewing(ctx, late); !errors.Is(err, persistence.ErrConstraintViolation) {
				t.Fatalf("expected ErrConstraintViolation, got %v", err)
			}
			listed, err := h.Viewings.ListViewings(ctx, persistence.ViewingFilter{LandlordID: landlord.ID})
			if err != nil {
				t.Fatalf("ListViewings failed after rejected write: %v", err)
			}
			for _, v := range listed {
				if v.ID == late.ID {
					t.Fatalf("rejected viewing was stored")
				}
			}
		})

		t.Run("rejects dangling references", func(t *testing.T) {
			orphan := testfixtures.NewViewingFixture(testfixtures.WithViewingParties("nope", renter.ID, landlord.ID)).Persistence()
			if err := h.Viewings.CreateViewing(ctx, orphan); !errors.Is(err, persistence.ErrConstraintViolation) {
				t.Fatalf("expected ErrConstraintViolation, got %v", err)
			}
		})

		t.Run("approval stores the chosen slot", func(t *testing.T) {
			chosen := first.ProposedSlots[1]
			approved, err := h.Viewings.TransitionViewing(ctx, persistence.ViewingTransition{
				ID: first.ID, From: lifecycle.ViewingPending, To: lifecycle.ViewingApproved,
				At: at, ActorID: landlord.ID, Chosen: &chosen,
			})
			if err != nil {
				t.Fatalf("TransitionViewing failed: %v", err)
			}
			if approved.Status != lifecycle.ViewingApproved || approved.ChosenSlot == nil || !approved.ChosenSlot.Equal(chosen) {
				t.Fatalf("unexpected approval: %#v", approved)
			}
			if approved.DecidedBy == nil || *approved.DecidedBy != landlord.ID || approved.DecidedAt == nil || !approved.DecidedAt.Equal(at) {
				t.Fatalf("expected decision metadata, got %#v", approved)
			}

			_, err = h.Viewings.TransitionViewing(ctx, persistence.ViewingTransition{
				ID: first.ID, From: lifecycle.ViewingPending, To: lifecycle.ViewingCancelled,
				At: at, ActorID: renter.ID,
			})
			if !errors.Is(err, persistence.ErrStaleState) {
				t.Fatalf("expected ErrStaleState on terminal request, got %v", err)
			}
		})

		t.Run("approval without a slot violates the schema", func(t *testing.T) {
			_, err := h.Viewings.TransitionViewing(ctx, persistence.ViewingTransition{
				ID: second.ID, From: lifecycle.ViewingPending, To: lifecycle.ViewingApproved,
				At: at, ActorID: landlord.ID,
			})
			if !errors.Is(err, persistence.ErrConstraintViolation) {
				t.Fatalf("expected ErrConstraintViolation, got %v", err)
			}
			fetched, err := h.Viewings.GetViewing(ctx, second.ID)
			if err != nil || fetched.Status != lifecycle.ViewingPending {
				t.Fatalf("expected request to stay PENDING, got %#v (%v)", fetched, err)
			}
		})

		t.Run("missing requests", func(t *testing.T) {
			_, err := h.Viewings.TransitionViewing(ctx, persistence.ViewingTransition{
				ID: "missing", From: lifecycle.ViewingPending, To: lifecycle.ViewingDeclined, At: at, ActorID: landlord.ID,
			})
			if !errors.Is(err, persistence.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})

		t.Run("lists newest first with filters", func(t *testing.T) {
			all, err := h.Viewings.ListViewings(ctx, persistence.ViewingFilter{RenterID: renter.ID})
			if err != nil {
				t.Fatalf("ListViewings failed: %v", err)
			}
			if len(all) != 2 || all[0].ID != second.ID || all[1].ID != first.ID {
				t.Fatalf("unexpected order: %#v", all)
			}

			approved, err := h.Viewings.ListViewings(ctx, persistence.ViewingFilter{
				ListingID: listing.ID,
				Statuses:  []lifecycle.ViewingStatus{lifecycle.ViewingApproved},
			})
			if err != nil {
				t.Fatalf("ListViewings failed: %v", err)
			}
			if len(approved) != 1 || approved[0].ID != first.ID {
				t.Fatalf("expected only the approved request, got %#v", approved)
			}

			incoming, err := h.Viewings.ListViewings(ctx, persistence.ViewingFilter{LandlordID: renter.ID})
			if err != nil {
				t.Fatalf("ListViewings failed: %v", err)
			}
			if len(incoming) != 0 {
				t.Fatalf("expected no requests for renter as landlord, got %d", len(incoming))
			}
		})
	})
}

func TestViewingRepository_ConcurrentDecisions(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *testfixtures.StoreHarness) {
		ctx := context.Background()
		landlord, renter, _ := seedParties(t, h)
		listing := createListing(t, h,
			testfixtures.WithListingOwner(landlord.ID),
			testfixtures.WithListingStatus(lifecycle.ListingApproved),
		)
		viewing := testfixtures.NewViewingFixture(testfixtures.WithViewingParties(listing.ID, renter.ID, landlord.ID)).Persistence()
		if err := h.Viewings.CreateViewing(ctx, viewing); err != nil {
			t.Fatalf("CreateViewing failed: %v", err)
		}

		attempts := []persistence.ViewingTransition{
			{ID: viewing.ID, From: lifecycle.ViewingPending, To: lifecycle.ViewingApproved, ActorID: landlord.ID, Chosen: &viewing.ProposedSlots[0]},
			{ID: viewing.ID, From: lifecycle.ViewingPending, To: lifecycle.ViewingDeclined, ActorID: landlord.ID},
			{ID: viewing.ID, From: lifecycle.ViewingPending, To: lifecycle.ViewingCancelled, ActorID: renter.ID},
			{ID: viewing.ID, From: lifecycle.ViewingPending, To: lifecycle.ViewingApproved, ActorID: landlord.ID, Chosen: &viewing.ProposedSlots[1]},
		}

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners []lifecycle.ViewingStatus
		)
		for _, attempt := range attempts {
			attempt.At = testfixtures.ReferenceTime()
			wg.Add(1)
			go func(tr persistence.ViewingTransition) {
				defer wg.Done()
				updated, err := h.Viewings.TransitionViewing(ctx, tr)
				if err != nil {
					if !errors.Is(err, persistence.ErrStaleState) {
						t.Errorf("unexpected error: %v", err)
					}
					return
				}
				mu.Lock()
				winners = append(winners, updated.Status)
				mu.Unlock()
			}(attempt)
		}
		wg.Wait()

		if len(winners) != 1 {
			t.Fatalf("expected exactly one winner, got %v", winners)
		}
		stored, err := h.Viewings.GetViewing(ctx, viewing.ID)
		if err != nil {
			t.Fatalf("GetViewing failed: %v", err)
		}
		if stored.Status != winners[0] {
			t.Fatalf("stored status %s does not match winner %s", stored.Status, winners[0])
		}
		if (stored.Status == lifecycle.ViewingApproved) != (stored.ChosenSlot != nil) {
			t.Fatalf("chosen slot must be set exactly when approved: %#v", stored)
		}
		if stored.ChosenSlot != nil && slots.Match(stored.ProposedSlots, *stored.ChosenSlot) < 0 {
			t.Fatalf("chosen slot %v is not one of the proposals", stored.ChosenSlot)
		}
	})
}

func TestSessionRepository(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *testfixtures.StoreHarness) {
		ctx := context.Background()
		_, renter, _ := seedParties(t, h)
		base := testfixtures.ReferenceTime()

		active := testfixtures.NewSessionFixture(
			testfixtures.WithSessionID("s-active"),
			testfixtures.WithSessionUser(renter.ID),
			testfixtures.WithSessionExpiry(base.Add(48*time.Hour)),
		).Persistence()
		expired := testfixtures.NewSessionFixture(
			testfixtures.WithSessionID("s-expired"),
			testfixtures.WithSessionUser(renter.ID),
			testfixtures.WithSessionExpiry(base.Add(time.Hour)),
		).Persistence()
		for _, s := range []persistence.Session{active, expired} {
			if _, err := h.Sessions.CreateSession(ctx, s); err != nil {
				t.Fatalf("CreateSession(%s) failed: %v", s.ID, err)
			}
		}

		if _, err := h.Sessions.CreateSession(ctx, active); !errors.Is(err, persistence.ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}
		ghost := testfixtures.NewSessionFixture(testfixtures.WithSessionUser("ghost")).Persistence()
		if _, err := h.Sessions.CreateSession(ctx, ghost); !errors.Is(err, persistence.ErrConstraintViolation) {
			t.Fatalf("expected ErrConstraintViolation, got %v", err)
		}

		active.ExpiresAt = base.Add(96 * time.Hour)
		active.UpdatedAt = base.Add(time.Minute)
		refreshed, err := h.Sessions.UpdateSession(ctx, active)
		if err != nil {
			t.Fatalf("UpdateSession failed: %v", err)
		}
		if !refreshed.ExpiresAt.Equal(base.Add(96 * time.Hour)) {
			t.Fatalf("expected extended expiry, got %v", refreshed.ExpiresAt)
		}

		revoked, err := h.Sessions.RevokeSession(ctx, active.ID, base.Add(2*time.Minute))
		if err != nil {
			t.Fatalf("RevokeSession failed: %v", err)
		}
		if revoked.RevokedAt == nil || !revoked.RevokedAt.Equal(base.Add(2*time.Minute)) {
			t.Fatalf("expected revocation time, got %v", revoked.RevokedAt)
		}
		if _, err := h.Sessions.RevokeSession(ctx, "missing", base); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		if err := h.Sessions.DeleteExpiredSessions(ctx, base.Add(time.Hour)); err != nil {
			t.Fatalf("DeleteExpiredSessions failed: %v", err)
		}
		if _, err := h.Sessions.GetSession(ctx, expired.ID); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected expired session to be deleted, got %v", err)
		}
		if _, err := h.Sessions.GetSession(ctx, active.ID); err != nil {
			t.Fatalf("expected active session to remain, got %v", err)
		}
	})
}

func TestFavoriteRepository(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *testfixtures.StoreHarness) {
		ctx := context.Background()
		landlord, renter, _ := seedParties(t, h)
		base := testfixtures.ReferenceTime()
		first := createListing(t, h, testfixtures.WithListingID("listing-001"), testfixtures.WithListingOwner(landlord.ID))
		second := createListing(t, h, testfixtures.WithListingID("listing-002"), testfixtures.WithListingOwner(landlord.ID))

		for i, listingID := range []string{first.ID, second.ID} {
			err := h.Favorites.AddFavorite(ctx, persistence.Favorite{
				UserID:    renter.ID,
				ListingID: listingID,
				CreatedAt: base.Add(time.Duration(i) * time.Minute),
			})
			if err != nil {
				t.Fatalf("AddFavorite(%s) failed: %v", listingID, err)
			}
		}

		err := h.Favorites.AddFavorite(ctx, persistence.Favorite{UserID: renter.ID, ListingID: first.ID, CreatedAt: base})
		if !errors.Is(err, persistence.ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}
		err = h.Favorites.AddFavorite(ctx, persistence.Favorite{UserID: renter.ID, ListingID: "missing", CreatedAt: base})
		if !errors.Is(err, persistence.ErrConstraintViolation) {
			t.Fatalf("expected ErrConstraintViolation, got %v", err)
		}

		favorites, err := h.Favorites.ListFavorites(ctx, renter.ID)
		if err != nil {
			t.Fatalf("ListFavorites failed: %v", err)
		}
		if len(favorites) != 2 || favorites[0].ListingID != second.ID || favorites[1].ListingID != first.ID {
			t.Fatalf("expected newest first, got %#v", favorites)
		}
		if !favorites[0].CreatedAt.Equal(base.Add(time.Minute)) {
			t.Fatalf("unexpected saved time %v", favorites[0].CreatedAt)
		}
		if others, err := h.Favorites.ListFavorites(ctx, landlord.ID); err != nil || len(others) != 0 {
			t.Fatalf("favorites must be per user, got %v (%v)", others, err)
		}

		if err := h.Favorites.RemoveFavorite(ctx, renter.ID, first.ID); err != nil {
			t.Fatalf("RemoveFavorite failed: %v", err)
		}
		if err := h.Favorites.RemoveFavorite(ctx, renter.ID, first.ID); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound on second removal, got %v", err)
		}
		favorites, err = h.Favorites.ListFavorites(ctx, renter.ID)
		if err != nil || len(favorites) != 1 || favorites[0].ListingID != second.ID {
			t.Fatalf("expected one remaining favorite, got %v (%v)", favorites, err)
		}
	})
}
