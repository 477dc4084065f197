package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/rental-broker/internal/authz"
	"github.com/example/rental-broker/internal/lifecycle"
	"github.com/example/rental-broker/internal/persistence"
	"github.com/example/rental-broker/internal/slots"
)

var (
	userCounter    uint64
	listingCounter uint64
	viewingCounter uint64
	sessionCounter uint64
)

var referenceTime = time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ----------------------------- User fixtures -----------------------------

// UserFixture represents a deterministic user record.
type UserFixture struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Role         authz.Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserOption configures the generated user fixture.
type UserOption func(*UserFixture)

// NewUserFixture returns a deterministic user fixture with optional overrides.
func NewUserFixture(opts ...UserOption) UserFixture {
	idx := atomic.AddUint64(&userCounter, 1)
	id := fmt.Sprintf("user-%03d", idx)
	created := referenceTime.Add(time.Duration(idx) * time.Minute)
	fixture := UserFixture{
		ID:           id,
		Email:        fmt.Sprintf("%s@example.com", id),
		DisplayName:  fmt.Sprintf("User %03d", idx),
		PasswordHash: fmt.Sprintf("hash-%03d", idx),
		Role:         authz.RoleUser,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithUserID overrides the generated user ID.
func WithUserID(id string) UserOption {
	return func(f *UserFixture) { f.ID = id }
}

// WithUserEmail overrides the generated email address.
func WithUserEmail(email string) UserOption {
	return func(f *UserFixture) { f.Email = email }
}

// WithUserDisplayName overrides the generated display name.
func WithUserDisplayName(name string) UserOption {
	return func(f *UserFixture) { f.DisplayName = name }
}

// WithUserPasswordHash overrides the generated password hash.
func WithUserPasswordHash(hash string) UserOption {
	return func(f *UserFixture) { f.PasswordHash = hash }
}

// WithUserRole sets the role of the generated fixture.
func WithUserRole(role authz.Role) UserOption {
	return func(f *UserFixture) { f.Role = role }
}

// WithUserTimestamps sets both created and updated timestamps on the fixture.
func WithUserTimestamps(created, updated time.Time) UserOption {
	return func(f *UserFixture) {
		f.CreatedAt = created
		f.UpdatedAt = updated
	}
}

// Actor returns the authz.Actor acting as this user.
func (f UserFixture) Actor() authz.Actor {
	return authz.Actor{ID: f.ID, Role: f.Role}
}

// Persistence returns the fixture as a persistence.User value.
func (f UserFixture) Persistence() persistence.User {
	return persistence.User{
		ID:           f.ID,
		Email:        f.Email,
		DisplayName:  f.DisplayName,
		PasswordHash: f.PasswordHash,
		Role:         f.Role,
		CreatedAt:    f.CreatedAt,
		UpdatedAt:    f.UpdatedAt,
	}
}

// ---------------------------- Listing fixtures ----------------------------

// ListingFixture represents a deterministic listing. The defaults describe a
// complete DRAFT that may be submitted as is.
type ListingFixture struct {
	ID          string
	OwnerID     string
	Status      lifecycle.ListingStatus
	Title       string
	City        string
	Description *string
	PriceCents  int64
	Bedrooms    *int
	Bathrooms   *int
	Images      []string
	Amenities   []string
	VideoURL    *string
	ReviewedBy  *string
	ReviewedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ListingOption configures the generated listing fixture.
type ListingOption func(*ListingFixture)

// NewListingFixture returns a deterministic listing fixture with optional overrides.
func NewListingFixture(opts ...ListingOption) ListingFixture {
	idx := atomic.AddUint64(&listingCounter, 1)
	id := fmt.Sprintf("listing-%03d", idx)
	created := referenceTime.Add(time.Duration(idx) * time.Hour)
	bedrooms, bathrooms := 2, 1
	fixture := ListingFixture{
		ID:         id,
		OwnerID:    "landlord-001",
		Status:     lifecycle.ListingDraft,
		Title:      fmt.Sprintf("Bright flat %03d", idx),
		City:       "Lisbon",
		PriceCents: 120000,
		Bedrooms:   &bedrooms,
		Bathrooms:  &bathrooms,
		Images:     []string{fmt.Sprintf("images/%s/cover.jpg", id)},
		Amenities:  []string{"balcony"},
		CreatedAt:  created,
		UpdatedAt:  created,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithListingID overrides the generated listing ID.
func WithListingID(id string) ListingOption {
	return func(f *ListingFixture) { f.ID = id }
}

// WithListingOwner sets the owning landlord.
func WithListingOwner(ownerID string) ListingOption {
	return func(f *ListingFixture) { f.OwnerID = ownerID }
}

// WithListingStatus sets the lifecycle status.
func WithListingStatus(status lifecycle.ListingStatus) ListingOption {
	return func(f *ListingFixture) { f.Status = status }
}

// WithListingTitle overrides the title.
func WithListingTitle(title string) ListingOption {
	return func(f *ListingFixture) { f.Title = title }
}

// WithListingCity overrides the city.
func WithListingCity(city string) ListingOption {
	return func(f *ListingFixture) { f.City = city }
}

// WithListingPrice overrides the monthly price in cents.
func WithListingPrice(cents int64) ListingOption {
	return func(f *ListingFixture) { f.PriceCents = cents }
}

// WithListingBedrooms overrides the bedroom count; nil clears it.
func WithListingBedrooms(n *int) ListingOption {
	return func(f *ListingFixture) { f.Bedrooms = n }
}

// WithListingImages overrides the image references.
func WithListingImages(images ...string) ListingOption {
	return func(f *ListingFixture) { f.Images = images }
}

// WithListingReview records a moderator decision on the fixture.
func WithListingReview(reviewerID string, at time.Time) ListingOption {
	return func(f *ListingFixture) {
		f.ReviewedBy = &reviewerID
		f.ReviewedAt = &at
	}
}

// WithListingTimestamps sets both created and updated timestamps on the fixture.
func WithListingTimestamps(created, updated time.Time) ListingOption {
	return func(f *ListingFixture) {
		f.CreatedAt = created
		f.UpdatedAt = updated
	}
}

// Persistence returns the fixture as a persistence.Listing value.
func (f ListingFixture) Persistence() persistence.Listing {
	return persistence.Listing{
		ID:          f.ID,
		OwnerID:     f.OwnerID,
		Status:      f.Status,
		Title:       f.Title,
		City:        f.City,
		Description: f.Description,
		PriceCents:  f.PriceCents,
		Bedrooms:    f.Bedrooms,
		Bathrooms:   f.Bathrooms,
		Images:      append([]string(nil), f.Images...),
		Amenities:   append([]string(nil), f.Amenities...),
		VideoURL:    f.VideoURL,
		ReviewedBy:  f.ReviewedBy,
		ReviewedAt:  f.ReviewedAt,
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   f.UpdatedAt,
	}
}

// ---------------------------- Viewing fixtures ----------------------------

// ViewingFixture represents a deterministic viewing request.
type ViewingFixture struct {
	ID            string
	ListingID     string
	RenterID      string
	LandlordID    string
	ProposedSlots []slots.Slot
	ChosenSlot    *slots.Slot
	Status        lifecycle.ViewingStatus
	Note          *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ViewingOption configures the generated viewing fixture.
type ViewingOption func(*ViewingFixture)

// SlotAt returns a one-hour slot starting hours after ReferenceTime.
func SlotAt(hours int) slots.Slot {
	start := referenceTime.Add(time.Duration(hours) * time.Hour)
	return slots.Slot{Start: start, End: start.Add(time.Hour)}
}

// NewViewingFixture returns a deterministic PENDING viewing request.
func NewViewingFixture(opts ...ViewingOption) ViewingFixture {
	idx := atomic.AddUint64(&viewingCounter, 1)
	created := referenceTime.Add(time.Duration(idx) * time.Minute)
	fixture := ViewingFixture{
		ID:            fmt.Sprintf("viewing-%03d", idx),
		ListingID:     "listing-001",
		RenterID:      "renter-001",
		LandlordID:    "landlord-001",
		ProposedSlots: []slots.Slot{SlotAt(48), SlotAt(72)},
		Status:        lifecycle.ViewingPending,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithViewingID overrides the generated request ID.
func WithViewingID(id string) ViewingOption {
	return func(f *ViewingFixture) { f.ID = id }
}

// WithViewingParties sets the listing, renter and landlord of the request.
func WithViewingParties(listingID, renterID, landlordID string) ViewingOption {
	return func(f *ViewingFixture) {
		f.ListingID = listingID
		f.RenterID = renterID
		f.LandlordID = landlordID
	}
}

// WithViewingSlots overrides the proposed slots.
func WithViewingSlots(proposed ...slots.Slot) ViewingOption {
	return func(f *ViewingFixture) { f.ProposedSlots = proposed }
}

// WithViewingStatus sets the status; APPROVED also needs WithViewingChosen.
func WithViewingStatus(status lifecycle.ViewingStatus) ViewingOption {
	return func(f *ViewingFixture) { f.Status = status }
}

// WithViewingChosen sets the chosen slot.
func WithViewingChosen(slot slots.Slot) ViewingOption {
	return func(f *ViewingFixture) { f.ChosenSlot = &slot }
}

// WithViewingNote sets the renter's note.
func WithViewingNote(note string) ViewingOption {
	return func(f *ViewingFixture) { f.Note = &note }
}

// WithViewingCreatedAt sets both timestamps.
func WithViewingCreatedAt(t time.Time) ViewingOption {
	return func(f *ViewingFixture) {
		f.CreatedAt = t
		f.UpdatedAt = t
	}
}

// Persistence returns the fixture as a persistence.ViewingRequest value.
func (f ViewingFixture) Persistence() persistence.ViewingRequest {
	return persistence.ViewingRequest{
		ID:            f.ID,
		ListingID:     f.ListingID,
		RenterID:      f.RenterID,
		LandlordID:    f.LandlordID,
		ProposedSlots: append([]slots.Slot(nil), f.ProposedSlots...),
		ChosenSlot:    f.ChosenSlot,
		Status:        f.Status,
		Note:          f.Note,
		CreatedAt:     f.CreatedAt,
		UpdatedAt:     f.UpdatedAt,
	}
}

// ---------------------------- Session fixtures ----------------------------

// SessionFixture represents a deterministic authentication session.
type SessionFixture struct {
	ID          string
	UserID      string
	Fingerprint string
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	RevokedAt   *time.Time
}

// SessionOption configures the generated session fixture.
type SessionOption func(*SessionFixture)

// NewSessionFixture returns a deterministic session fixture with optional overrides.
func NewSessionFixture(opts ...SessionOption) SessionFixture {
	idx := atomic.AddUint64(&sessionCounter, 1)
	created := referenceTime.Add(time.Duration(idx) * time.Second)
	fixture := SessionFixture{
		ID:          fmt.Sprintf("session-%03d", idx),
		UserID:      "user-001",
		Fingerprint: fmt.Sprintf("fp-%03d", idx),
		ExpiresAt:   created.Add(7 * 24 * time.Hour),
		CreatedAt:   created,
		UpdatedAt:   created,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithSessionID overrides the generated session ID.
func WithSessionID(id string) SessionOption {
	return func(f *SessionFixture) { f.ID = id }
}

// WithSessionUser sets the owning user.
func WithSessionUser(userID string) SessionOption {
	return func(f *SessionFixture) { f.UserID = userID }
}

// WithSessionExpiry sets the expiry instant.
func WithSessionExpiry(t time.Time) SessionOption {
	return func(f *SessionFixture) { f.ExpiresAt = t }
}

// WithSessionRevokedAt marks the session as revoked.
func WithSessionRevokedAt(t time.Time) SessionOption {
	return func(f *SessionFixture) { f.RevokedAt = &t }
}

// Persistence returns the fixture as a persistence.Session value.
func (f SessionFixture) Persistence() persistence.Session {
	return persistence.Session{
		ID:          f.ID,
		UserID:      f.UserID,
		Fingerprint: f.Fingerprint,
		ExpiresAt:   f.ExpiresAt,
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   f.UpdatedAt,
		RevokedAt:   f.RevokedAt,
	}
}
