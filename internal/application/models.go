package application

import (
	"time"

	"github.com/example/rental-broker/internal/authz"
	"github.com/example/rental-broker/internal/lifecycle"
	"github.com/example/rental-broker/internal/persistence"
	"github.com/example/rental-broker/internal/slots"
)

// Field length caps, measured in runes.
const (
	MaxTitleLength       = 140
	MaxCityLength        = 80
	MaxNoteLength        = 2000
	MaxDescriptionLength = 5000
	MaxDisplayNameLength = 120
	MinPasswordLength    = 8
)

// DefaultPageSize bounds public listing queries when no page size is configured.
const DefaultPageSize = 24

// User represents an account exposed by the application services.
type User struct {
	ID          string
	Email       string
	DisplayName string
	Role        authz.Role
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Actor returns the identity used for authorization decisions.
func (u User) Actor() authz.Actor {
	return authz.Actor{ID: u.ID, Role: u.Role}
}

// RegisterParams captures the data required to open an account.
type RegisterParams struct {
	Email       string
	Password    string
	DisplayName string
	Role        authz.Role
	// ClientKey identifies the caller for rate limiting, usually the client IP.
	ClientKey string
}

// ChangeRoleParams wraps an administrator's role assignment.
type ChangeRoleParams struct {
	Actor  authz.Actor
	UserID string
	Role   authz.Role
}

// ListingInput captures the owner supplied listing fields. Nil pointers and
// empty values are allowed while drafting.
type ListingInput struct {
	Title       string
	City        string
	Description *string
	PriceCents  int64
	Bedrooms    *int
	Bathrooms   *int
	Images      []string
	Amenities   []string
	VideoURL    *string
}

// Listing represents a rental listing exposed by the application services.
type Listing struct {
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

// CreateListingParams wraps the data required to create a draft.
type CreateListingParams struct {
	Actor authz.Actor
	Input ListingInput
}

// UpdateListingParams wraps the data required to rewrite a draft.
type UpdateListingParams struct {
	Actor     authz.Actor
	ListingID string
	Input     ListingInput
}

// ListingActionParams identifies a listing acted on by actor.
type ListingActionParams struct {
	Actor     authz.Actor
	ListingID string
}

// DecideListingParams wraps an administrator's moderation verdict.
type DecideListingParams struct {
	Actor     authz.Actor
	ListingID string
	Decision  lifecycle.ListingDecision
}

// ReviseListingResult reports the reopened draft. Unpublished is true when
// the listing was publicly visible before the revise.
type ReviseListingResult struct {
	Listing     Listing
	Unpublished bool
}

// BrowseListingsParams narrows the public catalogue.
type BrowseListingsParams struct {
	City          string
	MinBedrooms   *int
	MaxPriceCents *int64
	Limit         int
}

// ViewingRequest represents a renter's request to visit a listing.
type ViewingRequest struct {
	ID            string
	ListingID     string
	RenterID      string
	LandlordID    string
	ProposedSlots []slots.Slot
	ChosenSlot    *slots.Slot
	Status        lifecycle.ViewingStatus
	Note          *string
	DecidedBy     *string
	DecidedAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CreateViewingParams wraps a renter's proposal.
type CreateViewingParams struct {
	Actor     authz.Actor
	ListingID string
	Slots     []slots.Slot
	Note      string
}

// DecideViewingParams wraps a landlord's verdict. Chosen is only read for approvals.
type DecideViewingParams struct {
	Actor     authz.Actor
	RequestID string
	Decision  lifecycle.ViewingDecision
	Chosen    *slots.Slot
}

// ViewingActionParams identifies a viewing request acted on by actor.
type ViewingActionParams struct {
	Actor     authz.Actor
	RequestID string
}

// ViewingDecisionResult carries the decided request and, for approvals, the
// other approved requests on the same listing whose chosen slot overlaps.
type ViewingDecisionResult struct {
	Request         ViewingRequest
	OverlapWarnings []slots.Overlap
}

// Session represents an authenticated session issued to a user. Token is the
// signed bearer credential; it is not persisted.
type Session struct {
	ID          string
	UserID      string
	Token       string
	Fingerprint string
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	RevokedAt   *time.Time
}

// AuthenticateParams captures the data required to authenticate a user.
type AuthenticateParams struct {
	Email       string
	Password    string
	Fingerprint string
}

// Favorite is a listing saved by a user.
type Favorite struct {
	ListingID string
	SavedAt   time.Time
}

// FavoriteListing pairs a saved listing with the time it was saved.
type FavoriteListing struct {
	Listing Listing
	SavedAt time.Time
}

// AuthenticateResult captures the outcome of a successful authentication attempt.
type AuthenticateResult struct {
	User    User
	Session Session
}

// RefreshSessionParams captures the data required to refresh an existing session.
type RefreshSessionParams struct {
	Token       string
	Fingerprint string
}

// RefreshSessionResult captures the outcome of re-signing a session token.
type RefreshSessionResult struct {
	Session Session
}

func userFromRecord(record persistence.User) User {
	return User{
		ID:          record.ID,
		Email:       record.Email,
		DisplayName: record.DisplayName,
		Role:        record.Role,
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
	}
}

func listingFromRecord(record persistence.Listing) Listing {
	return Listing{
		ID:          record.ID,
		OwnerID:     record.OwnerID,
		Status:      record.Status,
		Title:       record.Title,
		City:        record.City,
		Description: record.Description,
		PriceCents:  record.PriceCents,
		Bedrooms:    record.Bedrooms,
		Bathrooms:   record.Bathrooms,
		Images:      cloneStrings(record.Images),
		Amenities:   cloneStrings(record.Amenities),
		VideoURL:    record.VideoURL,
		ReviewedBy:  record.ReviewedBy,
		ReviewedAt:  record.ReviewedAt,
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
	}
}

func listingsFromRecords(records []persistence.Listing) []Listing {
	out := make([]Listing, 0, len(records))
	for _, record := range records {
		out = append(out, listingFromRecord(record))
	}
	return out
}

func viewingFromRecord(record persistence.ViewingRequest) ViewingRequest {
	proposed := make([]slots.Slot, len(record.ProposedSlots))
	copy(proposed, record.ProposedSlots)
	return ViewingRequest{
		ID:            record.ID,
		ListingID:     record.ListingID,
		RenterID:      record.RenterID,
		LandlordID:    record.LandlordID,
		ProposedSlots: proposed,
		ChosenSlot:    record.ChosenSlot,
		Status:        record.Status,
		Note:          record.Note,
		DecidedBy:     record.DecidedBy,
		DecidedAt:     record.DecidedAt,
		CreatedAt:     record.CreatedAt,
		UpdatedAt:     record.UpdatedAt,
	}
}

func viewingsFromRecords(records []persistence.ViewingRequest) []ViewingRequest {
	out := make([]ViewingRequest, 0, len(records))
	for _, record := range records {
		out = append(out, viewingFromRecord(record))
	}
	return out
}

func sessionFromRecord(record persistence.Session, token string) Session {
	return Session{
		ID:          record.ID,
		UserID:      record.UserID,
		Token:       token,
		Fingerprint: record.Fingerprint,
		ExpiresAt:   record.ExpiresAt,
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
		RevokedAt:   record.RevokedAt,
	}
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return []string{}
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
