package persistence

import (
	"time"

	"github.com/example/rental-broker/internal/authz"
	"github.com/example/rental-broker/internal/lifecycle"
	"github.com/example/rental-broker/internal/slots"
)

// User represents a broker account.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Role         authz.Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Listing represents a rental listing and its moderation state.
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

// Favorite records that a user saved a listing.
type Favorite struct {
	UserID    string
	ListingID string
	CreatedAt time.Time
}

// Session represents an authentication session persisted for a user.
type Session struct {
	ID          string
	UserID      string
	Fingerprint string
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	RevokedAt   *time.Time
}
