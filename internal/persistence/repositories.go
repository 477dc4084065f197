package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/example/rental-broker/internal/lifecycle"
	"github.com/example/rental-broker/internal/slots"
)

// UserRepository exposes CRUD operations for users.
type UserRepository interface {
	CreateUser(ctx context.Context, user User) error
	UpdateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
}

// ListingOrder selects the sort applied by ListListings.
type ListingOrder int

const (
	// OrderNewest sorts by creation time, most recent first.
	OrderNewest ListingOrder = iota
	// OrderOldestUpdate sorts by last update, oldest first.
	OrderOldestUpdate
)

// ListingFilter narrows listing queries. Zero values match everything.
type ListingFilter struct {
	OwnerID       string
	Statuses      []lifecycle.ListingStatus
	CityContains  string
	MinBedrooms   *int
	MaxPriceCents *int64
	Order         ListingOrder
	Limit         int
}

// ListingTransition describes a conditional status change. The write only
// applies while the stored status equals From.
type ListingTransition struct {
	ID   string
	From lifecycle.ListingStatus
	To   lifecycle.ListingStatus
	At   time.Time
	// ReviewerID records the moderator; when set, reviewed_at becomes At.
	ReviewerID *string
	// ClearReview nulls both review columns.
	ClearReview bool
}

// ListingRepository stores listings. Status changes go through
// TransitionListing so that concurrent writers race on a single row.
type ListingRepository interface {
	CreateListing(ctx context.Context, listing Listing) error
	GetListing(ctx context.Context, id string) (Listing, error)
	// UpdateListingContent rewrites the editable columns while the stored
	// status equals expected.
	UpdateListingContent(ctx context.Context, listing Listing, expected lifecycle.ListingStatus) (Listing, error)
	TransitionListing(ctx context.Context, transition ListingTransition) (Listing, error)
	ListListings(ctx context.Context, filter ListingFilter) ([]Listing, error)
}

// ViewingFilter narrows viewing queries. Results are newest first.
type ViewingFilter struct {
	ListingID  string
	RenterID   string
	LandlordID string
	Statuses   []lifecycle.ViewingStatus
	Limit      int
}

// ViewingTransition describes a conditional status change of a viewing request.
type ViewingTransition struct {
	ID      string
	From    lifecycle.ViewingStatus
	To      lifecycle.ViewingStatus
	At      time.Time
	ActorID string
	Chosen  *slots.Slot
}

// ViewingRepository stores viewing requests.
type ViewingRepository interface {
	CreateViewing(ctx context.Context, viewing ViewingRequest) error
	GetViewing(ctx context.Context, id string) (ViewingRequest, error)
	TransitionViewing(ctx context.Context, transition ViewingTransition) (ViewingRequest, error)
	ListViewings(ctx context.Context, filter ViewingFilter) ([]ViewingRequest, error)
}

// FavoriteRepository stores saved listings. A user holds at most one
// favorite per listing; adding it again returns ErrDuplicate.
type FavoriteRepository interface {
	AddFavorite(ctx context.Context, favorite Favorite) error
	RemoveFavorite(ctx context.Context, userID, listingID string) error
	// ListFavorites returns the user's favorites, newest first.
	ListFavorites(ctx context.Context, userID string) ([]Favorite, error)
}

// SessionRepository stores authentication session state.
type SessionRepository interface {
	CreateSession(ctx context.Context, session Session) (Session, error)
	GetSession(ctx context.Context, id string) (Session, error)
	UpdateSession(ctx context.Context, session Session) (Session, error)
	RevokeSession(ctx context.Context, id string, revokedAt time.Time) (Session, error)
	DeleteExpiredSessions(ctx context.Context, reference time.Time) error
}

// CheckListing rejects listings whose status is outside the closed set.
func CheckListing(l Listing) error {
	if !l.Status.Valid() {
		return ErrUnknownEnum
	}
	return nil
}

// CheckViewing rejects viewing requests whose status is outside the closed set
// or whose slots cannot be stored.
func CheckViewing(v ViewingRequest) error {
	if !v.Status.Valid() {
		return ErrUnknownEnum
	}
	for _, slot := range v.ProposedSlots {
		if !slot.InRange() {
			return fmt.Errorf("%w: proposed slot %s out of range", ErrConstraintViolation, slot)
		}
	}
	if v.ChosenSlot != nil && !v.ChosenSlot.InRange() {
		return fmt.Errorf("%w: chosen slot %s out of range", ErrConstraintViolation, *v.ChosenSlot)
	}
	return nil
}

// CheckUser rejects users whose role is outside the closed set.
func CheckUser(u User) error {
	if !u.Role.Valid() {
		return ErrUnknownEnum
	}
	return nil
}

// CheckTransition validates both ends of a status change.
func CheckTransition(from, to lifecycle.ListingStatus) error {
	if !from.Valid() || !to.Valid() {
		return ErrUnknownEnum
	}
	return nil
}

// CheckViewingTransition validates both ends of a viewing status change.
func CheckViewingTransition(from, to lifecycle.ViewingStatus) error {
	if !from.Valid() || !to.Valid() {
		return ErrUnknownEnum
	}
	return nil
}
