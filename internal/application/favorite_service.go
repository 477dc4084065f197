package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/rental-broker/internal/authz"
	"github.com/example/rental-broker/internal/persistence"
)

// FavoriteRepository captures the persistence interactions required by FavoriteService.
type FavoriteRepository interface {
	AddFavorite(ctx context.Context, favorite persistence.Favorite) error
	RemoveFavorite(ctx context.Context, userID, listingID string) error
	ListFavorites(ctx context.Context, userID string) ([]persistence.Favorite, error)
}

// FavoriteService keeps each user's saved listings.
type FavoriteService struct {
	favorites FavoriteRepository
	listings  ListingRepository
	now       func() time.Time
	logger    *slog.Logger
}

// NewFavoriteService constructs a FavoriteService with the provided dependencies.
func NewFavoriteService(favorites FavoriteRepository, listings ListingRepository, now func() time.Time) *FavoriteService {
	return NewFavoriteServiceWithLogger(favorites, listings, now, nil)
}

// NewFavoriteServiceWithLogger constructs a FavoriteService with a specified logger.
func NewFavoriteServiceWithLogger(favorites FavoriteRepository, listings ListingRepository, now func() time.Time, logger *slog.Logger) *FavoriteService {
	if now == nil {
		now = time.Now
	}
	return &FavoriteService{
		favorites: favorites,
		listings:  listings,
		now:       now,
		logger:    defaultLogger(logger),
	}
}

func (s *FavoriteService) ready() error {
	if s == nil {
		return fmt.Errorf("FavoriteService is nil")
	}
	if s.favorites == nil || s.listings == nil {
		return fmt.Errorf("favorite repositories not configured")
	}
	return nil
}

// Save adds an APPROVED listing to the actor's favorites. Saving a listing
// twice keeps the original time.
func (s *FavoriteService) Save(ctx context.Context, params ListingActionParams) (favorite Favorite, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := serviceLogger(ctx, s.logger, "FavoriteService", "Save", "actor_id", params.Actor.ID, "listing_id", params.ListingID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "favorite save failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "favorite saved")
	}()

	if !params.Actor.Authenticated() {
		err = ErrForbidden
		return
	}

	var listing persistence.Listing
	if listing, err = s.listings.GetListing(ctx, params.ListingID); err != nil {
		err = mapRepoError(err, "get listing")
		return
	}
	if !listing.Status.Published() {
		if !authz.Allow(params.Actor, authz.OwnerOrAdmin, authz.Resource{OwnerID: listing.OwnerID}) {
			err = ErrNotFound
			return
		}
		err = fmt.Errorf("%w: only approved listings can be saved", ErrInvalidState)
		return
	}

	record := persistence.Favorite{
		UserID:    params.Actor.ID,
		ListingID: listing.ID,
		CreatedAt: s.now().UTC(),
	}
	addErr := s.favorites.AddFavorite(ctx, record)
	switch {
	case addErr == nil:
		favorite = Favorite{ListingID: record.ListingID, SavedAt: record.CreatedAt}
	case errors.Is(addErr, persistence.ErrDuplicate):
		favorite, err = s.existing(ctx, params.Actor.ID, listing.ID)
	default:
		err = mapRepoError(addErr, "add favorite")
	}
	return
}

// Remove deletes a listing from the actor's favorites regardless of the
// listing's current status.
func (s *FavoriteService) Remove(ctx context.Context, params ListingActionParams) (err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := serviceLogger(ctx, s.logger, "FavoriteService", "Remove", "actor_id", params.Actor.ID, "listing_id", params.ListingID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "favorite remove failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "favorite removed")
	}()

	if !params.Actor.Authenticated() {
		err = ErrForbidden
		return
	}
	if err = s.favorites.RemoveFavorite(ctx, params.Actor.ID, params.ListingID); err != nil {
		err = mapRepoError(err, "remove favorite")
	}
	return
}

// List returns the actor's saved listings, most recently saved first.
// Listings that are no longer APPROVED are left out.
func (s *FavoriteService) List(ctx context.Context, actor authz.Actor) (saved []FavoriteListing, err error) {
	if err = s.ready(); err != nil {
		return
	}
	if !actor.Authenticated() {
		err = ErrForbidden
		return
	}

	var records []persistence.Favorite
	if records, err = s.favorites.ListFavorites(ctx, actor.ID); err != nil {
		err = mapRepoError(err, "list favorites")
		serviceLogger(ctx, s.logger, "FavoriteService", "List", "actor_id", actor.ID).
			ErrorContext(ctx, "favorites list failed", "error", err, "error_kind", ErrorKind(err))
		return
	}

	saved = make([]FavoriteListing, 0, len(records))
	for _, record := range records {
		listing, getErr := s.listings.GetListing(ctx, record.ListingID)
		if errors.Is(getErr, persistence.ErrNotFound) {
			continue
		}
		if getErr != nil {
			err = mapRepoError(getErr, "get favorite listing")
			saved = nil
			return
		}
		if !listing.Status.Published() {
			continue
		}
		saved = append(saved, FavoriteListing{Listing: listingFromRecord(listing), SavedAt: record.CreatedAt})
	}
	return
}

func (s *FavoriteService) existing(ctx context.Context, userID, listingID string) (Favorite, error) {
	records, err := s.favorites.ListFavorites(ctx, userID)
	if err != nil {
		return Favorite{}, mapRepoError(err, "list favorites")
	}
	for _, record := range records {
		if record.ListingID == listingID {
			return Favorite{ListingID: record.ListingID, SavedAt: record.CreatedAt}, nil
		}
	}
	return Favorite{}, ErrNotFound
}
