// Package memory implements the persistence repositories on in-process maps.
//
// Writes are serialized by a single mutex so conditional transitions behave
// like the SQL store's UPDATE ... WHERE status = ? statements.
package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/rental-broker/internal/lifecycle"
	"github.com/example/rental-broker/internal/persistence"
	"github.com/example/rental-broker/internal/slots"
)

// Store holds every aggregate in memory.
type Store struct {
	mu        sync.RWMutex
	users     map[string]persistence.User
	listings  map[string]persistence.Listing
	viewings  map[string]persistence.ViewingRequest
	sessions  map[string]persistence.Session
	favorites map[string]map[string]persistence.Favorite // user id -> listing id
}

var (
	_ persistence.UserRepository     = (*Store)(nil)
	_ persistence.ListingRepository  = (*Store)(nil)
	_ persistence.ViewingRepository  = (*Store)(nil)
	_ persistence.SessionRepository  = (*Store)(nil)
	_ persistence.FavoriteRepository = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		users:     make(map[string]persistence.User),
		listings:  make(map[string]persistence.Listing),
		viewings:  make(map[string]persistence.ViewingRequest),
		sessions:  make(map[string]persistence.Session),
		favorites: make(map[string]map[string]persistence.Favorite),
	}
}

// Close is a no-op kept for parity with the SQL store.
func (s *Store) Close() error { return nil }

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// CreateUser inserts a user. Email addresses are unique.
func (s *Store) CreateUser(_ context.Context, user persistence.User) error {
	if err := persistence.CheckUser(user); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		return persistence.ErrDuplicate
	}
	for _, existing := range s.users {
		if existing.Email == user.Email {
			return persistence.ErrDuplicate
		}
	}
	s.users[user.ID] = user
	return nil
}

// UpdateUser replaces the stored user.
func (s *Store) UpdateUser(_ context.Context, user persistence.User) error {
	if err := persistence.CheckUser(user); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.users[user.ID]
	if !ok {
		return persistence.ErrNotFound
	}
	for id, existing := range s.users {
		if id != user.ID && existing.Email == user.Email {
			return persistence.ErrDuplicate
		}
	}
	user.CreatedAt = current.CreatedAt
	s.users[user.ID] = user
	return nil
}

// GetUser fetches a user by id.
func (s *Store) GetUser(_ context.Context, id string) (persistence.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return persistence.User{}, persistence.ErrNotFound
	}
	return user, nil
}

// GetUserByEmail fetches a user by email address.
func (s *Store) GetUserByEmail(_ context.Context, email string) (persistence.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		if user.Email == email {
			return user, nil
		}
	}
	return persistence.User{}, persistence.ErrNotFound
}

// ListUsers returns users ordered by creation time.
func (s *Store) ListUsers(context.Context) ([]persistence.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]persistence.User, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

// CreateListing inserts a listing owned by an existing user.
func (s *Store) CreateListing(_ context.Context, listing persistence.Listing) error {
	if err := persistence.CheckListing(listing); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.listings[listing.ID]; ok {
		return persistence.ErrDuplicate
	}
	if _, ok := s.users[listing.OwnerID]; !ok {
		return persistence.ErrConstraintViolation
	}
	s.listings[listing.ID] = cloneListing(listing)
	return nil
}

// GetListing fetches a listing by id.
func (s *Store) GetListing(_ context.Context, id string) (persistence.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	listing, ok := s.listings[id]
	if !ok {
		return persistence.Listing{}, persistence.ErrNotFound
	}
	return cloneListing(listing), nil
}

// UpdateListingContent rewrites the editable fields while the stored status equals expected.
func (s *Store) UpdateListingContent(_ context.Context, listing persistence.Listing, expected lifecycle.ListingStatus) (persistence.Listing, error) {
	if !expected.Valid() {
		return persistence.Listing{}, persistence.ErrUnknownEnum
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.listings[listing.ID]
	if !ok {
		return persistence.Listing{}, persistence.ErrNotFound
	}
	if current.Status != expected {
		return persistence.Listing{}, persistence.ErrStaleState
	}

	current.Title = listing.Title
	current.City = listing.City
	current.Description = listing.Description
	current.PriceCents = listing.PriceCents
	current.Bedrooms = listing.Bedrooms
	current.Bathrooms = listing.Bathrooms
	current.Images = listing.Images
	current.Amenities = listing.Amenities
	current.VideoURL = listing.VideoURL
	current.UpdatedAt = listing.UpdatedAt
	current = cloneListing(current)
	s.listings[current.ID] = current
	return cloneListing(current), nil
}

// TransitionListing applies a compare-and-swap on the listing status.
func (s *Store) TransitionListing(_ context.Context, t persistence.ListingTransition) (persistence.Listing, error) {
	if err := persistence.CheckTransition(t.From, t.To); err != nil {
		return persistence.Listing{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.listings[t.ID]
	if !ok {
		return persistence.Listing{}, persistence.ErrNotFound
	}
	if current.Status != t.From {
		return persistence.Listing{}, persistence.ErrStaleState
	}

	current.Status = t.To
	current.UpdatedAt = t.At
	switch {
	case t.ReviewerID != nil:
		reviewer := *t.ReviewerID
		at := t.At
		current.ReviewedBy = &reviewer
		current.ReviewedAt = &at
	case t.ClearReview:
		current.ReviewedBy = nil
		current.ReviewedAt = nil
	}
	s.listings[current.ID] = current
	return cloneListing(current), nil
}

// ListListings filters and sorts listings.
func (s *Store) ListListings(_ context.Context, filter persistence.ListingFilter) ([]persistence.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	city := strings.ToLower(strings.TrimSpace(filter.CityContains))
	out := make([]persistence.Listing, 0)
	for _, listing := range s.listings {
		if filter.OwnerID != "" && listing.OwnerID != filter.OwnerID {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, listing.Status) {
			continue
		}
		if city != "" && !strings.Contains(strings.ToLower(listing.City), city) {
			continue
		}
		if filter.MinBedrooms != nil && (listing.Bedrooms == nil || *listing.Bedrooms < *filter.MinBedrooms) {
			continue
		}
		if filter.MaxPriceCents != nil && listing.PriceCents > *filter.MaxPriceCents {
			continue
		}
		out = append(out, cloneListing(listing))
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if filter.Order == persistence.OrderOldestUpdate {
			if a.UpdatedAt.Equal(b.UpdatedAt) {
				return a.ID < b.ID
			}
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID > b.ID
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// CreateViewing inserts a viewing request.
func (s *Store) CreateViewing(_ context.Context, viewing persistence.ViewingRequest) error {
	if err := persistence.CheckViewing(viewing); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.viewings[viewing.ID]; ok {
		return persistence.ErrDuplicate
	}
	if _, ok := s.listings[viewing.ListingID]; !ok {
		return persistence.ErrConstraintViolation
	}
	if _, ok := s.users[viewing.RenterID]; !ok {
		return persistence.ErrConstraintViolation
	}
	if _, ok := s.users[viewing.LandlordID]; !ok {
		return persistence.ErrConstraintViolation
	}
	s.viewings[viewing.ID] = cloneViewing(viewing)
	return nil
}

// GetViewing fetches a viewing request by id.
func (s *Store) GetViewing(_ context.Context, id string) (persistence.ViewingRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	viewing, ok := s.viewings[id]
	if !ok {
		return persistence.ViewingRequest{}, persistence.ErrNotFound
	}
	return cloneViewing(viewing), nil
}

// TransitionViewing applies a compare-and-swap on the viewing status.
func (s *Store) TransitionViewing(_ context.Context, t persistence.ViewingTransition) (persistence.ViewingRequest, error) {
	if err := persistence.CheckViewingTransition(t.From, t.To); err != nil {
		return persistence.ViewingRequest{}, err
	}
	// chosen_slot is present exactly when the request is approved.
	if (t.To == lifecycle.ViewingApproved) != (t.Chosen != nil) {
		return persistence.ViewingRequest{}, persistence.ErrConstraintViolation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.viewings[t.ID]
	if !ok {
		return persistence.ViewingRequest{}, persistence.ErrNotFound
	}
	if current.Status != t.From {
		return persistence.ViewingRequest{}, persistence.ErrStaleState
	}

	current.Status = t.To
	current.UpdatedAt = t.At
	actor := t.ActorID
	at := t.At
	current.DecidedBy = &actor
	current.DecidedAt = &at
	current.ChosenSlot = nil
	if t.Chosen != nil {
		chosen := t.Chosen.UTC()
		current.ChosenSlot = &chosen
	}
	s.viewings[current.ID] = current
	return cloneViewing(current), nil
}

// ListViewings filters viewing requests, newest first.
func (s *Store) ListViewings(_ context.Context, filter persistence.ViewingFilter) ([]persistence.ViewingRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]persistence.ViewingRequest, 0)
	for _, viewing := range s.viewings {
		if filter.ListingID != "" && viewing.ListingID != filter.ListingID {
			continue
		}
		if filter.RenterID != "" && viewing.RenterID != filter.RenterID {
			continue
		}
		if filter.LandlordID != "" && viewing.LandlordID != filter.LandlordID {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, viewing.Status) {
			continue
		}
		out = append(out, cloneViewing(viewing))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// CreateSession stores a new session for an existing user.
func (s *Store) CreateSession(_ context.Context, session persistence.Session) (persistence.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; ok {
		return persistence.Session{}, persistence.ErrDuplicate
	}
	if _, ok := s.users[session.UserID]; !ok {
		return persistence.Session{}, persistence.ErrConstraintViolation
	}
	s.sessions[session.ID] = session
	return session, nil
}

// GetSession fetches a session by id.
func (s *Store) GetSession(_ context.Context, id string) (persistence.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return persistence.Session{}, persistence.ErrNotFound
	}
	return session, nil
}

// UpdateSession replaces the mutable session fields.
func (s *Store) UpdateSession(_ context.Context, session persistence.Session) (persistence.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[session.ID]
	if !ok {
		return persistence.Session{}, persistence.ErrNotFound
	}
	current.Fingerprint = session.Fingerprint
	current.ExpiresAt = session.ExpiresAt
	current.UpdatedAt = session.UpdatedAt
	current.RevokedAt = session.RevokedAt
	s.sessions[current.ID] = current
	return current, nil
}

// RevokeSession marks a session as revoked.
func (s *Store) RevokeSession(_ context.Context, id string, revokedAt time.Time) (persistence.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[id]
	if !ok {
		return persistence.Session{}, persistence.ErrNotFound
	}
	at := revokedAt
	current.RevokedAt = &at
	current.UpdatedAt = revokedAt
	s.sessions[id] = current
	return current, nil
}

// DeleteExpiredSessions drops sessions that expired at or before reference.
func (s *Store) DeleteExpiredSessions(_ context.Context, reference time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, session := range s.sessions {
		if !session.ExpiresAt.After(reference) {
			delete(s.sessions, id)
		}
	}
	return nil
}

// AddFavorite saves a listing for a user.
func (s *Store) AddFavorite(_ context.Context, favorite persistence.Favorite) error {
	if favorite.UserID == "" || favorite.ListingID == "" {
		return persistence.ErrConstraintViolation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[favorite.UserID]; !ok {
		return persistence.ErrConstraintViolation
	}
	if _, ok := s.listings[favorite.ListingID]; !ok {
		return persistence.ErrConstraintViolation
	}
	saved, ok := s.favorites[favorite.UserID]
	if !ok {
		saved = make(map[string]persistence.Favorite)
		s.favorites[favorite.UserID] = saved
	}
	if _, ok := saved[favorite.ListingID]; ok {
		return persistence.ErrDuplicate
	}
	saved[favorite.ListingID] = favorite
	return nil
}

// RemoveFavorite deletes a saved listing.
func (s *Store) RemoveFavorite(_ context.Context, userID, listingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := s.favorites[userID]
	if _, ok := saved[listingID]; !ok {
		return persistence.ErrNotFound
	}
	delete(saved, listingID)
	return nil
}

// ListFavorites returns a user's favorites, newest first.
func (s *Store) ListFavorites(_ context.Context, userID string) ([]persistence.Favorite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]persistence.Favorite, 0, len(s.favorites[userID]))
	for _, favorite := range s.favorites[userID] {
		out = append(out, favorite)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ListingID > out[j].ListingID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func cloneListing(l persistence.Listing) persistence.Listing {
	l.Images = slices.Clone(l.Images)
	l.Amenities = slices.Clone(l.Amenities)
	l.Description = clonePtr(l.Description)
	l.VideoURL = clonePtr(l.VideoURL)
	l.Bedrooms = clonePtr(l.Bedrooms)
	l.Bathrooms = clonePtr(l.Bathrooms)
	l.ReviewedBy = clonePtr(l.ReviewedBy)
	l.ReviewedAt = clonePtr(l.ReviewedAt)
	return l
}

func cloneViewing(v persistence.ViewingRequest) persistence.ViewingRequest {
	v.ProposedSlots = slices.Clone(v.ProposedSlots)
	v.ChosenSlot = clonePtr[slots.Slot](v.ChosenSlot)
	v.Note = clonePtr(v.Note)
	v.DecidedBy = clonePtr(v.DecidedBy)
	v.DecidedAt = clonePtr(v.DecidedAt)
	return v
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
