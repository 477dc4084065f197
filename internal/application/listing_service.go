package application

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/example/rental-broker/internal/authz"
	"github.com/example/rental-broker/internal/events"
	"github.com/example/rental-broker/internal/lifecycle"
	"github.com/example/rental-broker/internal/persistence"
)

// ListingRepository captures the persistence interactions required by ListingService.
type ListingRepository interface {
	CreateListing(ctx context.Context, listing persistence.Listing) error
	GetListing(ctx context.Context, id string) (persistence.Listing, error)
	UpdateListingContent(ctx context.Context, listing persistence.Listing, expected lifecycle.ListingStatus) (persistence.Listing, error)
	TransitionListing(ctx context.Context, transition persistence.ListingTransition) (persistence.Listing, error)
	ListListings(ctx context.Context, filter persistence.ListingFilter) ([]persistence.Listing, error)
}

// ListingService drives the listing lifecycle: drafting, submission,
// moderation and revision, plus the public and owner read paths.
type ListingService struct {
	listings    ListingRepository
	publisher   EventPublisher
	idGenerator func() string
	now         func() time.Time
	pageSize    int
	cache       *publishedCache
	logger      *slog.Logger
}

// NewListingService constructs a ListingService with the provided dependencies.
func NewListingService(listings ListingRepository, publisher EventPublisher, idGenerator func() string, now func() time.Time) *ListingService {
	return NewListingServiceWithLogger(listings, publisher, idGenerator, now, nil)
}

// NewListingServiceWithLogger constructs a ListingService with a specified logger.
func NewListingServiceWithLogger(listings ListingRepository, publisher EventPublisher, idGenerator func() string, now func() time.Time, logger *slog.Logger) *ListingService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &ListingService{
		listings:    listings,
		publisher:   publisher,
		idGenerator: idGenerator,
		now:         now,
		pageSize:    DefaultPageSize,
		cache:       newPublishedCache(30*time.Second, 128, now),
		logger:      defaultLogger(logger),
	}
}

// WithPublishedCacheTTL sets how long public catalogue pages are reused. A
// non-positive ttl disables the cache.
func (s *ListingService) WithPublishedCacheTTL(ttl time.Duration) *ListingService {
	if s == nil {
		return s
	}
	if ttl <= 0 {
		s.cache = nil
		return s
	}
	s.cache = newPublishedCache(ttl, 128, s.now)
	return s
}

// WithPageSize sets the largest page ListPublished returns.
func (s *ListingService) WithPageSize(size int) *ListingService {
	if s != nil && size > 0 {
		s.pageSize = size
	}
	return s
}

func (s *ListingService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ListingService", operation, attrs...)
}

func (s *ListingService) ready() error {
	if s == nil {
		return fmt.Errorf("ListingService is nil")
	}
	if s.listings == nil {
		return fmt.Errorf("listing repository not configured")
	}
	return nil
}

// Create opens a new draft owned by the actor. Only landlords and
// administrators may list properties.
func (s *ListingService) Create(ctx context.Context, params CreateListingParams) (listing Listing, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "Create", "actor_id", params.Actor.ID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "listing create failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("listing_id", listing.ID).InfoContext(ctx, "listing created")
	}()

	if !params.Actor.Authenticated() {
		err = ErrForbidden
		return
	}
	if params.Actor.Role != authz.RoleLandlord && params.Actor.Role != authz.RoleAdmin {
		err = ErrForbidden
		return
	}

	input := normalizeListingInput(params.Input)
	if vErr := validateListingInput(input); vErr.HasErrors() {
		err = vErr
		return
	}

	now := s.now().UTC()
	record := applyListingInput(persistence.Listing{
		ID:        s.idGenerator(),
		OwnerID:   params.Actor.ID,
		Status:    lifecycle.ListingDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}, input)

	if err = s.listings.CreateListing(ctx, record); err != nil {
		err = mapRepoError(err, "create listing")
		return
	}

	s.emit(ctx, logger, events.ListingCreated, record, params.Actor.ID, nil)
	listing = listingFromRecord(record)
	return
}

// UpdateDraft rewrites the editable fields of a DRAFT or REJECTED listing.
// The write is conditional on the status observed when the listing was read.
func (s *ListingService) UpdateDraft(ctx context.Context, params UpdateListingParams) (listing Listing, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "UpdateDraft", "actor_id", params.Actor.ID, "listing_id", params.ListingID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "listing update failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "listing updated")
	}()

	var current persistence.Listing
	if current, err = s.load(ctx, params.ListingID); err != nil {
		return
	}
	if !authz.Allow(params.Actor, authz.OwnerOnly, authz.Resource{OwnerID: current.OwnerID}) {
		err = ErrForbidden
		return
	}
	if !current.Status.Editable() {
		err = ErrInvalidState
		return
	}

	input := normalizeListingInput(params.Input)
	if vErr := validateListingInput(input); vErr.HasErrors() {
		err = vErr
		return
	}

	next := applyListingInput(current, input)
	next.UpdatedAt = s.now().UTC()

	var updated persistence.Listing
	updated, err = s.listings.UpdateListingContent(ctx, next, current.Status)
	if err != nil {
		err = mapRepoError(err, "update listing")
		return
	}
	listing = listingFromRecord(updated)
	return
}

// Submit moves a complete DRAFT or REJECTED listing into the moderation queue.
func (s *ListingService) Submit(ctx context.Context, params ListingActionParams) (listing Listing, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "Submit", "actor_id", params.Actor.ID, "listing_id", params.ListingID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "listing submit failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "listing submitted")
	}()

	var current persistence.Listing
	if current, err = s.load(ctx, params.ListingID); err != nil {
		return
	}
	if !authz.Allow(params.Actor, authz.OwnerOnly, authz.Resource{OwnerID: current.OwnerID}) {
		err = ErrForbidden
		return
	}
	if !current.Status.CanTransitionTo(lifecycle.ListingPending) {
		err = ErrInvalidState
		return
	}
	if missing := missingListingFields(current); len(missing) > 0 {
		err = &IncompleteListingError{Missing: missing}
		return
	}

	var updated persistence.Listing
	updated, err = s.listings.TransitionListing(ctx, persistence.ListingTransition{
		ID:   current.ID,
		From: current.Status,
		To:   lifecycle.ListingPending,
		At:   s.now().UTC(),
	})
	if err != nil {
		err = mapRepoError(err, "submit listing")
		return
	}

	s.emit(ctx, logger, events.ListingSubmitted, updated, params.Actor.ID, nil)
	listing = listingFromRecord(updated)
	return
}

// Decide records an administrator's verdict on a PENDING listing. Of two
// concurrent decisions exactly one is applied; the other sees ErrInvalidState.
func (s *ListingService) Decide(ctx context.Context, params DecideListingParams) (listing Listing, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "Decide",
		"actor_id", params.Actor.ID,
		"listing_id", params.ListingID,
		"decision", string(params.Decision),
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "listing decision failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("status", string(listing.Status)).InfoContext(ctx, "listing decided")
	}()

	target := params.Decision.Target()
	if target == "" {
		vErr := &ValidationError{}
		vErr.add("decision", "decision must be APPROVE or REJECT")
		err = vErr
		return
	}

	var current persistence.Listing
	if current, err = s.load(ctx, params.ListingID); err != nil {
		return
	}
	if !authz.Allow(params.Actor, authz.AdminOnly, authz.Resource{OwnerID: current.OwnerID}) {
		err = ErrForbidden
		return
	}
	if current.Status != lifecycle.ListingPending {
		err = ErrInvalidState
		return
	}

	reviewer := params.Actor.ID
	var updated persistence.Listing
	updated, err = s.listings.TransitionListing(ctx, persistence.ListingTransition{
		ID:         current.ID,
		From:       lifecycle.ListingPending,
		To:         target,
		At:         s.now().UTC(),
		ReviewerID: &reviewer,
	})
	if err != nil {
		err = mapRepoError(err, "decide listing")
		return
	}

	eventType := events.ListingRejected
	if target == lifecycle.ListingApproved {
		eventType = events.ListingApproved
		s.cache.Invalidate()
	}
	s.emit(ctx, logger, eventType, updated, params.Actor.ID, nil)
	listing = listingFromRecord(updated)
	return
}

// Revise reopens an APPROVED or REJECTED listing as a DRAFT and clears the
// review. Outstanding viewing requests are left untouched.
func (s *ListingService) Revise(ctx context.Context, params ListingActionParams) (result ReviseListingResult, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "Revise", "actor_id", params.Actor.ID, "listing_id", params.ListingID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "listing revise failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("unpublished", result.Unpublished).InfoContext(ctx, "listing revised")
	}()

	var current persistence.Listing
	if current, err = s.load(ctx, params.ListingID); err != nil {
		return
	}
	if !authz.Allow(params.Actor, authz.OwnerOnly, authz.Resource{OwnerID: current.OwnerID}) {
		err = ErrForbidden
		return
	}
	if current.Status != lifecycle.ListingApproved && current.Status != lifecycle.ListingRejected {
		err = ErrInvalidState
		return
	}

	var updated persistence.Listing
	updated, err = s.listings.TransitionListing(ctx, persistence.ListingTransition{
		ID:          current.ID,
		From:        current.Status,
		To:          lifecycle.ListingDraft,
		At:          s.now().UTC(),
		ClearReview: true,
	})
	if err != nil {
		err = mapRepoError(err, "revise listing")
		return
	}

	unpublished := current.Status == lifecycle.ListingApproved
	if unpublished {
		s.cache.Invalidate()
	}
	s.emit(ctx, logger, events.ListingRevised, updated, params.Actor.ID, map[string]string{
		"previous_status": string(current.Status),
		"unpublished":     strconv.FormatBool(unpublished),
	})
	result = ReviseListingResult{Listing: listingFromRecord(updated), Unpublished: unpublished}
	return
}

// Get returns a listing. APPROVED listings are public; any other status is
// visible to the owner and administrators only and reported as not found to
// everyone else.
func (s *ListingService) Get(ctx context.Context, params ListingActionParams) (listing Listing, err error) {
	if err = s.ready(); err != nil {
		return
	}

	var current persistence.Listing
	if current, err = s.load(ctx, params.ListingID); err != nil {
		return
	}
	if !current.Status.Published() && !authz.Allow(params.Actor, authz.OwnerOrAdmin, authz.Resource{OwnerID: current.OwnerID}) {
		err = ErrNotFound
		return
	}
	listing = listingFromRecord(current)
	return
}

// ListPublished returns APPROVED listings, newest first.
func (s *ListingService) ListPublished(ctx context.Context, params BrowseListingsParams) (listings []Listing, err error) {
	if err = s.ready(); err != nil {
		return
	}

	city := strings.TrimSpace(params.City)
	limit := params.Limit
	if limit <= 0 || limit > s.pageSize {
		limit = s.pageSize
	}

	logger := s.loggerWith(ctx, "ListPublished", "city", city, "limit", limit)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "listing browse failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("count", len(listings)).DebugContext(ctx, "listings browsed")
	}()

	vErr := &ValidationError{}
	if params.MinBedrooms != nil && *params.MinBedrooms < 0 {
		vErr.add("minBedrooms", "minBedrooms must not be negative")
	}
	if params.MaxPriceCents != nil && *params.MaxPriceCents < 0 {
		vErr.add("maxPrice", "maxPrice must not be negative")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	key := buildPublishedCacheKey(city, params.MinBedrooms, params.MaxPriceCents, limit)
	if cached, ok := s.cache.Get(key); ok {
		listings = cached
		return
	}
	generation := s.cache.Generation()

	var records []persistence.Listing
	records, err = s.listings.ListListings(ctx, persistence.ListingFilter{
		Statuses:      []lifecycle.ListingStatus{lifecycle.ListingApproved},
		CityContains:  city,
		MinBedrooms:   params.MinBedrooms,
		MaxPriceCents: params.MaxPriceCents,
		Order:         persistence.OrderNewest,
		Limit:         limit,
	})
	if err != nil {
		err = mapRepoError(err, "list published listings")
		return
	}

	listings = listingsFromRecords(records)
	s.cache.Store(key, generation, listings)
	return
}

// ListOwned returns every listing owned by the actor, newest first.
func (s *ListingService) ListOwned(ctx context.Context, actor authz.Actor) (listings []Listing, err error) {
	if err = s.ready(); err != nil {
		return
	}
	if !actor.Authenticated() {
		err = ErrForbidden
		return
	}

	var records []persistence.Listing
	records, err = s.listings.ListListings(ctx, persistence.ListingFilter{OwnerID: actor.ID, Order: persistence.OrderNewest})
	if err != nil {
		err = mapRepoError(err, "list owned listings")
		s.loggerWith(ctx, "ListOwned", "actor_id", actor.ID).ErrorContext(ctx, "owned listings failed", "error", err, "error_kind", ErrorKind(err))
		return
	}
	listings = listingsFromRecords(records)
	return
}

// ListPending returns the moderation queue, oldest update first.
func (s *ListingService) ListPending(ctx context.Context, actor authz.Actor) (listings []Listing, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "ListPending", "actor_id", actor.ID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "moderation queue failed", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	if !authz.Allow(actor, authz.AdminOnly, authz.Resource{}) {
		err = ErrForbidden
		return
	}

	var records []persistence.Listing
	records, err = s.listings.ListListings(ctx, persistence.ListingFilter{
		Statuses: []lifecycle.ListingStatus{lifecycle.ListingPending},
		Order:    persistence.OrderOldestUpdate,
	})
	if err != nil {
		err = mapRepoError(err, "list pending listings")
		return
	}
	listings = listingsFromRecords(records)
	return
}

func (s *ListingService) load(ctx context.Context, id string) (persistence.Listing, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return persistence.Listing{}, ErrNotFound
	}
	listing, err := s.listings.GetListing(ctx, id)
	if err != nil {
		return persistence.Listing{}, mapRepoError(err, "get listing")
	}
	return listing, nil
}

func (s *ListingService) emit(ctx context.Context, logger *slog.Logger, eventType events.Type, listing persistence.Listing, actorID string, attrs map[string]string) {
	if attrs == nil {
		attrs = make(map[string]string, 1)
	}
	attrs["owner_id"] = listing.OwnerID
	publish(ctx, s.publisher, logger, events.Event{
		ID:          s.idGenerator(),
		Type:        eventType,
		AggregateID: listing.ID,
		ActorID:     actorID,
		Status:      string(listing.Status),
		OccurredAt:  listing.UpdatedAt,
		Attributes:  attrs,
	})
}

func normalizeListingInput(input ListingInput) ListingInput {
	input.Title = truncateRunes(strings.TrimSpace(input.Title), MaxTitleLength)

	city := strings.Join(strings.Fields(input.City), " ")
	if city != "" {
		city = cases.Title(language.English).String(city)
	}
	input.City = truncateRunes(city, MaxCityLength)

	input.Description = trimmedOrNil(input.Description)
	input.VideoURL = trimmedOrNil(input.VideoURL)
	input.Images = compactStrings(input.Images, false)
	input.Amenities = compactStrings(input.Amenities, true)
	return input
}

func validateListingInput(input ListingInput) *ValidationError {
	vErr := &ValidationError{}
	if input.PriceCents < 0 {
		vErr.add("priceCents", "priceCents must not be negative")
	}
	if input.Bedrooms != nil && *input.Bedrooms < 0 {
		vErr.add("bedrooms", "bedrooms must not be negative")
	}
	if input.Bathrooms != nil && *input.Bathrooms < 0 {
		vErr.add("bathrooms", "bathrooms must not be negative")
	}
	if input.Description != nil && utf8.RuneCountInString(*input.Description) > MaxDescriptionLength {
		vErr.add("description", fmt.Sprintf("description must be at most %d characters", MaxDescriptionLength))
	}
	if input.VideoURL != nil {
		parsed, err := url.Parse(*input.VideoURL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			vErr.add("videoUrl", "videoUrl must be an absolute http or https URL")
		}
	}
	return vErr
}

func applyListingInput(listing persistence.Listing, input ListingInput) persistence.Listing {
	listing.Title = input.Title
	listing.City = input.City
	listing.Description = input.Description
	listing.PriceCents = input.PriceCents
	listing.Bedrooms = input.Bedrooms
	listing.Bathrooms = input.Bathrooms
	listing.Images = input.Images
	listing.Amenities = input.Amenities
	listing.VideoURL = input.VideoURL
	return listing
}

// missingListingFields reports the required fields a listing lacks, in a
// stable order.
func missingListingFields(listing persistence.Listing) []string {
	var missing []string
	if strings.TrimSpace(listing.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(listing.City) == "" {
		missing = append(missing, "city")
	}
	if listing.PriceCents <= 0 {
		missing = append(missing, "priceCents")
	}
	if listing.Bedrooms == nil {
		missing = append(missing, "bedrooms")
	}
	if listing.Bathrooms == nil {
		missing = append(missing, "bathrooms")
	}
	if len(listing.Images) == 0 {
		missing = append(missing, "images")
	}
	return missing
}

func truncateRunes(value string, max int) string {
	if utf8.RuneCountInString(value) <= max {
		return value
	}
	runes := []rune(value)
	return strings.TrimSpace(string(runes[:max]))
}

func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func compactStrings(values []string, dedupe bool) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if dedupe {
			key := strings.ToLower(value)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, value)
	}
	return out
}
