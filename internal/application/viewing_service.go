package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/example/rental-broker/internal/authz"
	"github.com/example/rental-broker/internal/events"
	"github.com/example/rental-broker/internal/lifecycle"
	"github.com/example/rental-broker/internal/persistence"
	"github.com/example/rental-broker/internal/slots"
)

// ListingReader exposes the listing lookup needed to open a viewing request.
type ListingReader interface {
	GetListing(ctx context.Context, id string) (persistence.Listing, error)
}

// ViewingRepository captures the persistence interactions required by ViewingService.
type ViewingRepository interface {
	CreateViewing(ctx context.Context, viewing persistence.ViewingRequest) error
	GetViewing(ctx context.Context, id string) (persistence.ViewingRequest, error)
	TransitionViewing(ctx context.Context, transition persistence.ViewingTransition) (persistence.ViewingRequest, error)
	ListViewings(ctx context.Context, filter persistence.ViewingFilter) ([]persistence.ViewingRequest, error)
}

// ViewingService negotiates viewing times between renters and landlords.
type ViewingService struct {
	listings    ListingReader
	viewings    ViewingRepository
	publisher   EventPublisher
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewViewingService constructs a ViewingService with the provided dependencies.
func NewViewingService(listings ListingReader, viewings ViewingRepository, publisher EventPublisher, idGenerator func() string, now func() time.Time) *ViewingService {
	return NewViewingServiceWithLogger(listings, viewings, publisher, idGenerator, now, nil)
}

// NewViewingServiceWithLogger constructs a ViewingService with a specified logger.
func NewViewingServiceWithLogger(listings ListingReader, viewings ViewingRepository, publisher EventPublisher, idGenerator func() string, now func() time.Time, logger *slog.Logger) *ViewingService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &ViewingService{
		listings:    listings,
		viewings:    viewings,
		publisher:   publisher,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

func (s *ViewingService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ViewingService", operation, attrs...)
}

func (s *ViewingService) ready() error {
	if s == nil {
		return fmt.Errorf("ViewingService is nil")
	}
	if s.listings == nil {
		return fmt.Errorf("listing repository not configured")
	}
	if s.viewings == nil {
		return fmt.Errorf("viewing repository not configured")
	}
	return nil
}

// Create opens a PENDING viewing request on an APPROVED listing. The
// landlord is copied from the listing owner.
func (s *ViewingService) Create(ctx context.Context, params CreateViewingParams) (request ViewingRequest, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "Create",
		"actor_id", params.Actor.ID,
		"listing_id", params.ListingID,
		"slot_count", len(params.Slots),
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "viewing request failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("request_id", request.ID).InfoContext(ctx, "viewing requested")
	}()

	listingID := strings.TrimSpace(params.ListingID)
	if listingID == "" {
		err = ErrNotFound
		return
	}
	var listing persistence.Listing
	listing, err = s.listings.GetListing(ctx, listingID)
	if err != nil {
		err = mapRepoError(err, "get listing")
		return
	}
	if listing.Status != lifecycle.ListingApproved {
		err = ErrInvalidState
		return
	}
	if vErr := slots.Validate(params.Slots); vErr != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidSlots, vErr)
		return
	}
	if !params.Actor.Authenticated() || params.Actor.ID == listing.OwnerID {
		err = ErrForbidden
		return
	}

	note := strings.TrimSpace(params.Note)
	if utf8.RuneCountInString(note) > MaxNoteLength {
		vErr := &ValidationError{}
		vErr.add("note", fmt.Sprintf("note must be at most %d characters", MaxNoteLength))
		err = vErr
		return
	}

	proposed := make([]slots.Slot, len(params.Slots))
	for i, slot := range params.Slots {
		proposed[i] = slot.UTC()
	}

	now := s.now().UTC()
	record := persistence.ViewingRequest{
		ID:            s.idGenerator(),
		ListingID:     listing.ID,
		RenterID:      params.Actor.ID,
		LandlordID:    listing.OwnerID,
		ProposedSlots: proposed,
		Status:        lifecycle.ViewingPending,
		Note:          trimmedOrNil(&note),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err = s.viewings.CreateViewing(ctx, record); err != nil {
		err = mapRepoError(err, "create viewing")
		return
	}

	s.emit(ctx, logger, events.ViewingRequested, record, params.Actor.ID)
	request = viewingFromRecord(record)
	return
}

// Decide records the landlord's verdict on a PENDING request. Approval must
// name one of the proposed slots exactly and reports other approved requests
// on the same listing whose slots overlap it. Overlaps never block approval.
func (s *ViewingService) Decide(ctx context.Context, params DecideViewingParams) (result ViewingDecisionResult, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "Decide",
		"actor_id", params.Actor.ID,
		"request_id", params.RequestID,
		"decision", string(params.Decision),
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "viewing decision failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"status", string(result.Request.Status),
			"overlap_count", len(result.OverlapWarnings),
		).InfoContext(ctx, "viewing decided")
	}()

	target := params.Decision.Target()
	if target == "" {
		vErr := &ValidationError{}
		vErr.add("decision", "decision must be APPROVE or DECLINE")
		err = vErr
		return
	}

	var current persistence.ViewingRequest
	if current, err = s.load(ctx, params.RequestID); err != nil {
		return
	}
	if !authz.Allow(params.Actor, authz.OwnerOnly, authz.Resource{OwnerID: current.LandlordID}) {
		err = ErrForbidden
		return
	}
	if current.Status != lifecycle.ViewingPending {
		err = ErrInvalidState
		return
	}

	var chosen *slots.Slot
	if target == lifecycle.ViewingApproved {
		if params.Chosen == nil {
			err = ErrInvalidSlotSelection
			return
		}
		idx := slots.Match(current.ProposedSlots, *params.Chosen)
		if idx < 0 {
			err = ErrInvalidSlotSelection
			return
		}
		match := current.ProposedSlots[idx]
		chosen = &match
	}

	var updated persistence.ViewingRequest
	updated, err = s.viewings.TransitionViewing(ctx, persistence.ViewingTransition{
		ID:      current.ID,
		From:    lifecycle.ViewingPending,
		To:      target,
		At:      s.now().UTC(),
		ActorID: params.Actor.ID,
		Chosen:  chosen,
	})
	if err != nil {
		err = mapRepoError(err, "decide viewing")
		return
	}

	result.Request = viewingFromRecord(updated)
	eventType := events.ViewingDeclined
	if chosen != nil {
		eventType = events.ViewingApproved
		result.OverlapWarnings = s.overlaps(ctx, logger, updated, *chosen)
	}
	s.emit(ctx, logger, eventType, updated, params.Actor.ID)
	return
}

// Cancel withdraws a PENDING request. Either party may cancel.
func (s *ViewingService) Cancel(ctx context.Context, params ViewingActionParams) (request ViewingRequest, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "Cancel", "actor_id", params.Actor.ID, "request_id", params.RequestID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "viewing cancel failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "viewing cancelled")
	}()

	var current persistence.ViewingRequest
	if current, err = s.load(ctx, params.RequestID); err != nil {
		return
	}
	if !authz.Allow(params.Actor, authz.OwnerOrCounterparty, authz.Resource{OwnerID: current.LandlordID, CounterpartyID: current.RenterID}) {
		err = ErrForbidden
		return
	}
	if current.Status != lifecycle.ViewingPending {
		err = ErrInvalidState
		return
	}

	var updated persistence.ViewingRequest
	updated, err = s.viewings.TransitionViewing(ctx, persistence.ViewingTransition{
		ID:      current.ID,
		From:    lifecycle.ViewingPending,
		To:      lifecycle.ViewingCancelled,
		At:      s.now().UTC(),
		ActorID: params.Actor.ID,
	})
	if err != nil {
		err = mapRepoError(err, "cancel viewing")
		return
	}

	s.emit(ctx, logger, events.ViewingCancelled, updated, params.Actor.ID)
	request = viewingFromRecord(updated)
	return
}

// Get returns a request to either party or an administrator.
func (s *ViewingService) Get(ctx context.Context, params ViewingActionParams) (request ViewingRequest, err error) {
	if err = s.ready(); err != nil {
		return
	}

	var current persistence.ViewingRequest
	if current, err = s.load(ctx, params.RequestID); err != nil {
		return
	}
	if !authz.Allow(params.Actor, authz.PartyOrAdmin, authz.Resource{OwnerID: current.LandlordID, CounterpartyID: current.RenterID}) {
		err = ErrForbidden
		return
	}
	request = viewingFromRecord(current)
	return
}

// ListForRenter returns the actor's own requests, newest first.
func (s *ViewingService) ListForRenter(ctx context.Context, actor authz.Actor) ([]ViewingRequest, error) {
	return s.list(ctx, "ListForRenter", actor, func(filter *persistence.ViewingFilter) { filter.RenterID = actor.ID })
}

// ListForLandlord returns requests on the actor's listings, newest first.
func (s *ViewingService) ListForLandlord(ctx context.Context, actor authz.Actor) ([]ViewingRequest, error) {
	return s.list(ctx, "ListForLandlord", actor, func(filter *persistence.ViewingFilter) { filter.LandlordID = actor.ID })
}

func (s *ViewingService) list(ctx context.Context, operation string, actor authz.Actor, scope func(*persistence.ViewingFilter)) (requests []ViewingRequest, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, operation, "actor_id", actor.ID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "viewing list failed", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	if !actor.Authenticated() {
		err = ErrForbidden
		return
	}
	filter := persistence.ViewingFilter{}
	scope(&filter)

	var records []persistence.ViewingRequest
	records, err = s.viewings.ListViewings(ctx, filter)
	if err != nil {
		err = mapRepoError(err, "list viewings")
		return
	}
	requests = viewingsFromRecords(records)
	return
}

// overlaps lists other approved requests on the same listing whose chosen
// slot intersects chosen. A lookup failure only costs the warnings.
func (s *ViewingService) overlaps(ctx context.Context, logger *slog.Logger, request persistence.ViewingRequest, chosen slots.Slot) []slots.Overlap {
	approved, err := s.viewings.ListViewings(ctx, persistence.ViewingFilter{
		ListingID: request.ListingID,
		Statuses:  []lifecycle.ViewingStatus{lifecycle.ViewingApproved},
	})
	if err != nil {
		logger.WarnContext(ctx, "overlap detection failed", "error", err)
		return nil
	}

	bookings := make([]slots.Booking, 0, len(approved))
	for _, other := range approved {
		if other.ChosenSlot == nil {
			continue
		}
		bookings = append(bookings, slots.Booking{RequestID: other.ID, Slot: *other.ChosenSlot})
	}
	return slots.DetectOverlaps(bookings, request.ID, chosen)
}

func (s *ViewingService) load(ctx context.Context, id string) (persistence.ViewingRequest, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return persistence.ViewingRequest{}, ErrNotFound
	}
	request, err := s.viewings.GetViewing(ctx, id)
	if err != nil {
		return persistence.ViewingRequest{}, mapRepoError(err, "get viewing")
	}
	return request, nil
}

func (s *ViewingService) emit(ctx context.Context, logger *slog.Logger, eventType events.Type, request persistence.ViewingRequest, actorID string) {
	attrs := map[string]string{
		"listing_id":  request.ListingID,
		"renter_id":   request.RenterID,
		"landlord_id": request.LandlordID,
	}
	if request.ChosenSlot != nil {
		attrs["chosen_slot"] = request.ChosenSlot.String()
	}
	publish(ctx, s.publisher, logger, events.Event{
		ID:          s.idGenerator(),
		Type:        eventType,
		AggregateID: request.ID,
		ActorID:     actorID,
		Status:      string(request.Status),
		OccurredAt:  request.UpdatedAt,
		Attributes:  attrs,
	})
}
