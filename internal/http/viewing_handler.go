package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/rental-broker/internal/application"
	"github.com/example/rental-broker/internal/authz"
	"github.com/example/rental-broker/internal/lifecycle"
	"github.com/example/rental-broker/internal/slots"
)

type viewingService interface {
	Create(ctx context.Context, params application.CreateViewingParams) (application.ViewingRequest, error)
	Decide(ctx context.Context, params application.DecideViewingParams) (application.ViewingDecisionResult, error)
	Cancel(ctx context.Context, params application.ViewingActionParams) (application.ViewingRequest, error)
	Get(ctx context.Context, params application.ViewingActionParams) (application.ViewingRequest, error)
	ListForRenter(ctx context.Context, actor authz.Actor) ([]application.ViewingRequest, error)
	ListForLandlord(ctx context.Context, actor authz.Actor) ([]application.ViewingRequest, error)
}

// ViewingHandler serves the viewing negotiation between renters and landlords.
type ViewingHandler struct {
	service   viewingService
	responder responder
	logger    *slog.Logger
}

func NewViewingHandler(service viewingService, logger *slog.Logger) *ViewingHandler {
	base := defaultLogger(logger)
	return &ViewingHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *ViewingHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "ViewingHandler", operation, attrs...)
}

func (h *ViewingHandler) ready(w http.ResponseWriter) bool {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return false
	}
	return true
}

func (h *ViewingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	actor, _ := ActorFromContext(r.Context())
	listingID := chi.URLParam(r, "id")

	var req viewingRequest
	if err := decodeJSON(w, r, schemaViewing, &req); err != nil {
		h.log(r.Context(), "Create", "actor_id", actor.ID, "listing_id", listingID, "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode viewing request", "error", err)
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	proposed, err := parseSlots(req.Slots)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger := h.log(r.Context(), "Create", "actor_id", actor.ID, "listing_id", listingID, "slot_count", len(proposed))
	request, err := h.service.Create(r.Context(), application.CreateViewingParams{
		Actor:     actor,
		ListingID: listingID,
		Slots:     proposed,
		Note:      req.Note,
	})
	if err != nil {
		logger.ErrorContext(r.Context(), "viewing request failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("request_id", request.ID).InfoContext(r.Context(), "viewing requested")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, viewingResponse{Viewing: toViewingDTO(request)})
}

func (h *ViewingHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	actor, _ := ActorFromContext(r.Context())
	request, err := h.service.Get(r.Context(), application.ViewingActionParams{Actor: actor, RequestID: chi.URLParam(r, "id")})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, viewingResponse{Viewing: toViewingDTO(request)})
}

func (h *ViewingHandler) Decide(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	actor, _ := ActorFromContext(r.Context())
	requestID := chi.URLParam(r, "id")

	var req viewingDecisionRequest
	if err := decodeJSON(w, r, schemaViewingDecision, &req); err != nil {
		h.log(r.Context(), "Decide", "actor_id", actor.ID, "request_id", requestID, "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode viewing decision", "error", err)
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	var chosen *slots.Slot
	if req.ChosenSlot != nil {
		slot, err := req.ChosenSlot.toSlot("chosen_slot")
		if err != nil {
			h.responder.handleServiceError(r.Context(), w, err)
			return
		}
		chosen = &slot
	}

	logger := h.log(r.Context(), "Decide", "actor_id", actor.ID, "request_id", requestID, "decision", req.Decision)
	result, err := h.service.Decide(r.Context(), application.DecideViewingParams{
		Actor:     actor,
		RequestID: requestID,
		Decision:  lifecycle.ViewingDecision(strings.ToUpper(strings.TrimSpace(req.Decision))),
		Chosen:    chosen,
	})
	if err != nil {
		logger.ErrorContext(r.Context(), "viewing decision failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("overlap_count", len(result.OverlapWarnings)).InfoContext(r.Context(), "viewing decided")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, viewingDecisionResponse{
		Viewing:         toViewingDTO(result.Request),
		OverlapWarnings: toOverlapDTOs(result.OverlapWarnings),
	})
}

func (h *ViewingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	actor, _ := ActorFromContext(r.Context())
	requestID := chi.URLParam(r, "id")
	logger := h.log(r.Context(), "Cancel", "actor_id", actor.ID, "request_id", requestID)

	request, err := h.service.Cancel(r.Context(), application.ViewingActionParams{Actor: actor, RequestID: requestID})
	if err != nil {
		logger.ErrorContext(r.Context(), "viewing cancel failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "viewing cancelled")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, viewingResponse{Viewing: toViewingDTO(request)})
}

// ListMine lists the caller's requests as renter (default) or the requests on
// the caller's listings when as=landlord.
func (h *ViewingHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	actor, _ := ActorFromContext(r.Context())

	var (
		requests []application.ViewingRequest
		err      error
	)
	switch as := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("as"))); as {
	case "", "renter":
		requests, err = h.service.ListForRenter(r.Context(), actor)
	case "landlord":
		requests, err = h.service.ListForLandlord(r.Context(), actor)
	default:
		err = &badRequestError{
			Message: "query parameters are invalid",
			Fields:  map[string]string{"as": "must be renter or landlord"},
		}
	}
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listViewingsResponse{Viewings: toViewingDTOs(requests)})
}

func parseSlots(raw []slotDTO) ([]slots.Slot, error) {
	out := make([]slots.Slot, 0, len(raw))
	for i, dto := range raw {
		slot, err := dto.toSlot(fmt.Sprintf("slots.%d", i))
		if err != nil {
			return nil, err
		}
		out = append(out, slot)
	}
	return out, nil
}

type viewingRequest struct {
	Slots []slotDTO `json:"slots"`
	Note  string    `json:"note"`
}

type viewingDecisionRequest struct {
	Decision   string   `json:"decision"`
	ChosenSlot *slotDTO `json:"chosen_slot"`
}

type slotDTO struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (d slotDTO) toSlot(field string) (slots.Slot, error) {
	fields := make(map[string]string)
	start, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(d.Start))
	if err != nil {
		fields[field+".start"] = "must be an RFC 3339 timestamp"
	}
	end, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(d.End))
	if err != nil {
		fields[field+".end"] = "must be an RFC 3339 timestamp"
	}
	if len(fields) > 0 {
		return slots.Slot{}, &badRequestError{Message: "request body contains invalid timestamps", Fields: fields}
	}
	return slots.Slot{Start: start, End: end}, nil
}

func toSlotDTO(slot slots.Slot) slotDTO {
	return slotDTO{
		Start: slot.Start.UTC().Format(time.RFC3339Nano),
		End:   slot.End.UTC().Format(time.RFC3339Nano),
	}
}

type viewingResponse struct {
	Viewing viewingDTO `json:"viewing"`
}

type viewingDecisionResponse struct {
	Viewing         viewingDTO   `json:"viewing"`
	OverlapWarnings []overlapDTO `json:"overlap_warnings"`
}

type listViewingsResponse struct {
	Viewings []viewingDTO `json:"viewings"`
}

type viewingDTO struct {
	ID            string    `json:"id"`
	ListingID     string    `json:"listing_id"`
	RenterID      string    `json:"renter_id"`
	LandlordID    string    `json:"landlord_id"`
	Status        string    `json:"status"`
	ProposedSlots []slotDTO `json:"proposed_slots"`
	ChosenSlot    *slotDTO  `json:"chosen_slot,omitempty"`
	Note          *string   `json:"note,omitempty"`
	DecidedBy     *string   `json:"decided_by,omitempty"`
	DecidedAt     *string   `json:"decided_at,omitempty"`
	CreatedAt     string    `json:"created_at"`
	UpdatedAt     string    `json:"updated_at"`
}

type overlapDTO struct {
	WithRequestID string  `json:"with_request_id"`
	Slot          slotDTO `json:"slot"`
}

func toViewingDTO(request application.ViewingRequest) viewingDTO {
	proposed := make([]slotDTO, 0, len(request.ProposedSlots))
	for _, slot := range request.ProposedSlots {
		proposed = append(proposed, toSlotDTO(slot))
	}

	dto := viewingDTO{
		ID:            request.ID,
		ListingID:     request.ListingID,
		RenterID:      request.RenterID,
		LandlordID:    request.LandlordID,
		Status:        string(request.Status),
		ProposedSlots: proposed,
		Note:          request.Note,
		DecidedBy:     request.DecidedBy,
		DecidedAt:     formatOptionalTime(request.DecidedAt),
		CreatedAt:     request.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:     request.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if request.ChosenSlot != nil {
		chosen := toSlotDTO(*request.ChosenSlot)
		dto.ChosenSlot = &chosen
	}
	return dto
}

func toViewingDTOs(requests []application.ViewingRequest) []viewingDTO {
	out := make([]viewingDTO, 0, len(requests))
	for _, request := range requests {
		out = append(out, toViewingDTO(request))
	}
	return out
}

func toOverlapDTOs(overlaps []slots.Overlap) []overlapDTO {
	out := make([]overlapDTO, 0, len(overlaps))
	for _, overlap := range overlaps {
		out = append(out, overlapDTO{WithRequestID: overlap.WithRequestID, Slot: toSlotDTO(overlap.Slot)})
	}
	return out
}
