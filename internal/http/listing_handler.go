package http

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/rental-broker/internal/application"
	"github.com/example/rental-broker/internal/authz"
	"github.com/example/rental-broker/internal/lifecycle"
)

type listingService interface {
	Create(ctx context.Context, params application.CreateListingParams) (application.Listing, error)
	UpdateDraft(ctx context.Context, params application.UpdateListingParams) (application.Listing, error)
	Submit(ctx context.Context, params application.ListingActionParams) (application.Listing, error)
	Decide(ctx context.Context, params application.DecideListingParams) (application.Listing, error)
	Revise(ctx context.Context, params application.ListingActionParams) (application.ReviseListingResult, error)
	Get(ctx context.Context, params application.ListingActionParams) (application.Listing, error)
	ListPublished(ctx context.Context, params application.BrowseListingsParams) ([]application.Listing, error)
	ListOwned(ctx context.Context, actor authz.Actor) ([]application.Listing, error)
	ListPending(ctx context.Context, actor authz.Actor) ([]application.Listing, error)
}

// ListingHandler serves listing drafting, moderation and browsing.
type ListingHandler struct {
	service   listingService
	responder responder
	logger    *slog.Logger
}

func NewListingHandler(service listingService, logger *slog.Logger) *ListingHandler {
	base := defaultLogger(logger)
	return &ListingHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *ListingHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "ListingHandler", operation, attrs...)
}

func (h *ListingHandler) ready(w http.ResponseWriter) bool {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return false
	}
	return true
}

// Browse lists approved listings, newest first.
func (h *ListingHandler) Browse(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	params, err := parseBrowseQuery(r.URL.Query())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger := h.log(r.Context(), "Browse", "city", params.City)
	listings, err := h.service.ListPublished(r.Context(), params)
	if err != nil {
		logger.ErrorContext(r.Context(), "listing browse failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("result_count", len(listings)).DebugContext(r.Context(), "listings browsed")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listListingsResponse{Listings: toListingDTOs(listings)})
}

func (h *ListingHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	actor, _ := ActorFromContext(r.Context())
	listing, err := h.service.Get(r.Context(), application.ListingActionParams{Actor: actor, ListingID: chi.URLParam(r, "id")})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listingResponse{Listing: toListingDTO(listing)})
}

func (h *ListingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	actor, _ := ActorFromContext(r.Context())

	var req listingRequest
	if err := decodeJSON(w, r, schemaListing, &req); err != nil {
		h.log(r.Context(), "Create", "actor_id", actor.ID, "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode listing", "error", err)
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger := h.log(r.Context(), "Create", "actor_id", actor.ID)
	listing, err := h.service.Create(r.Context(), application.CreateListingParams{Actor: actor, Input: req.toInput()})
	if err != nil {
		logger.ErrorContext(r.Context(), "listing creation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("listing_id", listing.ID).InfoContext(r.Context(), "listing created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, listingResponse{Listing: toListingDTO(listing)})
}

func (h *ListingHandler) Update(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	actor, _ := ActorFromContext(r.Context())
	listingID := chi.URLParam(r, "id")

	var req listingRequest
	if err := decodeJSON(w, r, schemaListing, &req); err != nil {
		h.log(r.Context(), "Update", "actor_id", actor.ID, "listing_id", listingID, "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode listing", "error", err)
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger := h.log(r.Context(), "Update", "actor_id", actor.ID, "listing_id", listingID)
	listing, err := h.service.UpdateDraft(r.Context(), application.UpdateListingParams{
		Actor:     actor,
		ListingID: listingID,
		Input:     req.toInput(),
	})
	if err != nil {
		logger.ErrorContext(r.Context(), "listing update failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "listing updated")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listingResponse{Listing: toListingDTO(listing)})
}

func (h *ListingHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	actor, _ := ActorFromContext(r.Context())
	listingID := chi.URLParam(r, "id")
	logger := h.log(r.Context(), "Submit", "actor_id", actor.ID, "listing_id", listingID)

	listing, err := h.service.Submit(r.Context(), application.ListingActionParams{Actor: actor, ListingID: listingID})
	if err != nil {
		logger.ErrorContext(r.Context(), "listing submit failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "listing submitted")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listingResponse{Listing: toListingDTO(listing)})
}

func (h *ListingHandler) Decide(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	actor, _ := ActorFromContext(r.Context())
	listingID := chi.URLParam(r, "id")

	var req decisionRequest
	if err := decodeJSON(w, r, schemaListingDecision, &req); err != nil {
		h.log(r.Context(), "Decide", "actor_id", actor.ID, "listing_id", listingID, "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode decision", "error", err)
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger := h.log(r.Context(), "Decide", "actor_id", actor.ID, "listing_id", listingID, "decision", req.Decision)
	listing, err := h.service.Decide(r.Context(), application.DecideListingParams{
		Actor:     actor,
		ListingID: listingID,
		Decision:  lifecycle.ListingDecision(strings.ToUpper(strings.TrimSpace(req.Decision))),
	})
	if err != nil {
		logger.ErrorContext(r.Context(), "listing decision failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "listing decided")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listingResponse{Listing: toListingDTO(listing)})
}

func (h *ListingHandler) Revise(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	actor, _ := ActorFromContext(r.Context())
	listingID := chi.URLParam(r, "id")
	logger := h.log(r.Context(), "Revise", "actor_id", actor.ID, "listing_id", listingID)

	result, err := h.service.Revise(r.Context(), application.ListingActionParams{Actor: actor, ListingID: listingID})
	if err != nil {
		logger.ErrorContext(r.Context(), "listing revise failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("unpublished", result.Unpublished).InfoContext(r.Context(), "listing reopened")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, reviseResponse{
		Listing:     toListingDTO(result.Listing),
		Unpublished: result.Unpublished,
	})
}

func (h *ListingHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	actor, _ := ActorFromContext(r.Context())
	listings, err := h.service.ListOwned(r.Context(), actor)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listListingsResponse{Listings: toListingDTOs(listings)})
}

func (h *ListingHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	actor, _ := ActorFromContext(r.Context())
	listings, err := h.service.ListPending(r.Context(), actor)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listListingsResponse{Listings: toListingDTOs(listings)})
}

func parseBrowseQuery(query url.Values) (application.BrowseListingsParams, error) {
	params := application.BrowseListingsParams{City: strings.TrimSpace(query.Get("city"))}
	fields := make(map[string]string)

	if raw := strings.TrimSpace(query.Get("min_bedrooms")); raw != "" {
		if v, err := strconv.Atoi(raw); err != nil {
			fields["min_bedrooms"] = "must be an integer"
		} else {
			params.MinBedrooms = &v
		}
	}
	if raw := strings.TrimSpace(query.Get("max_price_cents")); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err != nil {
			fields["max_price_cents"] = "must be an integer"
		} else {
			params.MaxPriceCents = &v
		}
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		if v, err := strconv.Atoi(raw); err != nil || v < 0 {
			fields["limit"] = "must be a non-negative integer"
		} else {
			params.Limit = v
		}
	}

	if len(fields) > 0 {
		return application.BrowseListingsParams{}, &badRequestError{Message: "query parameters are invalid", Fields: fields}
	}
	return params, nil
}

type listingRequest struct {
	Title       string   `json:"title"`
	City        string   `json:"city"`
	Description *string  `json:"description"`
	PriceCents  int64    `json:"price_cents"`
	Bedrooms    *int     `json:"bedrooms"`
	Bathrooms   *int     `json:"bathrooms"`
	Images      []string `json:"images"`
	Amenities   []string `json:"amenities"`
	VideoURL    *string  `json:"video_url"`
}

func (r listingRequest) toInput() application.ListingInput {
	return application.ListingInput{
		Title:       r.Title,
		City:        r.City,
		Description: r.Description,
		PriceCents:  r.PriceCents,
		Bedrooms:    r.Bedrooms,
		Bathrooms:   r.Bathrooms,
		Images:      r.Images,
		Amenities:   r.Amenities,
		VideoURL:    r.VideoURL,
	}
}

type decisionRequest struct {
	Decision string `json:"decision"`
}

type listingResponse struct {
	Listing listingDTO `json:"listing"`
}

type reviseResponse struct {
	Listing     listingDTO `json:"listing"`
	Unpublished bool       `json:"unpublished"`
}

type listListingsResponse struct {
	Listings []listingDTO `json:"listings"`
}

type listingDTO struct {
	ID          string   `json:"id"`
	OwnerID     string   `json:"owner_id"`
	Status      string   `json:"status"`
	Title       string   `json:"title"`
	City        string   `json:"city"`
	Description *string  `json:"description,omitempty"`
	PriceCents  int64    `json:"price_cents"`
	Bedrooms    *int     `json:"bedrooms,omitempty"`
	Bathrooms   *int     `json:"bathrooms,omitempty"`
	Images      []string `json:"images"`
	Amenities   []string `json:"amenities"`
	VideoURL    *string  `json:"video_url,omitempty"`
	ReviewedBy  *string  `json:"reviewed_by,omitempty"`
	ReviewedAt  *string  `json:"reviewed_at,omitempty"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

func toListingDTO(listing application.Listing) listingDTO {
	return listingDTO{
		ID:          listing.ID,
		OwnerID:     listing.OwnerID,
		Status:      string(listing.Status),
		Title:       listing.Title,
		City:        listing.City,
		Description: listing.Description,
		PriceCents:  listing.PriceCents,
		Bedrooms:    listing.Bedrooms,
		Bathrooms:   listing.Bathrooms,
		Images:      nonNilStrings(listing.Images),
		Amenities:   nonNilStrings(listing.Amenities),
		VideoURL:    listing.VideoURL,
		ReviewedBy:  listing.ReviewedBy,
		ReviewedAt:  formatOptionalTime(listing.ReviewedAt),
		CreatedAt:   listing.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:   listing.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func toListingDTOs(listings []application.Listing) []listingDTO {
	out := make([]listingDTO, 0, len(listings))
	for _, listing := range listings {
		out = append(out, toListingDTO(listing))
	}
	return out
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.UTC().Format(time.RFC3339Nano)
	return &formatted
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
