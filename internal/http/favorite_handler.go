package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/rental-broker/internal/application"
	"github.com/example/rental-broker/internal/authz"
)

type favoriteService interface {
	Save(ctx context.Context, params application.ListingActionParams) (application.Favorite, error)
	Remove(ctx context.Context, params application.ListingActionParams) error
	List(ctx context.Context, actor authz.Actor) ([]application.FavoriteListing, error)
}

// FavoriteHandler serves the signed-in user's saved listings.
type FavoriteHandler struct {
	service   favoriteService
	responder responder
	logger    *slog.Logger
}

func NewFavoriteHandler(service favoriteService, logger *slog.Logger) *FavoriteHandler {
	base := defaultLogger(logger)
	return &FavoriteHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *FavoriteHandler) ready(w http.ResponseWriter) bool {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return false
	}
	return true
}

// Save is idempotent: saving a listing twice returns the first save.
func (h *FavoriteHandler) Save(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	actor, _ := ActorFromContext(r.Context())
	listingID := chi.URLParam(r, "id")
	logger := handlerLogger(r.Context(), h.logger, "FavoriteHandler", "Save", "actor_id", actor.ID, "listing_id", listingID)

	favorite, err := h.service.Save(r.Context(), application.ListingActionParams{Actor: actor, ListingID: listingID})
	if err != nil {
		logger.ErrorContext(r.Context(), "favorite save failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "favorite saved")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, favoriteResponse{Favorite: favoriteDTO{
		ListingID: favorite.ListingID,
		SavedAt:   favorite.SavedAt.UTC().Format(time.RFC3339Nano),
	}})
}

func (h *FavoriteHandler) Remove(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	actor, _ := ActorFromContext(r.Context())
	listingID := chi.URLParam(r, "id")
	if err := h.service.Remove(r.Context(), application.ListingActionParams{Actor: actor, ListingID: listingID}); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *FavoriteHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	actor, _ := ActorFromContext(r.Context())
	saved, err := h.service.List(r.Context(), actor)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	out := make([]savedListingDTO, 0, len(saved))
	for _, item := range saved {
		out = append(out, savedListingDTO{
			Listing: toListingDTO(item.Listing),
			SavedAt: item.SavedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listFavoritesResponse{Favorites: out})
}

type favoriteDTO struct {
	ListingID string `json:"listing_id"`
	SavedAt   string `json:"saved_at"`
}

type favoriteResponse struct {
	Favorite favoriteDTO `json:"favorite"`
}

type savedListingDTO struct {
	Listing listingDTO `json:"listing"`
	SavedAt string     `json:"saved_at"`
}

type listFavoritesResponse struct {
	Favorites []savedListingDTO `json:"favorites"`
}
