package travellog

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	appMiddleware "github.com/voyaiage/go-tourism-chatbot/app/middleware"
	"github.com/voyaiage/go-tourism-chatbot/internal/api"
	"github.com/voyaiage/go-tourism-chatbot/internal/api/location"
	"github.com/voyaiage/go-tourism-chatbot/internal/types"
)

type HandlerImpl struct {
	repo   Repository
	logger *slog.Logger
}

func NewHandler(repo Repository, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{
		repo:   repo,
		logger: logger,
	}
}

func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := appMiddleware.GetUserIDFromContext(r.Context())
	if !ok || id == "" {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return "", false
	}
	return id, true
}

// AddEntry handles POST /travellog. The location field accepts a slug
// or a display name.
func (h *HandlerImpl) AddEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	uid, ok := userID(w, r)
	if !ok {
		return
	}

	var req struct {
		Location string `json:"location"`
		Note     string `json:"note"`
	}
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Location) == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "location is required")
		return
	}

	entry, err := h.repo.Add(ctx, uid, location.Slugify(req.Location), req.Note)
	if err != nil {
		if errors.Is(err, ErrUnknownLocation) {
			api.ErrorResponse(w, r, http.StatusNotFound, "Location is not in the catalog")
			return
		}
		h.logger.ErrorContext(ctx, "Failed to add travel log entry", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to add entry")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusCreated, map[string]interface{}{
		"success": true,
		"entry":   entry,
	})
}

// ListEntries handles GET /travellog.
func (h *HandlerImpl) ListEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	uid, ok := userID(w, r)
	if !ok {
		return
	}

	entries, err := h.repo.List(ctx, uid)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to list travel log", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to list entries")
		return
	}
	if entries == nil {
		entries = []types.TravelLogEntry{}
	}

	api.WriteJSONResponse(w, r, http.StatusOK, map[string]interface{}{
		"success": true,
		"entries": entries,
	})
}

// UpdateNote handles PUT /travellog/{entryID}.
func (h *HandlerImpl) UpdateNote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	uid, ok := userID(w, r)
	if !ok {
		return
	}
	entryID := chi.URLParam(r, "entryID")

	var req struct {
		Note string `json:"note"`
	}
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.repo.UpdateNote(ctx, uid, entryID, req.Note); err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			api.ErrorResponse(w, r, http.StatusNotFound, "Entry not found")
			return
		}
		h.logger.ErrorContext(ctx, "Failed to update travel log note", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to update entry")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, map[string]interface{}{"success": true})
}

// DeleteEntry handles DELETE /travellog/{entryID}.
func (h *HandlerImpl) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	uid, ok := userID(w, r)
	if !ok {
		return
	}
	entryID := chi.URLParam(r, "entryID")

	if err := h.repo.Delete(ctx, uid, entryID); err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			api.ErrorResponse(w, r, http.StatusNotFound, "Entry not found")
			return
		}
		h.logger.ErrorContext(ctx, "Failed to delete travel log entry", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to delete entry")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusNoContent, nil)
}
