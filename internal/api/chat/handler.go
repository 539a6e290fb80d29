package chat

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/voyaiage/go-tourism-chatbot/internal/api"
	"github.com/voyaiage/go-tourism-chatbot/internal/api/location"
	"github.com/voyaiage/go-tourism-chatbot/internal/api/recommend"
	"github.com/voyaiage/go-tourism-chatbot/internal/types"
)

// AgentService dispatches chat messages to commands or the
// recommendation pipeline.
type AgentService interface {
	HandleMessage(ctx context.Context, sessionID, message string) (*types.ChatReply, error)
	HandleMessageStream(ctx context.Context, sessionID, message string) (<-chan types.StreamEvent, error)
}

// ContextService exposes the session state operations behind the
// /context endpoints.
type ContextService interface {
	Get(ctx context.Context, sessionID string) (*types.ChatContext, error)
	AddVisited(ctx context.Context, sessionID string, locationIDs ...string) ([]string, error)
	RemoveVisited(ctx context.Context, sessionID, locationID string) (bool, error)
	SetAllowRevisit(ctx context.Context, sessionID string, allow bool) error
	Clear(ctx context.Context, sessionID string) error
	History(ctx context.Context, sessionID string) ([]types.ConversationTurn, error)
}

type HandlerImpl struct {
	agent    AgentService
	contexts ContextService
	logger   *slog.Logger
}

func NewHandler(agent AgentService, contexts ContextService, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{
		agent:    agent,
		contexts: contexts,
		logger:   logger,
	}
}

func decodeChatRequest(w http.ResponseWriter, r *http.Request) (*types.ChatRequest, bool) {
	var req types.ChatRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return nil, false
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.Message = strings.TrimSpace(req.Message)
	if req.SessionID == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "session_id is required")
		return nil, false
	}
	if req.Message == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Message cannot be empty")
		return nil, false
	}
	return &req, true
}

// SendMessage handles POST /chat/message.
func (h *HandlerImpl) SendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("handler", "SendMessage"))

	req, ok := decodeChatRequest(w, r)
	if !ok {
		return
	}

	reply, err := h.agent.HandleMessage(ctx, req.SessionID, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, recommend.ErrInvalidQuery):
			api.ErrorResponse(w, r, http.StatusBadRequest, "Message cannot be empty")
		case errors.Is(err, recommend.ErrLLMUnavailable) && reply != nil:
			// Retrieval succeeded, return what we have.
			reply.Error = "Không thể tạo câu trả lời lúc này, nhưng đây là các địa điểm phù hợp."
			markImage(reply, req)
			api.WriteJSONResponse(w, r, http.StatusOK, reply)
		case errors.Is(err, recommend.ErrEmbeddingUnavailable), errors.Is(err, recommend.ErrSearchUnavailable), errors.Is(err, recommend.ErrLLMUnavailable):
			l.ErrorContext(ctx, "Pipeline dependency unavailable", slog.Any("error", err))
			api.ErrorResponse(w, r, http.StatusServiceUnavailable, "Hệ thống gợi ý tạm thời không khả dụng. Vui lòng thử lại sau.")
		default:
			l.ErrorContext(ctx, "Failed to handle message", slog.Any("error", err))
			api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to process message")
		}
		return
	}

	markImage(reply, req)
	api.WriteJSONResponse(w, r, http.StatusOK, reply)
}

// markImage records on the reply metadata whether the request carried
// an attached image.
func markImage(reply *types.ChatReply, req *types.ChatRequest) {
	if reply != nil && reply.Metadata != nil {
		reply.Metadata.HasImage = req.ImageURL != ""
	}
}

type contextRequest struct {
	SessionID string `json:"session_id"`
	Location  string `json:"location,omitempty"`
}

// GetContext handles GET /chat/context?session_id=...
func (h *HandlerImpl) GetContext(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "session_id is required")
		return
	}

	chatCtx, err := h.contexts.Get(ctx, sessionID)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to load context", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to load context")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, map[string]interface{}{
		"success":       true,
		"session_id":    chatCtx.SessionID,
		"visited_ids":   chatCtx.VisitedIDs,
		"allow_revisit": chatCtx.AllowRevisit,
	})
}

// AddVisitedLocation handles POST /chat/context/visited. The location
// field accepts either a slug or a display name.
func (h *HandlerImpl) AddVisitedLocation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req contextRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.SessionID == "" || strings.TrimSpace(req.Location) == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "session_id and location are required")
		return
	}

	locID := location.Slugify(req.Location)
	if locID == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Location name is not valid")
		return
	}

	added, err := h.contexts.AddVisited(ctx, req.SessionID, locID)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to add visited location", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to update context")
		return
	}

	chatCtx, err := h.contexts.Get(ctx, req.SessionID)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to load context", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to load context")
		return
	}

	message := "Location already in visited list"
	if len(added) > 0 {
		message = "Added " + req.Location + " to visited list"
	}
	api.WriteJSONResponse(w, r, http.StatusOK, map[string]interface{}{
		"success":     true,
		"visited_ids": chatCtx.VisitedIDs,
		"message":     message,
	})
}

// RemoveVisitedLocation handles DELETE /chat/context/visited.
func (h *HandlerImpl) RemoveVisitedLocation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req contextRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.SessionID == "" || strings.TrimSpace(req.Location) == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "session_id and location are required")
		return
	}

	locID := location.Slugify(req.Location)
	removed, err := h.contexts.RemoveVisited(ctx, req.SessionID, locID)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to remove visited location", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to update context")
		return
	}

	chatCtx, err := h.contexts.Get(ctx, req.SessionID)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to load context", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to load context")
		return
	}

	message := "Location not in visited list"
	if removed {
		message = "Removed " + req.Location + " from visited list"
	}
	api.WriteJSONResponse(w, r, http.StatusOK, map[string]interface{}{
		"success":     true,
		"visited_ids": chatCtx.VisitedIDs,
		"message":     message,
	})
}

// SetRevisitPreference handles PUT /chat/context/revisit.
func (h *HandlerImpl) SetRevisitPreference(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		SessionID    string `json:"session_id"`
		AllowRevisit *bool  `json:"allow_revisit"`
	}
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.SessionID == "" || req.AllowRevisit == nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "session_id and allow_revisit are required")
		return
	}

	if err := h.contexts.SetAllowRevisit(ctx, req.SessionID, *req.AllowRevisit); err != nil {
		h.logger.ErrorContext(ctx, "Failed to set revisit preference", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to update context")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, map[string]interface{}{
		"success":       true,
		"allow_revisit": *req.AllowRevisit,
	})
}

// ClearContext handles POST /chat/context/clear.
func (h *HandlerImpl) ClearContext(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req contextRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.SessionID == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "session_id is required")
		return
	}

	if err := h.contexts.Clear(ctx, req.SessionID); err != nil {
		h.logger.ErrorContext(ctx, "Failed to clear context", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to clear context")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Chat context cleared",
	})
}

// GetHistory handles GET /chat/history?session_id=...
func (h *HandlerImpl) GetHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "session_id is required")
		return
	}

	turns, err := h.contexts.History(ctx, sessionID)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to load history", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to load history")
		return
	}
	if turns == nil {
		turns = []types.ConversationTurn{}
	}

	api.WriteJSONResponse(w, r, http.StatusOK, map[string]interface{}{
		"success": true,
		"history": turns,
	})
}
