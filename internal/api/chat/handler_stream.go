package chat

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/voyaiage/go-tourism-chatbot/internal/api"
	"github.com/voyaiage/go-tourism-chatbot/internal/types"
)

// SendMessageStream handles POST /chat/message/stream over SSE.
func (h *HandlerImpl) SendMessageStream(w http.ResponseWriter, r *http.Request) {
	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	ctx := r.Context()

	var req types.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeSSEError(w, "Invalid request body")
		return
	}
	if req.SessionID == "" || req.Message == "" {
		h.writeSSEError(w, "session_id and message are required")
		return
	}

	events, err := h.agent.HandleMessageStream(ctx, req.SessionID, req.Message)
	if err != nil {
		h.writeSSEError(w, fmt.Sprintf("Failed to start stream: %v", err))
		return
	}

	h.logger.InfoContext(ctx, "Started chat stream", slog.String("session_id", req.SessionID))

	for {
		select {
		case event, ok := <-events:
			if !ok {
				h.logger.InfoContext(ctx, "Stream closed", slog.String("session_id", req.SessionID))
				return
			}
			if event.EventID == "" {
				event.EventID = uuid.New().String()
			}
			if event.Metadata != nil {
				event.Metadata.HasImage = req.ImageURL != ""
			}

			data, err := json.Marshal(event)
			if err != nil {
				h.logger.ErrorContext(ctx, "Failed to marshal event", slog.Any("error", err))
				continue
			}

			fmt.Fprintf(w, "id: %s\n", event.EventID)
			fmt.Fprintf(w, "event: %s\n", event.Type)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()

		case <-ctx.Done():
			h.logger.InfoContext(ctx, "Client disconnected", slog.String("session_id", req.SessionID))
			return
		}
	}
}

// writeSSEError emits an error event followed by the terminal done
// event. Every stream ends with exactly one done, failures included.
func (h *HandlerImpl) writeSSEError(w http.ResponseWriter, errorMsg string) {
	writeSSEEvent(w, types.StreamEvent{Type: types.EventTypeError, Error: errorMsg})
	writeSSEEvent(w, types.StreamEvent{Type: types.EventTypeDone})
}

func writeSSEEvent(w http.ResponseWriter, event types.StreamEvent) {
	event.Timestamp = time.Now()
	event.EventID = uuid.New().String()
	data, _ := json.Marshal(event)
	fmt.Fprintf(w, "id: %s\n", event.EventID)
	fmt.Fprintf(w, "event: %s\n", event.Type)
	fmt.Fprintf(w, "data: %s\n\n", data)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}
