package types

import "time"

// ChatRequest is the body of POST /api/v1/chat/message and the
// streaming variant.
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	ImageURL  string `json:"image_url,omitempty"`
}

// ChatReply is the non-streaming chat response envelope.
type ChatReply struct {
	Success   bool                    `json:"success"`
	Response  string                  `json:"response"`
	Type      string                  `json:"type"`
	Metadata  *RecommendationMetadata `json:"metadata,omitempty"`
	Locations []LocationMatch         `json:"locations,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

// Reply type discriminators for ChatReply.Type.
const (
	ReplyTypeRecommendation = "recommendation"
	ReplyTypeVisitedUpdate  = "visited_update"
	ReplyTypeRevisitUpdate  = "revisit_update"
	ReplyTypeContextCleared = "context_cleared"
)

// RecommendationMetadata describes what the visited filter did during a
// pipeline run.
type RecommendationMetadata struct {
	FilteredIDs   []string `json:"filtered_ids"`
	FilteredCount int      `json:"filtered_count"`
	VisitedCount  int      `json:"visited_count"`
	AllowRevisit  bool     `json:"allow_revisit"`
	NoNewMatches  bool     `json:"no_new_matches"`
	HasImage      bool     `json:"has_image"`
}

// RecommendationResult is the outcome of one pipeline run.
type RecommendationResult struct {
	Response  string                  `json:"response"`
	Locations []LocationMatch         `json:"locations"`
	Metadata  *RecommendationMetadata `json:"metadata"`
}

// Stream event types for server-sent chat responses.
const (
	EventTypeToken     = "token"
	EventTypeLocations = "locations"
	EventTypeDone      = "done"
	EventTypeError     = "error"
)

// StreamEvent is a single event on a chat response stream. Exactly one
// of Token, Locations, Metadata, or Error is populated depending on Type.
type StreamEvent struct {
	Type      string                  `json:"type"`
	Token     string                  `json:"token,omitempty"`
	Locations []LocationMatch         `json:"locations,omitempty"`
	Metadata  *RecommendationMetadata `json:"metadata,omitempty"`
	Error     string                  `json:"error,omitempty"`
	EventID   string                  `json:"event_id,omitempty"`
	Timestamp time.Time               `json:"timestamp,omitempty"`
}

// ConversationTurn is one utterance in a session's history.
type ConversationTurn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatContext is the durable per-session state consulted by the
// recommendation pipeline.
type ChatContext struct {
	SessionID    string    `json:"session_id"`
	VisitedIDs   []string  `json:"visited_ids"`
	AllowRevisit bool      `json:"allow_revisit"`
	UpdatedAt    time.Time `json:"updated_at"`
}
