package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/voyaiage/go-tourism-chatbot/internal/api/recommend"
	"github.com/voyaiage/go-tourism-chatbot/internal/types"
)

type MockAgent struct {
	mock.Mock
}

func (m *MockAgent) HandleMessage(ctx context.Context, sessionID, message string) (*types.ChatReply, error) {
	args := m.Called(ctx, sessionID, message)
	if v := args.Get(0); v != nil {
		return v.(*types.ChatReply), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAgent) HandleMessageStream(ctx context.Context, sessionID, message string) (<-chan types.StreamEvent, error) {
	args := m.Called(ctx, sessionID, message)
	if v := args.Get(0); v != nil {
		return v.(<-chan types.StreamEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockContexts struct {
	mock.Mock
}

func (m *MockContexts) Get(ctx context.Context, sessionID string) (*types.ChatContext, error) {
	args := m.Called(ctx, sessionID)
	if v := args.Get(0); v != nil {
		return v.(*types.ChatContext), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockContexts) AddVisited(ctx context.Context, sessionID string, locationIDs ...string) ([]string, error) {
	callArgs := []interface{}{ctx, sessionID}
	for _, id := range locationIDs {
		callArgs = append(callArgs, id)
	}
	args := m.Called(callArgs...)
	if v := args.Get(0); v != nil {
		return v.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockContexts) RemoveVisited(ctx context.Context, sessionID, locationID string) (bool, error) {
	args := m.Called(ctx, sessionID, locationID)
	return args.Bool(0), args.Error(1)
}

func (m *MockContexts) SetAllowRevisit(ctx context.Context, sessionID string, allow bool) error {
	return m.Called(ctx, sessionID, allow).Error(0)
}

func (m *MockContexts) Clear(ctx context.Context, sessionID string) error {
	return m.Called(ctx, sessionID).Error(0)
}

func (m *MockContexts) History(ctx context.Context, sessionID string) ([]types.ConversationTurn, error) {
	args := m.Called(ctx, sessionID)
	if v := args.Get(0); v != nil {
		return v.([]types.ConversationTurn), args.Error(1)
	}
	return nil, args.Error(1)
}

func newTestHandler() (*HandlerImpl, *MockAgent, *MockContexts) {
	agent := new(MockAgent)
	contexts := new(MockContexts)
	return NewHandler(agent, contexts, slog.New(slog.DiscardHandler)), agent, contexts
}

func TestSendMessageSuccess(t *testing.T) {
	h, agent, _ := newTestHandler()

	agent.On("HandleMessage", mock.Anything, "s1", "chùa ở Huế").Return(&types.ChatReply{
		Success:  true,
		Response: "Giới thiệu",
		Type:     types.ReplyTypeRecommendation,
	}, nil)

	body := strings.NewReader(`{"session_id":"s1","message":"chùa ở Huế"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/message", body)
	rec := httptest.NewRecorder()

	h.SendMessage(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var reply types.ChatReply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.True(t, reply.Success)
	assert.Equal(t, "Giới thiệu", reply.Response)
}

func TestSendMessageRequiresBodyFields(t *testing.T) {
	h, _, _ := newTestHandler()

	for name, body := range map[string]string{
		"missing session": `{"message":"xin chào"}`,
		"empty message":   `{"session_id":"s1","message":"  "}`,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/message", strings.NewReader(body))
			rec := httptest.NewRecorder()
			h.SendMessage(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestSendMessageLLMFailureDegradesGracefully(t *testing.T) {
	h, agent, _ := newTestHandler()

	agent.On("HandleMessage", mock.Anything, "s1", "biển đẹp").Return(&types.ChatReply{
		Success: false,
		Type:    types.ReplyTypeRecommendation,
		Locations: []types.LocationMatch{
			{Location: types.Location{ID: "bai-sao", Name: "Bãi Sao"}},
		},
	}, recommend.ErrLLMUnavailable)

	body := strings.NewReader(`{"session_id":"s1","message":"biển đẹp"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/message", body)
	rec := httptest.NewRecorder()

	h.SendMessage(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var reply types.ChatReply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.False(t, reply.Success)
	assert.NotEmpty(t, reply.Error)
	assert.Len(t, reply.Locations, 1)
}

func TestSendMessageEmbeddingFailureIs503(t *testing.T) {
	h, agent, _ := newTestHandler()

	agent.On("HandleMessage", mock.Anything, "s1", "biển đẹp").
		Return(nil, recommend.ErrEmbeddingUnavailable)

	body := strings.NewReader(`{"session_id":"s1","message":"biển đẹp"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/message", body)
	rec := httptest.NewRecorder()

	h.SendMessage(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetContext(t *testing.T) {
	h, _, contexts := newTestHandler()

	contexts.On("Get", mock.Anything, "s1").Return(&types.ChatContext{
		SessionID:    "s1",
		VisitedIDs:   []string{"cho-ben-thanh"},
		AllowRevisit: true,
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/context?session_id=s1", nil)
	rec := httptest.NewRecorder()

	h.GetContext(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, true, resp["allow_revisit"])
	assert.Equal(t, []interface{}{"cho-ben-thanh"}, resp["visited_ids"])
}

func TestAddVisitedLocationSlugsTheName(t *testing.T) {
	h, _, contexts := newTestHandler()

	contexts.On("AddVisited", mock.Anything, "s1", "cho-ben-thanh").Return([]string{"cho-ben-thanh"}, nil)
	contexts.On("Get", mock.Anything, "s1").Return(&types.ChatContext{
		SessionID:  "s1",
		VisitedIDs: []string{"cho-ben-thanh"},
	}, nil)

	body := strings.NewReader(`{"session_id":"s1","location":"Chợ Bến Thành"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/context/visited", body)
	rec := httptest.NewRecorder()

	h.AddVisitedLocation(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp["message"], "Added")
	contexts.AssertExpectations(t)
}

func TestRemoveVisitedLocationNotPresent(t *testing.T) {
	h, _, contexts := newTestHandler()

	contexts.On("RemoveVisited", mock.Anything, "s1", "ho-guom").Return(false, nil)
	contexts.On("Get", mock.Anything, "s1").Return(&types.ChatContext{
		SessionID:  "s1",
		VisitedIDs: []string{},
	}, nil)

	body := strings.NewReader(`{"session_id":"s1","location":"Hồ Gươm"}`)
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/chat/context/visited", body)
	rec := httptest.NewRecorder()

	h.RemoveVisitedLocation(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Location not in visited list", resp["message"])
}

func TestSetRevisitPreferenceRequiresExplicitValue(t *testing.T) {
	h, _, _ := newTestHandler()

	body := strings.NewReader(`{"session_id":"s1"}`)
	req := httptest.NewRequest(http.MethodPut, "/api/v1/chat/context/revisit", body)
	rec := httptest.NewRecorder()

	h.SetRevisitPreference(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClearContext(t *testing.T) {
	h, _, contexts := newTestHandler()

	contexts.On("Clear", mock.Anything, "s1").Return(nil)

	body := strings.NewReader(`{"session_id":"s1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/context/clear", body)
	rec := httptest.NewRecorder()

	h.ClearContext(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	contexts.AssertExpectations(t)
}

func TestSendMessageStreamWritesSSEFrames(t *testing.T) {
	h, agent, _ := newTestHandler()

	events := make(chan types.StreamEvent, 3)
	events <- types.StreamEvent{Type: types.EventTypeToken, Token: "Xin chào"}
	events <- types.StreamEvent{Type: types.EventTypeLocations, Locations: []types.LocationMatch{}}
	events <- types.StreamEvent{Type: types.EventTypeDone, Metadata: &types.RecommendationMetadata{}}
	close(events)

	agent.On("HandleMessageStream", mock.Anything, "s1", "xin chào").
		Return((<-chan types.StreamEvent)(events), nil)

	body := strings.NewReader(`{"session_id":"s1","message":"xin chào"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/message/stream", body)
	rec := httptest.NewRecorder()

	h.SendMessageStream(rec, req)

	out := rec.Body.String()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, out, "event: token")
	assert.Contains(t, out, "event: locations")
	assert.Contains(t, out, "event: done")
	assert.Contains(t, out, "Xin chào")
}

func TestSendMessageStreamStartFailureStillTerminates(t *testing.T) {
	h, agent, _ := newTestHandler()

	agent.On("HandleMessageStream", mock.Anything, "s1", "biển đẹp").
		Return(nil, recommend.ErrEmbeddingUnavailable)

	body := strings.NewReader(`{"session_id":"s1","message":"biển đẹp"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/message/stream", body)
	rec := httptest.NewRecorder()

	h.SendMessageStream(rec, req)

	out := rec.Body.String()
	assert.Contains(t, out, "event: error")
	assert.Contains(t, out, "event: done")
	assert.Less(t, strings.Index(out, "event: error"), strings.Index(out, "event: done"),
		"error frame must precede the terminal done frame")
}

func TestSendMessageStreamBadBodyStillTerminates(t *testing.T) {
	h, _, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/message/stream", strings.NewReader(`{`))
	rec := httptest.NewRecorder()

	h.SendMessageStream(rec, req)

	out := rec.Body.String()
	assert.Contains(t, out, "event: error")
	assert.Contains(t, out, "event: done")
}
