package agent

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/voyaiage/go-tourism-chatbot/internal/api/location"
	"github.com/voyaiage/go-tourism-chatbot/internal/types"
)

type MockContextManager struct {
	mock.Mock
}

func (m *MockContextManager) Get(ctx context.Context, sessionID string) (*types.ChatContext, error) {
	args := m.Called(ctx, sessionID)
	if v := args.Get(0); v != nil {
		return v.(*types.ChatContext), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockContextManager) AddVisited(ctx context.Context, sessionID string, locationIDs ...string) ([]string, error) {
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

func (m *MockContextManager) SetAllowRevisit(ctx context.Context, sessionID string, allow bool) error {
	return m.Called(ctx, sessionID, allow).Error(0)
}

func (m *MockContextManager) Clear(ctx context.Context, sessionID string) error {
	return m.Called(ctx, sessionID).Error(0)
}

func (m *MockContextManager) AppendTurn(ctx context.Context, sessionID, role, content string) error {
	return m.Called(ctx, sessionID, role, content).Error(0)
}

type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) ResolveByName(ctx context.Context, name string) (*types.Location, error) {
	args := m.Called(ctx, name)
	if v := args.Get(0); v != nil {
		return v.(*types.Location), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockRecommender struct {
	mock.Mock
}

func (m *MockRecommender) Generate(ctx context.Context, query string, visitedIDs []string, allowRevisit bool) (*types.RecommendationResult, error) {
	args := m.Called(ctx, query, visitedIDs, allowRevisit)
	if v := args.Get(0); v != nil {
		return v.(*types.RecommendationResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRecommender) GenerateStream(ctx context.Context, query string, visitedIDs []string, allowRevisit bool) (<-chan types.StreamEvent, error) {
	args := m.Called(ctx, query, visitedIDs, allowRevisit)
	if v := args.Get(0); v != nil {
		return v.(<-chan types.StreamEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

func newAgent(cm *MockContextManager, r *MockResolver, rec *MockRecommender) *Service {
	return NewService(cm, r, rec, slog.New(slog.DiscardHandler))
}

func TestHandleVisitedReportResolvesAndRecords(t *testing.T) {
	cm := new(MockContextManager)
	resolver := new(MockResolver)
	rec := new(MockRecommender)

	resolver.On("ResolveByName", mock.Anything, "chợ bến thành").
		Return(&types.Location{ID: "cho-ben-thanh", Name: "Chợ Bến Thành"}, nil)
	cm.On("AddVisited", mock.Anything, "s1", "cho-ben-thanh").Return([]string{"cho-ben-thanh"}, nil)
	cm.On("Get", mock.Anything, "s1").Return(&types.ChatContext{
		SessionID:  "s1",
		VisitedIDs: []string{"cho-ben-thanh"},
	}, nil)

	svc := newAgent(cm, resolver, rec)
	reply, err := svc.HandleMessage(context.Background(), "s1", "Tôi đã đến chợ Bến Thành")
	require.NoError(t, err)

	assert.True(t, reply.Success)
	assert.Equal(t, types.ReplyTypeVisitedUpdate, reply.Type)
	assert.Contains(t, reply.Response, "Chợ Bến Thành")
	assert.Equal(t, 1, reply.Metadata.VisitedCount)
	rec.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleVisitedReportDropsUnknownPlaces(t *testing.T) {
	cm := new(MockContextManager)
	resolver := new(MockResolver)
	rec := new(MockRecommender)

	resolver.On("ResolveByName", mock.Anything, "nơi không tồn tại").
		Return(nil, location.ErrLocationNotFound)

	svc := newAgent(cm, resolver, rec)
	reply, err := svc.HandleMessage(context.Background(), "s1", "tôi đã đến nơi không tồn tại")
	require.NoError(t, err)

	assert.True(t, reply.Success)
	assert.Contains(t, reply.Response, "không tìm thấy")
	cm.AssertNotCalled(t, "AddVisited", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleRevisitToggle(t *testing.T) {
	cm := new(MockContextManager)
	resolver := new(MockResolver)
	rec := new(MockRecommender)

	cm.On("SetAllowRevisit", mock.Anything, "s1", true).Return(nil)
	cm.On("Get", mock.Anything, "s1").Return(&types.ChatContext{SessionID: "s1", AllowRevisit: true}, nil)

	svc := newAgent(cm, resolver, rec)
	reply, err := svc.HandleMessage(context.Background(), "s1", "cho phép gợi ý lại")
	require.NoError(t, err)

	assert.Equal(t, types.ReplyTypeRevisitUpdate, reply.Type)
	assert.True(t, reply.Metadata.AllowRevisit)
	cm.AssertExpectations(t)
}

func TestHandleClearContext(t *testing.T) {
	cm := new(MockContextManager)
	resolver := new(MockResolver)
	rec := new(MockRecommender)

	cm.On("Clear", mock.Anything, "s1").Return(nil)

	svc := newAgent(cm, resolver, rec)
	reply, err := svc.HandleMessage(context.Background(), "s1", "xóa lịch sử đi")
	require.NoError(t, err)

	assert.Equal(t, types.ReplyTypeContextCleared, reply.Type)
	cm.AssertExpectations(t)
}

func TestHandleQueryRunsPipelineWithSessionState(t *testing.T) {
	cm := new(MockContextManager)
	resolver := new(MockResolver)
	rec := new(MockRecommender)

	visited := []string{"cho-ben-thanh"}
	cm.On("Get", mock.Anything, "s1").Return(&types.ChatContext{
		SessionID:  "s1",
		VisitedIDs: visited,
	}, nil)
	cm.On("AppendTurn", mock.Anything, "s1", types.RoleUser, "chùa ở Huế").Return(nil)
	cm.On("AppendTurn", mock.Anything, "s1", types.RoleAssistant, "Giới thiệu").Return(nil)
	rec.On("Generate", mock.Anything, "chùa ở Huế", visited, false).Return(&types.RecommendationResult{
		Response: "Giới thiệu",
		Locations: []types.LocationMatch{
			{Location: types.Location{ID: "chua-thien-mu", Name: "Chùa Thiên Mụ"}},
		},
		Metadata: &types.RecommendationMetadata{VisitedCount: 1},
	}, nil)

	svc := newAgent(cm, resolver, rec)
	reply, err := svc.HandleMessage(context.Background(), "s1", "chùa ở Huế")
	require.NoError(t, err)

	assert.True(t, reply.Success)
	assert.Equal(t, types.ReplyTypeRecommendation, reply.Type)
	assert.Equal(t, "Giới thiệu", reply.Response)
	require.Len(t, reply.Locations, 1)
	cm.AssertExpectations(t)
}

func TestHandleMessageStreamCommandProducesSyntheticStream(t *testing.T) {
	cm := new(MockContextManager)
	resolver := new(MockResolver)
	rec := new(MockRecommender)

	cm.On("SetAllowRevisit", mock.Anything, "s1", false).Return(nil)
	cm.On("Get", mock.Anything, "s1").Return(&types.ChatContext{SessionID: "s1"}, nil)

	svc := newAgent(cm, resolver, rec)
	events, err := svc.HandleMessageStream(context.Background(), "s1", "tắt gợi ý lại")
	require.NoError(t, err)

	var got []types.StreamEvent
	for ev := range events {
		got = append(got, ev)
	}
	require.Len(t, got, 3)
	assert.Equal(t, types.EventTypeToken, got[0].Type)
	assert.Equal(t, types.EventTypeLocations, got[1].Type)
	assert.Equal(t, types.EventTypeDone, got[2].Type)
}

func TestHandleMessageStreamRecordsAssistantTurn(t *testing.T) {
	cm := new(MockContextManager)
	resolver := new(MockResolver)
	rec := new(MockRecommender)

	upstream := make(chan types.StreamEvent, 3)
	upstream <- types.StreamEvent{Type: types.EventTypeToken, Token: "Xin "}
	upstream <- types.StreamEvent{Type: types.EventTypeToken, Token: "chào"}
	upstream <- types.StreamEvent{Type: types.EventTypeDone, Metadata: &types.RecommendationMetadata{}}
	close(upstream)

	cm.On("Get", mock.Anything, "s1").Return(&types.ChatContext{SessionID: "s1"}, nil)
	cm.On("AppendTurn", mock.Anything, "s1", types.RoleUser, "biển đẹp").Return(nil)
	cm.On("AppendTurn", mock.Anything, "s1", types.RoleAssistant, "Xin chào").Return(nil)
	rec.On("GenerateStream", mock.Anything, "biển đẹp", mock.Anything, false).
		Return((<-chan types.StreamEvent)(upstream), nil)

	svc := newAgent(cm, resolver, rec)
	events, err := svc.HandleMessageStream(context.Background(), "s1", "biển đẹp")
	require.NoError(t, err)

	count := 0
	for range events {
		count++
	}
	assert.Equal(t, 3, count)
	cm.AssertExpectations(t)
}
