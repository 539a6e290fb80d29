package chatcontext

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyaiage/go-tourism-chatbot/internal/types"
)

type fakeRepo struct {
	mu       sync.Mutex
	contexts map[string]types.ChatContext
	turns    map[string][]types.ConversationTurn
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		contexts: make(map[string]types.ChatContext),
		turns:    make(map[string][]types.ConversationTurn),
	}
}

func (f *fakeRepo) Load(_ context.Context, sessionID string) (*types.ChatContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if chatCtx, ok := f.contexts[sessionID]; ok {
		cp := chatCtx
		cp.VisitedIDs = append([]string(nil), chatCtx.VisitedIDs...)
		return &cp, nil
	}
	return &types.ChatContext{SessionID: sessionID, VisitedIDs: []string{}}, nil
}

func (f *fakeRepo) Save(_ context.Context, chatCtx *types.ChatContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *chatCtx
	cp.VisitedIDs = append([]string(nil), chatCtx.VisitedIDs...)
	cp.UpdatedAt = time.Now()
	f.contexts[chatCtx.SessionID] = cp
	return nil
}

func (f *fakeRepo) Delete(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.contexts, sessionID)
	return nil
}

func (f *fakeRepo) AppendTurn(_ context.Context, turn types.ConversationTurn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	turn.CreatedAt = time.Now()
	f.turns[turn.SessionID] = append(f.turns[turn.SessionID], turn)
	return nil
}

func (f *fakeRepo) History(_ context.Context, sessionID string, limit int) ([]types.ConversationTurn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	turns := f.turns[sessionID]
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return append([]types.ConversationTurn(nil), turns...), nil
}

func (f *fakeRepo) DeleteHistory(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.turns, sessionID)
	return nil
}

func newTestManager() (*Manager, *fakeRepo) {
	repo := newFakeRepo()
	return NewManager(repo, slog.New(slog.DiscardHandler)), repo
}

func TestAddVisitedIsIdempotent(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	added, err := m.AddVisited(ctx, "s1", "cho-ben-thanh")
	require.NoError(t, err)
	assert.Equal(t, []string{"cho-ben-thanh"}, added)

	added, err = m.AddVisited(ctx, "s1", "cho-ben-thanh")
	require.NoError(t, err)
	assert.Empty(t, added)

	chatCtx, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"cho-ben-thanh"}, chatCtx.VisitedIDs)
}

func TestAddVisitedPreservesOrder(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	_, err := m.AddVisited(ctx, "s1", "a", "b")
	require.NoError(t, err)
	_, err = m.AddVisited(ctx, "s1", "b", "c")
	require.NoError(t, err)

	chatCtx, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, chatCtx.VisitedIDs)
}

func TestRemoveVisited(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	_, err := m.AddVisited(ctx, "s1", "a", "b")
	require.NoError(t, err)

	removed, err := m.RemoveVisited(ctx, "s1", "a")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = m.RemoveVisited(ctx, "s1", "a")
	require.NoError(t, err)
	assert.False(t, removed)

	chatCtx, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, chatCtx.VisitedIDs)
}

func TestSetAllowRevisitRoundTrip(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.SetAllowRevisit(ctx, "s1", true))
	chatCtx, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, chatCtx.AllowRevisit)

	require.NoError(t, m.SetAllowRevisit(ctx, "s1", false))
	chatCtx, err = m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, chatCtx.AllowRevisit)
}

func TestClearResetsEverything(t *testing.T) {
	m, repo := newTestManager()
	ctx := context.Background()

	_, err := m.AddVisited(ctx, "s1", "a")
	require.NoError(t, err)
	require.NoError(t, m.SetAllowRevisit(ctx, "s1", true))
	require.NoError(t, m.AppendTurn(ctx, "s1", types.RoleUser, "xin chào"))

	require.NoError(t, m.Clear(ctx, "s1"))

	chatCtx, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, chatCtx.VisitedIDs)
	assert.False(t, chatCtx.AllowRevisit)
	assert.Empty(t, repo.turns["s1"])
}

func TestSessionsAreIsolated(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	_, err := m.AddVisited(ctx, "s1", "a")
	require.NoError(t, err)

	chatCtx, err := m.Get(ctx, "s2")
	require.NoError(t, err)
	assert.Empty(t, chatCtx.VisitedIDs)
}

func TestConcurrentAddsDoNotTear(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.AddVisited(ctx, "s1", fmt.Sprintf("loc-%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	chatCtx, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, chatCtx.VisitedIDs, 20)
}

func TestGetReturnsSnapshot(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	_, err := m.AddVisited(ctx, "s1", "a")
	require.NoError(t, err)

	chatCtx, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	chatCtx.VisitedIDs[0] = "mutated"

	fresh, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, fresh.VisitedIDs)
}
