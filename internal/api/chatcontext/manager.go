package chatcontext

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/voyaiage/go-tourism-chatbot/internal/types"
)

const (
	cacheTTL        = 30 * time.Minute
	cacheCleanup    = 10 * time.Minute
	defaultHistoryN = 20
)

// Manager serializes mutations of per-session context. All writes for a
// session go through one mutex, so concurrent commands never produce a
// torn visited set. Reads serve a cached snapshot when one is warm.
type Manager struct {
	repo   Repository
	logger *slog.Logger
	cache  *gocache.Cache

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(repo Repository, logger *slog.Logger) *Manager {
	return &Manager{
		repo:   repo,
		logger: logger,
		cache:  gocache.New(cacheTTL, cacheCleanup),
		locks:  make(map[string]*sync.Mutex),
	}
}

func (m *Manager) sessionLock(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[sessionID] = lock
	}
	return lock
}

func copyContext(chatCtx *types.ChatContext) *types.ChatContext {
	cp := *chatCtx
	cp.VisitedIDs = slices.Clone(chatCtx.VisitedIDs)
	return &cp
}

// load returns the session's context, consulting the hot cache first.
// Callers that mutate must hold the session lock.
func (m *Manager) load(ctx context.Context, sessionID string) (*types.ChatContext, error) {
	if cached, ok := m.cache.Get(sessionID); ok {
		return copyContext(cached.(*types.ChatContext)), nil
	}
	chatCtx, err := m.repo.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	m.cache.Set(sessionID, copyContext(chatCtx), gocache.DefaultExpiration)
	return chatCtx, nil
}

func (m *Manager) store(ctx context.Context, chatCtx *types.ChatContext) error {
	if err := m.repo.Save(ctx, chatCtx); err != nil {
		// Drop the cached copy so the next read sees the durable state.
		m.cache.Delete(chatCtx.SessionID)
		return err
	}
	m.cache.Set(chatCtx.SessionID, copyContext(chatCtx), gocache.DefaultExpiration)
	return nil
}

// Get returns a snapshot of the session's context.
func (m *Manager) Get(ctx context.Context, sessionID string) (*types.ChatContext, error) {
	ctx, span := otel.Tracer("ChatContextManager").Start(ctx, "Get", trace.WithAttributes(
		attribute.String("session.id", sessionID),
	))
	defer span.End()

	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	chatCtx, err := m.load(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to load context")
		return nil, err
	}

	span.SetStatus(codes.Ok, "Context loaded")
	return chatCtx, nil
}

// AddVisited marks locations as visited. Adding an already-visited
// location is a no-op. Returns the IDs that were actually added.
func (m *Manager) AddVisited(ctx context.Context, sessionID string, locationIDs ...string) ([]string, error) {
	ctx, span := otel.Tracer("ChatContextManager").Start(ctx, "AddVisited", trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.Int("locations.count", len(locationIDs)),
	))
	defer span.End()

	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	chatCtx, err := m.load(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to load context")
		return nil, err
	}

	var added []string
	for _, id := range locationIDs {
		if id == "" || slices.Contains(chatCtx.VisitedIDs, id) {
			continue
		}
		chatCtx.VisitedIDs = append(chatCtx.VisitedIDs, id)
		added = append(added, id)
	}
	if len(added) == 0 {
		span.SetStatus(codes.Ok, "Nothing to add")
		return nil, nil
	}

	if err := m.store(ctx, chatCtx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to save context")
		return nil, err
	}

	m.logger.InfoContext(ctx, "Visited locations added",
		slog.String("session_id", sessionID),
		slog.Int("added", len(added)),
		slog.Int("total", len(chatCtx.VisitedIDs)),
	)
	span.SetStatus(codes.Ok, "Visited locations added")
	return added, nil
}

// RemoveVisited unmarks a visited location. Returns false when the
// location was not in the visited set.
func (m *Manager) RemoveVisited(ctx context.Context, sessionID, locationID string) (bool, error) {
	ctx, span := otel.Tracer("ChatContextManager").Start(ctx, "RemoveVisited", trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("location.id", locationID),
	))
	defer span.End()

	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	chatCtx, err := m.load(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to load context")
		return false, err
	}

	idx := slices.Index(chatCtx.VisitedIDs, locationID)
	if idx < 0 {
		span.SetStatus(codes.Ok, "Location was not visited")
		return false, nil
	}
	chatCtx.VisitedIDs = slices.Delete(chatCtx.VisitedIDs, idx, idx+1)

	if err := m.store(ctx, chatCtx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to save context")
		return false, err
	}

	span.SetStatus(codes.Ok, "Visited location removed")
	return true, nil
}

// SetAllowRevisit toggles whether visited locations may be recommended
// again.
func (m *Manager) SetAllowRevisit(ctx context.Context, sessionID string, allow bool) error {
	ctx, span := otel.Tracer("ChatContextManager").Start(ctx, "SetAllowRevisit", trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.Bool("allow", allow),
	))
	defer span.End()

	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	chatCtx, err := m.load(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to load context")
		return err
	}

	chatCtx.AllowRevisit = allow
	if err := m.store(ctx, chatCtx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to save context")
		return err
	}

	span.SetStatus(codes.Ok, "Revisit preference updated")
	return nil
}

// Clear resets the session to a fresh state: empty visited set, revisit
// disallowed, conversation history dropped.
func (m *Manager) Clear(ctx context.Context, sessionID string) error {
	ctx, span := otel.Tracer("ChatContextManager").Start(ctx, "Clear", trace.WithAttributes(
		attribute.String("session.id", sessionID),
	))
	defer span.End()

	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := m.repo.Delete(ctx, sessionID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to delete context")
		return err
	}
	if err := m.repo.DeleteHistory(ctx, sessionID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to delete history")
		return err
	}
	m.cache.Delete(sessionID)

	m.logger.InfoContext(ctx, "Session context cleared", slog.String("session_id", sessionID))
	span.SetStatus(codes.Ok, "Context cleared")
	return nil
}

// AppendTurn records one utterance in the session's conversation log.
func (m *Manager) AppendTurn(ctx context.Context, sessionID, role, content string) error {
	if err := m.repo.AppendTurn(ctx, types.ConversationTurn{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
	}); err != nil {
		return fmt.Errorf("append %s turn: %w", role, err)
	}
	return nil
}

// History returns the session's recent turns, oldest first.
func (m *Manager) History(ctx context.Context, sessionID string) ([]types.ConversationTurn, error) {
	return m.repo.History(ctx, sessionID, defaultHistoryN)
}
