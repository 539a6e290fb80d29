package chatcontext

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/voyaiage/go-tourism-chatbot/internal/types"
)

// PGXPool is the subset of pgxpool.Pool the repository uses. pgxmock
// satisfies it for tests.
type PGXPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository persists per-session context and conversation turns.
type Repository interface {
	Load(ctx context.Context, sessionID string) (*types.ChatContext, error)
	Save(ctx context.Context, chatCtx *types.ChatContext) error
	Delete(ctx context.Context, sessionID string) error
	AppendTurn(ctx context.Context, turn types.ConversationTurn) error
	History(ctx context.Context, sessionID string, limit int) ([]types.ConversationTurn, error)
	DeleteHistory(ctx context.Context, sessionID string) error
}

type RepositoryImpl struct {
	logger *slog.Logger
	pgpool PGXPool
}

func NewRepository(pgpool PGXPool, logger *slog.Logger) *RepositoryImpl {
	return &RepositoryImpl{
		logger: logger,
		pgpool: pgpool,
	}
}

// Load fetches a session's context. A session that has never been
// written returns a fresh empty context rather than an error.
func (r *RepositoryImpl) Load(ctx context.Context, sessionID string) (*types.ChatContext, error) {
	ctx, span := otel.Tracer("ChatContextRepository").Start(ctx, "Load", trace.WithAttributes(
		attribute.String("session.id", sessionID),
	))
	defer span.End()

	var chatCtx types.ChatContext
	err := r.pgpool.QueryRow(ctx,
		`SELECT session_id, visited_ids, allow_revisit, updated_at FROM chat_contexts WHERE session_id = $1`,
		sessionID,
	).Scan(&chatCtx.SessionID, &chatCtx.VisitedIDs, &chatCtx.AllowRevisit, &chatCtx.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Ok, "No stored context, returning empty")
			return &types.ChatContext{SessionID: sessionID, VisitedIDs: []string{}}, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "Database query failed")
		return nil, fmt.Errorf("failed to load chat context: %w", err)
	}

	span.SetStatus(codes.Ok, "Context loaded")
	return &chatCtx, nil
}

// Save upserts a session's context checkpoint.
func (r *RepositoryImpl) Save(ctx context.Context, chatCtx *types.ChatContext) error {
	ctx, span := otel.Tracer("ChatContextRepository").Start(ctx, "Save", trace.WithAttributes(
		attribute.String("session.id", chatCtx.SessionID),
		attribute.Int("visited.count", len(chatCtx.VisitedIDs)),
	))
	defer span.End()

	query := `
        INSERT INTO chat_contexts (session_id, visited_ids, allow_revisit, updated_at)
        VALUES ($1, $2, $3, NOW())
        ON CONFLICT (session_id) DO UPDATE SET
            visited_ids = EXCLUDED.visited_ids,
            allow_revisit = EXCLUDED.allow_revisit,
            updated_at = NOW()
    `
	_, err := r.pgpool.Exec(ctx, query, chatCtx.SessionID, chatCtx.VisitedIDs, chatCtx.AllowRevisit)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to save chat context", slog.Any("error", err), slog.String("session_id", chatCtx.SessionID))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Database exec failed")
		return fmt.Errorf("failed to save chat context: %w", err)
	}

	span.SetStatus(codes.Ok, "Context saved")
	return nil
}

// Delete removes a session's context checkpoint.
func (r *RepositoryImpl) Delete(ctx context.Context, sessionID string) error {
	ctx, span := otel.Tracer("ChatContextRepository").Start(ctx, "Delete", trace.WithAttributes(
		attribute.String("session.id", sessionID),
	))
	defer span.End()

	_, err := r.pgpool.Exec(ctx, `DELETE FROM chat_contexts WHERE session_id = $1`, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Database exec failed")
		return fmt.Errorf("failed to delete chat context: %w", err)
	}

	span.SetStatus(codes.Ok, "Context deleted")
	return nil
}

// AppendTurn records one utterance in the append-only conversation log.
func (r *RepositoryImpl) AppendTurn(ctx context.Context, turn types.ConversationTurn) error {
	ctx, span := otel.Tracer("ChatContextRepository").Start(ctx, "AppendTurn", trace.WithAttributes(
		attribute.String("session.id", turn.SessionID),
		attribute.String("turn.role", turn.Role),
	))
	defer span.End()

	id := turn.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := r.pgpool.Exec(ctx,
		`INSERT INTO chat_turns (id, session_id, role, content) VALUES ($1, $2, $3, $4)`,
		id, turn.SessionID, turn.Role, turn.Content,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to append conversation turn", slog.Any("error", err), slog.String("session_id", turn.SessionID))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Database exec failed")
		return fmt.Errorf("failed to append conversation turn: %w", err)
	}

	span.SetStatus(codes.Ok, "Turn appended")
	return nil
}

// History returns the most recent turns for a session in chronological
// order.
func (r *RepositoryImpl) History(ctx context.Context, sessionID string, limit int) ([]types.ConversationTurn, error) {
	ctx, span := otel.Tracer("ChatContextRepository").Start(ctx, "History", trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.Int("limit", limit),
	))
	defer span.End()

	query := `
        SELECT id, session_id, role, content, created_at
        FROM (
            SELECT id, session_id, role, content, created_at
            FROM chat_turns
            WHERE session_id = $1
            ORDER BY created_at DESC, id DESC
            LIMIT $2
        ) recent
        ORDER BY created_at ASC, id ASC
    `
	rows, err := r.pgpool.Query(ctx, query, sessionID, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Database query failed")
		return nil, fmt.Errorf("failed to query conversation history: %w", err)
	}
	defer rows.Close()

	var turns []types.ConversationTurn
	for rows.Next() {
		var turn types.ConversationTurn
		if err := rows.Scan(&turn.ID, &turn.SessionID, &turn.Role, &turn.Content, &turn.CreatedAt); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan conversation turn: %w", err)
		}
		turns = append(turns, turn)
	}
	if err = rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating conversation turns: %w", err)
	}

	span.SetAttributes(attribute.Int("results.count", len(turns)))
	span.SetStatus(codes.Ok, "History loaded")
	return turns, nil
}

// DeleteHistory removes the conversation log for a session.
func (r *RepositoryImpl) DeleteHistory(ctx context.Context, sessionID string) error {
	ctx, span := otel.Tracer("ChatContextRepository").Start(ctx, "DeleteHistory", trace.WithAttributes(
		attribute.String("session.id", sessionID),
	))
	defer span.End()

	_, err := r.pgpool.Exec(ctx, `DELETE FROM chat_turns WHERE session_id = $1`, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Database exec failed")
		return fmt.Errorf("failed to delete conversation history: %w", err)
	}

	span.SetStatus(codes.Ok, "History deleted")
	return nil
}
