package travellog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/voyaiage/go-tourism-chatbot/internal/types"
)

var (
	ErrEntryNotFound   = errors.New("travel log entry not found")
	ErrUnknownLocation = errors.New("location is not in the catalog")
)

// PGXPool is the subset of pgxpool.Pool the repository uses.
type PGXPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Repository interface {
	Add(ctx context.Context, userID, locationID, note string) (*types.TravelLogEntry, error)
	List(ctx context.Context, userID string) ([]types.TravelLogEntry, error)
	UpdateNote(ctx context.Context, userID, entryID, note string) error
	Delete(ctx context.Context, userID, entryID string) error
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

// Add records a visit. Logging the same location twice refreshes the
// note and timestamp instead of failing on the uniqueness constraint.
func (r *RepositoryImpl) Add(ctx context.Context, userID, locationID, note string) (*types.TravelLogEntry, error) {
	ctx, span := otel.Tracer("TravelLogRepository").Start(ctx, "Add", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("location.id", locationID),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "Add"))

	query := `
        INSERT INTO travel_log_entries (user_id, location_id, note)
        VALUES ($1, $2, $3)
        ON CONFLICT (user_id, location_id) DO UPDATE SET
            note = EXCLUDED.note,
            visited_at = NOW()
        RETURNING id, user_id, location_id, note, visited_at
    `
	var entry types.TravelLogEntry
	err := r.pgpool.QueryRow(ctx, query, userID, locationID, note).Scan(
		&entry.ID, &entry.UserID, &entry.LocationID, &entry.Note, &entry.VisitedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			// Foreign key violation, the location slug is unknown.
			span.SetStatus(codes.Error, "Unknown location")
			return nil, ErrUnknownLocation
		}
		l.ErrorContext(ctx, "Failed to add travel log entry", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Database exec failed")
		return nil, fmt.Errorf("failed to add travel log entry: %w", err)
	}

	span.SetStatus(codes.Ok, "Entry added")
	return &entry, nil
}

// List returns the user's visits, newest first, enriched with catalog
// details.
func (r *RepositoryImpl) List(ctx context.Context, userID string) ([]types.TravelLogEntry, error) {
	ctx, span := otel.Tracer("TravelLogRepository").Start(ctx, "List", trace.WithAttributes(
		attribute.String("user.id", userID),
	))
	defer span.End()

	query := `
        SELECT t.id, t.user_id, t.location_id, l.name, l.address, l.image_url, t.note, t.visited_at
        FROM travel_log_entries t
        JOIN locations l ON l.id = t.location_id
        WHERE t.user_id = $1
        ORDER BY t.visited_at DESC
    `
	rows, err := r.pgpool.Query(ctx, query, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Database query failed")
		return nil, fmt.Errorf("failed to list travel log: %w", err)
	}
	defer rows.Close()

	var entries []types.TravelLogEntry
	for rows.Next() {
		var entry types.TravelLogEntry
		err := rows.Scan(
			&entry.ID, &entry.UserID, &entry.LocationID, &entry.Name,
			&entry.Address, &entry.ImageURL, &entry.Note, &entry.VisitedAt,
		)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan travel log row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err = rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating travel log rows: %w", err)
	}

	span.SetAttributes(attribute.Int("results.count", len(entries)))
	span.SetStatus(codes.Ok, "Travel log listed")
	return entries, nil
}

// UpdateNote replaces the note on one of the user's entries.
func (r *RepositoryImpl) UpdateNote(ctx context.Context, userID, entryID, note string) error {
	ctx, span := otel.Tracer("TravelLogRepository").Start(ctx, "UpdateNote", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("entry.id", entryID),
	))
	defer span.End()

	tag, err := r.pgpool.Exec(ctx,
		`UPDATE travel_log_entries SET note = $1 WHERE id = $2 AND user_id = $3`,
		note, entryID, userID,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Database exec failed")
		return fmt.Errorf("failed to update travel log note: %w", err)
	}
	if tag.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "Entry not found")
		return ErrEntryNotFound
	}

	span.SetStatus(codes.Ok, "Note updated")
	return nil
}

// Delete removes one of the user's entries.
func (r *RepositoryImpl) Delete(ctx context.Context, userID, entryID string) error {
	ctx, span := otel.Tracer("TravelLogRepository").Start(ctx, "Delete", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("entry.id", entryID),
	))
	defer span.End()

	tag, err := r.pgpool.Exec(ctx,
		`DELETE FROM travel_log_entries WHERE id = $1 AND user_id = $2`,
		entryID, userID,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Database exec failed")
		return fmt.Errorf("failed to delete travel log entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "Entry not found")
		return ErrEntryNotFound
	}

	span.SetStatus(codes.Ok, "Entry deleted")
	return nil
}
