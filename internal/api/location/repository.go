package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/voyaiage/go-tourism-chatbot/internal/types"
)

// ErrLocationNotFound is returned when a lookup matches no catalog entry.
var ErrLocationNotFound = errors.New("location not found")

// PGXPool is the subset of pgxpool.Pool the repository uses. pgxmock
// satisfies it for tests.
type PGXPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Repository interface {
	Upsert(ctx context.Context, loc types.Location) error
	UpdateEmbedding(ctx context.Context, id string, embedding []float32) error
	FindSimilar(ctx context.Context, queryEmbedding []float32, limit int) ([]types.LocationMatch, error)
	GetByID(ctx context.Context, id string) (*types.Location, error)
	ResolveByName(ctx context.Context, name string) (*types.Location, error)
	ListMissingEmbeddings(ctx context.Context) ([]types.Location, error)
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

// formatEmbedding converts a vector to the pgvector text format.
func formatEmbedding(embedding []float32) string {
	strs := make([]string, len(embedding))
	for i, v := range embedding {
		strs[i] = fmt.Sprintf("%f", v)
	}
	return fmt.Sprintf("[%s]", strings.Join(strs, ","))
}

// Upsert inserts or refreshes a catalog entry. The embedding is left
// untouched so re-imports do not force re-indexing.
func (r *RepositoryImpl) Upsert(ctx context.Context, loc types.Location) error {
	ctx, span := otel.Tracer("LocationRepository").Start(ctx, "Upsert", trace.WithAttributes(
		attribute.String("location.id", loc.ID),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "Upsert"))

	query := `
        INSERT INTO locations (id, name, address, category, description, image_url, rating, latitude, longitude)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (id) DO UPDATE SET
            name = EXCLUDED.name,
            address = EXCLUDED.address,
            category = EXCLUDED.category,
            description = EXCLUDED.description,
            image_url = EXCLUDED.image_url,
            rating = EXCLUDED.rating,
            latitude = EXCLUDED.latitude,
            longitude = EXCLUDED.longitude,
            updated_at = NOW()
    `
	_, err := r.pgpool.Exec(ctx, query,
		loc.ID, loc.Name, loc.Address, loc.Category, loc.Description,
		loc.ImageURL, loc.Rating, loc.Latitude, loc.Longitude,
	)
	if err != nil {
		l.ErrorContext(ctx, "Failed to upsert location", slog.Any("error", err), slog.String("id", loc.ID))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Database exec failed")
		return fmt.Errorf("failed to upsert location: %w", err)
	}

	span.SetStatus(codes.Ok, "Location upserted")
	return nil
}

// UpdateEmbedding stores the embedding vector for a location.
func (r *RepositoryImpl) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	ctx, span := otel.Tracer("LocationRepository").Start(ctx, "UpdateEmbedding", trace.WithAttributes(
		attribute.String("location.id", id),
		attribute.Int("embedding.dimension", len(embedding)),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "UpdateEmbedding"))

	query := `
        UPDATE locations
        SET embedding = $1::vector, embedding_generated_at = NOW()
        WHERE id = $2
    `
	tag, err := r.pgpool.Exec(ctx, query, formatEmbedding(embedding), id)
	if err != nil {
		l.ErrorContext(ctx, "Failed to update embedding", slog.Any("error", err), slog.String("id", id))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Database exec failed")
		return fmt.Errorf("failed to update embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "Location not found")
		return fmt.Errorf("update embedding for %s: %w", id, ErrLocationNotFound)
	}

	span.SetStatus(codes.Ok, "Embedding updated")
	return nil
}

// FindSimilar returns the closest indexed locations to the query
// embedding by cosine distance. Ties break on id so the ordering is
// deterministic.
func (r *RepositoryImpl) FindSimilar(ctx context.Context, queryEmbedding []float32, limit int) ([]types.LocationMatch, error) {
	ctx, span := otel.Tracer("LocationRepository").Start(ctx, "FindSimilar", trace.WithAttributes(
		attribute.Int("embedding.dimension", len(queryEmbedding)),
		attribute.Int("limit", limit),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "FindSimilar"))

	query := `
        SELECT
            id,
            name,
            address,
            category,
            description,
            image_url,
            rating,
            latitude,
            longitude,
            1 - (embedding <=> $1::vector) AS similarity_score
        FROM locations
        WHERE embedding IS NOT NULL
        ORDER BY embedding <=> $1::vector, id
        LIMIT $2
    `
	rows, err := r.pgpool.Query(ctx, query, formatEmbedding(queryEmbedding), limit)
	if err != nil {
		l.ErrorContext(ctx, "Failed to query similar locations", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Database query failed")
		return nil, fmt.Errorf("failed to search similar locations: %w", err)
	}
	defer rows.Close()

	var matches []types.LocationMatch
	for rows.Next() {
		var m types.LocationMatch
		err := rows.Scan(
			&m.ID,
			&m.Name,
			&m.Address,
			&m.Category,
			&m.Description,
			&m.ImageURL,
			&m.Rating,
			&m.Latitude,
			&m.Longitude,
			&m.Similarity,
		)
		if err != nil {
			l.ErrorContext(ctx, "Failed to scan similar location row", slog.Any("error", err))
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan similar location row: %w", err)
		}
		matches = append(matches, m)
	}
	if err = rows.Err(); err != nil {
		l.ErrorContext(ctx, "Error iterating similar location rows", slog.Any("error", err))
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating similar location rows: %w", err)
	}

	l.DebugContext(ctx, "Similar locations found", slog.Int("count", len(matches)))
	span.SetAttributes(attribute.Int("results.count", len(matches)))
	span.SetStatus(codes.Ok, "Similar locations found")
	return matches, nil
}

func (r *RepositoryImpl) scanOne(ctx context.Context, query string, args ...any) (*types.Location, error) {
	var loc types.Location
	err := r.pgpool.QueryRow(ctx, query, args...).Scan(
		&loc.ID,
		&loc.Name,
		&loc.Address,
		&loc.Category,
		&loc.Description,
		&loc.ImageURL,
		&loc.Rating,
		&loc.Latitude,
		&loc.Longitude,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLocationNotFound
		}
		return nil, fmt.Errorf("failed to query location: %w", err)
	}
	return &loc, nil
}

const locationColumns = `id, name, address, category, description, image_url, rating, latitude, longitude`

// GetByID fetches a catalog entry by its slug.
func (r *RepositoryImpl) GetByID(ctx context.Context, id string) (*types.Location, error) {
	ctx, span := otel.Tracer("LocationRepository").Start(ctx, "GetByID", trace.WithAttributes(
		attribute.String("location.id", id),
	))
	defer span.End()

	loc, err := r.scanOne(ctx, `SELECT `+locationColumns+` FROM locations WHERE id = $1`, id)
	if err != nil {
		if !errors.Is(err, ErrLocationNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Database query failed")
		}
		return nil, err
	}

	span.SetStatus(codes.Ok, "Location found")
	return loc, nil
}

// ResolveByName maps a user-reported place name to a catalog entry.
// An exact slug match wins; otherwise the shortest slug containing the
// reported name's slug is taken, so "chợ Bến Thành" still resolves when
// the user drops part of the official name.
func (r *RepositoryImpl) ResolveByName(ctx context.Context, name string) (*types.Location, error) {
	ctx, span := otel.Tracer("LocationRepository").Start(ctx, "ResolveByName", trace.WithAttributes(
		attribute.String("location.name", name),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "ResolveByName"))

	slug := Slugify(name)
	if slug == "" {
		span.SetStatus(codes.Error, "Empty slug")
		return nil, ErrLocationNotFound
	}

	loc, err := r.scanOne(ctx, `SELECT `+locationColumns+` FROM locations WHERE id = $1`, slug)
	if err == nil {
		span.SetStatus(codes.Ok, "Resolved by exact slug")
		return loc, nil
	}
	if !errors.Is(err, ErrLocationNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Database query failed")
		return nil, err
	}

	loc, err = r.scanOne(ctx,
		`SELECT `+locationColumns+` FROM locations WHERE id LIKE '%' || $1 || '%' ORDER BY LENGTH(id), id LIMIT 1`,
		slug,
	)
	if err != nil {
		if errors.Is(err, ErrLocationNotFound) {
			l.DebugContext(ctx, "No catalog entry for reported name", slog.String("name", name), slog.String("slug", slug))
			span.SetStatus(codes.Ok, "No match")
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Database query failed")
		}
		return nil, err
	}

	span.SetStatus(codes.Ok, "Resolved by containment")
	return loc, nil
}

// ListMissingEmbeddings returns catalog entries that have not been
// indexed yet.
func (r *RepositoryImpl) ListMissingEmbeddings(ctx context.Context) ([]types.Location, error) {
	ctx, span := otel.Tracer("LocationRepository").Start(ctx, "ListMissingEmbeddings")
	defer span.End()

	l := r.logger.With(slog.String("method", "ListMissingEmbeddings"))

	rows, err := r.pgpool.Query(ctx, `SELECT `+locationColumns+` FROM locations WHERE embedding IS NULL ORDER BY id`)
	if err != nil {
		l.ErrorContext(ctx, "Failed to query unindexed locations", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Database query failed")
		return nil, fmt.Errorf("failed to query unindexed locations: %w", err)
	}
	defer rows.Close()

	var locations []types.Location
	for rows.Next() {
		var loc types.Location
		err := rows.Scan(
			&loc.ID, &loc.Name, &loc.Address, &loc.Category, &loc.Description,
			&loc.ImageURL, &loc.Rating, &loc.Latitude, &loc.Longitude,
		)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan location row: %w", err)
		}
		locations = append(locations, loc)
	}
	if err = rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating location rows: %w", err)
	}

	span.SetAttributes(attribute.Int("results.count", len(locations)))
	span.SetStatus(codes.Ok, "Unindexed locations listed")
	return locations, nil
}
