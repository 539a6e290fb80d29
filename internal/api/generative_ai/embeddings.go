package generativeAI

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"

	"github.com/voyaiage/go-tourism-chatbot/internal/types"
)

// EmbeddingService produces dense vectors for queries and catalog
// locations via the Gemini embedding API.
type EmbeddingService struct {
	client    *genai.Client
	model     string
	dimension int32
	logger    *slog.Logger
}

func NewEmbeddingService(ctx context.Context, model string, dimension int, logger *slog.Logger) (*EmbeddingService, error) {
	ctx, span := otel.Tracer("EmbeddingService").Start(ctx, "NewEmbeddingService")
	defer span.End()

	apiKey := os.Getenv("GOOGLE_GEMINI_API_KEY")
	if apiKey == "" {
		err := fmt.Errorf("GOOGLE_GEMINI_API_KEY environment variable is not set")
		span.RecordError(err)
		span.SetStatus(codes.Error, "API key not set")
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to create Gemini client")
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	span.SetStatus(codes.Ok, "Embedding service created successfully")
	return &EmbeddingService{
		client:    client,
		model:     model,
		dimension: int32(dimension),
		logger:    logger,
	}, nil
}

func (s *EmbeddingService) embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := s.client.Models.EmbedContent(ctx, s.model, genai.Text(text), &genai.EmbedContentConfig{
		OutputDimensionality: genai.Ptr[int32](s.dimension),
	})
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("embed content: empty embedding returned")
	}
	return resp.Embeddings[0].Values, nil
}

// GenerateQueryEmbedding embeds a free-form user query.
func (s *EmbeddingService) GenerateQueryEmbedding(ctx context.Context, query string) ([]float32, error) {
	ctx, span := otel.Tracer("EmbeddingService").Start(ctx, "GenerateQueryEmbedding", trace.WithAttributes(
		attribute.Int("query.length", len(query)),
		attribute.String("model", s.model),
	))
	defer span.End()

	if strings.TrimSpace(query) == "" {
		err := fmt.Errorf("query must not be empty")
		span.RecordError(err)
		span.SetStatus(codes.Error, "Empty query")
		return nil, err
	}

	vector, err := s.embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to generate query embedding")
		return nil, err
	}

	span.SetAttributes(attribute.Int("embedding.dimension", len(vector)))
	span.SetStatus(codes.Ok, "Query embedding generated")
	return vector, nil
}

// GenerateLocationEmbedding embeds a catalog location. Name, address and
// description are concatenated so the vector carries all three signals.
func (s *EmbeddingService) GenerateLocationEmbedding(ctx context.Context, loc types.Location) ([]float32, error) {
	ctx, span := otel.Tracer("EmbeddingService").Start(ctx, "GenerateLocationEmbedding", trace.WithAttributes(
		attribute.String("location.id", loc.ID),
	))
	defer span.End()

	text := locationEmbeddingText(loc)
	vector, err := s.embed(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to generate location embedding")
		return nil, err
	}

	span.SetStatus(codes.Ok, "Location embedding generated")
	return vector, nil
}

// GenerateBatchEmbeddings embeds many locations concurrently, bounded
// to keep within API rate limits. Results align with the input slice.
func (s *EmbeddingService) GenerateBatchEmbeddings(ctx context.Context, locations []types.Location) ([][]float32, error) {
	ctx, span := otel.Tracer("EmbeddingService").Start(ctx, "GenerateBatchEmbeddings", trace.WithAttributes(
		attribute.Int("batch.size", len(locations)),
	))
	defer span.End()

	vectors := make([][]float32, len(locations))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, loc := range locations {
		g.Go(func() error {
			vector, err := s.embed(gctx, locationEmbeddingText(loc))
			if err != nil {
				return fmt.Errorf("location %s: %w", loc.ID, err)
			}
			vectors[i] = vector
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Batch embedding failed")
		return nil, err
	}

	span.SetStatus(codes.Ok, "Batch embeddings generated")
	return vectors, nil
}

func locationEmbeddingText(loc types.Location) string {
	parts := []string{loc.Name, loc.Address}
	if loc.Category != "" {
		parts = append(parts, loc.Category)
	}
	if loc.Description != "" {
		parts = append(parts, loc.Description)
	}
	return strings.Join(parts, ". ")
}
