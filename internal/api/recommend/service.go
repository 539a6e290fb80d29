package recommend

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"

	"github.com/voyaiage/go-tourism-chatbot/app/observability/metrics"
	"github.com/voyaiage/go-tourism-chatbot/internal/types"
)

// Pipeline stage failures. Callers branch on these to decide what they
// can still serve.
var (
	ErrInvalidQuery         = errors.New("query is empty")
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")
	ErrSearchUnavailable    = errors.New("similarity search unavailable")
	ErrLLMUnavailable       = errors.New("llm provider unavailable")
)

// Embedder turns a user query into a dense vector.
type Embedder interface {
	GenerateQueryEmbedding(ctx context.Context, query string) ([]float32, error)
}

// LocationSearcher retrieves the closest catalog entries to a vector.
type LocationSearcher interface {
	FindSimilar(ctx context.Context, queryEmbedding []float32, limit int) ([]types.LocationMatch, error)
}

// ContentGenerator produces guide text from a prompt.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, prompt string, config *genai.GenerateContentConfig) (string, error)
	GenerateContentStream(ctx context.Context, prompt string, config *genai.GenerateContentConfig) (iter.Seq2[*genai.GenerateContentResponse, error], error)
}

// Service runs the retrieval-augmented recommendation pipeline:
// embed the query, search the catalog, drop visited locations, then
// generate guide text over what remains.
type Service struct {
	embedder        Embedder
	searcher        LocationSearcher
	generator       ContentGenerator
	logger          *slog.Logger
	topK            int
	temperature     float32
	providerTimeout time.Duration
}

func NewService(embedder Embedder, searcher LocationSearcher, generator ContentGenerator, topK int, temperature float32, providerTimeout time.Duration, logger *slog.Logger) *Service {
	return &Service{
		embedder:        embedder,
		searcher:        searcher,
		generator:       generator,
		logger:          logger,
		topK:            topK,
		temperature:     temperature,
		providerTimeout: providerTimeout,
	}
}

// providerContext bounds one provider call so a hung upstream surfaces
// as an Unavailable error instead of stalling the request.
func (s *Service) providerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.providerTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.providerTimeout)
}

func (s *Service) generationConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](s.temperature),
	}
}

// retrieve runs the embed, search and filter stages shared by both the
// blocking and streaming paths.
func (s *Service) retrieve(ctx context.Context, query string, visitedIDs []string, allowRevisit bool) ([]types.LocationMatch, *types.RecommendationMetadata, error) {
	l := s.logger.With(slog.String("method", "retrieve"))

	// Rejected before any provider call.
	if strings.TrimSpace(query) == "" {
		return nil, nil, ErrInvalidQuery
	}

	embedCtx, cancel := s.providerContext(ctx)
	embedding, err := s.embedder.GenerateQueryEmbedding(embedCtx, query)
	cancel()
	if err != nil {
		l.ErrorContext(ctx, "Query embedding failed", slog.Any("error", err))
		metrics.Get().EmbeddingErrorsTotal.Add(ctx, 1)
		return nil, nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}

	retrieved, err := s.searcher.FindSimilar(ctx, embedding, s.topK)
	if err != nil {
		l.ErrorContext(ctx, "Similarity search failed", slog.Any("error", err))
		return nil, nil, fmt.Errorf("%w: %w", ErrSearchUnavailable, err)
	}

	visited := make(map[string]bool, len(visitedIDs))
	for _, id := range visitedIDs {
		visited[id] = true
	}

	metadata := &types.RecommendationMetadata{
		FilteredIDs:  []string{},
		VisitedCount: len(visitedIDs),
		AllowRevisit: allowRevisit,
	}

	// Filtering preserves retrieval order. With revisits allowed every
	// retrieved location passes through untouched.
	final := retrieved
	if !allowRevisit {
		final = make([]types.LocationMatch, 0, len(retrieved))
		for _, m := range retrieved {
			if visited[m.ID] {
				metadata.FilteredIDs = append(metadata.FilteredIDs, m.ID)
				continue
			}
			final = append(final, m)
		}
		metadata.FilteredCount = len(metadata.FilteredIDs)
	}
	metadata.NoNewMatches = len(final) == 0

	if metadata.FilteredCount > 0 {
		metrics.Get().FilteredLocationsTotal.Add(ctx, int64(metadata.FilteredCount))
	}
	l.DebugContext(ctx, "Retrieval complete",
		slog.Int("retrieved", len(retrieved)),
		slog.Int("kept", len(final)),
		slog.Int("filtered", metadata.FilteredCount),
	)
	return final, metadata, nil
}

// Generate runs the full pipeline and returns the guide text. When the
// LLM fails after retrieval succeeded, the retrieved locations are
// still returned alongside ErrLLMUnavailable so the caller can degrade
// gracefully.
func (s *Service) Generate(ctx context.Context, query string, visitedIDs []string, allowRevisit bool) (*types.RecommendationResult, error) {
	ctx, span := otel.Tracer("RecommendService").Start(ctx, "Generate", trace.WithAttributes(
		attribute.Int("query.length", len(query)),
		attribute.Int("visited.count", len(visitedIDs)),
		attribute.Bool("allow_revisit", allowRevisit),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.Get().PipelineDurationSeconds.Record(ctx, time.Since(start).Seconds())
	}()
	metrics.Get().PipelineRunsTotal.Add(ctx, 1)

	final, metadata, err := s.retrieve(ctx, query, visitedIDs, allowRevisit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Retrieval failed")
		return nil, err
	}

	if metadata.NoNewMatches {
		span.SetStatus(codes.Ok, "No new matches after filtering")
		return &types.RecommendationResult{
			Response:  NoNewMatchesResponse,
			Locations: []types.LocationMatch{},
			Metadata:  metadata,
		}, nil
	}

	visited := make(map[string]bool, len(visitedIDs))
	for _, id := range visitedIDs {
		visited[id] = true
	}
	prompt := buildPrompt(query, buildLocationContext(final, visited, allowRevisit), metadata.FilteredCount)

	genCtx, cancel := s.providerContext(ctx)
	response, err := s.generator.GenerateContent(genCtx, prompt, s.generationConfig())
	cancel()
	if err != nil {
		s.logger.ErrorContext(ctx, "LLM generation failed", slog.Any("error", err))
		metrics.Get().LLMErrorsTotal.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "LLM generation failed")
		return &types.RecommendationResult{
			Locations: final,
			Metadata:  metadata,
		}, fmt.Errorf("%w: %w", ErrLLMUnavailable, err)
	}

	span.SetStatus(codes.Ok, "Recommendation generated")
	return &types.RecommendationResult{
		Response:  response,
		Locations: final,
		Metadata:  metadata,
	}, nil
}

// GenerateStream runs the pipeline and streams tokens as the LLM emits
// them. Retrieval errors surface before any event is produced. The
// stream carries token events, then one locations event, then exactly
// one done event; an error event precedes done when generation breaks
// mid-stream.
func (s *Service) GenerateStream(ctx context.Context, query string, visitedIDs []string, allowRevisit bool) (<-chan types.StreamEvent, error) {
	ctx, span := otel.Tracer("RecommendService").Start(ctx, "GenerateStream", trace.WithAttributes(
		attribute.Int("query.length", len(query)),
		attribute.Bool("allow_revisit", allowRevisit),
	))
	defer span.End()

	metrics.Get().PipelineRunsTotal.Add(ctx, 1)

	final, metadata, err := s.retrieve(ctx, query, visitedIDs, allowRevisit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Retrieval failed")
		return nil, err
	}

	events := make(chan types.StreamEvent)

	send := func(ev types.StreamEvent) bool {
		ev.Timestamp = time.Now()
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if metadata.NoNewMatches {
		go func() {
			defer close(events)
			if !send(types.StreamEvent{Type: types.EventTypeToken, Token: NoNewMatchesResponse}) {
				return
			}
			if !send(types.StreamEvent{Type: types.EventTypeLocations, Locations: []types.LocationMatch{}}) {
				return
			}
			send(types.StreamEvent{Type: types.EventTypeDone, Metadata: metadata})
		}()
		span.SetStatus(codes.Ok, "No new matches, short stream")
		return events, nil
	}

	visited := make(map[string]bool, len(visitedIDs))
	for _, id := range visitedIDs {
		visited[id] = true
	}
	prompt := buildPrompt(query, buildLocationContext(final, visited, allowRevisit), metadata.FilteredCount)

	go func() {
		defer close(events)

		stream, err := s.generator.GenerateContentStream(ctx, prompt, s.generationConfig())
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to start LLM stream", slog.Any("error", err))
			metrics.Get().LLMErrorsTotal.Add(ctx, 1)
			if !send(types.StreamEvent{Type: types.EventTypeError, Error: ErrLLMUnavailable.Error()}) {
				return
			}
			send(types.StreamEvent{Type: types.EventTypeDone, Metadata: metadata})
			return
		}

		for chunk, err := range stream {
			if err != nil {
				s.logger.ErrorContext(ctx, "LLM stream broke mid-generation", slog.Any("error", err))
				metrics.Get().LLMErrorsTotal.Add(ctx, 1)
				if !send(types.StreamEvent{Type: types.EventTypeError, Error: ErrLLMUnavailable.Error()}) {
					return
				}
				send(types.StreamEvent{Type: types.EventTypeDone, Metadata: metadata})
				return
			}
			token := chunk.Text()
			if token == "" {
				continue
			}
			if !send(types.StreamEvent{Type: types.EventTypeToken, Token: token}) {
				return
			}
		}

		if !send(types.StreamEvent{Type: types.EventTypeLocations, Locations: final}) {
			return
		}
		send(types.StreamEvent{Type: types.EventTypeDone, Metadata: metadata})
	}()

	span.SetStatus(codes.Ok, "Stream started")
	return events, nil
}
