package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/voyaiage/go-tourism-chatbot/app/observability/metrics"
	"github.com/voyaiage/go-tourism-chatbot/internal/api/location"
	"github.com/voyaiage/go-tourism-chatbot/internal/types"
)

// ContextManager is the per-session state the agent consults and
// mutates while handling messages.
type ContextManager interface {
	Get(ctx context.Context, sessionID string) (*types.ChatContext, error)
	AddVisited(ctx context.Context, sessionID string, locationIDs ...string) ([]string, error)
	SetAllowRevisit(ctx context.Context, sessionID string, allow bool) error
	Clear(ctx context.Context, sessionID string) error
	AppendTurn(ctx context.Context, sessionID, role, content string) error
}

// LocationResolver maps user-reported place names to catalog entries.
type LocationResolver interface {
	ResolveByName(ctx context.Context, name string) (*types.Location, error)
}

// Recommender runs the retrieval and generation pipeline.
type Recommender interface {
	Generate(ctx context.Context, query string, visitedIDs []string, allowRevisit bool) (*types.RecommendationResult, error)
	GenerateStream(ctx context.Context, query string, visitedIDs []string, allowRevisit bool) (<-chan types.StreamEvent, error)
}

// Service dispatches chat messages: command messages mutate session
// state directly, everything else goes through the recommendation
// pipeline.
type Service struct {
	contexts    ContextManager
	resolver    LocationResolver
	recommender Recommender
	logger      *slog.Logger
}

func NewService(contexts ContextManager, resolver LocationResolver, recommender Recommender, logger *slog.Logger) *Service {
	return &Service{
		contexts:    contexts,
		resolver:    resolver,
		recommender: recommender,
		logger:      logger,
	}
}

// resolveReported maps reported place names onto catalog IDs. Names
// with no catalog entry are dropped, the bot only tracks places it can
// later filter from retrieval.
func (s *Service) resolveReported(ctx context.Context, places []string) (ids []string, names []string) {
	l := s.logger.With(slog.String("method", "resolveReported"))
	for _, place := range places {
		loc, err := s.resolver.ResolveByName(ctx, place)
		if err != nil {
			if errors.Is(err, location.ErrLocationNotFound) {
				l.DebugContext(ctx, "Reported place not in catalog", slog.String("place", place))
				continue
			}
			l.WarnContext(ctx, "Failed to resolve reported place", slog.String("place", place), slog.Any("error", err))
			continue
		}
		ids = append(ids, loc.ID)
		names = append(names, loc.Name)
	}
	return ids, names
}

func (s *Service) handleVisitedReport(ctx context.Context, sessionID string, places []string) (*types.ChatReply, error) {
	ids, names := s.resolveReported(ctx, places)
	if len(ids) == 0 {
		return &types.ChatReply{
			Success:  true,
			Response: "Xin lỗi, tôi không tìm thấy các địa điểm bạn nhắc đến trong dữ liệu. Bạn kiểm tra lại tên giúp mình nhé!",
			Type:     types.ReplyTypeVisitedUpdate,
		}, nil
	}

	added, err := s.contexts.AddVisited(ctx, sessionID, ids...)
	if err != nil {
		return nil, fmt.Errorf("add visited: %w", err)
	}

	chatCtx, err := s.contexts.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load context: %w", err)
	}

	var response string
	if len(added) > 0 {
		response = fmt.Sprintf(
			"Đã ghi nhận! Bạn đã từng đến: **%s**\n\nTôi sẽ ưu tiên gợi ý những địa điểm mới cho bạn.\n(Hiện tại: %d địa điểm đã ghé thăm)",
			strings.Join(names, ", "), len(chatCtx.VisitedIDs),
		)
	} else {
		response = "Các địa điểm này đã có trong danh sách của bạn rồi!"
	}

	return &types.ChatReply{
		Success:  true,
		Response: response,
		Type:     types.ReplyTypeVisitedUpdate,
		Metadata: &types.RecommendationMetadata{
			VisitedCount: len(chatCtx.VisitedIDs),
			AllowRevisit: chatCtx.AllowRevisit,
		},
	}, nil
}

func (s *Service) handleRevisitToggle(ctx context.Context, sessionID string, allow bool) (*types.ChatReply, error) {
	if err := s.contexts.SetAllowRevisit(ctx, sessionID, allow); err != nil {
		return nil, fmt.Errorf("set allow revisit: %w", err)
	}

	chatCtx, err := s.contexts.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load context: %w", err)
	}

	response := "Đã tắt chế độ gợi ý lại!\n\nTôi sẽ chỉ gợi ý những địa điểm mới mà bạn chưa đến."
	if allow {
		response = "Đã bật chế độ cho phép gợi ý lại!\n\nTôi sẽ gợi ý cả những địa điểm bạn đã từng đến."
	}

	return &types.ChatReply{
		Success:  true,
		Response: response,
		Type:     types.ReplyTypeRevisitUpdate,
		Metadata: &types.RecommendationMetadata{
			VisitedCount: len(chatCtx.VisitedIDs),
			AllowRevisit: chatCtx.AllowRevisit,
		},
	}, nil
}

func (s *Service) handleClear(ctx context.Context, sessionID string) (*types.ChatReply, error) {
	if err := s.contexts.Clear(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("clear context: %w", err)
	}
	return &types.ChatReply{
		Success:  true,
		Response: "Đã xóa lịch sử trò chuyện và danh sách địa điểm đã ghé thăm. Chúng ta bắt đầu lại nhé!",
		Type:     types.ReplyTypeContextCleared,
	}, nil
}

// HandleMessage processes one chat message and returns the reply. For
// query messages a failed LLM call still returns the retrieved
// locations; the error is passed up alongside so callers can signal the
// degradation.
func (s *Service) HandleMessage(ctx context.Context, sessionID, message string) (*types.ChatReply, error) {
	ctx, span := otel.Tracer("AgentService").Start(ctx, "HandleMessage", trace.WithAttributes(
		attribute.String("session.id", sessionID),
	))
	defer span.End()

	metrics.Get().ChatMessagesTotal.Add(ctx, 1)

	cmd := Classify(message)
	switch cmd.Kind {
	case CommandReportVisited:
		span.SetAttributes(attribute.String("command", "report_visited"))
		return s.handleVisitedReport(ctx, sessionID, cmd.Places)
	case CommandAllowRevisit:
		span.SetAttributes(attribute.String("command", "allow_revisit"))
		return s.handleRevisitToggle(ctx, sessionID, true)
	case CommandDisallowRevisit:
		span.SetAttributes(attribute.String("command", "disallow_revisit"))
		return s.handleRevisitToggle(ctx, sessionID, false)
	case CommandClearContext:
		span.SetAttributes(attribute.String("command", "clear_context"))
		return s.handleClear(ctx, sessionID)
	}

	span.SetAttributes(attribute.String("command", "query"))

	chatCtx, err := s.contexts.Get(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to load context")
		return nil, fmt.Errorf("load context: %w", err)
	}

	if err := s.contexts.AppendTurn(ctx, sessionID, types.RoleUser, message); err != nil {
		s.logger.WarnContext(ctx, "Failed to record user turn", slog.Any("error", err))
	}

	result, err := s.recommender.Generate(ctx, message, chatCtx.VisitedIDs, chatCtx.AllowRevisit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Pipeline failed")
		if result != nil {
			// Retrieval worked, only generation failed.
			return &types.ChatReply{
				Success:   false,
				Type:      types.ReplyTypeRecommendation,
				Metadata:  result.Metadata,
				Locations: result.Locations,
			}, err
		}
		return nil, err
	}

	if err := s.contexts.AppendTurn(ctx, sessionID, types.RoleAssistant, result.Response); err != nil {
		s.logger.WarnContext(ctx, "Failed to record assistant turn", slog.Any("error", err))
	}

	span.SetStatus(codes.Ok, "Message handled")
	return &types.ChatReply{
		Success:   true,
		Response:  result.Response,
		Type:      types.ReplyTypeRecommendation,
		Metadata:  result.Metadata,
		Locations: result.Locations,
	}, nil
}

// commandStream wraps a command reply in the streaming envelope so
// clients consume commands and queries over the same protocol.
func commandStream(reply *types.ChatReply) <-chan types.StreamEvent {
	events := make(chan types.StreamEvent, 3)
	events <- types.StreamEvent{Type: types.EventTypeToken, Token: reply.Response, Timestamp: time.Now()}
	events <- types.StreamEvent{Type: types.EventTypeLocations, Locations: []types.LocationMatch{}, Timestamp: time.Now()}
	events <- types.StreamEvent{Type: types.EventTypeDone, Metadata: reply.Metadata, Timestamp: time.Now()}
	close(events)
	return events
}

// HandleMessageStream processes one chat message as an event stream.
// Command messages produce a short synthetic stream; queries stream
// LLM tokens as they arrive. The assistant's full text is recorded in
// the conversation log once the stream completes.
func (s *Service) HandleMessageStream(ctx context.Context, sessionID, message string) (<-chan types.StreamEvent, error) {
	ctx, span := otel.Tracer("AgentService").Start(ctx, "HandleMessageStream", trace.WithAttributes(
		attribute.String("session.id", sessionID),
	))
	defer span.End()

	metrics.Get().ChatMessagesTotal.Add(ctx, 1)

	if cmd := Classify(message); cmd.Kind != CommandNone {
		var reply *types.ChatReply
		var err error
		switch cmd.Kind {
		case CommandReportVisited:
			reply, err = s.handleVisitedReport(ctx, sessionID, cmd.Places)
		case CommandAllowRevisit:
			reply, err = s.handleRevisitToggle(ctx, sessionID, true)
		case CommandDisallowRevisit:
			reply, err = s.handleRevisitToggle(ctx, sessionID, false)
		case CommandClearContext:
			reply, err = s.handleClear(ctx, sessionID)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Command failed")
			return nil, err
		}
		span.SetStatus(codes.Ok, "Command handled")
		return commandStream(reply), nil
	}

	chatCtx, err := s.contexts.Get(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to load context")
		return nil, fmt.Errorf("load context: %w", err)
	}

	if err := s.contexts.AppendTurn(ctx, sessionID, types.RoleUser, message); err != nil {
		s.logger.WarnContext(ctx, "Failed to record user turn", slog.Any("error", err))
	}

	upstream, err := s.recommender.GenerateStream(ctx, message, chatCtx.VisitedIDs, chatCtx.AllowRevisit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Pipeline failed")
		return nil, err
	}

	events := make(chan types.StreamEvent)
	go func() {
		defer close(events)
		var full strings.Builder
		for ev := range upstream {
			if ev.Type == types.EventTypeToken {
				full.WriteString(ev.Token)
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
		if full.Len() > 0 {
			if err := s.contexts.AppendTurn(ctx, sessionID, types.RoleAssistant, full.String()); err != nil {
				s.logger.WarnContext(ctx, "Failed to record assistant turn", slog.Any("error", err))
			}
		}
	}()

	span.SetStatus(codes.Ok, "Stream handled")
	return events, nil
}
