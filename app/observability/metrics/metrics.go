package metrics

import (
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// AppMetrics holds the application's metric instruments.
type AppMetrics struct {
	PipelineRunsTotal        metric.Int64Counter
	PipelineDurationSeconds  metric.Float64Histogram
	FilteredLocationsTotal   metric.Int64Counter
	EmbeddingErrorsTotal     metric.Int64Counter
	LLMErrorsTotal           metric.Int64Counter
	ChatMessagesTotal        metric.Int64Counter
}

var (
	appMetrics *AppMetrics
	once       sync.Once
)

// InitAppMetrics initializes the global metrics instruments once.
// It gets the Meter from the globally configured MeterProvider.
func InitAppMetrics() {
	once.Do(func() {
		meter := otel.GetMeterProvider().Meter("voyaiage")
		var err error
		m := &AppMetrics{}

		m.PipelineRunsTotal, err = meter.Int64Counter(
			"recommendation_pipeline_runs_total",
			metric.WithDescription("Total number of recommendation pipeline runs"),
			metric.WithUnit("{run}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create recommendation_pipeline_runs_total: %v", err)
		}

		m.PipelineDurationSeconds, err = meter.Float64Histogram(
			"recommendation_pipeline_duration_seconds",
			metric.WithDescription("Duration of recommendation pipeline runs in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create recommendation_pipeline_duration_seconds: %v", err)
		}

		m.FilteredLocationsTotal, err = meter.Int64Counter(
			"filtered_locations_total",
			metric.WithDescription("Total number of locations dropped by the visited filter"),
			metric.WithUnit("{location}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create filtered_locations_total: %v", err)
		}

		m.EmbeddingErrorsTotal, err = meter.Int64Counter(
			"embedding_errors_total",
			metric.WithDescription("Total number of embedding provider failures"),
			metric.WithUnit("{error}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create embedding_errors_total: %v", err)
		}

		m.LLMErrorsTotal, err = meter.Int64Counter(
			"llm_errors_total",
			metric.WithDescription("Total number of LLM provider failures"),
			metric.WithUnit("{error}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create llm_errors_total: %v", err)
		}

		m.ChatMessagesTotal, err = meter.Int64Counter(
			"chat_messages_total",
			metric.WithDescription("Total number of chat messages processed"),
			metric.WithUnit("{message}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create chat_messages_total: %v", err)
		}

		appMetrics = m
	})
}

// Get returns the global AppMetrics instance, initializing it against
// the current MeterProvider on first use.
func Get() *AppMetrics {
	InitAppMetrics()
	return appMetrics
}
