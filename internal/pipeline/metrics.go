package pipeline

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	runs     metric.Int64Counter
	failures metric.Int64Counter
	segments metric.Int64Counter
	duration metric.Float64Histogram
}

func newMetrics(log *slog.Logger) *metrics {
	meter := otel.Meter("github.com/voicepages/voicepages-core/pipeline")
	m := &metrics{}
	var err error
	if m.runs, err = meter.Int64Counter("voicepages_chapter_runs_total",
		metric.WithDescription("Chapter generation runs started")); err != nil {
		log.Warn("failed to create runs counter", slog.String("error", err.Error()))
	}
	if m.failures, err = meter.Int64Counter("voicepages_chapter_failures_total",
		metric.WithDescription("Chapter generation runs that settled as failed")); err != nil {
		log.Warn("failed to create failures counter", slog.String("error", err.Error()))
	}
	if m.segments, err = meter.Int64Counter("voicepages_segments_rendered_total",
		metric.WithDescription("Segments rendered by the TTS backend")); err != nil {
		log.Warn("failed to create segments counter", slog.String("error", err.Error()))
	}
	if m.duration, err = meter.Float64Histogram("voicepages_chapter_run_seconds",
		metric.WithDescription("Wall time of settled chapter runs")); err != nil {
		log.Warn("failed to create duration histogram", slog.String("error", err.Error()))
	}
	return m
}

func (m *metrics) recordRun(ctx context.Context, backend string) {
	if m.runs != nil {
		m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
	}
}

func (m *metrics) recordFailure(ctx context.Context, reason string) {
	if m.failures != nil {
		m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}

func (m *metrics) recordSegments(ctx context.Context, n int64) {
	if m.segments != nil {
		m.segments.Add(ctx, n)
	}
}

func (m *metrics) recordDuration(ctx context.Context, seconds float64, state State) {
	if m.duration != nil {
		m.duration.Record(ctx, seconds, metric.WithAttributes(attribute.String("state", string(state))))
	}
}
