package observability

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Phase names a step of the planning loop.
type Phase string

const (
	PhaseGenerate Phase = "generate"
	PhaseValidate Phase = "validate"
	PhaseFinalize Phase = "finalize"
	PhasePlan     Phase = "plan"
)

// Event is one structured telemetry record, emitted once per phase transition.
type Event struct {
	Phase       Phase
	RequestID   string
	Intent      string
	Fingerprint string
	Attempt     int
	Duration    time.Duration
	Cost        float64

	// Outcome is a short machine-readable result such as "ok", "timeout",
	// "invalid" or a failure kind.
	Outcome string
	Err     error

	// Count carries a phase-specific quantity, e.g. violations found.
	Count int
}

// Sink receives telemetry events. Implementations must not block the caller
// for long and must be safe for concurrent use.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}

// MultiSink fans an event out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, e)
		}
	}
}

// LogSink writes events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that logs through logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "telemetry")}
}

func (s *LogSink) Emit(ctx context.Context, e Event) {
	level := slog.LevelDebug
	if e.Err != nil || e.Phase == PhasePlan || e.Phase == PhaseFinalize {
		level = slog.LevelInfo
	}
	attrs := []slog.Attr{
		slog.String("phase", string(e.Phase)),
		slog.String("request_id", e.RequestID),
		slog.String("intent", e.Intent),
		slog.Int("attempt", e.Attempt),
		slog.Duration("duration", e.Duration),
		slog.String("outcome", e.Outcome),
	}
	if e.Fingerprint != "" {
		attrs = append(attrs, slog.String("fingerprint", e.Fingerprint))
	}
	if e.Cost != 0 {
		attrs = append(attrs, slog.Float64("cost", e.Cost))
	}
	if e.Count != 0 {
		attrs = append(attrs, slog.Int("count", e.Count))
	}
	if e.Err != nil {
		attrs = append(attrs, slog.String("error", e.Err.Error()))
	}
	s.logger.LogAttrs(ctx, level, "planner phase", attrs...)
}

// TraceSink records each event as a completed OpenTelemetry span.
type TraceSink struct {
	tracer trace.Tracer
	now    func() time.Time
}

// NewTraceSink creates a sink that records spans with tracer.
func NewTraceSink(tracer trace.Tracer) *TraceSink {
	return &TraceSink{tracer: tracer, now: time.Now}
}

func (s *TraceSink) Emit(ctx context.Context, e Event) {
	end := s.now()
	_, span := s.tracer.Start(ctx, "planner."+string(e.Phase),
		trace.WithTimestamp(end.Add(-e.Duration)),
		trace.WithAttributes(
			attribute.String("planner.request_id", e.RequestID),
			attribute.String("planner.intent", e.Intent),
			attribute.String("planner.fingerprint", e.Fingerprint),
			attribute.Int("planner.attempt", e.Attempt),
			attribute.Float64("planner.cost", e.Cost),
			attribute.String("planner.outcome", e.Outcome),
			attribute.Int("planner.count", e.Count),
		))
	if e.Err != nil {
		span.RecordError(e.Err)
		span.SetStatus(codes.Error, e.Outcome)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(end))
}

// MetricsSink folds events into the in-process metrics.
type MetricsSink struct {
	m *Metrics
}

// NewMetricsSink creates a sink backed by m.
func NewMetricsSink(m *Metrics) *MetricsSink {
	return &MetricsSink{m: m}
}

func (s *MetricsSink) Emit(_ context.Context, e Event) {
	switch e.Phase {
	case PhaseGenerate:
		s.m.GenerateDuration().WithLabels(e.Outcome).Observe(e.Duration)
		s.m.Generations().WithLabels(e.Outcome).Inc()
		s.m.ProviderCost().Add(int64(e.Cost))
	case PhaseValidate:
		s.m.ValidateDuration().Observe(e.Duration)
		s.m.Validations().WithLabels(e.Outcome).Inc()
	case PhaseFinalize:
		s.m.FinalizeDuration().Observe(e.Duration)
	case PhasePlan:
		s.m.PlanDuration().WithLabels(e.Outcome).Observe(e.Duration)
		s.m.Plans().WithLabels(e.Outcome).Inc()
	}
}
