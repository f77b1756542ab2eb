package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTraceSink_RecordsSpanPerEvent(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer provider.Shutdown(context.Background())

	sink := NewTraceSink(provider.Tracer("planner-test"))
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sink.now = func() time.Time { return fixed }

	sink.Emit(context.Background(), Event{Phase: PhaseGenerate, Intent: "get weather", Attempt: 2, Duration: time.Second, Outcome: "timeout", Err: errors.New("deadline")})
	sink.Emit(context.Background(), Event{Phase: PhaseValidate, Attempt: 2, Outcome: "valid"})

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "planner.generate", spans[0].Name())
	assert.Equal(t, fixed.Add(-time.Second), spans[0].StartTime())
	assert.Equal(t, fixed, spans[0].EndTime())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.Int("planner.attempt", 2))
	assert.Equal(t, codes.Ok, spans[1].Status().Code)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "json", "debug")
	require.NoError(t, err)

	NewLogSink(logger).Emit(context.Background(), Event{Phase: PhaseFinalize, RequestID: "r1", Intent: "x", Attempt: 1, Outcome: "done"})

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "planner phase", rec["msg"])
	assert.Equal(t, "finalize", rec["phase"])
	assert.Equal(t, "telemetry", rec["component"])
	assert.Equal(t, "INFO", rec["level"])
}

func TestMetricsSink(t *testing.T) {
	m := NewMetrics()
	sink := MultiSink{NopSink{}, NewMetricsSink(m), nil}
	ctx := context.Background()

	sink.Emit(ctx, Event{Phase: PhaseGenerate, Outcome: "ok", Cost: 120, Duration: time.Millisecond})
	sink.Emit(ctx, Event{Phase: PhaseGenerate, Outcome: "timeout"})
	sink.Emit(ctx, Event{Phase: PhaseValidate, Outcome: "invalid"})
	sink.Emit(ctx, Event{Phase: PhasePlan, Outcome: "done"})

	snap := m.Snapshot()
	assert.Equal(t, map[string]int64{"ok": 1, "timeout": 1}, snap.Generations)
	assert.Equal(t, int64(120), snap.ProviderCost)
	assert.Equal(t, map[string]int64{"invalid": 1}, snap.Validations)
	assert.Equal(t, map[string]int64{"done": 1}, snap.Plans)
}

func TestNewLogger_AddsTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "json", "info")
	require.NoError(t, err)

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	ctx, span := provider.Tracer("t").Start(context.Background(), "op")
	logger.InfoContext(ctx, "hello")
	span.End()

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, span.SpanContext().TraceID().String(), rec["trace_id"])

	_, err = NewLogger(&buf, "xml", "info")
	assert.Error(t, err)
	_, err = NewLogger(&buf, "json", "loud")
	assert.Error(t, err)
}
