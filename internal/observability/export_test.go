package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogExporter(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "json", "debug")
	require.NoError(t, err)

	provider := NewTracerProvider("planner-test", NewLogExporter(logger))
	sink := NewTraceSink(provider.Tracer("planner-test"))
	sink.Emit(context.Background(), Event{Phase: PhaseValidate, RequestID: "r1", Attempt: 1, Outcome: "valid"})
	require.NoError(t, provider.Shutdown(context.Background()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "span", rec["msg"])
	assert.Equal(t, "planner.validate", rec["span"])
	assert.Equal(t, "r1", rec["planner.request_id"])
	assert.Equal(t, "tracing", rec["component"])
	assert.Len(t, rec["trace_id"], 32)
}
