package observability

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistogram_Snapshot(t *testing.T) {
	h := NewHistogram()
	assert.Equal(t, HistogramSnapshot{}, h.Snapshot())

	for i := 1; i <= 100; i++ {
		h.Observe(time.Duration(i) * time.Millisecond)
	}
	s := h.Snapshot()
	assert.Equal(t, int64(100), s.Count)
	assert.Equal(t, 100*time.Millisecond, s.Max)
	assert.InDelta(t, float64(50500*time.Microsecond), float64(s.Mean), float64(time.Microsecond))
	assert.True(t, s.P50 < s.P95 && s.P95 <= s.P99)
}

func TestHistogram_ReservoirIsBounded(t *testing.T) {
	h := NewHistogram()
	for i := 0; i < maxSamples+10; i++ {
		h.Observe(time.Millisecond)
	}
	assert.Len(t, h.ring, maxSamples)
	assert.Equal(t, int64(maxSamples+10), h.Snapshot().Count)
}

func TestCounterVec_Concurrent(t *testing.T) {
	cv := NewCounterVec()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				cv.WithLabels("hit").Inc()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, map[string]int64{"hit": 1000}, cv.Snapshot())
}

func TestMetrics_ServeHTTP(t *testing.T) {
	m := NewMetrics()
	m.Plans().WithLabels("done").Inc()
	m.CacheLookups().WithLabels("miss").Add(2)
	m.ValidateDuration().Observe(time.Millisecond)

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "# Planner Metrics"))
	assert.Contains(t, body, "  done: 1")
	assert.Contains(t, body, "  miss: 2")

	rec = httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics?format=json", nil))
	var snap MetricsSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(1), snap.Plans["done"])
	assert.Equal(t, int64(1), snap.ValidateDuration.Count)
}
