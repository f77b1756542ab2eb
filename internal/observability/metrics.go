package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds the in-process instruments of the planner.
type Metrics struct {
	// Request level
	planDuration *HistogramVec
	plans        *CounterVec
	inFlight     *AtomicGauge

	// Generate / validate loop
	generateDuration *HistogramVec
	generations      *CounterVec
	providerCost     *Counter
	validateDuration *Histogram
	validations      *CounterVec
	violations       *CounterVec

	// Finalization
	finalizeDuration *Histogram
	saveDuration     *Histogram
	persistRetries   *Counter
	cacheLookups     *CounterVec
	outcomesDropped  *Counter
}

// NewMetrics creates a Metrics instance with all instruments initialized.
func NewMetrics() *Metrics {
	return &Metrics{
		planDuration: NewHistogramVec(),
		plans:        NewCounterVec(),
		inFlight:     NewAtomicGauge(),

		generateDuration: NewHistogramVec(),
		generations:      NewCounterVec(),
		providerCost:     NewCounter(),
		validateDuration: NewHistogram(),
		validations:      NewCounterVec(),
		violations:       NewCounterVec(),

		finalizeDuration: NewHistogram(),
		saveDuration:     NewHistogram(),
		persistRetries:   NewCounter(),
		cacheLookups:     NewCounterVec(),
		outcomesDropped:  NewCounter(),
	}
}

func (m *Metrics) PlanDuration() *HistogramVec     { return m.planDuration }
func (m *Metrics) Plans() *CounterVec              { return m.plans }
func (m *Metrics) InFlight() *AtomicGauge          { return m.inFlight }
func (m *Metrics) GenerateDuration() *HistogramVec { return m.generateDuration }
func (m *Metrics) Generations() *CounterVec        { return m.generations }
func (m *Metrics) ProviderCost() *Counter          { return m.providerCost }
func (m *Metrics) ValidateDuration() *Histogram    { return m.validateDuration }
func (m *Metrics) Validations() *CounterVec        { return m.validations }
func (m *Metrics) Violations() *CounterVec         { return m.violations }
func (m *Metrics) FinalizeDuration() *Histogram    { return m.finalizeDuration }
func (m *Metrics) SaveDuration() *Histogram        { return m.saveDuration }
func (m *Metrics) PersistRetries() *Counter        { return m.persistRetries }
func (m *Metrics) CacheLookups() *CounterVec       { return m.cacheLookups }
func (m *Metrics) OutcomesDropped() *Counter       { return m.outcomesDropped }

// Snapshot returns a point-in-time copy of every instrument.
func (m *Metrics) Snapshot() *MetricsSnapshot {
	return &MetricsSnapshot{
		PlanDuration:     m.planDuration.Snapshot(),
		Plans:            m.plans.Snapshot(),
		InFlight:         m.inFlight.Get(),
		GenerateDuration: m.generateDuration.Snapshot(),
		Generations:      m.generations.Snapshot(),
		ProviderCost:     m.providerCost.Get(),
		ValidateDuration: m.validateDuration.Snapshot(),
		Validations:      m.validations.Snapshot(),
		Violations:       m.violations.Snapshot(),
		FinalizeDuration: m.finalizeDuration.Snapshot(),
		SaveDuration:     m.saveDuration.Snapshot(),
		PersistRetries:   m.persistRetries.Get(),
		CacheLookups:     m.cacheLookups.Snapshot(),
		OutcomesDropped:  m.outcomesDropped.Get(),
	}
}

// MetricsSnapshot is the exported form of Metrics.
type MetricsSnapshot struct {
	PlanDuration     map[string]HistogramSnapshot `json:"plan_duration"`
	Plans            map[string]int64             `json:"plans"`
	InFlight         int64                        `json:"in_flight"`
	GenerateDuration map[string]HistogramSnapshot `json:"generate_duration"`
	Generations      map[string]int64             `json:"generations"`
	ProviderCost     int64                        `json:"provider_cost"`
	ValidateDuration HistogramSnapshot            `json:"validate_duration"`
	Validations      map[string]int64             `json:"validations"`
	Violations       map[string]int64             `json:"violations"`
	FinalizeDuration HistogramSnapshot            `json:"finalize_duration"`
	SaveDuration     HistogramSnapshot            `json:"save_duration"`
	PersistRetries   int64                        `json:"persist_retries"`
	CacheLookups     map[string]int64             `json:"cache_lookups"`
	OutcomesDropped  int64                        `json:"outcomes_dropped"`
}

// maxSamples bounds the memory a histogram keeps. Older samples are
// overwritten once the reservoir is full.
const maxSamples = 4096

// Histogram tracks the distribution of duration measurements.
// Safe for concurrent observations.
type Histogram struct {
	mu    sync.RWMutex
	ring  []float64 // microseconds
	next  int
	count int64
	sum   float64
}

// NewHistogram creates a new histogram.
func NewHistogram() *Histogram {
	return &Histogram{ring: make([]float64, 0, 64)}
}

// Observe records a duration measurement.
func (h *Histogram) Observe(d time.Duration) {
	micros := float64(d.Microseconds())
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += micros
	if len(h.ring) < maxSamples {
		h.ring = append(h.ring, micros)
		return
	}
	h.ring[h.next] = micros
	h.next = (h.next + 1) % maxSamples
}

// Since records the time elapsed since start.
func (h *Histogram) Since(start time.Time) {
	h.Observe(time.Since(start))
}

// Snapshot computes count, mean and percentiles over the retained samples.
func (h *Histogram) Snapshot() HistogramSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 {
		return HistogramSnapshot{}
	}
	sorted := append([]float64(nil), h.ring...)
	sort.Float64s(sorted)

	micros := func(v float64) time.Duration { return time.Duration(v) * time.Microsecond }
	return HistogramSnapshot{
		Count: h.count,
		Mean:  micros(h.sum / float64(h.count)),
		P50:   micros(percentile(sorted, 0.50)),
		P95:   micros(percentile(sorted, 0.95)),
		P99:   micros(percentile(sorted, 0.99)),
		Max:   micros(sorted[len(sorted)-1]),
	}
}

// HistogramSnapshot holds calculated statistics for a histogram.
type HistogramSnapshot struct {
	Count int64         `json:"count"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
	Max   time.Duration `json:"max"`
}

// percentile interpolates the p-th percentile of sorted values.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := p * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	weight := rank - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// Counter is a monotonically increasing counter.
type Counter struct {
	value atomic.Int64
}

// NewCounter creates a new counter.
func NewCounter() *Counter {
	return &Counter{}
}

func (c *Counter) Inc()            { c.value.Add(1) }
func (c *Counter) Add(delta int64) { c.value.Add(delta) }
func (c *Counter) Get() int64      { return c.value.Load() }

// AtomicGauge is a gauge that can be set and read atomically.
type AtomicGauge struct {
	value atomic.Int64
}

// NewAtomicGauge creates a new atomic gauge.
func NewAtomicGauge() *AtomicGauge {
	return &AtomicGauge{}
}

func (g *AtomicGauge) Set(v int64) { g.value.Store(v) }
func (g *AtomicGauge) Inc()        { g.value.Add(1) }
func (g *AtomicGauge) Dec()        { g.value.Add(-1) }
func (g *AtomicGauge) Get() int64  { return g.value.Load() }

// vec lazily creates one instrument per label value.
type vec[T any] struct {
	mu    sync.RWMutex
	items   map[string]T
	newItem func() T
}

func newVec[T any](newItem func() T) *vec[T] {
	return &vec[T]{items: make(map[string]T), newItem: newItem}
}

func (v *vec[T]) with(label string) T {
	v.mu.RLock()
	item, ok := v.items[label]
	v.mu.RUnlock()
	if ok {
		return item
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if item, ok := v.items[label]; ok {
		return item
	}
	item = v.newItem()
	v.items[label] = item
	return item
}

func (v *vec[T]) each(fn func(label string, item T)) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for label, item := range v.items {
		fn(label, item)
	}
}

// HistogramVec is a set of histograms keyed by a label value.
type HistogramVec struct {
	v *vec[*Histogram]
}

// NewHistogramVec creates a new histogram vector.
func NewHistogramVec() *HistogramVec {
	return &HistogramVec{v: newVec(NewHistogram)}
}

// WithLabels returns the histogram for a label value.
func (hv *HistogramVec) WithLabels(label string) *Histogram {
	return hv.v.with(label)
}

// Snapshot returns snapshots of all histograms.
func (hv *HistogramVec) Snapshot() map[string]HistogramSnapshot {
	out := make(map[string]HistogramSnapshot)
	hv.v.each(func(label string, h *Histogram) { out[label] = h.Snapshot() })
	return out
}

// CounterVec is a set of counters keyed by a label value.
type CounterVec struct {
	v *vec[*Counter]
}

// NewCounterVec creates a new counter vector.
func NewCounterVec() *CounterVec {
	return &CounterVec{v: newVec(NewCounter)}
}

// WithLabels returns the counter for a label value.
func (cv *CounterVec) WithLabels(label string) *Counter {
	return cv.v.with(label)
}

// Snapshot returns the current values of all counters.
func (cv *CounterVec) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	cv.v.each(func(label string, c *Counter) { out[label] = c.Get() })
	return out
}

// ServeHTTP renders the metrics as text, or JSON when asked for.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snapshot := m.Snapshot()

	if r.URL.Query().Get("format") == "json" || r.Header.Get("Accept") == "application/json" {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(snapshot)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "# Planner Metrics\n\n")
	fmt.Fprintf(w, "In flight: %d\n", snapshot.InFlight)
	writeCounters(w, "Plans by outcome", snapshot.Plans)
	writeHistograms(w, "Plan duration by outcome", snapshot.PlanDuration)

	fmt.Fprintf(w, "\n## Generation\n\n")
	writeCounters(w, "Generator calls by outcome", snapshot.Generations)
	writeHistograms(w, "Generator latency by outcome", snapshot.GenerateDuration)
	fmt.Fprintf(w, "Provider cost: %d\n", snapshot.ProviderCost)

	fmt.Fprintf(w, "\n## Validation\n\n")
	writeHistogram(w, "Validate duration", snapshot.ValidateDuration)
	writeCounters(w, "Validations by result", snapshot.Validations)
	writeCounters(w, "Violations by kind", snapshot.Violations)

	fmt.Fprintf(w, "\n## Finalization\n\n")
	writeHistogram(w, "Finalize duration", snapshot.FinalizeDuration)
	writeHistogram(w, "Save duration", snapshot.SaveDuration)
	fmt.Fprintf(w, "Persistence retries: %d\n", snapshot.PersistRetries)
	writeCounters(w, "Cache lookups", snapshot.CacheLookups)
	fmt.Fprintf(w, "Learning outcomes dropped: %d\n", snapshot.OutcomesDropped)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeHistogram(w io.Writer, name string, h HistogramSnapshot) {
	if h.Count == 0 {
		fmt.Fprintf(w, "%s: no data\n", name)
		return
	}
	fmt.Fprintf(w, "%s (n=%d): mean=%v p50=%v p95=%v p99=%v max=%v\n",
		name, h.Count, h.Mean, h.P50, h.P95, h.P99, h.Max)
}

func writeHistograms(w io.Writer, name string, hs map[string]HistogramSnapshot) {
	if len(hs) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", name)
	for _, label := range sortedKeys(hs) {
		writeHistogram(w, "  "+label, hs[label])
	}
}

func writeCounters(w io.Writer, name string, cs map[string]int64) {
	if len(cs) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", name)
	for _, label := range sortedKeys(cs) {
		fmt.Fprintf(w, "  %s: %d\n", label, cs[label])
	}
}
