package service

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/hybridplanner/internal/decomposer"
	"github.com/example/hybridplanner/internal/domain"
	"github.com/example/hybridplanner/internal/learning"
	"github.com/example/hybridplanner/internal/observability"
	"github.com/example/hybridplanner/internal/storage"
	"github.com/example/hybridplanner/internal/storage/sqlite"
)

// testEnv wires an Orchestrator to real sqlite storage, a fake clock and a
// recording sink.
type testEnv struct {
	t       *testing.T
	catalog *domain.Catalog
	store   storage.Storage
	clock   *fakeClock
	sink    *recordingSink
	metrics *observability.Metrics
	learner *learning.FeedbackModule
	orch    *Orchestrator
}

type envOption func(*envConfig)

type envConfig struct {
	cfg   Config
	store func(storage.Storage) storage.Storage
}

func withConfig(cfg Config) envOption {
	return func(c *envConfig) { c.cfg = cfg }
}

func wrapStorage(f func(storage.Storage) storage.Storage) envOption {
	return func(c *envConfig) { c.store = f }
}

func newTestEnv(t *testing.T, gen decomposer.Generator, opts ...envOption) *testEnv {
	t.Helper()
	ec := envConfig{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(&ec)
	}

	db, err := sqlite.New(filepath.Join(t.TempDir(), "planner.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	var store storage.Storage = db
	if ec.store != nil {
		store = ec.store(db)
	}

	env := &testEnv{
		t:       t,
		catalog: domain.NewCatalog(),
		store:   store,
		clock:   newFakeClock(),
		sink:    &recordingSink{},
		metrics: observability.NewMetrics(),
	}
	require.NoError(t, env.catalog.Add(travelDomain(t)))
	env.learner = learning.NewFeedbackModule(learning.Config{MinSupport: 1}, db, observability.DiscardLogger())

	adapter := decomposer.NewAdapter(gen, decomposer.Config{
		AttemptTimeout: time.Second,
		BaseBackoff:    100 * time.Millisecond,
		MaxBackoff:     time.Second,
	}, decomposer.WithClock(env.clock), decomposer.WithSink(env.sink), decomposer.WithRandSource(rand.NewSource(1)))

	env.orch, err = NewOrchestrator(ec.cfg, Dependencies{
		Catalog:   env.catalog,
		Adapter:   adapter,
		Storage:   store,
		Suggester: env.learner,
		Recorder:  env.learner,
		Sink:      observability.MultiSink{env.sink, observability.NewMetricsSink(env.metrics)},
		Metrics:   env.metrics,
		Logger:    observability.DiscardLogger(),
		Clock:     env.clock,
	})
	require.NoError(t, err)
	return env
}

func travelDomain(t *testing.T) *domain.Domain {
	t.Helper()
	d := domain.NewDomain("travel")
	for _, op := range []domain.Operator{
		{Name: "search_flight", Params: []string{"destination"}, Effects: []domain.Fact{domain.NewFact("flights_found")}, Cost: 1, Duration: time.Minute},
		{Name: "book_flight", Preconditions: []domain.Fact{domain.NewFact("flights_found")}, Effects: []domain.Fact{domain.NewFact("flight_booked")}, Cost: 3, Duration: 2 * time.Minute},
		{Name: "search_hotel", Effects: []domain.Fact{domain.NewFact("hotels_found")}, Cost: 1, Duration: time.Minute},
		{Name: "book_hotel", Preconditions: []domain.Fact{domain.NewFact("hotels_found")}, Effects: []domain.Fact{domain.NewFact("hotel_booked")}, Cost: 2, Duration: time.Minute},
		{Name: "get_weather", Params: []string{"city"}, Effects: []domain.Fact{domain.NewFact("weather_known")}, Cost: 1, Duration: time.Second},
	} {
		require.NoError(t, d.RegisterOperator(op))
	}
	require.NoError(t, d.RegisterMethod(domain.Method{
		Name: "book_trip_standard", Task: "book_trip", Params: []string{"destination"},
		Subtasks: []domain.SubtaskTemplate{
			{Name: "search_flight", Params: map[string]string{"destination": "?destination"}},
			{Name: "book_flight"}, {Name: "search_hotel"}, {Name: "book_hotel"},
		},
		Orderings: [][2]int{{2, 3}},
	}))
	return d
}

// weatherPlan is a single-task candidate.
func weatherPlan(city string) *domain.Plan {
	p := domain.NewPlan("", "", "get weather for city "+city)
	p.RootID = "t1"
	p.Tasks = []*domain.Task{{ID: "t1", Name: "get_weather", Kind: domain.TaskKindPrimitive,
		Params: map[string]string{"city": city}}}
	return p
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type recordingSink struct {
	mu     sync.Mutex
	events []observability.Event
}

func (s *recordingSink) Emit(_ context.Context, e observability.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) Phase(p observability.Phase) []observability.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []observability.Event
	for _, e := range s.events {
		if e.Phase == p {
			out = append(out, e)
		}
	}
	return out
}

// recordingGenerator remembers every request before delegating.
type recordingGenerator struct {
	mu   sync.Mutex
	next decomposer.Generator
	reqs []decomposer.Request
}

func (g *recordingGenerator) Generate(ctx context.Context, req decomposer.Request) (*decomposer.Candidate, error) {
	g.mu.Lock()
	g.reqs = append(g.reqs, req)
	g.mu.Unlock()
	return g.next.Generate(ctx, req)
}

func (g *recordingGenerator) Requests() []decomposer.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]decomposer.Request(nil), g.reqs...)
}

// flakyStorage fails the first n write transactions with err.
type flakyStorage struct {
	storage.Storage
	n   atomic.Int32
	err error
}

func newFlakyStorage(n int, err error) func(storage.Storage) storage.Storage {
	return func(s storage.Storage) storage.Storage {
		f := &flakyStorage{Storage: s, err: err}
		f.n.Store(int32(n))
		return f
	}
}

func (f *flakyStorage) BeginImmediate(ctx context.Context) (storage.UnitOfWork, error) {
	if f.n.Add(-1) >= 0 {
		return nil, f.err
	}
	return f.Storage.BeginImmediate(ctx)
}

var errLocked = &storage.PersistenceError{Kind: storage.KindTransient, Op: "begin", Err: errors.New("database is locked")}
