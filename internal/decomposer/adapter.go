package decomposer

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/example/hybridplanner/internal/observability"
)

// Clock abstracts time so retries can be tested without waiting.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RealClock is the wall clock.
var RealClock Clock = realClock{}

// Config controls the call discipline.
type Config struct {
	// AttemptTimeout bounds a single generator call.
	AttemptTimeout time.Duration
	// BaseBackoff is the backoff ceiling after the first failure; it doubles
	// per consecutive failure up to MaxBackoff. The actual delay is drawn
	// uniformly from [0, ceiling).
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// RateLimit caps generator calls per second across all sessions. Zero
	// disables limiting.
	RateLimit float64
	RateBurst int
}

// DefaultConfig returns the default call discipline.
func DefaultConfig() Config {
	return Config{
		AttemptTimeout: 30 * time.Second,
		BaseBackoff:    250 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

// Adapter owns the generator and the policy shared by all sessions.
type Adapter struct {
	gen     Generator
	cfg     Config
	clock   Clock
	sink    observability.Sink
	limiter *rate.Limiter

	randMu sync.Mutex
	rand   *rand.Rand
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(a *Adapter) { a.clock = c }
}

// WithSink sets the telemetry sink for attempt events.
func WithSink(s observability.Sink) Option {
	return func(a *Adapter) { a.sink = s }
}

// WithRandSource seeds the jitter source.
func WithRandSource(src rand.Source) Option {
	return func(a *Adapter) { a.rand = rand.New(src) }
}

// NewAdapter creates an Adapter around gen.
func NewAdapter(gen Generator, cfg Config, opts ...Option) *Adapter {
	def := DefaultConfig()
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if cfg.BaseBackoff < 0 {
		cfg.BaseBackoff = 0
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = cfg.BaseBackoff
	}
	a := &Adapter{
		gen:   gen,
		cfg:   cfg,
		clock: RealClock,
		sink:  observability.NopSink{},
		rand:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewSession starts the attempt budget for one planning request.
func (a *Adapter) NewSession(maxAttempts int) *Session {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Session{adapter: a, max: maxAttempts}
}

// backoff returns a full-jitter delay for the n-th consecutive failure.
func (a *Adapter) backoff(n int) time.Duration {
	ceiling := a.cfg.BaseBackoff
	for i := 1; i < n && ceiling < a.cfg.MaxBackoff; i++ {
		ceiling *= 2
	}
	if ceiling > a.cfg.MaxBackoff {
		ceiling = a.cfg.MaxBackoff
	}
	if ceiling <= 0 {
		return 0
	}
	a.randMu.Lock()
	defer a.randMu.Unlock()
	return time.Duration(a.rand.Int63n(int64(ceiling)))
}

// Session tracks generator calls made for one planning request. The ceiling
// covers both retries after failures and regenerations after invalid
// candidates. A Session is not safe for concurrent use.
type Session struct {
	adapter *Adapter
	max     int
	calls   int
	last    *GenerationError

	// RequestID tags telemetry events.
	RequestID string
}

// Attempts returns the number of generator calls made so far.
func (s *Session) Attempts() int { return s.calls }

// Remaining returns how many generator calls are left.
func (s *Session) Remaining() int { return s.max - s.calls }

// Decompose calls the generator until it yields a candidate or the session's
// ceiling is reached. Failures are retried with backoff; the final failure is
// returned as a GenerationError with Exhausted set.
func (s *Session) Decompose(ctx context.Context, req Request) (*Candidate, error) {
	a := s.adapter
	failures := 0
	for {
		if ctx.Err() != nil {
			return nil, canceled(ctx)
		}
		if s.calls >= s.max {
			if s.last == nil {
				return nil, &GenerationError{Kind: KindProviderError, Attempt: s.calls, Exhausted: true,
					Message: "no attempts left"}
			}
			out := *s.last
			out.Exhausted = true
			return nil, &out
		}
		if failures > 0 {
			if err := a.clock.Sleep(ctx, a.backoff(failures)); err != nil {
				return nil, canceled(ctx)
			}
		}
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return nil, canceled(ctx)
			}
		}

		s.calls++
		req.Attempt = s.calls
		cand, err := s.call(ctx, req)
		if err == nil {
			s.last = nil
			return cand, nil
		}
		if ctx.Err() != nil {
			return nil, canceled(ctx)
		}
		s.last = err
		failures++
	}
}

func (s *Session) call(ctx context.Context, req Request) (*Candidate, *GenerationError) {
	a := s.adapter
	attemptCtx, cancel := context.WithTimeout(ctx, a.cfg.AttemptTimeout)
	defer cancel()

	start := a.clock.Now()
	cand, err := a.gen.Generate(attemptCtx, req)
	if err == nil && (cand == nil || cand.Plan == nil) {
		err = InvalidOutput("generator returned no plan")
	}

	var gerr *GenerationError
	ev := observability.Event{
		Phase:     observability.PhaseGenerate,
		RequestID: s.RequestID,
		Intent:    req.Intent,
		Attempt:   req.Attempt,
		Duration:  a.clock.Now().Sub(start),
		Outcome:   "ok",
	}
	if cand != nil {
		ev.Cost = cand.Cost
	}
	if err != nil {
		gerr = classify(attemptCtx, err, req.Attempt)
		ev.Outcome = string(gerr.Kind)
		ev.Err = gerr
	}
	a.sink.Emit(ctx, ev)
	if gerr != nil {
		return nil, gerr
	}
	return cand, nil
}
