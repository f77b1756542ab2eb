package learning

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/example/hybridplanner/internal/observability"
)

var (
	// ErrQueueFull is returned when an outcome is dropped.
	ErrQueueFull = errors.New("learning queue full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("learning recorder closed")
)

// DefaultQueueSize bounds the outcomes waiting to be recorded.
const DefaultQueueSize = 256

// AsyncRecorder hands outcomes to a Recorder on a background goroutine.
// RecordOutcome never blocks: when the queue is full the outcome is dropped.
type AsyncRecorder struct {
	next    Recorder
	logger  *slog.Logger
	metrics *observability.Metrics

	queue   chan Outcome
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsyncRecorder starts a worker feeding next. metrics may be nil.
func NewAsyncRecorder(next Recorder, size int, logger *slog.Logger, metrics *observability.Metrics) *AsyncRecorder {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &AsyncRecorder{
		next:    next,
		logger:  logger.With("component", "learning"),
		metrics: metrics,
		queue:   make(chan Outcome, size),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncRecorder) RecordOutcome(_ context.Context, o Outcome) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- o:
		return nil
	default:
		a.dropped.Add(1)
		if a.metrics != nil {
			a.metrics.OutcomesDropped().Inc()
		}
		return ErrQueueFull
	}
}

// Dropped returns how many outcomes were discarded.
func (a *AsyncRecorder) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting outcomes and waits for queued ones to be recorded.
func (a *AsyncRecorder) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	<-a.done
}

func (a *AsyncRecorder) run() {
	defer close(a.done)
	for o := range a.queue {
		if err := a.next.RecordOutcome(context.Background(), o); err != nil {
			a.logger.Warn("failed to record outcome", "plan_id", o.PlanID, "category", o.Category, "error", err)
		}
	}
}
