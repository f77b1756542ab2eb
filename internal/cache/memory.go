package cache

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/example/hybridplanner/internal/domain"
	"github.com/example/hybridplanner/internal/observability"
)

type entry struct {
	plan     *domain.Plan
	storedAt time.Time
}

// flight is one shared computation for a fingerprint. Its context is
// detached from every caller and canceled only when the last waiter leaves.
type flight struct {
	key     string
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// MemoryCache is an in-process Cache with TTL expiry and per-fingerprint
// request coalescing.
type MemoryCache struct {
	ttl      time.Duration
	now      func() time.Time
	versions VersionSource
	metrics  *observability.Metrics

	mu      sync.RWMutex
	entries map[domain.Fingerprint]entry
	flights map[domain.Fingerprint]*flight
	gen     uint64
	group   singleflight.Group

	hits      atomic.Int64
	misses    atomic.Int64
	coalesced atomic.Int64
	stale     atomic.Int64
}

// Option configures a MemoryCache.
type Option func(*MemoryCache)

// WithTTL sets the entry lifetime. Non-positive values keep the default.
func WithTTL(ttl time.Duration) Option {
	return func(c *MemoryCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithNow injects the clock used for expiry.
func WithNow(now func() time.Time) Option {
	return func(c *MemoryCache) { c.now = now }
}

// WithVersionSource enables staleness checks against current domain versions.
func WithVersionSource(vs VersionSource) Option {
	return func(c *MemoryCache) { c.versions = vs }
}

// WithMetrics records lookups by outcome.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *MemoryCache) { c.metrics = m }
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache(opts ...Option) *MemoryCache {
	c := &MemoryCache{
		ttl:     DefaultTTL,
		now:     time.Now,
		entries: make(map[domain.Fingerprint]entry),
		flights: make(map[domain.Fingerprint]*flight),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a copy of the fresh entry for fp.
func (c *MemoryCache) Get(fp domain.Fingerprint) (*domain.Plan, bool) {
	p, ok := c.lookup(fp)
	if ok {
		c.record(&c.hits, "hit")
		return readOnlyCopy(p), true
	}
	c.record(&c.misses, "miss")
	return nil, false
}

// PutIfAbsent returns a copy of the cached plan or joins the in-flight
// computation for fp, starting one if none exists. The computation does not
// inherit cancellation from any caller: it keeps running while at least one
// caller is still waiting and is canceled when the last one gives up.
// Context values of the caller that starts it are kept.
func (c *MemoryCache) PutIfAbsent(ctx context.Context, fp domain.Fingerprint, compute ComputeFunc) (*domain.Plan, Source, error) {
	if p, ok := c.lookup(fp); ok {
		c.record(&c.hits, "hit")
		return readOnlyCopy(p), SourceHit, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, SourceComputed, err
	}

	f := c.join(ctx, fp)
	defer c.leave(fp, f)

	leader, raced := false, false
	ch := c.group.DoChan(f.key, func() (any, error) {
		leader = true
		// A previous leader may have stored the plan between our lookup and
		// joining the group.
		if p, ok := c.lookup(fp); ok {
			raced = true
			return p, nil
		}
		p, err := compute(f.ctx)
		if err != nil {
			return nil, err
		}
		if p != nil {
			c.store(fp, readOnlyCopy(p))
		}
		return p, nil
	})

	select {
	case res := <-ch:
		src := SourceComputed
		switch {
		case !leader:
			src = SourceCoalesced
			c.record(&c.coalesced, "coalesced")
		case raced:
			src = SourceHit
			c.record(&c.hits, "hit")
		default:
			c.record(&c.misses, "miss")
		}
		if res.Err != nil {
			return nil, src, res.Err
		}
		p, _ := res.Val.(*domain.Plan)
		if p == nil {
			return nil, src, nil
		}
		return readOnlyCopy(p), src, nil
	case <-ctx.Done():
		return nil, SourceComputed, ctx.Err()
	}
}

// join registers the caller as a waiter on fp's current flight.
func (c *MemoryCache) join(ctx context.Context, fp domain.Fingerprint) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flights[fp]
	if !ok {
		c.gen++
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{
			// A fresh key per flight keeps new callers off a computation
			// that was abandoned but has not returned yet.
			key:    string(fp) + "#" + strconv.FormatUint(c.gen, 10),
			ctx:    fctx,
			cancel: cancel,
		}
		c.flights[fp] = f
	}
	f.waiters++
	return f
}

func (c *MemoryCache) leave(fp domain.Fingerprint, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if c.flights[fp] == f {
		delete(c.flights, fp)
	}
}

func (c *MemoryCache) Invalidate(fp domain.Fingerprint) {
	c.mu.Lock()
	delete(c.entries, fp)
	c.mu.Unlock()
}

// Purge drops every expired or stale entry.
func (c *MemoryCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for fp, e := range c.entries {
		if !c.fresh(e) {
			delete(c.entries, fp)
			n++
		}
	}
	return n
}

// Stats returns the current counters.
func (c *MemoryCache) Stats() Stats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Coalesced: c.coalesced.Load(),
		Stale:     c.stale.Load(),
		Entries:   n,
	}
}

func (c *MemoryCache) lookup(fp domain.Fingerprint) (*domain.Plan, bool) {
	c.mu.RLock()
	e, ok := c.entries[fp]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.fresh(e) {
		return e.plan, true
	}

	c.stale.Add(1)
	c.mu.Lock()
	if cur, ok := c.entries[fp]; ok && cur.storedAt.Equal(e.storedAt) {
		delete(c.entries, fp)
	}
	c.mu.Unlock()
	return nil, false
}

func (c *MemoryCache) fresh(e entry) bool {
	if c.now().Sub(e.storedAt) >= c.ttl {
		return false
	}
	if c.versions != nil {
		if v, ok := c.versions.CurrentVersion(e.plan.DomainID); ok && v != e.plan.DomainVersion {
			return false
		}
	}
	return true
}

func (c *MemoryCache) store(fp domain.Fingerprint, p *domain.Plan) {
	c.mu.Lock()
	c.entries[fp] = entry{plan: p, storedAt: c.now()}
	c.mu.Unlock()
}

// readOnlyCopy hands each caller its own frozen plan so no caller can
// change what later hits receive.
func readOnlyCopy(p *domain.Plan) *domain.Plan {
	cp := p.Clone()
	cp.Freeze()
	return cp
}

func (c *MemoryCache) record(counter *atomic.Int64, label string) {
	counter.Add(1)
	if c.metrics != nil {
		c.metrics.CacheLookups().WithLabels(label).Inc()
	}
}
