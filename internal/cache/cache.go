// Package cache memoizes accepted plans by request fingerprint.
package cache

import (
	"context"
	"time"

	"github.com/example/hybridplanner/internal/domain"
)

// DefaultTTL is how long an accepted plan stays servable.
const DefaultTTL = 5 * time.Minute

// ComputeFunc produces the plan for a fingerprint on a miss.
type ComputeFunc func(ctx context.Context) (*domain.Plan, error)

// Source reports where PutIfAbsent's plan came from.
type Source int

const (
	SourceComputed  Source = iota // this caller ran compute
	SourceHit                     // a fresh entry already existed
	SourceCoalesced               // another caller's in-flight compute was shared
)

func (s Source) String() string {
	switch s {
	case SourceHit:
		return "hit"
	case SourceCoalesced:
		return "coalesced"
	default:
		return "computed"
	}
}

// Cache stores accepted, frozen plans. Implementations must be safe for
// concurrent use.
type Cache interface {
	// Get returns a fresh entry for fp. Each call returns its own frozen
	// copy.
	Get(fp domain.Fingerprint) (*domain.Plan, bool)

	// PutIfAbsent returns the cached plan for fp or runs compute, storing
	// its result on success. Concurrent calls for the same fp share a
	// single compute, which keeps running while any of them still waits.
	// Failed computations are not stored.
	PutIfAbsent(ctx context.Context, fp domain.Fingerprint, compute ComputeFunc) (*domain.Plan, Source, error)

	// Invalidate drops the entry for fp.
	Invalidate(fp domain.Fingerprint)
}

// VersionSource reports the current version of a domain. Entries built
// against an older version are stale.
type VersionSource interface {
	CurrentVersion(domainID string) (uint64, bool)
}

// Stats is a point-in-time copy of cache counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Coalesced int64 `json:"coalesced"`
	Stale     int64 `json:"stale"`
	Entries   int   `json:"entries"`
}
