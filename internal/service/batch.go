package service

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// BatchResult is the outcome of one request of a batch.
type BatchResult struct {
	Result *PlanResult
	Err    error
}

// PlanBatch plans several requests with bounded concurrency. Results are
// returned in request order; one request failing does not stop the others.
func (o *Orchestrator) PlanBatch(ctx context.Context, reqs []PlanRequest) []BatchResult {
	out := make([]BatchResult, len(reqs))
	var g errgroup.Group
	g.SetLimit(o.cfg.BatchConcurrency)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := o.Plan(ctx, req)
			out[i] = BatchResult{Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
