// Package yieldbridge lets an externally driven procedure hand a plan
// to the run engine and block for its result, as if calling a normal
// function. It is modelled as a rendezvous channel pair — the caller
// posts a plan and blocks, the engine runs it and posts a result, the
// caller resumes — deliberately not a stack-capturing coroutine.
// Nested yields queue FIFO and execute serially, one run at a time.
package yieldbridge

import (
	"context"

	"github.com/easternanemone/daq-core/engine"
	"github.com/easternanemone/daq-core/plan"
)

// yieldRequest is one pending yield_plan call, queued until the
// bridge's dispatcher goroutine can hand it to the engine.
type yieldRequest struct {
	ctx      context.Context
	plan     *plan.Plan
	metadata map[string]string
	result   chan engine.Result
}

// Bridge serializes yield_plan calls from any number of concurrent
// callers onto a single engine, in strict arrival order.
type Bridge struct {
	eng     *engine.Engine
	queue   chan yieldRequest
	closeCh chan struct{}
}

// New creates a bridge in front of eng and starts its FIFO dispatcher.
// The dispatcher runs until ctx is cancelled.
func New(ctx context.Context, eng *engine.Engine) *Bridge {
	b := &Bridge{
		eng:     eng,
		queue:   make(chan yieldRequest),
		closeCh: make(chan struct{}),
	}
	go b.dispatch(ctx)
	return b
}

func (b *Bridge) dispatch(ctx context.Context) {
	defer close(b.closeCh)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-b.queue:
			result, err := b.eng.RunPlan(req.ctx, req.plan, req.metadata)
			if err != nil {
				result.Err = err
			}
			req.result <- result
		}
	}
}

// YieldPlan posts p to the engine and blocks until the run completes
// (or fails validation), returning the engine's Result. Concurrent
// callers queue FIFO on the bridge's single dispatcher goroutine, so
// nested yields from within a running plan's own goroutine are safe:
// they simply wait their turn behind whatever is already queued.
func (b *Bridge) YieldPlan(ctx context.Context, p *plan.Plan, metadata map[string]string) (engine.Result, error) {
	req := yieldRequest{ctx: ctx, plan: p, metadata: metadata, result: make(chan engine.Result, 1)}

	select {
	case b.queue <- req:
	case <-ctx.Done():
		return engine.Result{}, ctx.Err()
	case <-b.closeCh:
		return engine.Result{}, context.Canceled
	}

	select {
	case result := <-req.result:
		return result, result.Err
	case <-ctx.Done():
		return engine.Result{}, ctx.Err()
	}
}
