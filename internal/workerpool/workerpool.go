// Package workerpool bounds the number of concurrent CPU-bound
// inference calls the service runs, independent of how many streaming
// sessions are open. No example in the reference pack reaches for a
// third-party worker-pool library for this; it's a narrow bounded
// channel-plus-goroutines idiom, and DESIGN.md records why stdlib
// suffices here.
package workerpool

import (
	"context"
	"runtime"
)

// Job is a unit of CPU-bound work submitted to the pool.
type Job func() (any, error)

// result carries a Job's outcome back to its submitter.
type result struct {
	value any
	err   error
}

// Pool runs submitted Jobs on a fixed number of worker goroutines.
type Pool struct {
	jobs chan func()
	done chan struct{}
}

// New starts a pool with size workers. size <= 0 resolves to
// runtime.GOMAXPROCS(0), matching STT_INFERENCE_WORKERS=0's "use
// GOMAXPROCS" default.
func New(size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	p := &Pool{
		jobs: make(chan func()),
		done: make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	for {
		select {
		case fn, ok := <-p.jobs:
			if !ok {
				return
			}
			fn()
		case <-p.done:
			return
		}
	}
}

// Submit queues job and blocks until it returns its result. If ctx
// is canceled before the job runs to completion, Submit returns
// ctx.Err() immediately; the job itself still runs to completion on its
// worker and its result is discarded. Inference is not preemptible
// mid-run, only its observation is.
func (p *Pool) Submit(ctx context.Context, job Job) (any, error) {
	resultCh := make(chan result, 1)

	task := func() {
		value, err := job()
		resultCh <- result{value: value, err: err}
	}

	select {
	case p.jobs <- task:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, context.Canceled
	}

	select {
	case r := <-resultCh:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting new work. In-flight jobs run to completion;
// their results are simply never collected if the caller already
// returned on cancellation.
func (p *Pool) Close() {
	close(p.done)
}
