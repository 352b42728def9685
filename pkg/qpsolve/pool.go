package qpsolve

import (
	"context"
	"runtime"
)

// Job is one unit of work dispatched to a Pool: reconcile a single window
// and report its result back by index so callers can assemble an
// out-of-order result slice in-order.
type Job struct {
	Index  int
	Window Window
	QInit  float64
}

// JobResult pairs a Job's index with its outcome.
type JobResult struct {
	Index  int
	Result Result
	Err    error
}

// Pool runs independent window reconciliations across a fixed number of
// worker goroutines, the way the teacher's shape.Pool runs a fixed number of
// duty-cycle workers: a bounded goroutine count started once and driven
// until the context is cancelled or the work is exhausted, rather than one
// goroutine per job.
type Pool struct {
	workers int
	solver  Solver
	cfg     Config
}

// NewPool constructs a Pool with the given worker count. A workers value <=
// 0 defaults to the number of available CPUs, mirroring how NumCPU-sized
// pools are sized elsewhere in the corpus.
func NewPool(workers int, solver Solver, cfg Config) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &Pool{workers: workers, solver: solver, cfg: cfg}
}

// Run reconciles every job concurrently across the pool's workers and
// returns results in the same order as jobs. Each job is independent: no
// shared mutable state crosses job boundaries, so results can be written
// straight into a pre-sized slice by index without further synchronization.
func (p *Pool) Run(ctx context.Context, jobs []Job) ([]JobResult, error) {
	results := make([]JobResult, len(jobs))

	if len(jobs) == 0 {
		return results, nil
	}

	in := make(chan Job)

	workers := p.workers
	if workers > len(jobs) {
		workers = len(jobs)
	}

	out := make(chan JobResult)
	done := make(chan struct{})

	for w := 0; w < workers; w++ {
		go p.worker(ctx, in, out)
	}

	go func() {
		defer close(done)

		for range jobs {
			select {
			case r := <-out:
				results[r.Index] = r
			case <-ctx.Done():
				return
			}
		}
	}()

feed:
	for _, j := range jobs {
		select {
		case in <- j:
		case <-ctx.Done():
			break feed
		}
	}
	close(in)

	<-done

	if err := ctx.Err(); err != nil {
		return results, err
	}

	return results, nil
}

func (p *Pool) worker(ctx context.Context, in <-chan Job, out chan<- JobResult) {
	for j := range in {
		result, err := Reconcile(ctx, p.solver, j.Window, p.cfg, j.QInit)

		select {
		case out <- JobResult{Index: j.Index, Result: result, Err: err}:
		case <-ctx.Done():
			return
		}
	}
}
