// Package parallel runs a body over a known iteration count on a fixed
// number of workers. Workers pull indices from a shared atomic counter until
// it is exhausted, so uneven per-index cost balances itself.
//
// Usage:
//
//	runner := parallel.New(runtime.NumCPU())
//	err := runner.Run(ctx, n, func(i int) error {
//	    return process(i)
//	})
package parallel

import (
	"context"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Runner executes body(i) for every i in [0, n).
//
// The first error returned by any body stops all workers from acquiring new
// indices and is returned from Run. Bodies already running finish normally.
type Runner interface {
	Run(ctx context.Context, n int, body func(i int) error) error

	// RunRange executes body over contiguous chunks [lo, hi) covering [0, n).
	RunRange(ctx context.Context, n int, body func(lo, hi int) error) error

	// Workers reports the number of workers used for large n.
	Workers() int
}

// DefaultWorkers returns the host core count.
func DefaultWorkers() int {
	return runtime.NumCPU()
}

// New returns a Serial runner when workers <= 1 and a Pool otherwise.
func New(workers int) Runner {
	if workers <= 1 {
		return Serial{}
	}
	return &Pool{workers: workers}
}

// Serial runs every index on the calling goroutine.
type Serial struct{}

func (Serial) Workers() int { return 1 }

func (Serial) Run(ctx context.Context, n int, body func(i int) error) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := body(i); err != nil {
			return err
		}
	}
	return nil
}

func (Serial) RunRange(ctx context.Context, n int, body func(lo, hi int) error) error {
	if n <= 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return body(0, n)
}

// Pool runs indices on a fixed number of goroutines joined by an errgroup.
type Pool struct {
	workers int
}

func (p *Pool) Workers() int { return p.workers }

// Run hands out indices through a single fetch-and-add counter.
func (p *Pool) Run(ctx context.Context, n int, body func(i int) error) error {
	if n <= 0 {
		return nil
	}
	workers := min(p.workers, n)
	if workers == 1 {
		return Serial{}.Run(ctx, n, body)
	}

	var next atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for range workers {
		g.Go(func() error {
			for {
				if err := gctx.Err(); err != nil {
					return nil
				}
				i := int(next.Add(1) - 1)
				if i >= n {
					return nil
				}
				if err := body(i); err != nil {
					return err
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// RunRange splits [0, n) into one contiguous chunk per worker.
func (p *Pool) RunRange(ctx context.Context, n int, body func(lo, hi int) error) error {
	if n <= 0 {
		return nil
	}
	workers := min(p.workers, n)
	chunk := (n + workers - 1) / workers
	return p.Run(ctx, workers, func(w int) error {
		lo := w * chunk
		hi := min(lo+chunk, n)
		if lo >= hi {
			return nil
		}
		return body(lo, hi)
	})
}
