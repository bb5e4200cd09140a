package sim

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// minChunk is the smallest slice of entities worth handing to a worker.
const minChunk = 16

// workerPool fans a phase out over contiguous chunks of a collection. Wait is the phase
// barrier: no phase starts before the previous one's workers all returned.
type workerPool struct {
	width int
}

func newWorkerPool(width int) workerPool {
	if width <= 0 {
		width = runtime.GOMAXPROCS(0)
	}
	return workerPool{width: width}
}

// Width is the number of concurrent workers.
func (p workerPool) Width() int { return p.width }

// parallelEach runs fn over items and returns the per-item errors by index. Each worker
// writes only its own slots, so the result is independent of scheduling.
func parallelEach[T any](p workerPool, items []T, fn func(T) error) []error {
	errs := make([]error, len(items))
	n := len(items)
	if n == 0 {
		return errs
	}
	chunk := max((n+p.width-1)/p.width, minChunk)
	if chunk >= n {
		for i, it := range items {
			errs[i] = fn(it)
		}
		return errs
	}
	var g errgroup.Group
	g.SetLimit(p.width)
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		g.Go(func() error {
			for i := start; i < end; i++ {
				errs[i] = fn(items[i])
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// sequentialEach is parallelEach for phases that must run in collection order.
func sequentialEach[T any](items []T, fn func(T) error) []error {
	errs := make([]error, len(items))
	for i, it := range items {
		errs[i] = fn(it)
	}
	return errs
}
