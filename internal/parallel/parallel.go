// Package parallel fans index ranges out over a bounded number of
// goroutines. Work is split into contiguous chunks so results written by
// chunk are disjoint and can be merged in chunk order.
package parallel

import "sync"

// Range is the half-open index span [Lo, Hi) handed to worker Worker.
type Range struct {
	Lo, Hi int
	Worker int
}

// Split divides [0, n) into at most workers contiguous ranges.
func Split(n, workers int) []Range {
	if n <= 0 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}
	out := make([]Range, 0, workers)
	chunk := n / workers
	rem := n % workers
	lo := 0
	for w := 0; w < workers; w++ {
		hi := lo + chunk
		if w < rem {
			hi++
		}
		out = append(out, Range{Lo: lo, Hi: hi, Worker: w})
		lo = hi
	}
	return out
}

// For runs fn over [0, n) using up to workers goroutines and waits for
// all of them. With one worker it runs inline.
func For(n, workers int, fn func(r Range)) {
	ranges := Split(n, workers)
	if len(ranges) == 0 {
		return
	}
	if len(ranges) == 1 {
		fn(ranges[0])
		return
	}
	var wg sync.WaitGroup
	wg.Add(len(ranges))
	for _, r := range ranges {
		go func(r Range) {
			defer wg.Done()
			fn(r)
		}(r)
	}
	wg.Wait()
}

// Each calls fn for every index in [0, n) across workers.
func Each(n, workers int, fn func(i int)) {
	For(n, workers, func(r Range) {
		for i := r.Lo; i < r.Hi; i++ {
			fn(i)
		}
	})
}
