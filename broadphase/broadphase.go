// Package broadphase prunes collider pairs whose bounds cannot touch.
// Backends are interchangeable; all of them return a superset of the
// overlapping, filter-compatible pairs in canonical sorted order.
package broadphase

import (
	"fmt"
	"sort"

	"github.com/gekko3d/rigid/arena"
	"github.com/gekko3d/rigid/geom"
)

type Proxy struct {
	Collider arena.EntityId
	Body     arena.EntityId
	AABB     geom.AABB
	Filter   geom.CollisionFilter
	// Active is false for static and sleeping bodies; two inactive
	// proxies never pair.
	Active bool
}

// Pair holds two collider handles with A ordered before B.
type Pair struct {
	A, B arena.EntityId
}

func MakePair(a, b arena.EntityId) Pair {
	if b.Less(a) {
		a, b = b, a
	}
	return Pair{A: a, B: b}
}

func (p Pair) Less(o Pair) bool {
	if p.A != o.A {
		return p.A.Less(o.A)
	}
	return p.B.Less(o.B)
}

// Backend is the pluggable pair finder. Implementations must be safe to
// call once per step from a single goroutine.
type Backend interface {
	Name() string
	FindPairs(proxies []Proxy) []Pair
}

// Admissible applies the pair rules shared by every backend.
func Admissible(p, q *Proxy) bool {
	if p.Body == q.Body {
		return false
	}
	if !p.Active && !q.Active {
		return false
	}
	if !p.Filter.Matches(q.Filter) {
		return false
	}
	return p.AABB.Overlaps(q.AABB)
}

// Canonical sorts pairs and drops duplicates in place.
func Canonical(pairs []Pair) []Pair {
	if len(pairs) == 0 {
		return nil
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Less(pairs[j]) })
	out := pairs[:1]
	for _, p := range pairs[1:] {
		if p != out[len(out)-1] {
			out = append(out, p)
		}
	}
	return out
}

// Options configure the built-in backends.
type Options struct {
	CellSize float64
	Workers  int
}

// Select returns a built-in backend by name.
func Select(name string, opts Options) (Backend, error) {
	switch name {
	case "", "grid":
		return NewGrid(opts.CellSize, opts.Workers), nil
	case "sap":
		return NewSweepAndPrune(), nil
	case "brute_force":
		return BruteForce{}, nil
	}
	return nil, fmt.Errorf("unknown broadphase backend %q", name)
}

// BruteForce tests every pair. It is the reference the other backends are
// checked against.
type BruteForce struct{}

func (BruteForce) Name() string { return "brute_force" }

func (BruteForce) FindPairs(proxies []Proxy) []Pair {
	var out []Pair
	for i := range proxies {
		for j := i + 1; j < len(proxies); j++ {
			if Admissible(&proxies[i], &proxies[j]) {
				out = append(out, MakePair(proxies[i].Collider, proxies[j].Collider))
			}
		}
	}
	return Canonical(out)
}
