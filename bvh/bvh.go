// Package bvh builds a median-split bounding volume hierarchy over a set of
// boxes. The world uses it for scene queries and meshes use it to cull
// triangles before the narrow phase.
package bvh

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
)

type Node struct {
	Min   mgl64.Vec3
	Max   mgl64.Vec3
	Left  int32
	Right int32
	// Item is the input index for leaves and -1 for inner nodes.
	Item int32
}

func (n *Node) Leaf() bool { return n.Item >= 0 }

type item struct {
	min      mgl64.Vec3
	max      mgl64.Vec3
	centroid mgl64.Vec3
	index    int
}

type Tree struct {
	nodes []Node
}

// Build takes [min, max] pairs; leaf Item values index into bounds.
func Build(bounds [][2]mgl64.Vec3) *Tree {
	t := &Tree{}
	if len(bounds) == 0 {
		return t
	}
	items := make([]item, len(bounds))
	for i, b := range bounds {
		items[i] = item{
			min:      b[0],
			max:      b[1],
			centroid: b[0].Add(b[1]).Mul(0.5),
			index:    i,
		}
	}
	t.nodes = make([]Node, 0, 2*len(items)-1)
	t.build(items)
	return t
}

func (t *Tree) build(items []item) int32 {
	idx := int32(len(t.nodes))
	t.nodes = append(t.nodes, Node{Left: -1, Right: -1, Item: -1})

	inf := math.Inf(1)
	minB := mgl64.Vec3{inf, inf, inf}
	maxB := mgl64.Vec3{-inf, -inf, -inf}
	for _, it := range items {
		for k := 0; k < 3; k++ {
			minB[k] = math.Min(minB[k], it.min[k])
			maxB[k] = math.Max(maxB[k], it.max[k])
		}
	}
	t.nodes[idx].Min = minB
	t.nodes[idx].Max = maxB

	if len(items) == 1 {
		t.nodes[idx].Item = int32(items[0].index)
		return idx
	}

	extent := maxB.Sub(minB)
	axis := 0
	if extent[1] > extent[0] {
		axis = 1
	}
	if extent[2] > extent[axis] {
		axis = 2
	}
	// stable on index so equal centroids build the same tree every time
	sort.Slice(items, func(i, j int) bool {
		if items[i].centroid[axis] != items[j].centroid[axis] {
			return items[i].centroid[axis] < items[j].centroid[axis]
		}
		return items[i].index < items[j].index
	})

	mid := len(items) / 2
	left := t.build(items[:mid])
	right := t.build(items[mid:])
	t.nodes[idx].Left = left
	t.nodes[idx].Right = right
	return idx
}

func (t *Tree) Len() int { return len(t.nodes) }

func (t *Tree) Nodes() []Node { return t.nodes }

// Bounds returns the root box; ok is false for an empty tree.
func (t *Tree) Bounds() (mgl64.Vec3, mgl64.Vec3, bool) {
	if len(t.nodes) == 0 {
		return mgl64.Vec3{}, mgl64.Vec3{}, false
	}
	return t.nodes[0].Min, t.nodes[0].Max, true
}

func overlaps(aMin, aMax, bMin, bMax mgl64.Vec3) bool {
	return aMin[0] <= bMax[0] && aMax[0] >= bMin[0] &&
		aMin[1] <= bMax[1] && aMax[1] >= bMin[1] &&
		aMin[2] <= bMax[2] && aMax[2] >= bMin[2]
}

// Query calls fn for each item whose box overlaps [min, max] until fn
// returns false.
func (t *Tree) Query(min, max mgl64.Vec3, fn func(item int) bool) {
	if len(t.nodes) == 0 {
		return
	}
	stack := make([]int32, 0, 64)
	stack = append(stack, 0)
	for len(stack) > 0 {
		n := &t.nodes[stack[len(stack)-1]]
		stack = stack[:len(stack)-1]
		if !overlaps(n.Min, n.Max, min, max) {
			continue
		}
		if n.Leaf() {
			if !fn(int(n.Item)) {
				return
			}
			continue
		}
		stack = append(stack, n.Right, n.Left)
	}
}

// slab returns the entry distance of the ray into the box, if any.
func slab(min, max, origin, invDir mgl64.Vec3, maxT float64) (float64, bool) {
	tMin, tMax := 0.0, maxT
	for i := 0; i < 3; i++ {
		if math.IsInf(invDir[i], 0) {
			if origin[i] < min[i] || origin[i] > max[i] {
				return 0, false
			}
			continue
		}
		t1 := (min[i] - origin[i]) * invDir[i]
		t2 := (max[i] - origin[i]) * invDir[i]
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tMin = math.Max(tMin, t1)
		tMax = math.Min(tMax, t2)
		if tMin > tMax {
			return 0, false
		}
	}
	return tMin, true
}

// Ray visits leaves whose boxes the ray enters before maxT, nearest subtree
// first. fn returns the new search limit, so a closest-hit search shrinks it
// and an all-hits search returns maxT unchanged. Returning a negative value
// stops the traversal.
func (t *Tree) Ray(origin, dir mgl64.Vec3, maxT float64, fn func(item int, maxT float64) float64) {
	if len(t.nodes) == 0 {
		return
	}
	var inv mgl64.Vec3
	for i := 0; i < 3; i++ {
		if dir[i] == 0 {
			inv[i] = math.Inf(1)
		} else {
			inv[i] = 1 / dir[i]
		}
	}
	type entry struct {
		node int32
		t    float64
	}
	stack := make([]entry, 0, 64)
	if t0, ok := slab(t.nodes[0].Min, t.nodes[0].Max, origin, inv, maxT); ok {
		stack = append(stack, entry{0, t0})
	}
	for len(stack) > 0 {
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if e.t > maxT {
			continue
		}
		n := &t.nodes[e.node]
		if n.Leaf() {
			maxT = fn(int(n.Item), maxT)
			if maxT < 0 {
				return
			}
			continue
		}
		tl, okl := slab(t.nodes[n.Left].Min, t.nodes[n.Left].Max, origin, inv, maxT)
		tr, okr := slab(t.nodes[n.Right].Min, t.nodes[n.Right].Max, origin, inv, maxT)
		switch {
		case okl && okr:
			// push the farther child first so the nearer one pops next
			if tl <= tr {
				stack = append(stack, entry{n.Right, tr}, entry{n.Left, tl})
			} else {
				stack = append(stack, entry{n.Left, tl}, entry{n.Right, tr})
			}
		case okl:
			stack = append(stack, entry{n.Left, tl})
		case okr:
			stack = append(stack, entry{n.Right, tr})
		}
	}
}
