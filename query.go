package rigid

import (
	"fmt"
	"math"
	"sort"

	"github.com/gekko3d/rigid/bvh"
	"github.com/gekko3d/rigid/geom"
	"github.com/gekko3d/rigid/narrowphase"
	"github.com/go-gl/mathgl/mgl64"
)

// RayQuery selects what a ray may hit. A collider is a candidate when its
// layer is in Mask and its own mask contains Layer; a zero Mask or Layer
// admits everything on that side.
type RayQuery struct {
	Origin      mgl64.Vec3
	Direction   mgl64.Vec3
	MaxDistance float64
	Mask        uint32
	Layer       uint32
	// IncludeTriggers lets trigger colliders stop the ray.
	IncludeTriggers bool
	ClosestOnly     bool
	// Exclude skips colliders for which it returns true.
	Exclude func(collider, body EntityId) bool
}

// NewRayQuery is an unbounded nearest-hit query against every layer.
func NewRayQuery(origin, direction mgl64.Vec3) RayQuery {
	return RayQuery{
		Origin:      origin,
		Direction:   direction,
		MaxDistance: math.Inf(1),
		Mask:        ^uint32(0),
		Layer:       1,
		ClosestOnly: true,
	}
}

type RayHit struct {
	Collider EntityId
	Body     EntityId
	Point    mgl64.Vec3
	Normal   mgl64.Vec3
	Distance float64
}

// ShapeQuery tests a placed shape against the world's colliders.
type ShapeQuery struct {
	Shape           geom.Shape
	Transform       geom.Transform
	Mask            uint32
	Layer           uint32
	IncludeTriggers bool
	Exclude         func(collider, body EntityId) bool
}

// queryTree returns the collider bounds hierarchy, rebuilt when bodies
// moved or colliders changed since the last query.
func (w *World) queryTree() *bvh.Tree {
	if w.tree != nil && !w.treeDirty && w.treeFrame == w.frame {
		return w.tree
	}
	c := &w.store.Colliders
	bounds := make([][2]mgl64.Vec3, 0, c.Len())
	w.treeSlots = w.treeSlots[:0]
	for ci := 0; ci < c.Cap(); ci++ {
		if !c.Live(ci) {
			continue
		}
		bounds = append(bounds, [2]mgl64.Vec3{c.AABB[ci].Min, c.AABB[ci].Max})
		w.treeSlots = append(w.treeSlots, ci)
	}
	w.tree = bvh.Build(bounds)
	w.treeFrame = w.frame
	w.treeDirty = false
	return w.tree
}

func admits(mask, layer uint32, f geom.CollisionFilter) bool {
	if mask != 0 && f.Layer&mask == 0 {
		return false
	}
	return layer == 0 || f.Mask&layer != 0
}

func (w *World) candidate(ci int, mask, layer uint32, triggers bool, exclude func(collider, body EntityId) bool) bool {
	c := &w.store.Colliders
	if c.Trigger[ci] && !triggers {
		return false
	}
	if !admits(mask, layer, c.Filter[ci]) {
		return false
	}
	return exclude == nil || !exclude(c.Slots.Id(ci), c.Body[ci])
}

// RayCast returns hits ordered by distance, or only the nearest one.
func (w *World) RayCast(q RayQuery) ([]RayHit, error) {
	if !geom.FiniteVec(q.Origin) || !geom.FiniteVec(q.Direction) || math.IsNaN(q.MaxDistance) {
		return nil, fmt.Errorf("ray: %w", ErrNonFiniteInput)
	}
	if q.Direction.Len() < geom.Epsilon {
		return nil, fmt.Errorf("ray without direction: %w", ErrNonFiniteInput)
	}
	dir := q.Direction.Normalize()
	maxT := q.MaxDistance
	if maxT <= 0 {
		maxT = math.Inf(1)
	}

	c := &w.store.Colliders
	tree := w.queryTree()
	var hits []RayHit
	tree.Ray(q.Origin, dir, maxT, func(item int, limit float64) float64 {
		ci := w.treeSlots[item]
		if !w.candidate(ci, q.Mask, q.Layer, q.IncludeTriggers, q.Exclude) {
			return limit
		}
		h, ok := narrowphase.RayCast(w.object(ci), q.Origin, dir, limit)
		if !ok {
			return limit
		}
		hit := RayHit{
			Collider: c.Slots.Id(ci),
			Body:     c.Body[ci],
			Point:    h.Point,
			Normal:   h.Normal,
			Distance: h.T,
		}
		if q.ClosestOnly {
			hits = append(hits[:0], hit)
			return h.T
		}
		hits = append(hits, hit)
		return limit
	})
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Collider.Less(hits[j].Collider)
	})
	return hits, nil
}

// OverlapShape lists the colliders touching or penetrating the shape, in
// handle order.
func (w *World) OverlapShape(q ShapeQuery) ([]EntityId, error) {
	if q.Shape == nil {
		return nil, fmt.Errorf("overlap without shape: %w", ErrInvalidShapeParameters)
	}
	if err := q.Shape.Validate(); err != nil {
		return nil, err
	}
	xf := q.Transform
	if xf.Rotation == (mgl64.Quat{}) {
		xf.Rotation = mgl64.QuatIdent()
	}
	if !geom.FiniteVec(xf.Position) || !geom.FiniteQuat(xf.Rotation) {
		return nil, fmt.Errorf("overlap transform: %w", ErrNonFiniteInput)
	}
	obj := narrowphase.Object{Shape: q.Shape, Xf: xf}
	box := obj.AABB()

	c := &w.store.Colliders
	tree := w.queryTree()
	var out []EntityId
	tree.Query(box.Min, box.Max, func(item int) bool {
		ci := w.treeSlots[item]
		if !w.candidate(ci, q.Mask, q.Layer, q.IncludeTriggers, q.Exclude) {
			return true
		}
		contact, ok := narrowphase.Collide(obj, w.object(ci), 0)
		if !ok {
			return true
		}
		for _, p := range contact.Points {
			if p.Depth >= 0 {
				out = append(out, c.Slots.Id(ci))
				break
			}
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out, nil
}
