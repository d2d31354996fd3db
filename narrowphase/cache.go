package narrowphase

import (
	"math"
	"sort"

	"github.com/gekko3d/rigid/arena"
	"github.com/gekko3d/rigid/broadphase"
	"github.com/gekko3d/rigid/geom"
	"github.com/go-gl/mathgl/mgl64"
)

// Point is a persistent manifold point. Anchors are in each body's frame
// so the point can be matched again after the bodies move.
type Point struct {
	WorldA mgl64.Vec3
	WorldB mgl64.Vec3
	LocalA mgl64.Vec3
	LocalB mgl64.Vec3
	Normal mgl64.Vec3
	Depth  float64

	NormalImpulse float64
	// TangentImpulse is the accumulated friction impulse as a world
	// vector; it is re-projected onto the tangent basis each step.
	TangentImpulse mgl64.Vec3
}

type Manifold struct {
	Key      broadphase.Pair
	BodyA    arena.EntityId
	BodyB    arena.EntityId
	Normal   mgl64.Vec3
	Points   [MaxPoints]Point
	Count    int
	Material geom.PairMaterial
	Trigger  bool
	// Speculative marks contacts injected by the CCD sweep.
	Speculative bool

	RollingImpulse   mgl64.Vec3
	TorsionalImpulse float64

	Frame uint64
}

func (m *Manifold) Slice() []Point { return m.Points[:m.Count] }

// Touching reports whether any point actually penetrates or touches.
func (m *Manifold) Touching() bool {
	for i := 0; i < m.Count; i++ {
		if m.Points[i].Depth >= 0 {
			return true
		}
	}
	return false
}

func (m *Manifold) MaxDepth() float64 {
	d := -1e300
	for i := 0; i < m.Count; i++ {
		if m.Points[i].Depth > d {
			d = m.Points[i].Depth
		}
	}
	return d
}

// Cache keeps manifolds between steps, keyed by collider pair, so solved
// impulses can seed the next solve.
type Cache struct {
	// PersistenceThreshold is the anchor drift within which an old point
	// hands its impulses to a new one.
	PersistenceThreshold float64

	manifolds map[broadphase.Pair]*Manifold
	keys      []broadphase.Pair
	dirty     bool
}

func NewCache(persistenceThreshold float64) *Cache {
	return &Cache{
		PersistenceThreshold: persistenceThreshold,
		manifolds:            make(map[broadphase.Pair]*Manifold),
	}
}

// Update replaces the points of the pair's manifold with fresh contact
// points, carrying impulses over from matching old points.
func (c *Cache) Update(key broadphase.Pair, bodyA, bodyB arena.EntityId, xfA, xfB geom.Transform,
	contact Contact, material geom.PairMaterial, trigger bool, frame uint64) *Manifold {

	m, ok := c.manifolds[key]
	if !ok {
		m = &Manifold{Key: key}
		c.manifolds[key] = m
		c.dirty = true
	}
	old := m.Points
	oldCount := m.Count
	if m.BodyA != bodyA || m.BodyB != bodyB {
		oldCount = 0
		m.RollingImpulse = mgl64.Vec3{}
		m.TorsionalImpulse = 0
	}
	m.BodyA, m.BodyB = bodyA, bodyB
	m.Normal = contact.Normal
	m.Material = material
	m.Trigger = trigger
	m.Speculative = false
	m.Frame = frame

	var used [MaxPoints]bool
	thr2 := c.PersistenceThreshold * c.PersistenceThreshold
	m.Count = 0
	for _, cp := range contact.Points {
		if m.Count == MaxPoints {
			break
		}
		p := Point{
			WorldA: cp.PointA,
			WorldB: cp.PointB,
			LocalA: xfA.ApplyInverse(cp.PointA),
			LocalB: xfB.ApplyInverse(cp.PointB),
			Normal: cp.Normal,
			Depth:  cp.Depth,
		}
		best, bestD := -1, math.Inf(1)
		for k := 0; k < oldCount; k++ {
			if used[k] || old[k].Normal.Dot(p.Normal) < 0.9 {
				continue
			}
			da := old[k].LocalA.Sub(p.LocalA).LenSqr()
			db := old[k].LocalB.Sub(p.LocalB).LenSqr()
			if da > thr2 || db > thr2 {
				continue
			}
			if d := da + db; d < bestD {
				best, bestD = k, d
			}
		}
		if best >= 0 {
			used[best] = true
			p.NormalImpulse = old[best].NormalImpulse
			p.TangentImpulse = old[best].TangentImpulse
		}
		m.Points[m.Count] = p
		m.Count++
	}
	if oldCount == 0 {
		m.RollingImpulse = mgl64.Vec3{}
		m.TorsionalImpulse = 0
	}
	return m
}

func (c *Cache) Get(key broadphase.Pair) (*Manifold, bool) {
	m, ok := c.manifolds[key]
	return m, ok
}

func (c *Cache) Len() int { return len(c.manifolds) }

// Touch marks a manifold as seen this frame without regenerating it.
func (c *Cache) Touch(key broadphase.Pair, frame uint64) {
	if m, ok := c.manifolds[key]; ok {
		m.Frame = frame
	}
}

// Remove drops one pair.
func (c *Cache) Remove(key broadphase.Pair) {
	if _, ok := c.manifolds[key]; ok {
		delete(c.manifolds, key)
		c.dirty = true
	}
}

// Prune drops manifolds not refreshed in frame unless keep says otherwise.
func (c *Cache) Prune(frame uint64, keep func(m *Manifold) bool) {
	for k, m := range c.manifolds {
		if m.Frame == frame {
			continue
		}
		if keep != nil && keep(m) {
			continue
		}
		delete(c.manifolds, k)
		c.dirty = true
	}
}

// RemoveCollider drops every manifold involving the collider.
func (c *Cache) RemoveCollider(id arena.EntityId) {
	for k := range c.manifolds {
		if k.A == id || k.B == id {
			delete(c.manifolds, k)
			c.dirty = true
		}
	}
}

// RemoveBody drops every manifold involving the body.
func (c *Cache) RemoveBody(id arena.EntityId) {
	for k, m := range c.manifolds {
		if m.BodyA == id || m.BodyB == id {
			delete(c.manifolds, k)
			c.dirty = true
		}
	}
}

func (c *Cache) Clear() {
	for k := range c.manifolds {
		delete(c.manifolds, k)
	}
	c.keys = c.keys[:0]
	c.dirty = false
}

// Manifolds lists manifolds in ascending collider-pair order.
func (c *Cache) Manifolds() []*Manifold {
	if c.dirty {
		c.keys = c.keys[:0]
		for k := range c.manifolds {
			c.keys = append(c.keys, k)
		}
		sort.Slice(c.keys, func(i, j int) bool { return c.keys[i].Less(c.keys[j]) })
		c.dirty = false
	}
	out := make([]*Manifold, len(c.keys))
	for i, k := range c.keys {
		out[i] = c.manifolds[k]
	}
	return out
}
