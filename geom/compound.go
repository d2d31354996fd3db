package geom

import (
	"math"

	"github.com/gekko3d/rigid/bvh"
	"github.com/go-gl/mathgl/mgl64"
)

type Child struct {
	Local Transform
	Shape Convex
}

// Compound is a rigid union of convex children.
type Compound struct {
	Children []Child
	tree     *bvh.Tree
}

func NewCompound(children []Child) (*Compound, error) {
	c := &Compound{Children: append([]Child(nil), children...)}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	bounds := make([][2]mgl64.Vec3, len(c.Children))
	for i, ch := range c.Children {
		b := ch.Shape.LocalAABB().Transformed(ch.Local)
		bounds[i] = [2]mgl64.Vec3{b.Min, b.Max}
	}
	c.tree = bvh.Build(bounds)
	return c, nil
}

func (c *Compound) Kind() ShapeKind { return KindCompound }

func (c *Compound) Validate() error {
	if len(c.Children) == 0 {
		return invalid(KindCompound, "no children")
	}
	for i, ch := range c.Children {
		if ch.Shape == nil {
			return invalid(KindCompound, "child %d has no shape", i)
		}
		if !FiniteVec(ch.Local.Position) || !FiniteQuat(ch.Local.Rotation) {
			return invalid(KindCompound, "child %d has a non-finite transform", i)
		}
		if err := ch.Shape.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Query visits children whose local bounds overlap b (in compound space).
func (c *Compound) Query(b AABB, fn func(i int) bool) {
	c.tree.Query(b.Min, b.Max, fn)
}

func (c *Compound) LocalAABB() AABB {
	min, max, _ := c.tree.Bounds()
	return AABB{Min: min, Max: max}
}

func (c *Compound) MassProperties(density float64) MassProperties {
	parts := make([]MassProperties, len(c.Children))
	for i, ch := range c.Children {
		mp := ch.Shape.MassProperties(density)
		parts[i] = MassProperties{
			Mass:    mp.Mass,
			Center:  ch.Local.Apply(mp.Center),
			Inertia: RotateInertia(ch.Local.Rotation, mp.Inertia),
		}
	}
	return CombineMass(parts)
}

// CombineMass merges parts that share a frame into one body about the
// common centre of mass.
func CombineMass(parts []MassProperties) MassProperties {
	var total float64
	var center mgl64.Vec3
	for _, p := range parts {
		total += p.Mass
		center = center.Add(p.Center.Mul(p.Mass))
	}
	if total <= 0 {
		return MassProperties{}
	}
	center = center.Mul(1 / total)
	var inertia mgl64.Mat3
	for _, p := range parts {
		d := p.Center.Sub(center)
		shift := mgl64.Ident3().Mul(d.LenSqr()).Sub(outer(d, d)).Mul(p.Mass)
		inertia = inertia.Add(p.Inertia).Add(shift)
	}
	return MassProperties{Mass: total, Center: center, Inertia: inertia}
}

func (c *Compound) MinExtent() float64 {
	m := math.Inf(1)
	for _, ch := range c.Children {
		m = math.Min(m, ch.Shape.MinExtent())
	}
	return m
}

func (c *Compound) BoundingRadius() float64 {
	r := 0.0
	for _, ch := range c.Children {
		r = math.Max(r, ch.Local.Position.Len()+ch.Shape.BoundingRadius())
	}
	return r
}

// Mesh is a static triangle soup. It never contributes mass.
type Mesh struct {
	Vertices  []mgl64.Vec3
	Triangles [][3]uint32
	tree      *bvh.Tree
	bounds    AABB
}

func NewMesh(vertices []mgl64.Vec3, triangles [][3]uint32) (*Mesh, error) {
	m := &Mesh{
		Vertices:  append([]mgl64.Vec3(nil), vertices...),
		Triangles: append([][3]uint32(nil), triangles...),
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	bounds := make([][2]mgl64.Vec3, len(m.Triangles))
	m.bounds = EmptyAABB()
	for i := range m.Triangles {
		b := m.Triangle(i).LocalAABB()
		bounds[i] = [2]mgl64.Vec3{b.Min, b.Max}
		m.bounds = m.bounds.Union(b)
	}
	m.tree = bvh.Build(bounds)
	return m, nil
}

func (m *Mesh) Kind() ShapeKind { return KindMesh }

func (m *Mesh) Validate() error {
	if len(m.Triangles) == 0 {
		return invalid(KindMesh, "no triangles")
	}
	for _, v := range m.Vertices {
		if !FiniteVec(v) {
			return invalid(KindMesh, "non-finite vertex %v", v)
		}
	}
	for i, tri := range m.Triangles {
		for _, idx := range tri {
			if int(idx) >= len(m.Vertices) {
				return invalid(KindMesh, "triangle %d references vertex %d of %d", i, idx, len(m.Vertices))
			}
		}
		if err := m.Triangle(i).Validate(); err != nil {
			return invalid(KindMesh, "triangle %d has zero area", i)
		}
	}
	return nil
}

func (m *Mesh) Triangle(i int) Triangle {
	t := m.Triangles[i]
	return Triangle{A: m.Vertices[t[0]], B: m.Vertices[t[1]], C: m.Vertices[t[2]]}
}

// Query visits triangles whose bounds overlap b (in mesh space).
func (m *Mesh) Query(b AABB, fn func(i int) bool) {
	m.tree.Query(b.Min, b.Max, fn)
}

// Ray visits triangles along a local-space ray; see bvh.Tree.Ray.
func (m *Mesh) Ray(origin, dir mgl64.Vec3, maxT float64, fn func(i int, maxT float64) float64) {
	m.tree.Ray(origin, dir, maxT, fn)
}

func (m *Mesh) LocalAABB() AABB { return m.bounds }

func (m *Mesh) MassProperties(float64) MassProperties {
	return MassProperties{Center: m.bounds.Center()}
}

func (m *Mesh) MinExtent() float64 { return 0 }

func (m *Mesh) BoundingRadius() float64 {
	r := 0.0
	for _, v := range m.Vertices {
		r = math.Max(r, v.Len())
	}
	return r
}
