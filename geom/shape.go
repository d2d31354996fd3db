package geom

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

var ErrInvalidShapeParameters = errors.New("invalid shape parameters")

type ShapeKind uint8

const (
	KindSphere ShapeKind = iota
	KindBox
	KindCapsule
	KindCylinder
	KindConvexHull
	KindTriangle
	KindCompound
	KindMesh
)

func (k ShapeKind) String() string {
	switch k {
	case KindSphere:
		return "sphere"
	case KindBox:
		return "box"
	case KindCapsule:
		return "capsule"
	case KindCylinder:
		return "cylinder"
	case KindConvexHull:
		return "convex_hull"
	case KindTriangle:
		return "triangle"
	case KindCompound:
		return "compound"
	case KindMesh:
		return "mesh"
	}
	return fmt.Sprintf("shape(%d)", uint8(k))
}

// MassProperties are expressed in the shape frame; Inertia is about Center.
type MassProperties struct {
	Mass    float64
	Center  mgl64.Vec3
	Inertia mgl64.Mat3
}

type Shape interface {
	Kind() ShapeKind
	Validate() error
	LocalAABB() AABB
	MassProperties(density float64) MassProperties
	// MinExtent is the thinnest cross-section, used for CCD thresholds.
	MinExtent() float64
	// BoundingRadius bounds the distance of any surface point from the origin.
	BoundingRadius() float64
}

// Convex shapes are a core set swept by a sphere of Radius. Support and
// Feature act on the core only.
type Convex interface {
	Shape
	Support(dir mgl64.Vec3) mgl64.Vec3
	Radius() float64
	// Feature returns the core vertices of the face, edge or vertex most
	// aligned with dir, ordered around the face, plus the feature normal
	// (dir itself for edges and vertices).
	Feature(dir mgl64.Vec3) ([]mgl64.Vec3, mgl64.Vec3)
}

func invalid(kind ShapeKind, format string, args ...any) error {
	return fmt.Errorf("%s: %s: %w", kind, fmt.Sprintf(format, args...), ErrInvalidShapeParameters)
}

func positive(x float64) bool { return Finite(x) && x > 0 }

// Sphere centred on the local origin.
type Sphere struct {
	R float64
}

func NewSphere(radius float64) (Sphere, error) {
	s := Sphere{R: radius}
	return s, s.Validate()
}

func (s Sphere) Kind() ShapeKind { return KindSphere }

func (s Sphere) Validate() error {
	if !positive(s.R) {
		return invalid(KindSphere, "radius %v", s.R)
	}
	return nil
}

func (s Sphere) LocalAABB() AABB {
	return AABBFromCenter(mgl64.Vec3{}, mgl64.Vec3{s.R, s.R, s.R})
}

func (s Sphere) MassProperties(density float64) MassProperties {
	m := density * 4.0 / 3.0 * math.Pi * s.R * s.R * s.R
	i := 0.4 * m * s.R * s.R
	return MassProperties{Mass: m, Inertia: mgl64.Diag3(mgl64.Vec3{i, i, i})}
}

func (s Sphere) MinExtent() float64      { return 2 * s.R }
func (s Sphere) BoundingRadius() float64 { return s.R }
func (s Sphere) Radius() float64         { return s.R }

func (s Sphere) Support(mgl64.Vec3) mgl64.Vec3 { return mgl64.Vec3{} }

func (s Sphere) Feature(dir mgl64.Vec3) ([]mgl64.Vec3, mgl64.Vec3) {
	return []mgl64.Vec3{{}}, dir
}

// Box with half extents along the local axes.
type Box struct {
	HalfExtents mgl64.Vec3
}

func NewBox(halfExtents mgl64.Vec3) (Box, error) {
	b := Box{HalfExtents: halfExtents}
	return b, b.Validate()
}

func (b Box) Kind() ShapeKind { return KindBox }

func (b Box) Validate() error {
	h := b.HalfExtents
	if !positive(h[0]) || !positive(h[1]) || !positive(h[2]) {
		return invalid(KindBox, "half extents %v", h)
	}
	return nil
}

func (b Box) LocalAABB() AABB { return AABBFromCenter(mgl64.Vec3{}, b.HalfExtents) }

func (b Box) MassProperties(density float64) MassProperties {
	h := b.HalfExtents
	m := density * 8 * h[0] * h[1] * h[2]
	x2, y2, z2 := h[0]*h[0], h[1]*h[1], h[2]*h[2]
	return MassProperties{
		Mass:    m,
		Inertia: mgl64.Diag3(mgl64.Vec3{m / 3 * (y2 + z2), m / 3 * (x2 + z2), m / 3 * (x2 + y2)}),
	}
}

func (b Box) MinExtent() float64 {
	h := b.HalfExtents
	return 2 * math.Min(h[0], math.Min(h[1], h[2]))
}

func (b Box) BoundingRadius() float64 { return b.HalfExtents.Len() }
func (b Box) Radius() float64         { return 0 }

func (b Box) Support(dir mgl64.Vec3) mgl64.Vec3 {
	h := b.HalfExtents
	var p mgl64.Vec3
	for i := 0; i < 3; i++ {
		if dir[i] >= 0 {
			p[i] = h[i]
		} else {
			p[i] = -h[i]
		}
	}
	return p
}

func (b Box) Feature(dir mgl64.Vec3) ([]mgl64.Vec3, mgl64.Vec3) {
	axis := 0
	for i := 1; i < 3; i++ {
		if math.Abs(dir[i]) > math.Abs(dir[axis]) {
			axis = i
		}
	}
	sign := 1.0
	if dir[axis] < 0 {
		sign = -1
	}
	j, k := (axis+1)%3, (axis+2)%3
	h := b.HalfExtents
	corner := func(sj, sk float64) mgl64.Vec3 {
		var p mgl64.Vec3
		p[axis] = sign * h[axis]
		p[j] = sj * h[j]
		p[k] = sk * h[k]
		return p
	}
	var n mgl64.Vec3
	n[axis] = sign
	return []mgl64.Vec3{corner(1, 1), corner(-1, 1), corner(-1, -1), corner(1, -1)}, n
}

// Capsule is a segment along local Y from -HalfHeight to +HalfHeight swept by R.
type Capsule struct {
	R          float64
	HalfHeight float64
}

func NewCapsule(radius, halfHeight float64) (Capsule, error) {
	c := Capsule{R: radius, HalfHeight: halfHeight}
	return c, c.Validate()
}

func (c Capsule) Kind() ShapeKind { return KindCapsule }

func (c Capsule) Validate() error {
	if !positive(c.R) || !positive(c.HalfHeight) {
		return invalid(KindCapsule, "radius %v half height %v", c.R, c.HalfHeight)
	}
	return nil
}

// Segment returns the core segment endpoints in local space.
func (c Capsule) Segment() (mgl64.Vec3, mgl64.Vec3) {
	return mgl64.Vec3{0, -c.HalfHeight, 0}, mgl64.Vec3{0, c.HalfHeight, 0}
}

func (c Capsule) LocalAABB() AABB {
	return AABBFromCenter(mgl64.Vec3{}, mgl64.Vec3{c.R, c.HalfHeight + c.R, c.R})
}

func (c Capsule) MassProperties(density float64) MassProperties {
	r, h := c.R, 2*c.HalfHeight
	mc := density * math.Pi * r * r * h
	ms := density * 4.0 / 3.0 * math.Pi * r * r * r
	iy := mc*r*r/2 + ms*2*r*r/5
	ix := mc*(h*h/12+r*r/4) + ms*(2*r*r/5+h*h/4+3*h*r/8)
	return MassProperties{Mass: mc + ms, Inertia: mgl64.Diag3(mgl64.Vec3{ix, iy, ix})}
}

func (c Capsule) MinExtent() float64      { return 2 * c.R }
func (c Capsule) BoundingRadius() float64 { return c.HalfHeight + c.R }
func (c Capsule) Radius() float64         { return c.R }

func (c Capsule) Support(dir mgl64.Vec3) mgl64.Vec3 {
	if dir[1] >= 0 {
		return mgl64.Vec3{0, c.HalfHeight, 0}
	}
	return mgl64.Vec3{0, -c.HalfHeight, 0}
}

func (c Capsule) Feature(dir mgl64.Vec3) ([]mgl64.Vec3, mgl64.Vec3) {
	d := SafeNormalize(dir, mgl64.Vec3{1, 0, 0})
	if math.Abs(d[1]) < 0.7 {
		a, b := c.Segment()
		return []mgl64.Vec3{a, b}, dir
	}
	return []mgl64.Vec3{c.Support(dir)}, dir
}

// Cylinder is centred on the origin with its axis along local Y.
type Cylinder struct {
	R          float64
	HalfHeight float64
}

// cylinderCapSegments approximates cap discs in contact manifolds.
const cylinderCapSegments = 8

func NewCylinder(radius, halfHeight float64) (Cylinder, error) {
	c := Cylinder{R: radius, HalfHeight: halfHeight}
	return c, c.Validate()
}

func (c Cylinder) Kind() ShapeKind { return KindCylinder }

func (c Cylinder) Validate() error {
	if !positive(c.R) || !positive(c.HalfHeight) {
		return invalid(KindCylinder, "radius %v half height %v", c.R, c.HalfHeight)
	}
	return nil
}

func (c Cylinder) LocalAABB() AABB {
	return AABBFromCenter(mgl64.Vec3{}, mgl64.Vec3{c.R, c.HalfHeight, c.R})
}

func (c Cylinder) MassProperties(density float64) MassProperties {
	h := 2 * c.HalfHeight
	m := density * math.Pi * c.R * c.R * h
	iy := m * c.R * c.R / 2
	ix := m * (3*c.R*c.R + h*h) / 12
	return MassProperties{Mass: m, Inertia: mgl64.Diag3(mgl64.Vec3{ix, iy, ix})}
}

func (c Cylinder) MinExtent() float64 { return 2 * math.Min(c.R, c.HalfHeight) }

func (c Cylinder) BoundingRadius() float64 {
	return math.Sqrt(c.R*c.R + c.HalfHeight*c.HalfHeight)
}

func (c Cylinder) Radius() float64 { return 0 }

func (c Cylinder) Support(dir mgl64.Vec3) mgl64.Vec3 {
	y := c.HalfHeight
	if dir[1] < 0 {
		y = -y
	}
	radial := mgl64.Vec3{dir[0], 0, dir[2]}
	l := radial.Len()
	if l < 1e-12 {
		return mgl64.Vec3{0, y, 0}
	}
	return mgl64.Vec3{dir[0] / l * c.R, y, dir[2] / l * c.R}
}

func (c Cylinder) Feature(dir mgl64.Vec3) ([]mgl64.Vec3, mgl64.Vec3) {
	d := SafeNormalize(dir, mgl64.Vec3{0, 1, 0})
	if math.Abs(d[1]) > 0.7 {
		y := c.HalfHeight
		n := mgl64.Vec3{0, 1, 0}
		if d[1] < 0 {
			y, n = -y, mgl64.Vec3{0, -1, 0}
		}
		pts := make([]mgl64.Vec3, cylinderCapSegments)
		for i := range pts {
			a := 2 * math.Pi * float64(i) / cylinderCapSegments
			pts[i] = mgl64.Vec3{c.R * math.Cos(a), y, c.R * math.Sin(a)}
		}
		return pts, n
	}
	if math.Abs(d[1]) < 0.3 {
		top := c.Support(mgl64.Vec3{d[0], 1, d[2]})
		bottom := c.Support(mgl64.Vec3{d[0], -1, d[2]})
		return []mgl64.Vec3{bottom, top}, dir
	}
	return []mgl64.Vec3{c.Support(d)}, dir
}

// Triangle is a two-sided flat triangle, mostly used for mesh faces.
type Triangle struct {
	A, B, C mgl64.Vec3
}

func NewTriangle(a, b, c mgl64.Vec3) (Triangle, error) {
	t := Triangle{A: a, B: b, C: c}
	return t, t.Validate()
}

func (t Triangle) Kind() ShapeKind { return KindTriangle }

func (t Triangle) Validate() error {
	if !FiniteVec(t.A) || !FiniteVec(t.B) || !FiniteVec(t.C) {
		return invalid(KindTriangle, "non-finite vertex")
	}
	if t.B.Sub(t.A).Cross(t.C.Sub(t.A)).LenSqr() < 1e-18 {
		return invalid(KindTriangle, "zero area")
	}
	return nil
}

func (t Triangle) Normal() mgl64.Vec3 {
	return SafeNormalize(t.B.Sub(t.A).Cross(t.C.Sub(t.A)), mgl64.Vec3{0, 1, 0})
}

func (t Triangle) LocalAABB() AABB {
	return AABB{Min: MinVec(t.A, MinVec(t.B, t.C)), Max: MaxVec(t.A, MaxVec(t.B, t.C))}
}

// MassProperties of a triangle are zero; triangles only collide.
func (t Triangle) MassProperties(float64) MassProperties {
	return MassProperties{Center: t.A.Add(t.B).Add(t.C).Mul(1.0 / 3)}
}

func (t Triangle) MinExtent() float64 { return 0 }

func (t Triangle) BoundingRadius() float64 {
	return math.Max(t.A.Len(), math.Max(t.B.Len(), t.C.Len()))
}

func (t Triangle) Radius() float64 { return 0 }

func (t Triangle) Support(dir mgl64.Vec3) mgl64.Vec3 {
	best, p := t.A.Dot(dir), t.A
	if d := t.B.Dot(dir); d > best {
		best, p = d, t.B
	}
	if d := t.C.Dot(dir); d > best {
		p = t.C
	}
	return p
}

func (t Triangle) Feature(dir mgl64.Vec3) ([]mgl64.Vec3, mgl64.Vec3) {
	n := t.Normal()
	d := SafeNormalize(dir, n)
	if nd := n.Dot(d); math.Abs(nd) > 0.7 {
		if nd < 0 {
			return []mgl64.Vec3{t.A, t.C, t.B}, n.Mul(-1)
		}
		return []mgl64.Vec3{t.A, t.B, t.C}, n
	}
	return supportCluster([]mgl64.Vec3{t.A, t.B, t.C}, d, 1e-6*t.BoundingRadius()+1e-9), dir
}

// supportCluster returns the points within tol of the support plane along d.
func supportCluster(points []mgl64.Vec3, d mgl64.Vec3, tol float64) []mgl64.Vec3 {
	best := math.Inf(-1)
	for _, p := range points {
		best = math.Max(best, p.Dot(d))
	}
	var out []mgl64.Vec3
	for _, p := range points {
		if p.Dot(d) >= best-tol {
			out = append(out, p)
		}
	}
	return out
}
