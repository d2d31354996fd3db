package narrowphase

import (
	"math"

	"github.com/gekko3d/rigid/geom"
	"github.com/go-gl/mathgl/mgl64"
)

// RayHit is a ray intersection at distance T with the outward normal.
type RayHit struct {
	T      float64
	Point  mgl64.Vec3
	Normal mgl64.Vec3
}

const rayMaxIterations = 48

// RayCast intersects a ray (unit dir) with a placed shape. A ray starting
// inside a solid hits at T = 0 with the normal opposing dir.
func RayCast(o Object, origin, dir mgl64.Vec3, maxT float64) (RayHit, bool) {
	lo := o.Xf.ApplyInverse(origin)
	ld := o.Xf.RotateInverse(dir)
	h, ok := rayLocal(o.Shape, lo, ld, maxT)
	if !ok {
		return RayHit{}, false
	}
	return RayHit{
		T:      h.T,
		Point:  origin.Add(dir.Mul(h.T)),
		Normal: o.Xf.Rotate(h.Normal),
	}, true
}

func rayLocal(s geom.Shape, o, d mgl64.Vec3, maxT float64) (RayHit, bool) {
	switch sh := s.(type) {
	case geom.Sphere:
		return raySphere(mgl64.Vec3{}, sh.R, o, d, maxT)
	case geom.Box:
		return rayBox(sh.HalfExtents, o, d, maxT)
	case geom.Triangle:
		return rayTriangle(sh, o, d, maxT)
	case *geom.Mesh:
		var best RayHit
		found := false
		sh.Ray(o, d, maxT, func(i int, limit float64) float64 {
			if h, ok := rayTriangle(sh.Triangle(i), o, d, limit); ok {
				best, found = h, true
				return h.T
			}
			return limit
		})
		return best, found
	case *geom.Compound:
		var best RayHit
		found := false
		limit := maxT
		for _, ch := range sh.Children {
			if h, ok := RayCast(Object{Shape: ch.Shape, Xf: ch.Local}, o, d, limit); ok {
				best, found, limit = h, true, h.T
			}
		}
		return best, found
	case geom.Convex:
		return rayConvex(sh, o, d, maxT)
	}
	return RayHit{}, false
}

func raySphere(c mgl64.Vec3, r float64, o, d mgl64.Vec3, maxT float64) (RayHit, bool) {
	m := o.Sub(c)
	b := m.Dot(d)
	cc := m.LenSqr() - r*r
	if cc <= 0 {
		return RayHit{T: 0, Point: o, Normal: d.Mul(-1)}, true
	}
	if b > 0 {
		return RayHit{}, false
	}
	disc := b*b - cc
	if disc < 0 {
		return RayHit{}, false
	}
	t := -b - math.Sqrt(disc)
	if t > maxT {
		return RayHit{}, false
	}
	p := o.Add(d.Mul(t))
	return RayHit{T: t, Point: p, Normal: p.Sub(c).Mul(1 / r)}, true
}

func rayBox(h, o, d mgl64.Vec3, maxT float64) (RayHit, bool) {
	tMin, tMax := 0.0, maxT
	axis, sign := -1, 0.0
	for i := 0; i < 3; i++ {
		if math.Abs(d[i]) < 1e-15 {
			if o[i] < -h[i] || o[i] > h[i] {
				return RayHit{}, false
			}
			continue
		}
		inv := 1 / d[i]
		t1 := (-h[i] - o[i]) * inv
		t2 := (h[i] - o[i]) * inv
		s := -1.0
		if t1 > t2 {
			t1, t2 = t2, t1
			s = 1
		}
		if t1 > tMin {
			tMin, axis, sign = t1, i, s
		}
		tMax = math.Min(tMax, t2)
		if tMin > tMax {
			return RayHit{}, false
		}
	}
	if axis < 0 {
		return RayHit{T: 0, Point: o, Normal: d.Mul(-1)}, true
	}
	var n mgl64.Vec3
	n[axis] = sign
	return RayHit{T: tMin, Point: o.Add(d.Mul(tMin)), Normal: n}, true
}

// rayTriangle is Möller-Trumbore, two-sided.
func rayTriangle(t geom.Triangle, o, d mgl64.Vec3, maxT float64) (RayHit, bool) {
	e1 := t.B.Sub(t.A)
	e2 := t.C.Sub(t.A)
	p := d.Cross(e2)
	det := e1.Dot(p)
	if math.Abs(det) < 1e-14 {
		return RayHit{}, false
	}
	inv := 1 / det
	s := o.Sub(t.A)
	u := s.Dot(p) * inv
	if u < 0 || u > 1 {
		return RayHit{}, false
	}
	q := s.Cross(e1)
	v := d.Dot(q) * inv
	if v < 0 || u+v > 1 {
		return RayHit{}, false
	}
	tt := e2.Dot(q) * inv
	if tt < 0 || tt > maxT {
		return RayHit{}, false
	}
	n := t.Normal()
	if n.Dot(d) > 0 {
		n = n.Mul(-1)
	}
	return RayHit{T: tt, Point: o.Add(d.Mul(tt)), Normal: n}, true
}

// rayConvex marches the ray by the GJK distance to the shape until it
// touches the surface (conservative advancement).
func rayConvex(s geom.Convex, o, d mgl64.Vec3, maxT float64) (RayHit, bool) {
	shape := convexObject{shape: s, xf: geom.Identity()}
	r := s.Radius()
	t := 0.0
	const tol = 1e-7
	for iter := 0; iter < rayMaxIterations; iter++ {
		p := o.Add(d.Mul(t))
		point := convexObject{shape: geom.Sphere{}, xf: geom.Transform{Position: p, Rotation: mgl64.QuatIdent()}}
		res := gjkDistance(shape, point)
		if res.Overlap {
			if t == 0 {
				return RayHit{T: 0, Point: o, Normal: d.Mul(-1)}, true
			}
			return RayHit{T: t, Point: p, Normal: d.Mul(-1)}, true
		}
		dist := res.Distance - r
		n := res.PointB.Sub(res.PointA).Mul(1 / res.Distance)
		if dist <= tol {
			if t == 0 && dist < 0 {
				return RayHit{T: 0, Point: o, Normal: d.Mul(-1)}, true
			}
			return RayHit{T: t, Point: p, Normal: n}, true
		}
		closing := -n.Dot(d)
		if closing <= 1e-12 {
			return RayHit{}, false
		}
		t += dist / closing
		if t > maxT {
			return RayHit{}, false
		}
	}
	return RayHit{}, false
}
