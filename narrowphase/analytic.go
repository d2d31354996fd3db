package narrowphase

import (
	"math"

	"github.com/gekko3d/rigid/geom"
	"github.com/go-gl/mathgl/mgl64"
)

var up = mgl64.Vec3{0, 1, 0}

// roundContact handles two points swept by spheres: the contact normal
// runs along the line between the core points.
func roundContact(ca, cb mgl64.Vec3, ra, rb, margin float64, fallback mgl64.Vec3) (ContactPoint, bool) {
	d := cb.Sub(ca)
	dist := d.Len()
	sep := dist - ra - rb
	if sep >= margin {
		return ContactPoint{}, false
	}
	n := fallback
	if dist > 1e-12 {
		n = d.Mul(1 / dist)
	}
	return ContactPoint{
		PointA: ca.Add(n.Mul(ra)),
		PointB: cb.Sub(n.Mul(rb)),
		Normal: n,
		Depth:  -sep,
	}, true
}

func sphereSphere(a, b convexObject, ra, rb, margin float64) (Contact, bool) {
	fallback := up
	p, ok := roundContact(a.xf.Position, b.xf.Position, ra, rb, margin, fallback)
	if !ok {
		return Contact{}, false
	}
	return Contact{Normal: p.Normal, Points: []ContactPoint{p}}, true
}

// sphereBox is written with the box as A; the caller flips when needed.
func boxSphere(box convexObject, h mgl64.Vec3, sphere convexObject, r, margin float64) (Contact, bool) {
	q := box.xf.ApplyInverse(sphere.xf.Position)
	closest := mgl64.Vec3{
		geom.Clamp(q[0], -h[0], h[0]),
		geom.Clamp(q[1], -h[1], h[1]),
		geom.Clamp(q[2], -h[2], h[2]),
	}
	d := q.Sub(closest)
	dist2 := d.LenSqr()

	var nLocal, onBox mgl64.Vec3
	var sep float64
	if dist2 > 1e-24 {
		dist := math.Sqrt(dist2)
		sep = dist - r
		nLocal = d.Mul(1 / dist)
		onBox = closest
	} else {
		// centre inside: leave through the nearest face
		axis, best := 0, math.Inf(1)
		for i := 0; i < 3; i++ {
			if gap := h[i] - math.Abs(q[i]); gap < best {
				axis, best = i, gap
			}
		}
		sign := 1.0
		if q[axis] < 0 {
			sign = -1
		}
		nLocal[axis] = sign
		onBox = q
		onBox[axis] = sign * h[axis]
		sep = -best - r
	}
	if sep >= margin {
		return Contact{}, false
	}
	n := box.xf.Rotate(nLocal)
	pa := box.xf.Apply(onBox)
	p := ContactPoint{
		PointA: pa,
		PointB: sphere.xf.Position.Sub(n.Mul(r)),
		Normal: n,
		Depth:  -sep,
	}
	return Contact{Normal: n, Points: []ContactPoint{p}}, true
}

func segmentOf(o convexObject) (mgl64.Vec3, mgl64.Vec3) {
	c := o.shape.(geom.Capsule)
	a, b := c.Segment()
	return o.xf.Apply(a), o.xf.Apply(b)
}

func sphereCapsule(s convexObject, rs float64, c convexObject, rc, margin float64) (Contact, bool) {
	p0, p1 := segmentOf(c)
	center := s.xf.Position
	onSeg, _ := geom.ClosestPointOnSegment(center, p0, p1)
	fallback := geom.SafeNormalize(onSeg.Sub(center), up)
	p, ok := roundContact(center, onSeg, rs, rc, margin, fallback)
	if !ok {
		return Contact{}, false
	}
	return Contact{Normal: p.Normal, Points: []ContactPoint{p}}, true
}

func capsuleCapsule(a convexObject, ra float64, b convexObject, rb, margin float64) (Contact, bool) {
	a0, a1 := segmentOf(a)
	b0, b1 := segmentOf(b)
	pa, pb := geom.ClosestPointsSegments(a0, a1, b0, b1)
	fallback := geom.SafeNormalize(b.xf.Position.Sub(a.xf.Position), up)
	first, ok := roundContact(pa, pb, ra, rb, margin, fallback)
	if !ok {
		return Contact{}, false
	}
	out := Contact{Normal: first.Normal, Points: []ContactPoint{first}}

	da := a1.Sub(a0)
	db := b1.Sub(b0)
	la, lb := da.Len(), db.Len()
	if la < 1e-12 || lb < 1e-12 || math.Abs(da.Dot(db))/(la*lb) < 0.999 {
		return out, true
	}
	// parallel segments: report both ends of the shared span
	axis := da.Mul(1 / la)
	t0 := geom.Clamp(b0.Sub(a0).Dot(axis), 0, la)
	t1 := geom.Clamp(b1.Sub(a0).Dot(axis), 0, la)
	if math.Abs(t1-t0) < 1e-6 {
		return out, true
	}
	out.Points = out.Points[:0]
	for _, t := range []float64{t0, t1} {
		qa := a0.Add(axis.Mul(t))
		qb, _ := geom.ClosestPointOnSegment(qa, b0, b1)
		if p, ok := roundContact(qa, qb, ra, rb, margin, first.Normal); ok {
			p.Normal = first.Normal
			out.add(p)
		}
	}
	if len(out.Points) == 0 {
		out.Points = append(out.Points, first)
	}
	return out, true
}

// triangleRound collides a triangle (A) with a sphere or capsule core (B).
func triangleRound(tri convexObject, b convexObject, rb, margin float64) (Contact, bool) {
	t := tri.shape.(geom.Triangle)
	ta, tb, tc := tri.xf.Apply(t.A), tri.xf.Apply(t.B), tri.xf.Apply(t.C)
	center := b.xf.Position
	onTri := geom.ClosestPointOnTriangle(center, ta, tb, tc)
	normal := tri.xf.Rotate(t.Normal())
	if center.Sub(ta).Dot(normal) < 0 {
		normal = normal.Mul(-1)
	}
	p, ok := roundContact(onTri, center, 0, rb, margin, normal)
	if !ok {
		return Contact{}, false
	}
	return Contact{Normal: p.Normal, Points: []ContactPoint{p}}, true
}
