package narrowphase

import (
	"math"

	"github.com/gekko3d/rigid/geom"
	"github.com/go-gl/mathgl/mgl64"
)

// Collide tests two placed shapes. Points are reported when the surfaces
// are closer than margin; the normal points from a to b.
func Collide(a, b Object, margin float64) (Contact, bool) {
	var parts []Contact
	collect(a, b, margin, false, &parts)
	if len(parts) == 0 {
		return Contact{}, false
	}
	if len(parts) == 1 {
		return parts[0], true
	}
	return merge(parts), true
}

func collect(a, b Object, margin float64, flipped bool, out *[]Contact) {
	emit := func(c Contact, ok bool) {
		if !ok {
			return
		}
		if flipped {
			c.flip()
		}
		*out = append(*out, c)
	}

	switch sa := a.Shape.(type) {
	case *geom.Compound:
		region := b.AABB().Expand(margin).Transformed(a.Xf.Inverse())
		sa.Query(region, func(i int) bool {
			ch := sa.Children[i]
			collect(Object{Shape: ch.Shape, Xf: a.Xf.Mul(ch.Local)}, b, margin, flipped, out)
			return true
		})
		return
	case *geom.Mesh:
		if _, ok := b.Shape.(*geom.Mesh); ok {
			return
		}
		if _, ok := b.Shape.(*geom.Compound); ok {
			collect(b, a, margin, !flipped, out)
			return
		}
		region := b.AABB().Expand(margin).Transformed(a.Xf.Inverse())
		sa.Query(region, func(i int) bool {
			collect(Object{Shape: sa.Triangle(i), Xf: a.Xf}, b, margin, flipped, out)
			return true
		})
		return
	}
	switch b.Shape.(type) {
	case *geom.Compound, *geom.Mesh:
		collect(b, a, margin, !flipped, out)
		return
	}

	ca, okA := a.Shape.(geom.Convex)
	cb, okB := b.Shape.(geom.Convex)
	if !okA || !okB {
		return
	}
	emit(collideConvex(convexObject{ca, a.Xf}, convexObject{cb, b.Xf}, margin))
}

// merge folds per-child contacts into one point set. Every point keeps its
// own normal; the shared normal is the deepest point's.
func merge(parts []Contact) Contact {
	var out Contact
	for _, p := range parts {
		out.Points = append(out.Points, p.Points...)
	}
	out.Normal = out.Points[out.deepest()].Normal
	out.reduce()
	return out
}

func collideConvex(a, b convexObject, margin float64) (Contact, bool) {
	ka, kb := a.shape.Kind(), b.shape.Kind()
	ra, rb := a.shape.Radius(), b.shape.Radius()
	switch {
	case ka == geom.KindSphere && kb == geom.KindSphere:
		return sphereSphere(a, b, ra, rb, margin)
	case ka == geom.KindBox && kb == geom.KindSphere:
		return boxSphere(a, a.shape.(geom.Box).HalfExtents, b, rb, margin)
	case ka == geom.KindSphere && kb == geom.KindBox:
		return flipped(boxSphere(b, b.shape.(geom.Box).HalfExtents, a, ra, margin))
	case ka == geom.KindSphere && kb == geom.KindCapsule:
		return sphereCapsule(a, ra, b, rb, margin)
	case ka == geom.KindCapsule && kb == geom.KindSphere:
		return flipped(sphereCapsule(b, rb, a, ra, margin))
	case ka == geom.KindCapsule && kb == geom.KindCapsule:
		return capsuleCapsule(a, ra, b, rb, margin)
	case ka == geom.KindTriangle && kb == geom.KindSphere:
		return triangleRound(a, b, rb, margin)
	case ka == geom.KindSphere && kb == geom.KindTriangle:
		return flipped(triangleRound(b, a, ra, margin))
	}
	return generic(a, b, margin)
}

func flipped(c Contact, ok bool) (Contact, bool) {
	if ok {
		c.flip()
	}
	return c, ok
}

// generic runs GJK on the cores, EPA when they overlap, and then clips
// faces for a multi-point manifold.
func generic(a, b convexObject, margin float64) (Contact, bool) {
	ra, rb := a.shape.Radius(), b.shape.Radius()
	res := gjkDistance(a, b)
	if !res.Overlap {
		sep := res.Distance - ra - rb
		if sep >= margin {
			return Contact{}, false
		}
		n := res.PointB.Sub(res.PointA).Mul(1 / res.Distance)
		fallback := ContactPoint{
			PointA: res.PointA.Add(n.Mul(ra)),
			PointB: res.PointB.Sub(n.Mul(rb)),
			Normal: n,
			Depth:  -sep,
		}
		return clipContact(a, b, n, fallback, margin), true
	}

	pen, err := epa(a, b, res.simplex)
	if err != nil {
		pen = estimatePenetration(a, b)
	}
	n := pen.Normal
	fallback := ContactPoint{
		PointA: pen.PointA.Add(n.Mul(ra)),
		PointB: pen.PointB.Sub(n.Mul(rb)),
		Normal: n,
		Depth:  pen.Depth + ra + rb,
	}
	return clipContact(a, b, n, fallback, margin), true
}

// estimatePenetration is used when EPA cannot build a polytope, which only
// happens for cores that merely touch.
func estimatePenetration(a, b convexObject) penetration {
	n := geom.SafeNormalize(b.center().Sub(a.center()), up)
	pa := a.support(n)
	pb := b.support(n.Mul(-1))
	return penetration{
		Normal: n,
		Depth:  math.Max(pa.Sub(pb).Dot(n), 0),
		PointA: pa,
		PointB: pb,
	}
}

// Separation is the signed distance between two surfaces; negative when
// they overlap.
type Separation struct {
	Distance float64
	Normal   mgl64.Vec3
	PointA   mgl64.Vec3
	PointB   mgl64.Vec3
}

// Distance measures the closest approach of two placed shapes, looking no
// further than maxDist into compound children and mesh triangles. ok is
// false when nothing lies within maxDist.
func Distance(a, b Object, maxDist float64) (Separation, bool) {
	best := Separation{Distance: math.Inf(1)}
	distanceInto(a, b, maxDist, false, &best)
	return best, best.Distance <= maxDist
}

func distanceInto(a, b Object, maxDist float64, swapped bool, best *Separation) {
	switch sa := a.Shape.(type) {
	case *geom.Compound:
		region := b.AABB().Expand(maxDist).Transformed(a.Xf.Inverse())
		sa.Query(region, func(i int) bool {
			ch := sa.Children[i]
			distanceInto(Object{Shape: ch.Shape, Xf: a.Xf.Mul(ch.Local)}, b, maxDist, swapped, best)
			return true
		})
		return
	case *geom.Mesh:
		if _, ok := b.Shape.(*geom.Mesh); ok {
			return
		}
		if _, ok := b.Shape.(*geom.Compound); ok {
			distanceInto(b, a, maxDist, !swapped, best)
			return
		}
		region := b.AABB().Expand(maxDist).Transformed(a.Xf.Inverse())
		sa.Query(region, func(i int) bool {
			distanceInto(Object{Shape: sa.Triangle(i), Xf: a.Xf}, b, maxDist, swapped, best)
			return true
		})
		return
	}
	switch b.Shape.(type) {
	case *geom.Compound, *geom.Mesh:
		distanceInto(b, a, maxDist, !swapped, best)
		return
	}
	ca, okA := a.Shape.(geom.Convex)
	cb, okB := b.Shape.(geom.Convex)
	if !okA || !okB {
		return
	}
	s := convexDistance(convexObject{ca, a.Xf}, convexObject{cb, b.Xf})
	if swapped {
		s.Normal = s.Normal.Mul(-1)
		s.PointA, s.PointB = s.PointB, s.PointA
	}
	if s.Distance < best.Distance {
		*best = s
	}
}

func convexDistance(a, b convexObject) Separation {
	ra, rb := a.shape.Radius(), b.shape.Radius()
	res := gjkDistance(a, b)
	if !res.Overlap {
		n := res.PointB.Sub(res.PointA).Mul(1 / res.Distance)
		return Separation{
			Distance: res.Distance - ra - rb,
			Normal:   n,
			PointA:   res.PointA.Add(n.Mul(ra)),
			PointB:   res.PointB.Sub(n.Mul(rb)),
		}
	}
	pen, err := epa(a, b, res.simplex)
	if err != nil {
		pen = estimatePenetration(a, b)
	}
	return Separation{
		Distance: -(pen.Depth + ra + rb),
		Normal:   pen.Normal,
		PointA:   pen.PointA.Add(pen.Normal.Mul(ra)),
		PointB:   pen.PointB.Sub(pen.Normal.Mul(rb)),
	}
}
