package narrowphase

import (
	"github.com/go-gl/mathgl/mgl64"
)

// faceAlignment is the cosine above which a feature counts as a face
// facing the contact normal.
const faceAlignment = 0.95

// clipContact builds a multi-point contact by clipping the incident
// feature against the side planes of the best aligned reference face.
// It falls back to the single witness point when neither side offers a
// face or clipping leaves nothing within the margin.
func clipContact(a, b convexObject, n mgl64.Vec3, fallback ContactPoint, margin float64) Contact {
	fa, na := a.feature(n)
	fb, nb := b.feature(n.Mul(-1))
	alignA, alignB := -1.0, -1.0
	if len(fa) >= 3 {
		alignA = na.Dot(n)
	}
	if len(fb) >= 3 {
		alignB = -nb.Dot(n)
	}
	single := Contact{Normal: n, Points: []ContactPoint{fallback}}
	if alignA < faceAlignment && alignB < faceAlignment {
		return single
	}

	refA := alignA >= alignB
	ref, inc := fa, fb
	refN := na
	rRef, rInc := a.shape.Radius(), b.shape.Radius()
	if !refA {
		ref, inc = fb, fa
		refN = nb
		rRef, rInc = rInc, rRef
	}

	clipped := clipToFace(inc, ref, refN)
	out := Contact{Normal: refN}
	if !refA {
		out.Normal = refN.Mul(-1)
	}
	for _, x := range clipped {
		sepCore := x.Sub(ref[0]).Dot(refN)
		sep := sepCore - rRef - rInc
		if sep >= margin {
			continue
		}
		incSurf := x.Sub(refN.Mul(rInc))
		refSurf := x.Sub(refN.Mul(sepCore)).Add(refN.Mul(rRef))
		p := ContactPoint{Normal: out.Normal, Depth: -sep}
		if refA {
			p.PointA, p.PointB = refSurf, incSurf
		} else {
			p.PointA, p.PointB = incSurf, refSurf
		}
		out.add(p)
	}
	if len(out.Points) == 0 {
		return single
	}
	out.reduce()
	return out
}

// clipToFace clips an incident point, segment or polygon against the side
// planes of a convex reference polygon.
func clipToFace(inc, ref []mgl64.Vec3, refN mgl64.Vec3) []mgl64.Vec3 {
	var centroid mgl64.Vec3
	for _, p := range ref {
		centroid = centroid.Add(p)
	}
	centroid = centroid.Mul(1 / float64(len(ref)))

	poly := append([]mgl64.Vec3(nil), inc...)
	for i := range ref {
		p0 := ref[i]
		p1 := ref[(i+1)%len(ref)]
		side := p1.Sub(p0).Cross(refN)
		if side.Dot(centroid.Sub(p0)) > 0 {
			side = side.Mul(-1)
		}
		poly = clipPlane(poly, side, side.Dot(p0))
		if len(poly) == 0 {
			return nil
		}
	}
	return poly
}

// clipPlane keeps the part of poly with n·x <= d.
func clipPlane(poly []mgl64.Vec3, n mgl64.Vec3, d float64) []mgl64.Vec3 {
	switch len(poly) {
	case 0:
		return nil
	case 1:
		if n.Dot(poly[0]) <= d {
			return poly
		}
		return nil
	case 2:
		a, b := poly[0], poly[1]
		da, db := n.Dot(a)-d, n.Dot(b)-d
		switch {
		case da <= 0 && db <= 0:
			return poly
		case da > 0 && db > 0:
			return nil
		}
		x := a.Add(b.Sub(a).Mul(da / (da - db)))
		if da > 0 {
			return []mgl64.Vec3{x, b}
		}
		return []mgl64.Vec3{a, x}
	}
	out := make([]mgl64.Vec3, 0, len(poly)+2)
	for i := range poly {
		a := poly[i]
		b := poly[(i+1)%len(poly)]
		da, db := n.Dot(a)-d, n.Dot(b)-d
		if da <= 0 {
			out = append(out, a)
		}
		if (da <= 0) != (db <= 0) {
			out = append(out, a.Add(b.Sub(a).Mul(da/(da-db))))
		}
	}
	return out
}
