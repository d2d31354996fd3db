package narrowphase

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	gjkMaxIterations = 64
	gjkRelTolerance  = 1e-10
	gjkAbsTolerance  = 1e-14
)

// vertex is one point of the Minkowski difference with the support points
// that produced it, so witnesses can be recovered.
type vertex struct {
	a, b, w mgl64.Vec3
}

type simplex struct {
	v [4]vertex
	n int
}

// distanceResult describes the closest features of two cores.
type distanceResult struct {
	Overlap  bool
	Distance float64
	PointA   mgl64.Vec3
	PointB   mgl64.Vec3
	simplex  simplex
}

func minkowski(a, b convexObject, dir mgl64.Vec3) vertex {
	pa := a.support(dir)
	pb := b.support(dir.Mul(-1))
	return vertex{a: pa, b: pb, w: pa.Sub(pb)}
}

// gjkDistance runs GJK on the cores of a and b, ignoring their rounding
// radii. It reports the closest points when separated and the final
// simplex when the cores overlap.
func gjkDistance(a, b convexObject) distanceResult {
	dir := b.center().Sub(a.center())
	if dir.LenSqr() < 1e-12 {
		dir = mgl64.Vec3{1, 0, 0}
	}
	var s simplex
	s.v[0] = minkowski(a, b, dir)
	s.n = 1
	v := s.v[0].w
	lambda := [4]float64{1}
	prev := math.Inf(1)

	for iter := 0; iter < gjkMaxIterations; iter++ {
		vv := v.LenSqr()
		if vv < gjkAbsTolerance {
			return distanceResult{Overlap: true, simplex: s}
		}
		nv := minkowski(a, b, v.Mul(-1))
		// no further progress towards the origin
		if vv-v.Dot(nv.w) <= gjkRelTolerance*vv || duplicate(&s, nv.w) {
			break
		}
		s.v[s.n] = nv
		s.n++
		var inside bool
		v, lambda, inside = s.solve()
		if inside {
			return distanceResult{Overlap: true, simplex: s}
		}
		nvv := v.LenSqr()
		if nvv >= prev && nvv >= vv {
			break
		}
		prev = nvv
	}

	var pa, pb mgl64.Vec3
	for i := 0; i < s.n; i++ {
		pa = pa.Add(s.v[i].a.Mul(lambda[i]))
		pb = pb.Add(s.v[i].b.Mul(lambda[i]))
	}
	d := v.Len()
	if d < 1e-9 {
		return distanceResult{Overlap: true, simplex: s}
	}
	return distanceResult{Distance: d, PointA: pa, PointB: pb, simplex: s}
}

func duplicate(s *simplex, w mgl64.Vec3) bool {
	for i := 0; i < s.n; i++ {
		if s.v[i].w.Sub(w).LenSqr() < 1e-20 {
			return true
		}
	}
	return false
}

// solve finds the point of the simplex closest to the origin, shrinks the
// simplex to the feature containing it and returns the barycentric weights
// of the kept vertices. inside is true when a tetrahedron encloses the origin.
func (s *simplex) solve() (mgl64.Vec3, [4]float64, bool) {
	switch s.n {
	case 1:
		return s.v[0].w, [4]float64{1}, false
	case 2:
		return s.solveSegment()
	case 3:
		return s.solveTriangle()
	default:
		return s.solveTetrahedron()
	}
}

func (s *simplex) keep(lambda []float64) (mgl64.Vec3, [4]float64) {
	var out [4]float64
	var v mgl64.Vec3
	n := 0
	for i := 0; i < s.n; i++ {
		if lambda[i] > 0 {
			s.v[n] = s.v[i]
			out[n] = lambda[i]
			v = v.Add(s.v[i].w.Mul(lambda[i]))
			n++
		}
	}
	s.n = n
	return v, out
}

func (s *simplex) solveSegment() (mgl64.Vec3, [4]float64, bool) {
	a, b := s.v[0].w, s.v[1].w
	ab := b.Sub(a)
	l2 := ab.LenSqr()
	t := 0.0
	if l2 > 1e-20 {
		t = -a.Dot(ab) / l2
	}
	switch {
	case t <= 0:
		v, l := s.keep([]float64{1, 0})
		return v, l, false
	case t >= 1:
		v, l := s.keep([]float64{0, 1})
		return v, l, false
	}
	v, l := s.keep([]float64{1 - t, t})
	return v, l, false
}

func triangleWeights(a, b, c mgl64.Vec3) [3]float64 {
	ab := b.Sub(a)
	ac := c.Sub(a)
	ap := a.Mul(-1)
	d1 := ab.Dot(ap)
	d2 := ac.Dot(ap)
	if d1 <= 0 && d2 <= 0 {
		return [3]float64{1, 0, 0}
	}
	bp := b.Mul(-1)
	d3 := ab.Dot(bp)
	d4 := ac.Dot(bp)
	if d3 >= 0 && d4 <= d3 {
		return [3]float64{0, 1, 0}
	}
	vc := d1*d4 - d3*d2
	if vc <= 0 && d1 >= 0 && d3 <= 0 {
		v := d1 / (d1 - d3)
		return [3]float64{1 - v, v, 0}
	}
	cp := c.Mul(-1)
	d5 := ab.Dot(cp)
	d6 := ac.Dot(cp)
	if d6 >= 0 && d5 <= d6 {
		return [3]float64{0, 0, 1}
	}
	vb := d5*d2 - d1*d6
	if vb <= 0 && d2 >= 0 && d6 <= 0 {
		w := d2 / (d2 - d6)
		return [3]float64{1 - w, 0, w}
	}
	va := d3*d6 - d5*d4
	if va <= 0 && (d4-d3) >= 0 && (d5-d6) >= 0 {
		w := (d4 - d3) / ((d4 - d3) + (d5 - d6))
		return [3]float64{0, 1 - w, w}
	}
	denom := va + vb + vc
	if math.Abs(denom) < 1e-30 {
		return [3]float64{1, 0, 0}
	}
	v := vb / denom
	w := vc / denom
	return [3]float64{1 - v - w, v, w}
}

func (s *simplex) solveTriangle() (mgl64.Vec3, [4]float64, bool) {
	l := triangleWeights(s.v[0].w, s.v[1].w, s.v[2].w)
	v, out := s.keep(l[:])
	return v, out, false
}

func (s *simplex) solveTetrahedron() (mgl64.Vec3, [4]float64, bool) {
	faces := [4][4]int{
		{0, 1, 2, 3},
		{0, 3, 1, 2},
		{0, 2, 3, 1},
		{1, 3, 2, 0},
	}
	w := [4]mgl64.Vec3{s.v[0].w, s.v[1].w, s.v[2].w, s.v[3].w}
	volume := w[1].Sub(w[0]).Cross(w[2].Sub(w[0])).Dot(w[3].Sub(w[0]))
	degenerate := math.Abs(volume) < 1e-18

	best := math.Inf(1)
	var bestL [4]float64
	outside := false
	for _, f := range faces {
		i, j, k, opp := f[0], f[1], f[2], f[3]
		n := w[j].Sub(w[i]).Cross(w[k].Sub(w[i]))
		sideOrigin := -n.Dot(w[i])
		sideOpp := n.Dot(w[opp].Sub(w[i]))
		if !degenerate && sideOrigin*sideOpp > 0 {
			// origin is on the inner side of this face
			continue
		}
		outside = true
		tl := triangleWeights(w[i], w[j], w[k])
		p := w[i].Mul(tl[0]).Add(w[j].Mul(tl[1])).Add(w[k].Mul(tl[2]))
		if d := p.LenSqr(); d < best {
			best = d
			bestL = [4]float64{}
			bestL[i], bestL[j], bestL[k] = tl[0], tl[1], tl[2]
		}
	}
	if !outside {
		return mgl64.Vec3{}, [4]float64{}, true
	}
	v, out := s.keep(bestL[:])
	return v, out, false
}
