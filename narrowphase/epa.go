package narrowphase

import (
	"errors"
	"math"

	"github.com/gekko3d/rigid/geom"
	"github.com/go-gl/mathgl/mgl64"
)

const (
	epaMaxIterations = 64
	epaTolerance     = 1e-6
)

var errEPADegenerate = errors.New("epa: degenerate polytope")

type epaFace struct {
	i, j, k int
	normal  mgl64.Vec3
	dist    float64
}

// penetration is the minimum translation separating two overlapping cores.
type penetration struct {
	Normal mgl64.Vec3 // from A towards B
	Depth  float64
	PointA mgl64.Vec3
	PointB mgl64.Vec3
}

// epa expands the overlapping GJK simplex until it reaches the boundary
// of the Minkowski difference nearest the origin.
func epa(a, b convexObject, s simplex) (penetration, error) {
	if !blowUp(a, b, &s) {
		return penetration{}, errEPADegenerate
	}
	verts := make([]vertex, 0, 32)
	verts = append(verts, s.v[0], s.v[1], s.v[2], s.v[3])

	faces := make([]epaFace, 0, 32)
	for _, f := range [4][4]int{{0, 1, 2, 3}, {0, 3, 1, 2}, {0, 2, 3, 1}, {1, 3, 2, 0}} {
		face, ok := makeFace(verts, f[0], f[1], f[2])
		if !ok {
			return penetration{}, errEPADegenerate
		}
		if face.normal.Dot(verts[f[3]].w.Sub(verts[f[0]].w)) > 0 {
			face, _ = makeFace(verts, f[0], f[2], f[1])
		}
		faces = append(faces, face)
	}

	var closest epaFace
	for iter := 0; iter < epaMaxIterations; iter++ {
		ci := 0
		for i := range faces {
			if faces[i].dist < faces[ci].dist {
				ci = i
			}
		}
		closest = faces[ci]
		sv := minkowski(a, b, closest.normal)
		d := sv.w.Dot(closest.normal)
		if d-closest.dist < epaTolerance {
			return finishEPA(verts, closest), nil
		}

		// remove faces visible from the new point and stitch the horizon
		type edge struct{ a, b int }
		var horizon []edge
		kept := faces[:0]
		for _, f := range faces {
			if f.normal.Dot(sv.w.Sub(verts[f.i].w)) > 0 {
				for _, e := range [3]edge{{f.i, f.j}, {f.j, f.k}, {f.k, f.i}} {
					found := -1
					for h, he := range horizon {
						if he.a == e.b && he.b == e.a {
							found = h
							break
						}
					}
					if found >= 0 {
						horizon = append(horizon[:found], horizon[found+1:]...)
					} else {
						horizon = append(horizon, e)
					}
				}
				continue
			}
			kept = append(kept, f)
		}
		faces = kept
		verts = append(verts, sv)
		ni := len(verts) - 1
		for _, e := range horizon {
			if face, ok := makeFace(verts, e.a, e.b, ni); ok {
				faces = append(faces, face)
			}
		}
		if len(faces) == 0 {
			break
		}
	}
	// out of iterations: the best face so far is still a valid estimate
	return finishEPA(verts, closest), nil
}

func makeFace(verts []vertex, i, j, k int) (epaFace, bool) {
	n := verts[j].w.Sub(verts[i].w).Cross(verts[k].w.Sub(verts[i].w))
	l := n.Len()
	if l < 1e-14 {
		return epaFace{}, false
	}
	n = n.Mul(1 / l)
	d := n.Dot(verts[i].w)
	if d < 0 {
		// origin sits on the far side only through round-off
		d = math.Max(d, -1e-9)
	}
	return epaFace{i: i, j: j, k: k, normal: n, dist: d}, true
}

func finishEPA(verts []vertex, f epaFace) penetration {
	p := f.normal.Mul(f.dist)
	a, b, c := verts[f.i], verts[f.j], verts[f.k]
	u, v, w := barycentric(p, a.w, b.w, c.w)
	return penetration{
		Normal: f.normal,
		Depth:  math.Max(f.dist, 0),
		PointA: a.a.Mul(u).Add(b.a.Mul(v)).Add(c.a.Mul(w)),
		PointB: a.b.Mul(u).Add(b.b.Mul(v)).Add(c.b.Mul(w)),
	}
}

func barycentric(p, a, b, c mgl64.Vec3) (float64, float64, float64) {
	v0 := b.Sub(a)
	v1 := c.Sub(a)
	v2 := p.Sub(a)
	d00 := v0.Dot(v0)
	d01 := v0.Dot(v1)
	d11 := v1.Dot(v1)
	d20 := v2.Dot(v0)
	d21 := v2.Dot(v1)
	denom := d00*d11 - d01*d01
	if math.Abs(denom) < 1e-30 {
		return 1, 0, 0
	}
	v := (d11*d20 - d01*d21) / denom
	w := (d00*d21 - d01*d20) / denom
	return 1 - v - w, v, w
}

// blowUp grows a touching simplex of fewer than four points into a
// tetrahedron that still contains the origin.
func blowUp(a, b convexObject, s *simplex) bool {
	axes := []mgl64.Vec3{{1, 0, 0}, {-1, 0, 0}, {0, 1, 0}, {0, -1, 0}, {0, 0, 1}, {0, 0, -1}}
	if s.n == 0 {
		s.v[0] = minkowski(a, b, axes[0])
		s.n = 1
	}
	if s.n == 1 {
		for _, d := range axes {
			nv := minkowski(a, b, d)
			if nv.w.Sub(s.v[0].w).LenSqr() > 1e-18 {
				s.v[1] = nv
				s.n = 2
				break
			}
		}
		if s.n < 2 {
			return false
		}
	}
	if s.n == 2 {
		line := s.v[1].w.Sub(s.v[0].w)
		t1, _ := geom.Basis(line.Normalize())
		q := mgl64.QuatRotate(math.Pi/3, line.Normalize())
		d := t1
		for k := 0; k < 6; k++ {
			nv := minkowski(a, b, d)
			if nv.w.Sub(s.v[0].w).Cross(line).LenSqr() > 1e-18 {
				s.v[2] = nv
				s.n = 3
				break
			}
			d = q.Rotate(d)
		}
		if s.n < 3 {
			return false
		}
	}
	if s.n == 3 {
		n := s.v[1].w.Sub(s.v[0].w).Cross(s.v[2].w.Sub(s.v[0].w))
		if n.LenSqr() < 1e-24 {
			return false
		}
		for _, d := range []mgl64.Vec3{n, n.Mul(-1)} {
			nv := minkowski(a, b, d)
			if math.Abs(nv.w.Sub(s.v[0].w).Dot(n)) > 1e-12 {
				s.v[3] = nv
				s.n = 4
				break
			}
		}
		if s.n < 4 {
			return false
		}
	}
	return true
}
