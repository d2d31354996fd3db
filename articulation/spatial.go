package articulation

import (
	"github.com/gekko3d/rigid/geom"
	"github.com/go-gl/mathgl/mgl64"
)

// Vec6 is a spatial vector with the angular part first: a motion [ω; v]
// or a force [n; f], both taken at the frame origin.
type Vec6 [6]float64

func spatial(angular, linear mgl64.Vec3) Vec6 {
	return Vec6{angular[0], angular[1], angular[2], linear[0], linear[1], linear[2]}
}

func (a Vec6) Angular() mgl64.Vec3 { return mgl64.Vec3{a[0], a[1], a[2]} }
func (a Vec6) Linear() mgl64.Vec3  { return mgl64.Vec3{a[3], a[4], a[5]} }

func (a Vec6) add(b Vec6) Vec6 {
	for i := range a {
		a[i] += b[i]
	}
	return a
}

func (a Vec6) sub(b Vec6) Vec6 {
	for i := range a {
		a[i] -= b[i]
	}
	return a
}

func (a Vec6) scale(s float64) Vec6 {
	for i := range a {
		a[i] *= s
	}
	return a
}

func (a Vec6) dot(b Vec6) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func (a Vec6) finite() bool {
	return geom.FiniteVec(a.Angular()) && geom.FiniteVec(a.Linear())
}

// crossMotion is v ×m: the rate of change of motion m carried by a frame
// moving with v.
func crossMotion(v, m Vec6) Vec6 {
	w, lin := v.Angular(), v.Linear()
	return spatial(w.Cross(m.Angular()), w.Cross(m.Linear()).Add(lin.Cross(m.Angular())))
}

// crossForce is v ×f, the dual of crossMotion.
func crossForce(v, f Vec6) Vec6 {
	w, lin := v.Angular(), v.Linear()
	return spatial(w.Cross(f.Angular()).Add(lin.Cross(f.Linear())), w.Cross(f.Linear()))
}

// Mat6 is a dense 6x6 spatial matrix, row major.
type Mat6 [6][6]float64

func (m *Mat6) mulVec(v Vec6) Vec6 {
	var out Vec6
	for i := 0; i < 6; i++ {
		s := 0.0
		for j := 0; j < 6; j++ {
			s += m[i][j] * v[j]
		}
		out[i] = s
	}
	return out
}

func (m *Mat6) mul(o *Mat6) Mat6 {
	var out Mat6
	for i := 0; i < 6; i++ {
		for k := 0; k < 6; k++ {
			if m[i][k] == 0 {
				continue
			}
			for j := 0; j < 6; j++ {
				out[i][j] += m[i][k] * o[k][j]
			}
		}
	}
	return out
}

func (m *Mat6) transpose() Mat6 {
	var out Mat6
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			out[j][i] = m[i][j]
		}
	}
	return out
}

func (m *Mat6) add(o *Mat6) {
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			m[i][j] += o[i][j]
		}
	}
}

// subOuter subtracts s·a·bᵀ.
func (m *Mat6) subOuter(a, b Vec6, s float64) {
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			m[i][j] -= s * a[i] * b[j]
		}
	}
}

func (m *Mat6) setBlock(r, c int, b mgl64.Mat3) {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m[r+i][c+j] = b.At(i, j)
		}
	}
}

func skew(v mgl64.Vec3) mgl64.Mat3 {
	return mgl64.Mat3{0, v[2], -v[1], -v[2], 0, v[0], v[1], -v[0], 0}
}

// rigidInertia is the spatial inertia about the link origin of a body with
// the given mass, centre of mass and rotational inertia about that centre.
func rigidInertia(mass float64, com mgl64.Vec3, ic mgl64.Mat3) Mat6 {
	cx := skew(com)
	var m Mat6
	m.setBlock(0, 0, ic.Sub(cx.Mul3(cx).Mul(mass)))
	m.setBlock(0, 3, cx.Mul(mass))
	m.setBlock(3, 0, cx.Mul(-mass))
	m.setBlock(3, 3, mgl64.Ident3().Mul(mass))
	return m
}

// plucker carries spatial vectors from a parent frame into a child frame.
// e rotates parent coordinates into child coordinates and r is the child
// origin in parent coordinates.
type plucker struct {
	e mgl64.Mat3
	r mgl64.Vec3
}

// childOf builds the transform for a child placed at t in its parent.
func childOf(t geom.Transform) plucker {
	return plucker{e: geom.RotationMatrix(t.Rotation).Transpose(), r: t.Position}
}

func (x plucker) motion(m Vec6) Vec6 {
	w := m.Angular()
	return spatial(x.e.Mul3x1(w), x.e.Mul3x1(m.Linear().Sub(x.r.Cross(w))))
}

// forceToParent applies Xᵀ, moving a child-frame force into the parent.
func (x plucker) forceToParent(f Vec6) Vec6 {
	et := x.e.Transpose()
	lin := et.Mul3x1(f.Linear())
	return spatial(et.Mul3x1(f.Angular()).Add(x.r.Cross(lin)), lin)
}

func (x plucker) matrix() Mat6 {
	var m Mat6
	m.setBlock(0, 0, x.e)
	m.setBlock(3, 0, x.e.Mul3(skew(x.r)).Mul(-1))
	m.setBlock(3, 3, x.e)
	return m
}

// inertiaToParent returns Xᵀ I X, a child-frame inertia seen from the
// parent.
func (x plucker) inertiaToParent(i *Mat6) Mat6 {
	xm := x.matrix()
	xt := xm.transpose()
	ix := i.mul(&xm)
	return xt.mul(&ix)
}
