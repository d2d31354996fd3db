package articulation

import (
	"fmt"
	"math"

	"github.com/gekko3d/rigid/geom"
	"github.com/go-gl/mathgl/mgl64"
)

// pass holds the per-link quantities of one articulated body solve.
type pass struct {
	x  plucker
	v  Vec6
	c  Vec6
	ia Mat6
	pa Vec6

	s    [3]Vec6
	n    int
	u    [3]Vec6
	dInv mgl64.Mat3
	tau  [3]float64
	a    Vec6
}

// Accelerations fills Ddq for the current Q, Dq and Tau under gravity,
// with the root links hanging from a fixed world. It is the three-pass
// articulated body algorithm, O(n) in the number of links.
func (mb *Multibody) Accelerations(gravity mgl64.Vec3) {
	n := len(mb.Links)
	ps := make([]pass, n)

	for i := 0; i < n; i++ {
		p := &ps[i]
		l := &mb.Links[i]
		p.x = childOf(mb.local(i))
		p.s, p.n = mb.subspace(i)
		vJ := mb.jointVelocity(i)
		if l.Parent >= 0 {
			p.v = p.x.motion(ps[l.Parent].v).add(vJ)
		} else {
			p.v = vJ
		}
		p.c = crossMotion(p.v, vJ)
		p.ia = rigidInertia(l.Mass, l.CenterOfMass, l.Inertia)
		p.pa = crossForce(p.v, p.ia.mulVec(p.v))
	}

	for i := n - 1; i >= 0; i-- {
		p := &ps[i]
		l := &mb.Links[i]
		dq := mb.Dq[l.v:]
		var d mgl64.Mat3
		for k := 0; k < p.n; k++ {
			p.u[k] = p.ia.mulVec(p.s[k])
			p.tau[k] = mb.Tau[l.v+k] - l.Damping*dq[k] - p.s[k].dot(p.pa)
			for j := 0; j < p.n; j++ {
				d.Set(k, j, p.s[k].dot(p.u[j]))
			}
		}
		p.dInv = invertDofs(d, p.n)
		if l.Parent < 0 {
			continue
		}
		ia := p.ia
		pa := p.pa
		for k := 0; k < p.n; k++ {
			for j := 0; j < p.n; j++ {
				ia.subOuter(p.u[k], p.u[j], p.dInv.At(k, j))
			}
		}
		pa = pa.add(ia.mulVec(p.c))
		for k := 0; k < p.n; k++ {
			for j := 0; j < p.n; j++ {
				pa = pa.add(p.u[k].scale(p.dInv.At(k, j) * p.tau[j]))
			}
		}
		parent := &ps[l.Parent]
		up := p.x.inertiaToParent(&ia)
		parent.ia.add(&up)
		parent.pa = parent.pa.add(p.x.forceToParent(pa))
	}

	// gravity enters as an upward acceleration of the world
	base := spatial(mgl64.Vec3{}, gravity.Mul(-1))
	for i := 0; i < n; i++ {
		p := &ps[i]
		l := &mb.Links[i]
		parent := base
		if l.Parent >= 0 {
			parent = ps[l.Parent].a
		}
		a := p.x.motion(parent).add(p.c)
		var rhs [3]float64
		for k := 0; k < p.n; k++ {
			rhs[k] = p.tau[k] - p.u[k].dot(a)
		}
		for k := 0; k < p.n; k++ {
			ddq := 0.0
			for j := 0; j < p.n; j++ {
				ddq += p.dInv.At(k, j) * rhs[j]
			}
			mb.Ddq[l.v+k] = ddq
			a = a.add(p.s[k].scale(ddq))
		}
		p.a = a
	}
}

// invertDofs inverts the leading n×n block of d. A block with no inertia
// inverts to zero so the joint does not accelerate.
func invertDofs(d mgl64.Mat3, n int) mgl64.Mat3 {
	switch n {
	case 1:
		if math.Abs(d.At(0, 0)) <= geom.Epsilon {
			return mgl64.Mat3{}
		}
		var out mgl64.Mat3
		out.Set(0, 0, 1/d.At(0, 0))
		return out
	case 3:
		if math.Abs(d.Det()) <= geom.Epsilon {
			return mgl64.Mat3{}
		}
		return d.Inv()
	}
	return mgl64.Mat3{}
}

// Step advances the joint state by dt with semi-implicit Euler: velocities
// first, then positions from the new velocities. A non-finite result
// restores the previous positions, zeroes the velocities and reports
// ErrNonFiniteState.
func (mb *Multibody) Step(gravity mgl64.Vec3, dt float64) error {
	if len(mb.Links) == 0 {
		return nil
	}
	mb.Accelerations(gravity)
	prev := append([]float64(nil), mb.Q...)

	ok := true
	for k := range mb.Dq {
		mb.Dq[k] += mb.Ddq[k] * dt
		ok = ok && geom.Finite(mb.Dq[k])
	}
	for i := range mb.Links {
		l := &mb.Links[i]
		dq := mb.Dq[l.v:]
		q := mb.Q[l.q:]
		switch l.Joint {
		case Revolute, Prismatic:
			q[0] += dq[0] * dt
			ok = ok && geom.Finite(q[0])
		case Spherical:
			r := mgl64.Quat{W: q[0], V: mgl64.Vec3{q[1], q[2], q[3]}}
			// dq is the child-frame angular velocity
			w := r.Rotate(mgl64.Vec3{dq[0], dq[1], dq[2]})
			r = geom.IntegrateRotation(r, w, dt)
			q[0], q[1], q[2], q[3] = r.W, r.V[0], r.V[1], r.V[2]
			ok = ok && geom.FiniteQuat(r)
		}
	}
	if !ok {
		copy(mb.Q, prev)
		for k := range mb.Dq {
			mb.Dq[k] = 0
			mb.Ddq[k] = 0
		}
		mb.UpdateKinematics()
		return fmt.Errorf("%d links: %w", len(mb.Links), ErrNonFiniteState)
	}
	mb.UpdateKinematics()
	return nil
}
