package solver

import (
	"github.com/gekko3d/rigid/geom"
	"github.com/gekko3d/rigid/store"
	"github.com/go-gl/mathgl/mgl64"
)

// state is the island-local copy of one body. Static and kinematic bodies
// have zero inverse mass and are never written back.
type state struct {
	slot    int
	dynamic bool
	invMass float64
	invI    mgl64.Mat3
	v, w    mgl64.Vec3
	c       mgl64.Vec3
	q       mgl64.Quat

	localCenter mgl64.Vec3
	invLocalI   mgl64.Mat3
}

// states maps body slots to island-local states in first-use order.
type states struct {
	list  []state
	index map[int]int
}

func newStates(n int) *states {
	return &states{list: make([]state, 0, n), index: make(map[int]int, n)}
}

func (s *states) get(b *store.Bodies, slot int) int {
	if k, ok := s.index[slot]; ok {
		return k
	}
	st := state{
		slot:        slot,
		dynamic:     b.Type[slot] == store.Dynamic,
		invMass:     b.InvMass[slot],
		invI:        b.InvWorldInertia[slot],
		v:           b.LinearVelocity[slot],
		w:           b.AngularVelocity[slot],
		c:           b.WorldCenter[slot],
		q:           b.Rotation[slot],
		localCenter: b.LocalCenter[slot],
		invLocalI:   b.InvLocalInertia[slot],
	}
	if !st.dynamic {
		st.invMass = 0
		st.invI = mgl64.Mat3{}
	}
	k := len(s.list)
	s.list = append(s.list, st)
	s.index[slot] = k
	return k
}

func (s *states) storeVelocities(b *store.Bodies) {
	for _, st := range s.list {
		if !st.dynamic {
			continue
		}
		b.LinearVelocity[st.slot] = st.v
		b.AngularVelocity[st.slot] = st.w
	}
}

func (s *states) storePoses(b *store.Bodies) {
	for _, st := range s.list {
		if !st.dynamic {
			continue
		}
		b.SetCenterPose(st.slot, st.c, st.q)
	}
}

// transform is the body origin pose.
func (st *state) transform() geom.Transform {
	return geom.Transform{Position: st.c.Sub(st.q.Rotate(st.localCenter)), Rotation: st.q}
}

// shift moves the pose by a linear and an angular correction and keeps
// the world inertia in step with the new orientation.
func (st *state) shift(dc, dq mgl64.Vec3) {
	st.c = st.c.Add(dc)
	st.q = geom.IntegrateRotation(st.q, dq, 1)
	st.invI = geom.RotateInertia(st.q, st.invLocalI)
}

// jacobian is one scalar constraint row: Cdot = linA·vA + angA·wA +
// linB·vB + angB·wB.
type jacobian struct {
	linA, angA, linB, angB mgl64.Vec3
}

// pointRow is the row constraining the relative velocity of two anchor
// points along dir.
func pointRow(rA, rB, dir mgl64.Vec3) jacobian {
	return jacobian{
		linA: dir.Mul(-1),
		angA: rA.Cross(dir).Mul(-1),
		linB: dir,
		angB: rB.Cross(dir),
	}
}

// angularRow constrains the relative angular velocity about axis.
func angularRow(axis mgl64.Vec3) jacobian {
	return jacobian{angA: axis.Mul(-1), angB: axis}
}

func (j *jacobian) velocity(a, b *state) float64 {
	return j.linA.Dot(a.v) + j.angA.Dot(a.w) + j.linB.Dot(b.v) + j.angB.Dot(b.w)
}

// coupling is J M⁻¹ Oᵀ, how an impulse along o moves the velocity of j.
func (j *jacobian) coupling(o *jacobian, a, b *state) float64 {
	return a.invMass*j.linA.Dot(o.linA) + j.angA.Dot(a.invI.Mul3x1(o.angA)) +
		b.invMass*j.linB.Dot(o.linB) + j.angB.Dot(b.invI.Mul3x1(o.angB))
}

// mass returns the effective mass 1/(J M⁻¹ Jᵀ), or 0 when the row has no
// mobility.
func (j *jacobian) mass(a, b *state) float64 {
	k := j.coupling(j, a, b)
	if k <= geom.Epsilon {
		return 0
	}
	return 1 / k
}

func (j *jacobian) angular() bool {
	return j.linA == (mgl64.Vec3{}) && j.linB == (mgl64.Vec3{})
}

func (j *jacobian) apply(a, b *state, lambda float64) {
	a.v = a.v.Add(j.linA.Mul(a.invMass * lambda))
	a.w = a.w.Add(a.invI.Mul3x1(j.angA).Mul(lambda))
	b.v = b.v.Add(j.linB.Mul(b.invMass * lambda))
	b.w = b.w.Add(b.invI.Mul3x1(j.angB).Mul(lambda))
}

// correct applies a position-level impulse along the row.
func (j *jacobian) correct(a, b *state, lambda float64) {
	if a.dynamic {
		a.shift(j.linA.Mul(a.invMass*lambda), a.invI.Mul3x1(j.angA).Mul(lambda))
	}
	if b.dynamic {
		b.shift(j.linB.Mul(b.invMass*lambda), b.invI.Mul3x1(j.angB).Mul(lambda))
	}
}
