package solver

import (
	"errors"
	"math"
	"testing"

	"github.com/gekko3d/rigid/arena"
	"github.com/gekko3d/rigid/broadphase"
	"github.com/gekko3d/rigid/geom"
	"github.com/gekko3d/rigid/integrator"
	"github.com/gekko3d/rigid/narrowphase"
	"github.com/gekko3d/rigid/store"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dt = 1.0 / 60

var gravity = mgl64.Vec3{0, -9.81, 0}

// rig steps a handful of bodies through the same phases the world uses,
// without the broad phase.
type rig struct {
	t        *testing.T
	s        *store.Store
	solver   *Solver
	cache    *narrowphase.Cache
	pairs    [][2]arena.EntityId
	joints   []*Joint
	material geom.PairMaterial
	gravity  mgl64.Vec3
	frame    uint64
	last     Report
}

func newRig(t *testing.T) *rig {
	return &rig{
		t:        t,
		s:        store.New(),
		solver:   New(DefaultParams()),
		cache:    narrowphase.NewCache(0.05),
		material: geom.Combine(geom.DefaultMaterial(), geom.DefaultMaterial()),
		gravity:  gravity,
	}
}

// body adds a body with one collider and returns both handles.
func (r *rig) body(d store.BodyDesc, shape geom.Shape) (arena.EntityId, arena.EntityId) {
	id, err := r.s.AddBody(d)
	require.NoError(r.t, err)
	cid, err := r.s.AddCollider(store.NewColliderDesc(id, shape))
	require.NoError(r.t, err)
	return id, cid
}

func (r *rig) collide(a, b arena.EntityId) {
	r.pairs = append(r.pairs, [2]arena.EntityId{a, b})
}

func (r *rig) index(id arena.EntityId) int {
	i, err := r.s.Bodies.Index(id)
	require.NoError(r.t, err)
	return i
}

func (r *rig) view(id arena.EntityId) store.BodyView {
	v, err := r.s.Bodies.Get(id)
	require.NoError(r.t, err)
	return v
}

func (r *rig) island() Island {
	var is Island
	c := &r.s.Colliders
	for _, p := range r.pairs {
		ia, _ := c.Index(p[0])
		ib, _ := c.Index(p[1])
		r.s.UpdateCollider(ia)
		r.s.UpdateCollider(ib)
		contact, ok := narrowphase.Collide(
			narrowphase.Object{Shape: c.Shape[ia], Xf: c.World[ia]},
			narrowphase.Object{Shape: c.Shape[ib], Xf: c.World[ib]}, 0.02)
		key := broadphase.Pair{A: p[0], B: p[1]}
		if !ok {
			r.cache.Remove(key)
			continue
		}
		ba, bb := c.BodyIndex[ia], c.BodyIndex[ib]
		m := r.cache.Update(key, c.Body[ia], c.Body[ib],
			r.s.Bodies.Transform(ba), r.s.Bodies.Transform(bb), contact, r.material, false, r.frame)
		is.Manifolds = append(is.Manifolds, m)
	}
	is.Joints = r.joints
	return is
}

func (r *rig) step() {
	r.frame++
	integrator.ApplyForces(&r.s.Bodies, r.gravity, dt, 1)
	is := r.island()
	r.last = r.solver.SolveVelocities(&r.s.Bodies, is)
	integrator.IntegratePositions(&r.s.Bodies, dt, integrator.Limits{}, 1)
	pos := r.solver.SolvePositions(&r.s.Bodies, is)
	r.last.PositionError = pos.PositionError
}

func (r *rig) run(n int) {
	for i := 0; i < n; i++ {
		r.step()
	}
}

func box(t *testing.T, x, y, z float64) geom.Box {
	b, err := geom.NewBox(mgl64.Vec3{x, y, z})
	require.NoError(t, err)
	return b
}

func sphere(t *testing.T, radius float64) geom.Sphere {
	s, err := geom.NewSphere(radius)
	require.NoError(t, err)
	return s
}

func (r *rig) ground() arena.EntityId {
	_, cid := r.body(store.StaticBody(mgl64.Vec3{0, -0.5, 0}), box(r.t, 20, 0.5, 20))
	return cid
}

func TestParams_Validate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())
	p := DefaultParams()
	p.Dt = 0
	assert.Error(t, p.Validate())
	p = DefaultParams()
	p.VelocityIterations = 0
	assert.Error(t, p.Validate())
	p = DefaultParams()
	p.PredictiveIterations = -1
	assert.Error(t, p.Validate())
	p = DefaultParams()
	p.Baumgarte = math.NaN()
	assert.Error(t, p.Validate())
}

func TestContact_BoxRestsOnGround(t *testing.T) {
	r := newRig(t)
	ground := r.ground()
	id, cid := r.body(store.DynamicBody(mgl64.Vec3{0, 0.5, 0}), box(t, 0.5, 0.5, 0.5))
	r.collide(cid, ground)

	r.run(120)
	v := r.view(id)
	assert.InDelta(t, 0.5, v.Position.Y(), 0.02)
	assert.Less(t, v.LinearVelocity.Len(), 0.05)
	assert.Less(t, v.AngularVelocity.Len(), 0.05)
	assert.Equal(t, 1, r.last.Manifolds)
	assert.Equal(t, 4, r.last.Points)
	assert.Empty(t, r.last.Faults)
}

func TestContact_WarmStartCarriesWeight(t *testing.T) {
	r := newRig(t)
	ground := r.ground()
	id, cid := r.body(store.DynamicBody(mgl64.Vec3{0, 0.5, 0}), box(t, 0.5, 0.5, 0.5))
	r.collide(cid, ground)
	r.run(60)

	m, ok := r.cache.Get(broadphase.Pair{A: cid, B: ground})
	require.True(t, ok)
	total := 0.0
	for _, p := range m.Slice() {
		assert.GreaterOrEqual(t, p.NormalImpulse, 0.0)
		total += p.NormalImpulse
	}
	weight := r.view(id).Mass * 9.81 * dt
	assert.InDelta(t, weight, total, 0.1*weight)
	assert.InDelta(t, weight, r.last.NormalImpulse, 0.1*weight)
}

func TestContact_FlatBoxLandsWithoutDrift(t *testing.T) {
	r := newRig(t)
	ground := r.ground()
	id, cid := r.body(store.DynamicBody(mgl64.Vec3{0, 1.5, 0}), box(t, 0.5, 0.5, 0.5))
	r.collide(cid, ground)

	r.run(240)
	v := r.view(id)
	assert.InDelta(t, 0.5, v.Position.Y(), 0.02)
	assert.InDelta(t, 0, v.Position.X(), 1e-3)
	assert.InDelta(t, 0, v.Position.Z(), 1e-3)
	assert.InDelta(t, 1, math.Abs(v.Rotation.W), 1e-3)
	assert.InDelta(t, 0, v.Rotation.V.Y(), 1e-3)
}

func TestContact_FrictionSharedByLoad(t *testing.T) {
	r := newRig(t)
	ground := r.ground()
	d := store.DynamicBody(mgl64.Vec3{0, 0.5, 0})
	d.LinearVelocity = mgl64.Vec3{2, 0, 0}
	_, cid := r.body(d, box(t, 0.5, 0.5, 0.5))
	r.collide(cid, ground)
	r.step()

	m, ok := r.cache.Get(broadphase.Pair{A: cid, B: ground})
	require.True(t, ok)
	var sum mgl64.Vec3
	total := 0.0
	for _, p := range m.Slice() {
		sum = sum.Add(p.TangentImpulse)
		total += p.NormalImpulse
	}
	// sliding along +x: friction pushes back, bounded by the Coulomb disc
	assert.Negative(t, sum.X())
	assert.LessOrEqual(t, sum.Len(), 0.6*total+1e-9)
	assert.InDelta(t, sum.Len(), r.last.FrictionImpulse, 1e-9)
}

func TestContact_ColdStartStillSettles(t *testing.T) {
	r := newRig(t)
	r.solver.Params.WarmStart = false
	ground := r.ground()
	id, cid := r.body(store.DynamicBody(mgl64.Vec3{0, 0.5, 0}), box(t, 0.5, 0.5, 0.5))
	r.collide(cid, ground)
	r.run(120)
	assert.InDelta(t, 0.5, r.view(id).Position.Y(), 0.03)
}

func TestContact_FrictionStopsSlidingBox(t *testing.T) {
	r := newRig(t)
	ground := r.ground()
	d := store.DynamicBody(mgl64.Vec3{0, 0.5, 0})
	d.LinearVelocity = mgl64.Vec3{2, 0, 0}
	id, cid := r.body(d, box(t, 0.5, 0.5, 0.5))
	r.collide(cid, ground)

	// mu 0.5 decelerates at about 4.9 m/s², stopping within half a second
	r.run(60)
	v := r.view(id)
	assert.Less(t, math.Abs(v.LinearVelocity.X()), 0.05)
	assert.Greater(t, v.Position.X(), 0.2)
	assert.Less(t, v.Position.X(), 0.6)
}

func TestContact_FrictionlessBoxKeepsSliding(t *testing.T) {
	r := newRig(t)
	r.material = geom.PairMaterial{}
	ground := r.ground()
	d := store.DynamicBody(mgl64.Vec3{0, 0.5, 0})
	d.LinearVelocity = mgl64.Vec3{2, 0, 0}
	id, cid := r.body(d, box(t, 0.5, 0.5, 0.5))
	r.collide(cid, ground)

	r.run(30)
	assert.InDelta(t, 2, r.view(id).LinearVelocity.X(), 1e-3)
}

func TestContact_AnisotropicFrictionFollowsDirection(t *testing.T) {
	slide := func(v mgl64.Vec3) mgl64.Vec3 {
		r := newRig(t)
		r.material.Anisotropy = mgl64.Vec3{1, 1, 0.2}
		ground := r.ground()
		d := store.DynamicBody(mgl64.Vec3{0, 0.5, 0})
		d.LinearVelocity = v
		id, cid := r.body(d, box(t, 0.5, 0.5, 0.5))
		r.collide(cid, ground)
		r.run(60)
		return r.view(id).LinearVelocity
	}
	alongX := slide(mgl64.Vec3{2, 0, 0})
	alongZ := slide(mgl64.Vec3{0, 0, 2})
	assert.Less(t, math.Abs(alongX.X()), 0.05)
	// a fifth of the friction: about 0.98 m/s² of deceleration
	assert.InDelta(t, 1.02, alongZ.Z(), 0.15)
	assert.InDelta(t, 0, alongZ.X(), 1e-6)
}

func TestContact_StaticFrictionHoldsOnSlope(t *testing.T) {
	r := newRig(t)
	ground := r.ground()
	id, cid := r.body(store.DynamicBody(mgl64.Vec3{0, 0.5, 0}), box(t, 0.5, 0.5, 0.5))
	r.collide(cid, ground)
	// tilt gravity by 20°: tan 20° ≈ 0.36 stays under mu 0.6
	angle := 20.0 / 180 * math.Pi
	r.gravity = mgl64.Vec3{9.81 * math.Sin(angle), -9.81 * math.Cos(angle), 0}

	r.run(120)
	v := r.view(id)
	assert.InDelta(t, 0, v.Position.X(), 0.01)
	assert.Less(t, v.LinearVelocity.Len(), 0.05)
}

func TestContact_Restitution(t *testing.T) {
	cases := []struct {
		name  string
		speed float64
		want  float64
	}{
		{"bounces above threshold", -5, 2.5},
		{"rests below threshold", -0.5, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRig(t)
			r.material = geom.PairMaterial{Restitution: 0.5}
			ground := r.ground()
			d := store.DynamicBody(mgl64.Vec3{0, 0.5, 0})
			d.LinearVelocity = mgl64.Vec3{0, tc.speed, 0}
			id, cid := r.body(d, sphere(t, 0.5))
			r.collide(cid, ground)

			rep := r.solver.SolveVelocities(&r.s.Bodies, r.island())
			assert.Empty(t, rep.Faults)
			assert.InDelta(t, tc.want, r.view(id).LinearVelocity.Y(), 1e-6)
		})
	}
}

func TestContact_SpeculativeClosesGapExactly(t *testing.T) {
	r := newRig(t)
	r.material = geom.PairMaterial{}
	ground := r.ground()
	d := store.DynamicBody(mgl64.Vec3{0, 0.51, 0})
	d.LinearVelocity = mgl64.Vec3{0, -12, 0}
	id, cid := r.body(d, sphere(t, 0.5))
	r.collide(cid, ground)

	is := r.island()
	require.Len(t, is.Manifolds, 1)
	require.Less(t, is.Manifolds[0].Points[0].Depth, 0.0)
	r.solver.SolveVelocities(&r.s.Bodies, is)
	// a gap of 0.01 allows 0.6 m/s of approach in one step
	assert.InDelta(t, -0.6, r.view(id).LinearVelocity.Y(), 1e-6)
}

func TestContact_SpeculativeIgnoresSlowApproach(t *testing.T) {
	r := newRig(t)
	ground := r.ground()
	d := store.DynamicBody(mgl64.Vec3{0, 0.51, 0})
	d.LinearVelocity = mgl64.Vec3{0, -0.3, 0}
	id, cid := r.body(d, sphere(t, 0.5))
	r.collide(cid, ground)

	rep := r.solver.SolveVelocities(&r.s.Bodies, r.island())
	assert.InDelta(t, -0.3, r.view(id).LinearVelocity.Y(), 1e-9)
	assert.Zero(t, rep.NormalImpulse)
}

func TestSolvePositions_PushesOutOfPenetration(t *testing.T) {
	r := newRig(t)
	ground := r.ground()
	id, cid := r.body(store.DynamicBody(mgl64.Vec3{0, 0.4, 0}), box(t, 0.5, 0.5, 0.5))
	r.collide(cid, ground)

	rep := r.solver.SolvePositions(&r.s.Bodies, r.island())
	v := r.view(id)
	assert.Greater(t, v.Position.Y(), 0.4)
	assert.LessOrEqual(t, v.Position.Y(), 0.5)
	assert.Greater(t, rep.PositionError, 0.0)
	assert.Zero(t, v.LinearVelocity.Len())
}

func TestContact_PredictiveCorrectionSeparates(t *testing.T) {
	solve := func(iterations int) (float64, Report) {
		r := newRig(t)
		r.solver.Params.PredictiveIterations = iterations
		ground := r.ground()
		id, cid := r.body(store.DynamicBody(mgl64.Vec3{0, 0.4, 0}), box(t, 0.5, 0.5, 0.5))
		r.collide(cid, ground)
		rep := r.solver.SolveVelocities(&r.s.Bodies, r.island())
		return r.view(id).LinearVelocity.Y(), rep
	}
	v, rep := solve(0)
	assert.InDelta(t, 0, v, 1e-6)
	assert.Zero(t, rep.PredictiveImpulse)

	// 0.1 of penetration would remain after the step; the correction
	// removes all of it but the slop
	v, rep = solve(4)
	assert.Greater(t, rep.PredictiveImpulse, 0.0)
	assert.InDelta(t, (0.1-DefaultParams().PredictiveSlop)/dt, v, 0.5)
}

func TestContact_RollingResistanceSlowsSphere(t *testing.T) {
	roll := func(coeff float64) float64 {
		r := newRig(t)
		r.material.RollingFriction = coeff
		ground := r.ground()
		d := store.DynamicBody(mgl64.Vec3{0, 0.5, 0})
		d.LinearVelocity = mgl64.Vec3{3, 0, 0}
		d.AngularVelocity = mgl64.Vec3{0, 0, -6}
		id, cid := r.body(d, sphere(t, 0.5))
		r.collide(cid, ground)
		r.run(60)
		return r.view(id).LinearVelocity.X()
	}
	free := roll(0)
	damped := roll(0.05)
	assert.InDelta(t, 3, free, 0.05)
	assert.Less(t, damped, free-0.1)
	assert.GreaterOrEqual(t, damped, 0.0)
}

func TestContact_TorsionalFrictionStopsSpin(t *testing.T) {
	spin := func(coeff float64) float64 {
		r := newRig(t)
		r.material.TorsionalFriction = coeff
		ground := r.ground()
		d := store.DynamicBody(mgl64.Vec3{0, 0.5, 0})
		d.AngularVelocity = mgl64.Vec3{0, 5, 0}
		id, cid := r.body(d, sphere(t, 0.5))
		r.collide(cid, ground)
		r.run(60)
		return r.view(id).AngularVelocity.Y()
	}
	assert.InDelta(t, 5, spin(0), 1e-6)
	assert.Less(t, spin(0.1), 1.0)
}

func TestContact_NonFiniteVelocityReportsFault(t *testing.T) {
	r := newRig(t)
	ground := r.ground()
	id, cid := r.body(store.DynamicBody(mgl64.Vec3{0, 0.5, 0}), box(t, 0.5, 0.5, 0.5))
	r.collide(cid, ground)
	is := r.island()
	r.s.Bodies.LinearVelocity[r.index(id)] = mgl64.Vec3{math.NaN(), 0, 0}

	rep := r.solver.SolveVelocities(&r.s.Bodies, is)
	require.NotEmpty(t, rep.Faults)
	f := rep.Faults[0]
	assert.Equal(t, "contact", f.Kind)
	assert.Equal(t, id, f.BodyA)
	assert.True(t, errors.Is(f, ErrNumericalFault))
	for _, p := range is.Manifolds[0].Slice() {
		assert.False(t, math.IsNaN(p.NormalImpulse))
	}

	// the integrator resets the body instead of spreading the NaN
	resets := integrator.IntegratePositions(&r.s.Bodies, dt, integrator.Limits{}, 1)
	assert.Equal(t, 1, resets)
	assert.True(t, geom.FiniteVec(r.view(id).Position))
}

func TestReport_Merge(t *testing.T) {
	a := Report{Manifolds: 1, Points: 2, NormalImpulse: 1, MaxPenetration: 0.1}
	a.Merge(Report{Manifolds: 2, Points: 4, NormalImpulse: 2, MaxPenetration: 0.05, PositionError: 0.01, Faults: []Fault{{Kind: "joint"}}})
	assert.Equal(t, 3, a.Manifolds)
	assert.Equal(t, 6, a.Points)
	assert.Equal(t, 3.0, a.NormalImpulse)
	assert.Equal(t, 0.1, a.MaxPenetration)
	assert.Equal(t, 0.01, a.PositionError)
	assert.Len(t, a.Faults, 1)
}
