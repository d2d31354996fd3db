package rigid

import (
	"errors"
	"math"
	"testing"

	"github.com/gekko3d/rigid/geom"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addAnchor(t *testing.T, w *World) EntityId {
	id, err := w.AddBody(StaticBody(mgl64.Vec3{}))
	require.NoError(t, err)
	return id
}

func TestJoints_PendulumSwingsAroundPivot(t *testing.T) {
	w := newTestWorld(t, nil)
	pivot := addAnchor(t, w)
	bob, _ := addSphere(t, w, mgl64.Vec3{1, 0, 0}, 0.25)
	_, err := w.AddJoint(JointDesc{
		Kind:  RevoluteJoint,
		BodyA: pivot,
		BodyB: bob,
		Axis:  mgl64.Vec3{0, 0, 1},
	})
	require.NoError(t, err)

	lowest := 0.0
	for i := 0; i < 90; i++ {
		run(t, w, 1)
		p := body(t, w, bob).Position
		assert.InDelta(t, 1, p.Len(), 0.02)
		assert.InDelta(t, 0, p.Z(), 1e-6)
		lowest = math.Min(lowest, p.Y())
	}
	assert.Less(t, lowest, -0.9)
}

func TestJoints_DistanceDefaultsToCurrentLength(t *testing.T) {
	w := newTestWorld(t, nil)
	pivot := addAnchor(t, w)
	bob, _ := addSphere(t, w, mgl64.Vec3{0, -2, 0}, 0.25)
	id, err := w.AddJoint(JointDesc{
		Kind:    DistanceJoint,
		BodyA:   pivot,
		BodyB:   bob,
		AnchorB: mgl64.Vec3{0, -2, 0},
	})
	require.NoError(t, err)

	j, err := w.Joint(id)
	require.NoError(t, err)
	assert.InDelta(t, 2, j.Length, 1e-12)

	require.NoError(t, w.ApplyImpulse(bob, mgl64.Vec3{50, 0, 0}))
	run(t, w, 60)
	assert.InDelta(t, 2, body(t, w, bob).Position.Len(), 0.02)
}

func TestJoints_MotorSpinsWheel(t *testing.T) {
	w := newTestWorld(t, func(cfg *Config) { cfg.Gravity = mgl64.Vec3{} })
	pivot := addAnchor(t, w)
	wheel, _ := addSphere(t, w, mgl64.Vec3{}, 0.5)
	id, err := w.AddJoint(JointDesc{Kind: RevoluteJoint, BodyA: pivot, BodyB: wheel, Axis: mgl64.Vec3{0, 0, 1}})
	require.NoError(t, err)

	require.NoError(t, w.SetJointMotor(id, Motor{Enabled: true, Speed: 2, MaxForce: 1e6}))
	run(t, w, 30)

	v := body(t, w, wheel)
	assert.InDelta(t, 2, v.AngularVelocity.Z(), 1e-3)
	assert.InDelta(t, 0, v.Position.Len(), 1e-3)

	err = w.SetJointMotor(id, Motor{Enabled: true, Speed: 1, MaxForce: -1})
	assert.True(t, errors.Is(err, ErrInvalidJoint))
	j, err := w.Joint(id)
	require.NoError(t, err)
	assert.Equal(t, 2.0, j.Motor.Speed)
}

func TestJoints_SetLimitValidates(t *testing.T) {
	w := newTestWorld(t, nil)
	pivot := addAnchor(t, w)
	bob, _ := addSphere(t, w, mgl64.Vec3{1, 0, 0}, 0.25)
	id, err := w.AddJoint(JointDesc{Kind: RevoluteJoint, BodyA: pivot, BodyB: bob, Axis: mgl64.Vec3{0, 0, 1}})
	require.NoError(t, err)

	assert.True(t, errors.Is(w.SetJointLimit(id, Limit{Enabled: true, Lower: 1, Upper: -1}), ErrInvalidJoint))
	assert.True(t, errors.Is(w.SetJointLimit(id, Limit{Enabled: true, Lower: math.NaN()}), ErrNonFiniteInput))

	require.NoError(t, w.SetJointLimit(id, Limit{Enabled: true, Lower: -0.5, Upper: 0.5}))
	run(t, w, 120)
	p := body(t, w, bob).Position
	assert.GreaterOrEqual(t, math.Atan2(p.Y(), p.X()), -0.55)
}

func TestJoints_RevoluteLimitHoldsLongArm(t *testing.T) {
	w := newTestWorld(t, nil)
	pivot := addAnchor(t, w)
	bob, _ := addSphere(t, w, mgl64.Vec3{1, 0, 0}, 0.1)
	_, err := w.AddJoint(JointDesc{
		Kind:  RevoluteJoint,
		BodyA: pivot,
		BodyB: bob,
		Axis:  mgl64.Vec3{0, 0, 1},
		Limit: Limit{Enabled: true, Lower: -0.5, Upper: 0.5},
	})
	require.NoError(t, err)

	lowest := 0.0
	for i := 0; i < 120; i++ {
		run(t, w, 1)
		q := body(t, w, bob).Rotation
		lowest = math.Min(lowest, 2*math.Atan2(q.V.Z(), q.W))
	}
	assert.GreaterOrEqual(t, lowest, -0.55)
	p := body(t, w, bob).Position
	assert.InDelta(t, 1, p.Len(), 0.01)
	assert.InDelta(t, -0.5, math.Atan2(p.Y(), p.X()), 0.05)
}

func TestJoints_AddRejectsBadDescriptions(t *testing.T) {
	w := newTestWorld(t, nil)
	pivot := addAnchor(t, w)
	bob, _ := addSphere(t, w, mgl64.Vec3{1, 0, 0}, 0.25)

	_, err := w.AddJoint(JointDesc{Kind: FixedJoint, BodyA: bob, BodyB: bob})
	assert.True(t, errors.Is(err, ErrInvalidJoint))

	_, err = w.AddJoint(JointDesc{Kind: RevoluteJoint, BodyA: pivot, BodyB: bob})
	assert.True(t, errors.Is(err, ErrInvalidJoint))

	_, err = w.AddJoint(JointDesc{Kind: FixedJoint, BodyA: pivot, BodyB: bob, AnchorA: mgl64.Vec3{math.Inf(1), 0, 0}})
	assert.True(t, errors.Is(err, ErrNonFiniteInput))

	_, err = w.AddJoint(JointDesc{Kind: FixedJoint, BodyA: pivot, BodyB: EntityId{Index: 9, Generation: 1}})
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(err, ErrInvalidJoint))
	assert.Empty(t, w.Joints())
}

func TestJoints_RemovedWithBody(t *testing.T) {
	w := newTestWorld(t, nil)
	pivot := addAnchor(t, w)
	bob, _ := addSphere(t, w, mgl64.Vec3{1, 0, 0}, 0.25)
	id, err := w.AddJoint(JointDesc{Kind: FixedJoint, BodyA: pivot, BodyB: bob, AnchorA: mgl64.Vec3{1, 0, 0}, AnchorB: mgl64.Vec3{1, 0, 0}})
	require.NoError(t, err)
	require.Equal(t, []EntityId{id}, w.Joints())

	require.NoError(t, w.RemoveBody(bob))
	assert.Empty(t, w.Joints())
	_, err = w.Joint(id)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(w.RemoveJoint(id), ErrNotFound))
}

func sliderOnGround(t *testing.T, collide bool) (*World, EntityId) {
	w := newTestWorld(t, nil)
	ground, _ := addGround(t, w)
	shape, err := geom.NewBox(mgl64.Vec3{0.5, 0.5, 0.5})
	require.NoError(t, err)
	crate, _ := addShape(t, w, DynamicBody(mgl64.Vec3{0, 0.5, 0}), shape, geom.DefaultMaterial())
	_, err = w.AddJoint(JointDesc{
		Kind:             PrismaticJoint,
		BodyA:            ground,
		BodyB:            crate,
		AnchorA:          mgl64.Vec3{0, 0.5, 0},
		AnchorB:          mgl64.Vec3{0, 0.5, 0},
		Axis:             mgl64.Vec3{0, 1, 0},
		CollideConnected: collide,
	})
	require.NoError(t, err)
	return w, crate
}

func TestJoints_ConnectedBodiesSkipContacts(t *testing.T) {
	w, crate := sliderOnGround(t, false)
	run(t, w, 30)
	assert.Less(t, body(t, w, crate).Position.Y(), 0.0)
	assert.Empty(t, w.Contacts())

	w, crate = sliderOnGround(t, true)
	run(t, w, 30)
	assert.InDelta(t, 0.5, body(t, w, crate).Position.Y(), 0.02)
	assert.NotEmpty(t, w.Contacts())
}
