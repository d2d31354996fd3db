package rigid

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func weightless(cfg *Config) { cfg.Gravity = mgl64.Vec3{} }

func TestForces_DirectionalGravity(t *testing.T) {
	w := newTestWorld(t, weightless)
	a, _ := addSphere(t, w, mgl64.Vec3{}, 0.5)
	b, _ := addSphere(t, w, mgl64.Vec3{5, 0, 0}, 0.5)
	id := w.AddForceGenerator(DirectionalGravity{Acceleration: mgl64.Vec3{0, -2, 0}, Bodies: []EntityId{a}})

	run(t, w, 60)
	assert.InDelta(t, -2, body(t, w, a).LinearVelocity.Y(), 1e-9)
	assert.Equal(t, mgl64.Vec3{}, body(t, w, b).LinearVelocity)

	require.NoError(t, w.RemoveForceGenerator(id))
	run(t, w, 30)
	assert.InDelta(t, -2, body(t, w, a).LinearVelocity.Y(), 1e-9)
	assert.Error(t, w.RemoveForceGenerator(id))
}

func TestForces_GravityWell(t *testing.T) {
	w := newTestWorld(t, weightless)
	orbiter, _ := addSphere(t, w, mgl64.Vec3{10, 0, 0}, 0.5)
	w.AddForceGenerator(GravityWell{Strength: 100, MinDistance: 1})

	run(t, w, 1)

	v := body(t, w, orbiter).LinearVelocity
	assert.InDelta(t, -dt, v.X(), 1e-9)
	assert.InDelta(t, 0, v.Y(), 1e-12)
}

func TestForces_DragSlowsBody(t *testing.T) {
	w := newTestWorld(t, weightless)
	d := DynamicBody(mgl64.Vec3{})
	d.LinearVelocity = mgl64.Vec3{10, 0, 0}
	d.AngularVelocity = mgl64.Vec3{0, 3, 0}
	shape := mustSphere(t, 0.5)
	ball, _ := addShape(t, w, d, shape, defaultMaterial())
	mass := body(t, w, ball).Mass
	w.AddForceGenerator(Drag{Linear: mass, Quadratic: 0.1 * mass, Angular: 50})

	run(t, w, 60)

	v := body(t, w, ball)
	assert.Greater(t, v.LinearVelocity.X(), 0.0)
	assert.Less(t, v.LinearVelocity.X(), 3.0)
	assert.Less(t, v.AngularVelocity.Y(), 3.0)
}

func TestForces_SpringToWorldPoint(t *testing.T) {
	w := newTestWorld(t, func(cfg *Config) {
		weightless(cfg)
		cfg.Sleep.Enabled = false
	})
	ball, _ := addSphere(t, w, mgl64.Vec3{3, 0, 0}, 0.5)
	mass := body(t, w, ball).Mass
	w.AddForceGenerator(Spring{BodyA: ball, RestLength: 1, Stiffness: 50 * mass, Damping: 5 * mass})

	run(t, w, 1)
	assert.InDelta(t, -100*dt, body(t, w, ball).LinearVelocity.X(), 1e-9)

	run(t, w, 600)
	assert.InDelta(t, 1, body(t, w, ball).Position.X(), 0.01)
}

func TestForces_SpringBetweenBodies(t *testing.T) {
	w := newTestWorld(t, weightless)
	a, _ := addSphere(t, w, mgl64.Vec3{-2, 0, 0}, 0.5)
	b, _ := addSphere(t, w, mgl64.Vec3{2, 0, 0}, 0.5)
	mass := body(t, w, a).Mass
	w.AddForceGenerator(Spring{BodyA: a, BodyB: b, RestLength: 2, Stiffness: 10 * mass})

	run(t, w, 1)

	va, vb := body(t, w, a).LinearVelocity, body(t, w, b).LinearVelocity
	assert.Greater(t, va.X(), 0.0)
	assert.InDelta(t, 0, va.Add(vb).Len(), 1e-12)
}

func TestForces_GeneratorsLeaveSleepersAlone(t *testing.T) {
	w := newTestWorld(t, nil)
	addGround(t, w)
	crate, _ := addBox(t, w, mgl64.Vec3{0, 0.5, 0}, 0.5)
	run(t, w, 120)
	require.Equal(t, Sleeping, body(t, w, crate).Sleep)

	w.AddForceGenerator(DirectionalGravity{Acceleration: mgl64.Vec3{0, 50, 0}})
	run(t, w, 10)

	v := body(t, w, crate)
	assert.Equal(t, Sleeping, v.Sleep)
	assert.InDelta(t, 0.5, v.Position.Y(), 0.02)
}

func TestForces_RegisteredThroughBuilder(t *testing.T) {
	calls := 0
	cfg := DefaultConfig()
	w, err := NewWorldBuilder().
		WithConfig(cfg).
		WithLogger(NewNopLogger()).
		WithForceGenerator(ForceGeneratorFunc(func(*World, float64) { calls++ })).
		Build()
	require.NoError(t, err)

	run(t, w, 3)
	assert.Equal(t, 3, calls)
}
