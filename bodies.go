package rigid

import (
	"fmt"

	"github.com/gekko3d/rigid/geom"
	"github.com/gekko3d/rigid/solver"
	"github.com/gekko3d/rigid/store"
	"github.com/go-gl/mathgl/mgl64"
)

type (
	BodyType   = store.BodyType
	SleepState = store.SleepState
)

const (
	Dynamic   = store.Dynamic
	Static    = store.Static
	Kinematic = store.Kinematic

	Awake    = store.Awake
	Sleeping = store.Sleeping
)

func DynamicBody(position mgl64.Vec3) BodyDesc   { return store.DynamicBody(position) }
func StaticBody(position mgl64.Vec3) BodyDesc    { return store.StaticBody(position) }
func KinematicBody(position mgl64.Vec3) BodyDesc { return store.KinematicBody(position) }

// NewColliderDesc attaches shape to body with the default material and
// filter.
func NewColliderDesc(body EntityId, shape geom.Shape) ColliderDesc {
	return store.NewColliderDesc(body, shape)
}

func (w *World) AddBody(d BodyDesc) (EntityId, error) {
	if !geom.FiniteVec(d.Position) || !geom.FiniteQuat(d.Rotation) ||
		!geom.FiniteVec(d.LinearVelocity) || !geom.FiniteVec(d.AngularVelocity) {
		return EntityId{}, fmt.Errorf("add body: %w", ErrNonFiniteInput)
	}
	id, err := w.store.AddBody(d)
	if err != nil {
		return EntityId{}, fmt.Errorf("add body: %w", err)
	}
	w.treeDirty = true
	return id, nil
}

// RemoveBody frees the body with its colliders and joints. Bodies it was
// touching are woken so they do not hang in mid-air.
func (w *World) RemoveBody(id EntityId) error {
	b := &w.store.Bodies
	if _, err := b.Index(id); err != nil {
		return err
	}
	for _, m := range w.cache.Manifolds() {
		other := m.BodyB
		switch id {
		case m.BodyA:
		case m.BodyB:
			other = m.BodyA
		default:
			continue
		}
		if i, err := b.Index(other); err == nil {
			b.Wake(i)
		}
	}
	var dead []EntityId
	w.joints.Each(func(jid EntityId, j *solver.Joint) bool {
		if j.BodyA == id || j.BodyB == id {
			dead = append(dead, jid)
		}
		return true
	})
	for _, jid := range dead {
		if err := w.RemoveJoint(jid); err != nil {
			return err
		}
	}
	w.detachBody(id)
	if _, err := w.store.RemoveBody(id); err != nil {
		return err
	}
	w.cache.RemoveBody(id)
	w.treeDirty = true
	return nil
}

func (w *World) Body(id EntityId) (BodyView, error) {
	return w.store.Bodies.Get(id)
}

// Bodies lists every live body in slot order.
func (w *World) Bodies() []BodyView {
	b := &w.store.Bodies
	out := make([]BodyView, 0, b.Len())
	for i := 0; i < b.Cap(); i++ {
		if b.Live(i) {
			out = append(out, b.View(i))
		}
	}
	return out
}

func (w *World) body(id EntityId) (int, error) {
	return w.store.Bodies.Index(id)
}

// SetBodyVelocity sets both velocities and wakes the body. Static bodies
// ignore it.
func (w *World) SetBodyVelocity(id EntityId, linear, angular mgl64.Vec3) error {
	i, err := w.body(id)
	if err != nil {
		return err
	}
	if !geom.FiniteVec(linear) || !geom.FiniteVec(angular) {
		return fmt.Errorf("velocity of %s: %w", id, ErrNonFiniteInput)
	}
	b := &w.store.Bodies
	if b.Type[i] == store.Static {
		return nil
	}
	b.LinearVelocity[i] = linear
	b.AngularVelocity[i] = angular
	b.Wake(i)
	return nil
}

// SetBodyTransform teleports the body origin. Contacts are rebuilt on the
// next step; joints will pull the body back if it breaks them.
func (w *World) SetBodyTransform(id EntityId, position mgl64.Vec3, rotation mgl64.Quat) error {
	i, err := w.body(id)
	if err != nil {
		return err
	}
	if !geom.FiniteVec(position) || !geom.FiniteQuat(rotation) || rotation.Len() < 1e-9 {
		return fmt.Errorf("transform of %s: %w", id, ErrNonFiniteInput)
	}
	b := &w.store.Bodies
	b.SetPose(i, position, rotation)
	b.Wake(i)
	w.store.UpdateBodyColliders(i)
	w.treeDirty = true
	return nil
}

// dynamic resolves a body that external forces may act on. Other bodies
// report ok=false without error.
func (w *World) dynamic(id EntityId, vs ...mgl64.Vec3) (int, bool, error) {
	i, err := w.body(id)
	if err != nil {
		return -1, false, err
	}
	for _, v := range vs {
		if !geom.FiniteVec(v) {
			return -1, false, fmt.Errorf("body %s: %w", id, ErrNonFiniteInput)
		}
	}
	return i, w.store.Bodies.Dynamic(i), nil
}

// ApplyForce accumulates a force through the centre of mass until the end
// of the next step.
func (w *World) ApplyForce(id EntityId, f mgl64.Vec3) error {
	i, ok, err := w.dynamic(id, f)
	if !ok {
		return err
	}
	b := &w.store.Bodies
	b.Force[i] = b.Force[i].Add(f)
	b.Wake(i)
	return nil
}

func (w *World) ApplyForceAtPoint(id EntityId, f, point mgl64.Vec3) error {
	i, ok, err := w.dynamic(id, f, point)
	if !ok {
		return err
	}
	w.addForceAt(i, f, point)
	w.store.Bodies.Wake(i)
	return nil
}

func (w *World) ApplyTorque(id EntityId, t mgl64.Vec3) error {
	i, ok, err := w.dynamic(id, t)
	if !ok {
		return err
	}
	b := &w.store.Bodies
	b.Torque[i] = b.Torque[i].Add(t)
	b.Wake(i)
	return nil
}

// ApplyImpulse changes the velocity immediately.
func (w *World) ApplyImpulse(id EntityId, j mgl64.Vec3) error {
	i, ok, err := w.dynamic(id, j)
	if !ok {
		return err
	}
	b := &w.store.Bodies
	b.LinearVelocity[i] = b.LinearVelocity[i].Add(j.Mul(b.InvMass[i]))
	b.Wake(i)
	return nil
}

func (w *World) ApplyImpulseAtPoint(id EntityId, j, point mgl64.Vec3) error {
	i, ok, err := w.dynamic(id, j, point)
	if !ok {
		return err
	}
	b := &w.store.Bodies
	r := point.Sub(b.WorldCenter[i])
	b.LinearVelocity[i] = b.LinearVelocity[i].Add(j.Mul(b.InvMass[i]))
	b.AngularVelocity[i] = b.AngularVelocity[i].Add(b.InvWorldInertia[i].Mul3x1(r.Cross(j)))
	b.Wake(i)
	return nil
}

func (w *World) WakeBody(id EntityId) error {
	i, err := w.body(id)
	if err != nil {
		return err
	}
	w.store.Bodies.Wake(i)
	return nil
}

// SetBodyCCD turns continuous collision on or off for one body.
func (w *World) SetBodyCCD(id EntityId, enabled bool) error {
	i, err := w.body(id)
	if err != nil {
		return err
	}
	w.store.Bodies.CCD[i] = enabled
	return nil
}

// AddCollider attaches a shape to a body and recomputes its mass.
func (w *World) AddCollider(d ColliderDesc) (EntityId, error) {
	id, err := w.store.AddCollider(d)
	if err != nil {
		return EntityId{}, err
	}
	if i, err := w.body(d.Body); err == nil {
		w.store.Bodies.Wake(i)
	}
	w.treeDirty = true
	return id, nil
}

func (w *World) RemoveCollider(id EntityId) error {
	ci, err := w.store.Colliders.Index(id)
	if err != nil {
		return err
	}
	bi := w.store.Colliders.BodyIndex[ci]
	if err := w.store.RemoveCollider(id); err != nil {
		return err
	}
	w.cache.RemoveCollider(id)
	if w.store.Bodies.Live(bi) {
		w.store.Bodies.Wake(bi)
	}
	w.treeDirty = true
	return nil
}

func (w *World) Collider(id EntityId) (ColliderView, error) {
	return w.store.Colliders.Get(id)
}

// SetColliderFilter replaces the collision filter. Existing contacts of
// the collider are dropped and rebuilt on the next step.
func (w *World) SetColliderFilter(id EntityId, f geom.CollisionFilter) error {
	ci, err := w.store.Colliders.Index(id)
	if err != nil {
		return err
	}
	w.store.Colliders.Filter[ci] = f
	w.cache.RemoveCollider(id)
	w.store.Bodies.Wake(w.store.Colliders.BodyIndex[ci])
	return nil
}

// SetColliderMaterial replaces the material and recomputes the body's
// mass from the new density.
func (w *World) SetColliderMaterial(id EntityId, m geom.Material) error {
	ci, err := w.store.Colliders.Index(id)
	if err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return err
	}
	c := &w.store.Colliders
	c.Material[ci] = m
	w.store.UpdateMass(c.BodyIndex[ci])
	w.store.Bodies.Wake(c.BodyIndex[ci])
	return nil
}
