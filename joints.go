package rigid

import (
	"fmt"
	"math"

	"github.com/gekko3d/rigid/geom"
	"github.com/gekko3d/rigid/solver"
	"github.com/go-gl/mathgl/mgl64"
)

type (
	Joint     = solver.Joint
	JointKind = solver.JointKind
	Limit     = solver.Limit
	Motor     = solver.Motor
)

const (
	FixedJoint     = solver.Fixed
	RevoluteJoint  = solver.Revolute
	PrismaticJoint = solver.Prismatic
	DistanceJoint  = solver.Distance
)

// JointDesc describes a joint in world space at creation time. Each
// body's anchor is usually the same point; a distance joint has one per
// end. Length defaults to the current anchor distance.
type JointDesc struct {
	Kind             JointKind
	BodyA, BodyB     EntityId
	AnchorA, AnchorB mgl64.Vec3
	// Axis is the hinge or slide direction.
	Axis             mgl64.Vec3
	Length           float64
	Limit            Limit
	Motor            Motor
	CollideConnected bool
}

// AddJoint records the joint in both bodies' local frames at their
// current poses and wakes them.
func (w *World) AddJoint(d JointDesc) (EntityId, error) {
	b := &w.store.Bodies
	ia, ib, err := b.Pair(d.BodyA, d.BodyB)
	if err != nil {
		return EntityId{}, fmt.Errorf("joint bodies: %w: %w", ErrInvalidJoint, err)
	}
	for _, v := range []mgl64.Vec3{d.AnchorA, d.AnchorB, d.Axis} {
		if !geom.FiniteVec(v) {
			return EntityId{}, fmt.Errorf("joint frame: %w", ErrNonFiniteInput)
		}
	}
	xa, xb := b.Transform(ia), b.Transform(ib)
	j := solver.Joint{
		Kind:             d.Kind,
		BodyA:            d.BodyA,
		BodyB:            d.BodyB,
		LocalAnchorA:     xa.ApplyInverse(d.AnchorA),
		LocalAnchorB:     xb.ApplyInverse(d.AnchorB),
		Reference:        xa.Rotation.Conjugate().Mul(xb.Rotation).Normalize(),
		Length:           d.Length,
		Limit:            d.Limit,
		Motor:            d.Motor,
		CollideConnected: d.CollideConnected,
	}
	if d.Kind == RevoluteJoint || d.Kind == PrismaticJoint {
		if d.Axis.Len() < geom.Epsilon {
			return EntityId{}, fmt.Errorf("%s joint without axis: %w", d.Kind, ErrInvalidJoint)
		}
		axis := d.Axis.Normalize()
		j.LocalAxisA = xa.RotateInverse(axis)
		j.LocalAxisB = xb.RotateInverse(axis)
	}
	if d.Kind == DistanceJoint && d.Length == 0 {
		j.Length = d.AnchorB.Sub(d.AnchorA).Len()
	}
	if err := j.Validate(); err != nil {
		return EntityId{}, err
	}
	b.Wake(ia)
	b.Wake(ib)
	return w.joints.Allocate(j), nil
}

func (w *World) RemoveJoint(id EntityId) error {
	j, err := w.joints.Free(id)
	if err != nil {
		return err
	}
	w.wakeJoint(&j)
	return nil
}

// Joint returns a copy of the joint.
func (w *World) Joint(id EntityId) (Joint, error) {
	j, err := w.joints.Get(id)
	if err != nil {
		return Joint{}, err
	}
	return *j, nil
}

// Joints lists joint handles in ascending order.
func (w *World) Joints() []EntityId {
	return w.joints.Ids()
}

func (w *World) wakeJoint(j *solver.Joint) {
	b := &w.store.Bodies
	for _, id := range []EntityId{j.BodyA, j.BodyB} {
		if i, err := b.Index(id); err == nil {
			b.Wake(i)
		}
	}
}

// SetJointMotor replaces the motor and wakes both bodies.
func (w *World) SetJointMotor(id EntityId, m Motor) error {
	j, err := w.joints.Get(id)
	if err != nil {
		return err
	}
	old := j.Motor
	j.Motor = m
	if err := j.Validate(); err != nil {
		j.Motor = old
		return err
	}
	w.wakeJoint(j)
	return nil
}

// SetJointLimit replaces the limit. The limit impulses start over since
// the old bounds no longer apply.
func (w *World) SetJointLimit(id EntityId, l Limit) error {
	j, err := w.joints.Get(id)
	if err != nil {
		return err
	}
	if math.IsNaN(l.Lower) || math.IsNaN(l.Upper) {
		return fmt.Errorf("joint limit: %w", ErrNonFiniteInput)
	}
	old := j.Limit
	j.Limit = l
	if err := j.Validate(); err != nil {
		j.Limit = old
		return err
	}
	j.ResetImpulses()
	w.wakeJoint(j)
	return nil
}
