// Package articulation simulates tree-shaped multibodies in reduced
// coordinates. Joint positions and velocities are the state; link poses
// follow from them, so the joints can never drift apart. Accelerations
// come from Featherstone's articulated body algorithm.
package articulation

import (
	"errors"
	"fmt"

	"github.com/gekko3d/rigid/arena"
	"github.com/gekko3d/rigid/geom"
	"github.com/go-gl/mathgl/mgl64"
)

var (
	ErrInvalidLink = errors.New("invalid link")
	// ErrNonFiniteState reports a step whose result was not finite. The
	// multibody keeps its previous state with zero joint velocities.
	ErrNonFiniteState = errors.New("non-finite multibody state")
)

type JointKind uint8

const (
	Fixed JointKind = iota
	Revolute
	Prismatic
	Spherical
)

func (k JointKind) String() string {
	switch k {
	case Fixed:
		return "fixed"
	case Revolute:
		return "revolute"
	case Prismatic:
		return "prismatic"
	case Spherical:
		return "spherical"
	}
	return fmt.Sprintf("JointKind(%d)", uint8(k))
}

func ParseJointKind(s string) (JointKind, error) {
	for k := Fixed; k <= Spherical; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return Fixed, fmt.Errorf("unknown articulation joint %q: %w", s, ErrInvalidLink)
}

// Positions is the number of position coordinates; a spherical joint
// stores a unit quaternion (w, x, y, z).
func (k JointKind) Positions() int {
	switch k {
	case Revolute, Prismatic:
		return 1
	case Spherical:
		return 4
	}
	return 0
}

// Dofs is the number of velocity coordinates. Spherical joint velocities
// are the angular velocity in the child frame.
func (k JointKind) Dofs() int {
	switch k {
	case Revolute, Prismatic:
		return 1
	case Spherical:
		return 3
	}
	return 0
}

// Link is one rigid node of the tree, attached to its parent by a joint.
type Link struct {
	Name string
	// Parent indexes an earlier link; -1 hangs the link from the world.
	Parent int
	Joint  JointKind
	// Axis is the hinge or slide direction in the joint frame.
	Axis mgl64.Vec3
	// ParentToJoint places the joint frame in the parent link frame (the
	// world for a root) at zero joint position. The link frame is the joint
	// frame moved by the joint.
	ParentToJoint geom.Transform
	Mass          float64
	// CenterOfMass is in the link frame; Inertia is about the centre of
	// mass, in link axes.
	CenterOfMass mgl64.Vec3
	Inertia      mgl64.Mat3
	// Damping is a viscous joint torque per unit joint velocity.
	Damping float64
	// Body optionally names a kinematic body that follows the link so the
	// link takes part in collisions.
	Body arena.EntityId

	q, v int
}

// NewLink returns a unit-mass link with identity inertia.
func NewLink(name string, parent int, kind JointKind) Link {
	return Link{
		Name:          name,
		Parent:        parent,
		Joint:         kind,
		ParentToJoint: geom.Identity(),
		Mass:          1,
		Inertia:       mgl64.Ident3(),
	}
}

// Multibody is a tree of links in parent-before-child order with its
// joint state. Tau holds generalised joint forces that persist until
// changed.
type Multibody struct {
	Links []Link
	Q     []float64
	Dq    []float64
	Ddq   []float64
	Tau   []float64

	poses []geom.Transform
	vel   []Vec6
}

func New() *Multibody {
	return &Multibody{}
}

// AddLink validates the link, appends it and returns its index. The new
// joint starts at zero position and velocity.
func (mb *Multibody) AddLink(l Link) (int, error) {
	n := len(mb.Links)
	if l.Parent < -1 || l.Parent >= n {
		return -1, fmt.Errorf("link %q: parent %d of %d links: %w", l.Name, l.Parent, n, ErrInvalidLink)
	}
	if l.Joint > Spherical {
		return -1, fmt.Errorf("link %q: %s: %w", l.Name, l.Joint, ErrInvalidLink)
	}
	if !(l.Mass > 0) || !geom.Finite(l.Mass) || l.Damping < 0 || !geom.Finite(l.Damping) {
		return -1, fmt.Errorf("link %q: mass %v damping %v: %w", l.Name, l.Mass, l.Damping, ErrInvalidLink)
	}
	for i := 0; i < 3; i++ {
		if !geom.FiniteVec(l.Inertia.Col(i)) || !(l.Inertia.At(i, i) > 0) {
			return -1, fmt.Errorf("link %q: inertia %v: %w", l.Name, l.Inertia, ErrInvalidLink)
		}
	}
	pj := l.ParentToJoint
	if !geom.FiniteVec(pj.Position) || !geom.FiniteQuat(pj.Rotation) || pj.Rotation.Len() < 1e-9 ||
		!geom.FiniteVec(l.CenterOfMass) || !geom.FiniteVec(l.Axis) {
		return -1, fmt.Errorf("link %q: frame: %w", l.Name, ErrInvalidLink)
	}
	l.ParentToJoint.Rotation = pj.Rotation.Normalize()
	if l.Joint == Revolute || l.Joint == Prismatic {
		if l.Axis.Len() < geom.Epsilon {
			return -1, fmt.Errorf("link %q: %s joint without axis: %w", l.Name, l.Joint, ErrInvalidLink)
		}
		l.Axis = l.Axis.Normalize()
	}

	l.q, l.v = len(mb.Q), len(mb.Dq)
	mb.Q = append(mb.Q, make([]float64, l.Joint.Positions())...)
	if l.Joint == Spherical {
		mb.Q[l.q] = 1
	}
	dofs := l.Joint.Dofs()
	mb.Dq = append(mb.Dq, make([]float64, dofs)...)
	mb.Ddq = append(mb.Ddq, make([]float64, dofs)...)
	mb.Tau = append(mb.Tau, make([]float64, dofs)...)
	mb.Links = append(mb.Links, l)
	mb.UpdateKinematics()
	return n, nil
}

// Validate checks that the state vectors match the links, which holds
// for any multibody built with AddLink.
func (mb *Multibody) Validate() error {
	q, v := 0, 0
	for i := range mb.Links {
		l := &mb.Links[i]
		if l.q != q || l.v != v || l.Parent >= i || l.Parent < -1 {
			return fmt.Errorf("link %d %q was not added with AddLink: %w", i, l.Name, ErrInvalidLink)
		}
		q += l.Joint.Positions()
		v += l.Joint.Dofs()
	}
	if len(mb.Q) != q || len(mb.Dq) != v || len(mb.Ddq) != v || len(mb.Tau) != v {
		return fmt.Errorf("state sizes %d/%d/%d/%d for %d positions and %d dofs: %w",
			len(mb.Q), len(mb.Dq), len(mb.Ddq), len(mb.Tau), q, v, ErrInvalidLink)
	}
	for _, x := range [][]float64{mb.Q, mb.Dq, mb.Tau} {
		for _, f := range x {
			if !geom.Finite(f) {
				return fmt.Errorf("joint state %v: %w", f, ErrInvalidLink)
			}
		}
	}
	return nil
}

// Dofs is the total number of velocity coordinates.
func (mb *Multibody) Dofs() int { return len(mb.Dq) }

// JointPosition returns link i's slice of Q.
func (mb *Multibody) JointPosition(i int) []float64 {
	l := &mb.Links[i]
	return mb.Q[l.q : l.q+l.Joint.Positions()]
}

// JointVelocity returns link i's slice of Dq.
func (mb *Multibody) JointVelocity(i int) []float64 {
	l := &mb.Links[i]
	return mb.Dq[l.v : l.v+l.Joint.Dofs()]
}

// JointForce returns link i's slice of Tau.
func (mb *Multibody) JointForce(i int) []float64 {
	l := &mb.Links[i]
	return mb.Tau[l.v : l.v+l.Joint.Dofs()]
}

// jointTransform is the motion across link i's joint.
func (mb *Multibody) jointTransform(i int) geom.Transform {
	l := &mb.Links[i]
	q := mb.Q[l.q:]
	switch l.Joint {
	case Revolute:
		return geom.NewTransform(mgl64.Vec3{}, mgl64.QuatRotate(q[0], l.Axis))
	case Prismatic:
		return geom.NewTransform(l.Axis.Mul(q[0]), mgl64.QuatIdent())
	case Spherical:
		r := mgl64.Quat{W: q[0], V: mgl64.Vec3{q[1], q[2], q[3]}}
		if r.Len() < geom.Epsilon {
			r = mgl64.QuatIdent()
		}
		return geom.NewTransform(mgl64.Vec3{}, r.Normalize())
	}
	return geom.Identity()
}

// local is link i's pose in its parent frame.
func (mb *Multibody) local(i int) geom.Transform {
	return mb.Links[i].ParentToJoint.Mul(mb.jointTransform(i))
}

// subspace returns the motion subspace of link i's joint in the link
// frame, one column per dof.
func (mb *Multibody) subspace(i int) (s [3]Vec6, n int) {
	l := &mb.Links[i]
	switch l.Joint {
	case Revolute:
		s[0] = spatial(l.Axis, mgl64.Vec3{})
	case Prismatic:
		s[0] = spatial(mgl64.Vec3{}, l.Axis)
	case Spherical:
		s[0] = spatial(mgl64.Vec3{1, 0, 0}, mgl64.Vec3{})
		s[1] = spatial(mgl64.Vec3{0, 1, 0}, mgl64.Vec3{})
		s[2] = spatial(mgl64.Vec3{0, 0, 1}, mgl64.Vec3{})
	}
	return s, l.Joint.Dofs()
}

func (mb *Multibody) jointVelocity(i int) Vec6 {
	s, n := mb.subspace(i)
	dq := mb.Dq[mb.Links[i].v:]
	var v Vec6
	for k := 0; k < n; k++ {
		v = v.add(s[k].scale(dq[k]))
	}
	return v
}

// UpdateKinematics recomputes world poses and link velocities from Q and
// Dq.
func (mb *Multibody) UpdateKinematics() {
	n := len(mb.Links)
	if cap(mb.poses) < n {
		mb.poses = make([]geom.Transform, n)
		mb.vel = make([]Vec6, n)
	}
	mb.poses = mb.poses[:n]
	mb.vel = mb.vel[:n]
	for i := 0; i < n; i++ {
		rel := mb.local(i)
		vJ := mb.jointVelocity(i)
		if p := mb.Links[i].Parent; p >= 0 {
			mb.poses[i] = mb.poses[p].Mul(rel)
			mb.vel[i] = childOf(rel).motion(mb.vel[p]).add(vJ)
		} else {
			mb.poses[i] = rel
			mb.vel[i] = vJ
		}
	}
}

// Pose is link i's frame in world space.
func (mb *Multibody) Pose(i int) geom.Transform { return mb.poses[i] }

// Velocity returns link i's world angular velocity and the world velocity
// of the link frame origin.
func (mb *Multibody) Velocity(i int) (linear, angular mgl64.Vec3) {
	r := mb.poses[i]
	return r.Rotate(mb.vel[i].Linear()), r.Rotate(mb.vel[i].Angular())
}

// PointVelocity is the world velocity of a world-space point fixed to
// link i.
func (mb *Multibody) PointVelocity(i int, p mgl64.Vec3) mgl64.Vec3 {
	v, w := mb.Velocity(i)
	return v.Add(w.Cross(p.Sub(mb.poses[i].Position)))
}

// Clone returns a deep copy.
func (mb *Multibody) Clone() Multibody {
	out := Multibody{
		Links: append([]Link(nil), mb.Links...),
		Q:     append([]float64(nil), mb.Q...),
		Dq:    append([]float64(nil), mb.Dq...),
		Ddq:   append([]float64(nil), mb.Ddq...),
		Tau:   append([]float64(nil), mb.Tau...),
		poses: append([]geom.Transform(nil), mb.poses...),
		vel:   append([]Vec6(nil), mb.vel...),
	}
	return out
}

// KineticEnergy sums ½ vᵀ I v over the links.
func (mb *Multibody) KineticEnergy() float64 {
	e := 0.0
	for i := range mb.Links {
		l := &mb.Links[i]
		in := rigidInertia(l.Mass, l.CenterOfMass, l.Inertia)
		e += 0.5 * mb.vel[i].dot(in.mulVec(mb.vel[i]))
	}
	return e
}

// CenterOfMass is the world position of link i's centre of mass.
func (mb *Multibody) CenterOfMass(i int) mgl64.Vec3 {
	return mb.poses[i].Apply(mb.Links[i].CenterOfMass)
}
