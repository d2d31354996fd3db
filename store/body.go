// Package store keeps bodies and colliders in struct-of-arrays columns
// indexed by arena slot. Phases iterate the columns directly; the public
// API goes through generational handles.
package store

import (
	"fmt"

	"github.com/gekko3d/rigid/arena"
	"github.com/gekko3d/rigid/geom"
	"github.com/go-gl/mathgl/mgl64"
)

type BodyType uint8

const (
	Dynamic BodyType = iota
	Static
	Kinematic
)

func (t BodyType) String() string {
	switch t {
	case Static:
		return "static"
	case Kinematic:
		return "kinematic"
	}
	return "dynamic"
}

func ParseBodyType(s string) (BodyType, error) {
	switch s {
	case "", "dynamic":
		return Dynamic, nil
	case "static":
		return Static, nil
	case "kinematic":
		return Kinematic, nil
	}
	return Dynamic, fmt.Errorf("unknown body type %q", s)
}

type SleepState uint8

const (
	Awake SleepState = iota
	Sleeping
)

func (s SleepState) String() string {
	if s == Sleeping {
		return "sleeping"
	}
	return "awake"
}

type BodyDesc struct {
	Type            BodyType
	Position        mgl64.Vec3
	Rotation        mgl64.Quat
	LinearVelocity  mgl64.Vec3
	AngularVelocity mgl64.Vec3
	// Mass overrides the collider-derived mass when positive.
	Mass float64
	// Inertia overrides the principal moments when all are positive.
	Inertia        mgl64.Vec3
	LinearDamping  float64
	AngularDamping float64
	GravityScale   float64
	CCD            bool
	Sleeping       bool
}

func DynamicBody(position mgl64.Vec3) BodyDesc {
	return BodyDesc{Type: Dynamic, Position: position, Rotation: mgl64.QuatIdent(), GravityScale: 1}
}

func StaticBody(position mgl64.Vec3) BodyDesc {
	return BodyDesc{Type: Static, Position: position, Rotation: mgl64.QuatIdent()}
}

func KinematicBody(position mgl64.Vec3) BodyDesc {
	return BodyDesc{Type: Kinematic, Position: position, Rotation: mgl64.QuatIdent()}
}

func (d BodyDesc) Validate() error {
	if d.Type > Kinematic {
		return fmt.Errorf("body type %d: invalid", d.Type)
	}
	if !geom.FiniteVec(d.Position) || !geom.FiniteVec(d.LinearVelocity) || !geom.FiniteVec(d.AngularVelocity) {
		return fmt.Errorf("body state must be finite")
	}
	if !geom.FiniteQuat(d.Rotation) {
		return fmt.Errorf("body rotation must be finite")
	}
	for _, v := range []float64{d.Mass, d.LinearDamping, d.AngularDamping, d.GravityScale} {
		if !geom.Finite(v) {
			return fmt.Errorf("body parameter %v must be finite", v)
		}
	}
	if d.Mass < 0 || d.LinearDamping < 0 || d.AngularDamping < 0 {
		return fmt.Errorf("body mass and damping must be non-negative")
	}
	return nil
}

// Bodies is the body column set. Every column has Slots.Cap() entries;
// entries for dead slots are zeroed.
type Bodies struct {
	Slots arena.Slots

	Type            []BodyType
	Position        []mgl64.Vec3
	Rotation        []mgl64.Quat
	LocalCenter     []mgl64.Vec3
	WorldCenter     []mgl64.Vec3
	LinearVelocity  []mgl64.Vec3
	AngularVelocity []mgl64.Vec3
	Force           []mgl64.Vec3
	Torque          []mgl64.Vec3
	Mass            []float64
	InvMass         []float64
	LocalInertia    []mgl64.Mat3
	InvLocalInertia []mgl64.Mat3
	InvWorldInertia []mgl64.Mat3
	LinearDamping   []float64
	AngularDamping  []float64
	GravityScale    []float64
	Sleep           []SleepState
	SleepTimer      []float64
	CCD             []bool
	Colliders       [][]arena.EntityId

	explicitMass    []float64
	explicitInertia []mgl64.Vec3
}

// BodyView is a read-only copy of one body.
type BodyView struct {
	Id              arena.EntityId
	Type            BodyType
	Position        mgl64.Vec3
	Rotation        mgl64.Quat
	CenterOfMass    mgl64.Vec3
	LinearVelocity  mgl64.Vec3
	AngularVelocity mgl64.Vec3
	Mass            float64
	InvMass         float64
	Sleep           SleepState
	SleepTimer      float64
	CCD             bool
	Colliders       []arena.EntityId
}

func (b *Bodies) add(d BodyDesc) (arena.EntityId, int) {
	id := b.Slots.Allocate()
	i := int(id.Index)
	if i == len(b.Type) {
		b.grow()
	}
	rot := d.Rotation
	if rot.Len() < 1e-12 {
		rot = mgl64.QuatIdent()
	}
	b.Type[i] = d.Type
	b.Position[i] = d.Position
	b.Rotation[i] = rot.Normalize()
	b.LocalCenter[i] = mgl64.Vec3{}
	b.WorldCenter[i] = d.Position
	b.LinearVelocity[i] = d.LinearVelocity
	b.AngularVelocity[i] = d.AngularVelocity
	b.Force[i] = mgl64.Vec3{}
	b.Torque[i] = mgl64.Vec3{}
	b.LinearDamping[i] = d.LinearDamping
	b.AngularDamping[i] = d.AngularDamping
	b.GravityScale[i] = d.GravityScale
	b.CCD[i] = d.CCD
	b.Colliders[i] = nil
	b.SleepTimer[i] = 0
	b.Sleep[i] = Awake
	if d.Sleeping && d.Type == Dynamic {
		b.Sleep[i] = Sleeping
	}
	b.explicitMass[i] = d.Mass
	b.explicitInertia[i] = d.Inertia
	if d.Type == Static {
		b.LinearVelocity[i] = mgl64.Vec3{}
		b.AngularVelocity[i] = mgl64.Vec3{}
	}
	return id, i
}

func (b *Bodies) grow() {
	b.Type = append(b.Type, 0)
	b.Position = append(b.Position, mgl64.Vec3{})
	b.Rotation = append(b.Rotation, mgl64.Quat{})
	b.LocalCenter = append(b.LocalCenter, mgl64.Vec3{})
	b.WorldCenter = append(b.WorldCenter, mgl64.Vec3{})
	b.LinearVelocity = append(b.LinearVelocity, mgl64.Vec3{})
	b.AngularVelocity = append(b.AngularVelocity, mgl64.Vec3{})
	b.Force = append(b.Force, mgl64.Vec3{})
	b.Torque = append(b.Torque, mgl64.Vec3{})
	b.Mass = append(b.Mass, 0)
	b.InvMass = append(b.InvMass, 0)
	b.LocalInertia = append(b.LocalInertia, mgl64.Mat3{})
	b.InvLocalInertia = append(b.InvLocalInertia, mgl64.Mat3{})
	b.InvWorldInertia = append(b.InvWorldInertia, mgl64.Mat3{})
	b.LinearDamping = append(b.LinearDamping, 0)
	b.AngularDamping = append(b.AngularDamping, 0)
	b.GravityScale = append(b.GravityScale, 0)
	b.Sleep = append(b.Sleep, Awake)
	b.SleepTimer = append(b.SleepTimer, 0)
	b.CCD = append(b.CCD, false)
	b.Colliders = append(b.Colliders, nil)
	b.explicitMass = append(b.explicitMass, 0)
	b.explicitInertia = append(b.explicitInertia, mgl64.Vec3{})
}

func (b *Bodies) clear(i int) {
	b.Type[i] = Static
	b.Position[i] = mgl64.Vec3{}
	b.Rotation[i] = mgl64.Quat{}
	b.LinearVelocity[i] = mgl64.Vec3{}
	b.AngularVelocity[i] = mgl64.Vec3{}
	b.Force[i] = mgl64.Vec3{}
	b.Torque[i] = mgl64.Vec3{}
	b.Mass[i] = 0
	b.InvMass[i] = 0
	b.InvLocalInertia[i] = mgl64.Mat3{}
	b.InvWorldInertia[i] = mgl64.Mat3{}
	b.Colliders[i] = nil
	b.Sleep[i] = Awake
	b.SleepTimer[i] = 0
}

// Index resolves a handle to its column index.
func (b *Bodies) Index(id arena.EntityId) (int, error) {
	if !b.Slots.Valid(id) {
		return -1, fmt.Errorf("body %s: %w", id, arena.ErrNotFound)
	}
	return int(id.Index), nil
}

// Pair resolves two distinct bodies.
func (b *Bodies) Pair(x, y arena.EntityId) (int, int, error) {
	if x.Index == y.Index {
		return -1, -1, fmt.Errorf("body pair %s %s: aliased slot", x, y)
	}
	i, err := b.Index(x)
	if err != nil {
		return -1, -1, err
	}
	j, err := b.Index(y)
	if err != nil {
		return -1, -1, err
	}
	return i, j, nil
}

func (b *Bodies) Get(id arena.EntityId) (BodyView, error) {
	i, err := b.Index(id)
	if err != nil {
		return BodyView{}, err
	}
	return b.View(i), nil
}

func (b *Bodies) View(i int) BodyView {
	return BodyView{
		Id:              b.Slots.Id(i),
		Type:            b.Type[i],
		Position:        b.Position[i],
		Rotation:        b.Rotation[i],
		CenterOfMass:    b.WorldCenter[i],
		LinearVelocity:  b.LinearVelocity[i],
		AngularVelocity: b.AngularVelocity[i],
		Mass:            b.Mass[i],
		InvMass:         b.InvMass[i],
		Sleep:           b.Sleep[i],
		SleepTimer:      b.SleepTimer[i],
		CCD:             b.CCD[i],
		Colliders:       append([]arena.EntityId(nil), b.Colliders[i]...),
	}
}

func (b *Bodies) Live(i int) bool { return b.Slots.Live(i) }

func (b *Bodies) Len() int { return b.Slots.Len() }

func (b *Bodies) Cap() int { return b.Slots.Cap() }

// Active reports a live dynamic or kinematic body that is awake.
func (b *Bodies) Active(i int) bool {
	return b.Slots.Live(i) && b.Type[i] != Static && b.Sleep[i] == Awake
}

func (b *Bodies) Dynamic(i int) bool {
	return b.Slots.Live(i) && b.Type[i] == Dynamic
}

func (b *Bodies) Transform(i int) geom.Transform {
	return geom.Transform{Position: b.Position[i], Rotation: b.Rotation[i]}
}

// SetPose moves the body origin and refreshes derived state.
func (b *Bodies) SetPose(i int, position mgl64.Vec3, rotation mgl64.Quat) {
	b.Position[i] = position
	b.Rotation[i] = rotation.Normalize()
	b.SyncDerived(i)
}

// SetCenterPose places the centre of mass and derives the origin from it.
func (b *Bodies) SetCenterPose(i int, center mgl64.Vec3, rotation mgl64.Quat) {
	b.Rotation[i] = rotation
	b.WorldCenter[i] = center
	b.Position[i] = center.Sub(rotation.Rotate(b.LocalCenter[i]))
	b.UpdateWorldInertia(i)
}

func (b *Bodies) SyncDerived(i int) {
	b.WorldCenter[i] = b.Position[i].Add(b.Rotation[i].Rotate(b.LocalCenter[i]))
	b.UpdateWorldInertia(i)
}

// UpdateWorldInertia recomputes R I⁻¹ Rᵀ for the current orientation.
func (b *Bodies) UpdateWorldInertia(i int) {
	if b.InvMass[i] == 0 {
		b.InvWorldInertia[i] = mgl64.Mat3{}
		return
	}
	b.InvWorldInertia[i] = geom.RotateInertia(b.Rotation[i], b.InvLocalInertia[i])
}

// VelocityAt is the velocity of the material point at world position p.
func (b *Bodies) VelocityAt(i int, p mgl64.Vec3) mgl64.Vec3 {
	return b.LinearVelocity[i].Add(b.AngularVelocity[i].Cross(p.Sub(b.WorldCenter[i])))
}

// KineticEnergy is the specific kinetic energy split into linear and
// angular parts (per unit mass and inertia).
func (b *Bodies) KineticEnergy(i int) (float64, float64) {
	return 0.5 * b.LinearVelocity[i].LenSqr(), 0.5 * b.AngularVelocity[i].LenSqr()
}

func (b *Bodies) Wake(i int) {
	if b.Type[i] == Static {
		return
	}
	b.Sleep[i] = Awake
	b.SleepTimer[i] = 0
}

func (b *Bodies) PutToSleep(i int) {
	if b.Type[i] != Dynamic {
		return
	}
	b.Sleep[i] = Sleeping
	b.LinearVelocity[i] = mgl64.Vec3{}
	b.AngularVelocity[i] = mgl64.Vec3{}
	b.Force[i] = mgl64.Vec3{}
	b.Torque[i] = mgl64.Vec3{}
}
