package store

import (
	"fmt"

	"github.com/gekko3d/rigid/arena"
	"github.com/gekko3d/rigid/geom"
	"github.com/go-gl/mathgl/mgl64"
)

type Store struct {
	Bodies    Bodies
	Colliders Colliders
}

func New() *Store {
	return &Store{}
}

func (s *Store) AddBody(d BodyDesc) (arena.EntityId, error) {
	if err := d.Validate(); err != nil {
		return arena.EntityId{}, err
	}
	id, i := s.Bodies.add(d)
	s.UpdateMass(i)
	return id, nil
}

// RemoveBody frees the body and all of its colliders, returning the freed
// collider handles so callers can drop dependent state.
func (s *Store) RemoveBody(id arena.EntityId) ([]arena.EntityId, error) {
	i, err := s.Bodies.Index(id)
	if err != nil {
		return nil, err
	}
	removed := append([]arena.EntityId(nil), s.Bodies.Colliders[i]...)
	for _, cid := range removed {
		ci := int(cid.Index)
		if err := s.Colliders.Slots.Free(cid); err == nil {
			s.Colliders.clear(ci)
		}
	}
	if err := s.Bodies.Slots.Free(id); err != nil {
		return nil, err
	}
	s.Bodies.clear(i)
	return removed, nil
}

func (s *Store) AddCollider(d ColliderDesc) (arena.EntityId, error) {
	if d.Shape == nil {
		return arena.EntityId{}, fmt.Errorf("collider without shape: %w", geom.ErrInvalidShapeParameters)
	}
	if err := d.Shape.Validate(); err != nil {
		return arena.EntityId{}, err
	}
	if err := d.Material.Validate(); err != nil {
		return arena.EntityId{}, err
	}
	if !geom.FiniteVec(d.Local.Position) || !geom.FiniteQuat(d.Local.Rotation) {
		return arena.EntityId{}, fmt.Errorf("collider offset must be finite: %w", geom.ErrInvalidShapeParameters)
	}
	bi, err := s.Bodies.Index(d.Body)
	if err != nil {
		return arena.EntityId{}, err
	}
	id, ci := s.Colliders.add(d, bi)
	s.Bodies.Colliders[bi] = append(s.Bodies.Colliders[bi], id)
	s.UpdateMass(bi)
	s.UpdateCollider(ci)
	return id, nil
}

func (s *Store) RemoveCollider(id arena.EntityId) error {
	ci, err := s.Colliders.Index(id)
	if err != nil {
		return err
	}
	bi := s.Colliders.BodyIndex[ci]
	if err := s.Colliders.Slots.Free(id); err != nil {
		return err
	}
	s.Colliders.clear(ci)
	if bi >= 0 && s.Bodies.Live(bi) {
		list := s.Bodies.Colliders[bi]
		for k, c := range list {
			if c == id {
				s.Bodies.Colliders[bi] = append(list[:k:k], list[k+1:]...)
				break
			}
		}
		s.UpdateMass(bi)
	}
	return nil
}

// UpdateMass recomputes mass, centre of mass and inertia of body i from
// its colliders, honouring explicit overrides. Non-dynamic bodies get
// infinite mass.
func (s *Store) UpdateMass(i int) {
	b := &s.Bodies
	if b.Type[i] != Dynamic {
		b.Mass[i] = 0
		b.InvMass[i] = 0
		b.LocalInertia[i] = mgl64.Mat3{}
		b.InvLocalInertia[i] = mgl64.Mat3{}
		b.LocalCenter[i] = mgl64.Vec3{}
		b.SyncDerived(i)
		return
	}

	parts := make([]geom.MassProperties, 0, len(b.Colliders[i]))
	for _, cid := range b.Colliders[i] {
		ci := int(cid.Index)
		c := &s.Colliders
		if c.Trigger[ci] {
			continue
		}
		mp := c.Shape[ci].MassProperties(c.Material[ci].Density)
		parts = append(parts, geom.MassProperties{
			Mass:    mp.Mass,
			Center:  c.Local[ci].Apply(mp.Center),
			Inertia: geom.RotateInertia(c.Local[ci].Rotation, mp.Inertia),
		})
	}
	total := geom.CombineMass(parts)

	mass := total.Mass
	inertia := total.Inertia
	if explicit := b.explicitMass[i]; explicit > 0 {
		if mass > 0 {
			inertia = inertia.Mul(explicit / mass)
		}
		mass = explicit
	}
	if mass <= 0 {
		mass = 1
	}
	if inertia.Det() <= 1e-18 {
		// unit-radius sphere of the same mass
		k := 0.4 * mass
		inertia = mgl64.Diag3(mgl64.Vec3{k, k, k})
	}
	if e := b.explicitInertia[i]; e[0] > 0 && e[1] > 0 && e[2] > 0 {
		inertia = mgl64.Diag3(e)
	}

	// the origin stays put; the centre of mass follows the colliders
	b.LocalCenter[i] = total.Center
	b.Mass[i] = mass
	b.InvMass[i] = 1 / mass
	b.LocalInertia[i] = inertia
	b.InvLocalInertia[i] = inertia.Inv()
	b.SyncDerived(i)
}

// UpdateCollider refreshes the world transform and bounds of collider i.
func (s *Store) UpdateCollider(ci int) {
	c := &s.Colliders
	bi := c.BodyIndex[ci]
	world := s.Bodies.Transform(bi).Mul(c.Local[ci])
	c.World[ci] = world
	c.AABB[ci] = c.Shape[ci].LocalAABB().Transformed(world)
}

// UpdateColliders refreshes every live collider attached to a body that
// is not sleeping.
func (s *Store) UpdateColliders() {
	for ci := 0; ci < s.Colliders.Cap(); ci++ {
		if !s.Colliders.Live(ci) {
			continue
		}
		bi := s.Colliders.BodyIndex[ci]
		if s.Bodies.Sleep[bi] == Sleeping {
			continue
		}
		s.UpdateCollider(ci)
	}
}

// UpdateBodyColliders refreshes the colliders of one body.
func (s *Store) UpdateBodyColliders(i int) {
	for _, cid := range s.Bodies.Colliders[i] {
		s.UpdateCollider(int(cid.Index))
	}
}
