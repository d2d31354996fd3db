package rigid

import (
	"fmt"

	"github.com/gekko3d/rigid/articulation"
	"github.com/gekko3d/rigid/geom"
	"github.com/gekko3d/rigid/internal/parallel"
	"github.com/gekko3d/rigid/store"
	"github.com/go-gl/mathgl/mgl64"
)

var ErrInvalidMultibody = articulation.ErrInvalidLink

// AddMultibody stores a copy of mb. Links that name a body must name a
// distinct live kinematic body, which then follows the link every step.
func (w *World) AddMultibody(mb articulation.Multibody) (EntityId, error) {
	if err := mb.Validate(); err != nil {
		return EntityId{}, fmt.Errorf("add multibody: %w", err)
	}
	b := &w.store.Bodies
	seen := make(map[EntityId]bool)
	for _, l := range mb.Links {
		if l.Body.IsNil() {
			continue
		}
		i, err := b.Index(l.Body)
		if err != nil {
			return EntityId{}, fmt.Errorf("link %q body: %w: %w", l.Name, ErrInvalidMultibody, err)
		}
		if b.Type[i] != store.Kinematic || seen[l.Body] {
			return EntityId{}, fmt.Errorf("link %q body %s must be a kinematic body of its own: %w", l.Name, l.Body, ErrInvalidMultibody)
		}
		seen[l.Body] = true
	}
	c := mb.Clone()
	c.UpdateKinematics()
	id := w.multibodies.Allocate(c)
	stored, _ := w.multibodies.Get(id)
	w.placeLinks(stored, true)
	return id, nil
}

func (w *World) RemoveMultibody(id EntityId) error {
	_, err := w.multibodies.Free(id)
	return err
}

// Multibody returns a copy of the multibody and its joint state.
func (w *World) Multibody(id EntityId) (articulation.Multibody, error) {
	mb, err := w.multibodies.Get(id)
	if err != nil {
		return articulation.Multibody{}, err
	}
	return mb.Clone(), nil
}

// Multibodies lists multibody handles in slot order.
func (w *World) Multibodies() []EntityId {
	return w.multibodies.Ids()
}

// SetMultibodyForce sets the generalised force on one link's joint dofs.
// It holds until changed.
func (w *World) SetMultibodyForce(id EntityId, link int, tau ...float64) error {
	mb, err := w.multibodies.Get(id)
	if err != nil {
		return err
	}
	if link < 0 || link >= len(mb.Links) {
		return fmt.Errorf("link %d of %d: %w", link, len(mb.Links), ErrInvalidMultibody)
	}
	dst := mb.JointForce(link)
	if len(tau) != len(dst) {
		return fmt.Errorf("%d forces for %d dofs: %w", len(tau), len(dst), ErrInvalidMultibody)
	}
	if !finiteAll(tau) {
		return fmt.Errorf("multibody force: %w", ErrNonFiniteInput)
	}
	copy(dst, tau)
	return nil
}

// SetMultibodyState replaces one link's joint position and velocity.
func (w *World) SetMultibodyState(id EntityId, link int, q, dq []float64) error {
	mb, err := w.multibodies.Get(id)
	if err != nil {
		return err
	}
	if link < 0 || link >= len(mb.Links) {
		return fmt.Errorf("link %d of %d: %w", link, len(mb.Links), ErrInvalidMultibody)
	}
	pos, vel := mb.JointPosition(link), mb.JointVelocity(link)
	if len(q) != len(pos) || len(dq) != len(vel) {
		return fmt.Errorf("state %d/%d for %d/%d coordinates: %w", len(q), len(dq), len(pos), len(vel), ErrInvalidMultibody)
	}
	if !finiteAll(q) || !finiteAll(dq) {
		return fmt.Errorf("multibody state: %w", ErrNonFiniteInput)
	}
	copy(pos, q)
	copy(vel, dq)
	mb.UpdateKinematics()
	w.placeLinks(mb, true)
	return nil
}

func finiteAll(xs []float64) bool {
	for _, x := range xs {
		if !geom.Finite(x) {
			return false
		}
	}
	return true
}

// stepMultibodies advances every multibody in parallel and hands each
// link's new velocity to its body. It returns the number stepped.
func (w *World) stepMultibodies(dt float64) int {
	ids := w.multibodies.Ids()
	if len(ids) == 0 {
		return 0
	}
	list := make([]*articulation.Multibody, len(ids))
	for k, id := range ids {
		list[k], _ = w.multibodies.Get(id)
	}
	errs := make([]error, len(list))
	parallel.Each(len(list), w.cfg.Workers, func(k int) {
		errs[k] = list[k].Step(w.gravity, dt)
	})
	for k, err := range errs {
		if err != nil {
			err = fmt.Errorf("frame %d: multibody %s: %w", w.frame, ids[k], err)
			w.log.Warnf("%v", err)
			w.diag.Report(err)
		}
		w.placeLinks(list[k], false)
	}
	return len(list)
}

// placeLinks copies link velocities onto their bodies. With pose set the
// bodies are also moved onto the links; otherwise the integrator moves
// them and snapLinks corrects the result.
func (w *World) placeLinks(mb *articulation.Multibody, pose bool) {
	b := &w.store.Bodies
	for k, l := range mb.Links {
		if l.Body.IsNil() {
			continue
		}
		i, err := b.Index(l.Body)
		if err != nil || b.Type[i] != store.Kinematic {
			continue
		}
		xf := mb.Pose(k)
		if pose {
			b.SetPose(i, xf.Position, xf.Rotation)
			w.store.UpdateBodyColliders(i)
			w.treeDirty = true
		}
		center := xf.Apply(b.LocalCenter[i])
		v := mb.PointVelocity(k, center)
		_, omega := mb.Velocity(k)
		b.LinearVelocity[i] = v
		b.AngularVelocity[i] = omega
		if v != (mgl64.Vec3{}) || omega != (mgl64.Vec3{}) {
			b.Wake(i)
		}
	}
}

// snapLinks puts link bodies exactly on their links after integration.
func (w *World) snapLinks() {
	w.multibodies.Each(func(_ EntityId, mb *articulation.Multibody) bool {
		b := &w.store.Bodies
		for k, l := range mb.Links {
			if l.Body.IsNil() {
				continue
			}
			if i, err := b.Index(l.Body); err == nil && b.Type[i] == store.Kinematic {
				xf := mb.Pose(k)
				b.SetPose(i, xf.Position, xf.Rotation)
			}
		}
		return true
	})
}

// detachBody clears links that follow a removed body.
func (w *World) detachBody(id EntityId) {
	w.multibodies.Each(func(_ EntityId, mb *articulation.Multibody) bool {
		for k := range mb.Links {
			if mb.Links[k].Body == id {
				mb.Links[k].Body = EntityId{}
			}
		}
		return true
	})
}
