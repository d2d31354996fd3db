package rigid

import (
	"math"

	"github.com/gekko3d/rigid/geom"
	"github.com/gekko3d/rigid/store"
	"github.com/go-gl/mathgl/mgl64"
)

// ForceGenerator adds forces to bodies at the start of every step, before
// gravity and the queued external forces are integrated. Generators run in
// registration order.
type ForceGenerator interface {
	Apply(w *World, dt float64)
}

type ForceGeneratorFunc func(w *World, dt float64)

func (f ForceGeneratorFunc) Apply(w *World, dt float64) { f(w, dt) }

func (w *World) AddForceGenerator(g ForceGenerator) EntityId {
	return w.forces.Allocate(g)
}

func (w *World) RemoveForceGenerator(id EntityId) error {
	_, err := w.forces.Free(id)
	return err
}

func (w *World) applyGenerators(dt float64) {
	w.forces.Each(func(_ EntityId, g *ForceGenerator) bool {
		(*g).Apply(w, dt)
		return true
	})
}

// eachAwake visits the awake dynamic bodies among ids, or all of them when
// ids is empty. Generators leave sleeping bodies alone.
func (w *World) eachAwake(ids []EntityId, fn func(i int)) {
	b := &w.store.Bodies
	visit := func(i int) {
		if b.Dynamic(i) && b.Sleep[i] == store.Awake {
			fn(i)
		}
	}
	if len(ids) == 0 {
		for i := 0; i < b.Cap(); i++ {
			visit(i)
		}
		return
	}
	for _, id := range ids {
		if i, err := b.Index(id); err == nil {
			visit(i)
		}
	}
}

// addForceAt accumulates a force applied at world point p without waking
// the body.
func (w *World) addForceAt(i int, f, p mgl64.Vec3) {
	b := &w.store.Bodies
	b.Force[i] = b.Force[i].Add(f)
	b.Torque[i] = b.Torque[i].Add(p.Sub(b.WorldCenter[i]).Cross(f))
}

// DirectionalGravity accelerates bodies uniformly, on top of the world
// gravity.
type DirectionalGravity struct {
	Acceleration mgl64.Vec3
	Bodies       []EntityId
}

func (g DirectionalGravity) Apply(w *World, _ float64) {
	b := &w.store.Bodies
	w.eachAwake(g.Bodies, func(i int) {
		b.Force[i] = b.Force[i].Add(g.Acceleration.Mul(b.Mass[i]))
	})
}

// GravityWell pulls bodies towards Center with an inverse-square law.
// MinDistance softens the pull close to the centre.
type GravityWell struct {
	Center      mgl64.Vec3
	Strength    float64
	MinDistance float64
	Bodies      []EntityId
}

func (g GravityWell) Apply(w *World, _ float64) {
	b := &w.store.Bodies
	w.eachAwake(g.Bodies, func(i int) {
		d := g.Center.Sub(b.WorldCenter[i])
		r := math.Max(d.Len(), g.MinDistance)
		if r <= geom.Epsilon {
			return
		}
		f := d.Normalize().Mul(g.Strength * b.Mass[i] / (r * r))
		b.Force[i] = b.Force[i].Add(f)
	})
}

// Drag opposes motion: F = -(Linear + Quadratic |v|) v and
// τ = -Angular ω.
type Drag struct {
	Linear    float64
	Quadratic float64
	Angular   float64
	Bodies    []EntityId
}

func (g Drag) Apply(w *World, _ float64) {
	b := &w.store.Bodies
	w.eachAwake(g.Bodies, func(i int) {
		v := b.LinearVelocity[i]
		k := g.Linear + g.Quadratic*v.Len()
		b.Force[i] = b.Force[i].Sub(v.Mul(k))
		b.Torque[i] = b.Torque[i].Sub(b.AngularVelocity[i].Mul(g.Angular))
	})
}

// Spring is a damped spring between an anchor on BodyA and an anchor on
// BodyB, both in body-origin frames. A null BodyB pins the spring to the
// world point AnchorB.
type Spring struct {
	BodyA, BodyB     EntityId
	AnchorA, AnchorB mgl64.Vec3
	RestLength       float64
	Stiffness        float64
	Damping          float64
}

func (s Spring) Apply(w *World, _ float64) {
	b := &w.store.Bodies
	ia, err := b.Index(s.BodyA)
	if err != nil {
		return
	}
	ib := -1
	if !s.BodyB.IsNil() {
		if ib, err = b.Index(s.BodyB); err != nil {
			return
		}
	}
	awake := func(i int) bool { return i >= 0 && b.Dynamic(i) && b.Sleep[i] == store.Awake }
	if !awake(ia) && !awake(ib) {
		return
	}

	pA := b.Transform(ia).Apply(s.AnchorA)
	vA := b.VelocityAt(ia, pA)
	pB, vB := s.AnchorB, mgl64.Vec3{}
	if ib >= 0 {
		pB = b.Transform(ib).Apply(s.AnchorB)
		vB = b.VelocityAt(ib, pB)
	}
	d := pB.Sub(pA)
	l := d.Len()
	if l <= geom.Epsilon {
		return
	}
	n := d.Mul(1 / l)
	mag := s.Stiffness*(l-s.RestLength) + s.Damping*vB.Sub(vA).Dot(n)
	f := n.Mul(mag)
	if awake(ia) {
		w.addForceAt(ia, f, pA)
	}
	if awake(ib) {
		w.addForceAt(ib, f.Mul(-1), pB)
	}
}
