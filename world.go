// Package rigid is a real-time rigid-body physics world: bodies and
// colliders behind generational handles, a pluggable broad phase, exact
// narrow phase, continuous collision detection, a sequential-impulse
// solver with joints, and island sleeping.
package rigid

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/gekko3d/rigid/arena"
	"github.com/gekko3d/rigid/articulation"
	"github.com/gekko3d/rigid/broadphase"
	"github.com/gekko3d/rigid/bvh"
	"github.com/gekko3d/rigid/ccd"
	"github.com/gekko3d/rigid/geom"
	"github.com/gekko3d/rigid/integrator"
	"github.com/gekko3d/rigid/internal/parallel"
	"github.com/gekko3d/rigid/island"
	"github.com/gekko3d/rigid/narrowphase"
	"github.com/gekko3d/rigid/solver"
	"github.com/gekko3d/rigid/store"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

type (
	EntityId     = arena.EntityId
	BodyDesc     = store.BodyDesc
	BodyView     = store.BodyView
	ColliderDesc = store.ColliderDesc
	ColliderView = store.ColliderView
)

// World owns every body, collider and joint. It is not safe for
// concurrent use; only Latest may be called from other goroutines.
type World struct {
	id   uuid.UUID
	cfg  Config
	log  Logger
	diag Diagnostics

	store  *store.Store
	joints *arena.Arena[solver.Joint]
	// multibodies are stepped in reduced coordinates before the contact
	// phases; their links drive kinematic bodies.
	multibodies *arena.Arena[articulation.Multibody]
	forces      *arena.Arena[ForceGenerator]
	backend     broadphase.Backend
	cache       *narrowphase.Cache
	islands     island.Builder
	solver      *solver.Solver
	ccd         ccd.Detector
	sleep       island.Sleep
	gravity     mgl64.Vec3

	frame       uint64
	time        float64
	accumulator float64
	metrics     StepMetrics
	latest      atomic.Pointer[Snapshot]

	proxies []broadphase.Proxy
	// sweeps holds this step's motion of every collider slot that needs
	// a continuous sweep.
	sweeps map[int]ccd.Motion

	tree      *bvh.Tree
	treeSlots []int
	treeFrame uint64
	treeDirty bool
}

func NewWorld(cfg Config) (*World, error) {
	return NewWorldBuilder().WithConfig(cfg).Build()
}

func (w *World) ID() uuid.UUID { return w.id }

func (w *World) Config() Config { return w.cfg }

func (w *World) Frame() uint64 { return w.frame }

// Time is the simulated time in seconds.
func (w *World) Time() float64 { return w.time }

func (w *World) Gravity() mgl64.Vec3 { return w.gravity }

func (w *World) SetGravity(g mgl64.Vec3) error {
	if !geom.FiniteVec(g) {
		return fmt.Errorf("gravity %v: %w", g, ErrNonFiniteInput)
	}
	w.gravity = g
	return nil
}

// SetPredictiveCorrection sets the predictive correction pass that runs
// after the velocity solve. Zero iterations turn it off.
func (w *World) SetPredictiveCorrection(iterations int, slop float64) error {
	p := w.solver.Params
	p.PredictiveIterations = iterations
	p.PredictiveSlop = slop
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	w.solver.Params = p
	w.cfg.Solver.PredictiveIterations = iterations
	w.cfg.Solver.PredictiveSlop = slop
	return nil
}

// Backend is the broad phase in use.
func (w *World) Backend() broadphase.Backend { return w.backend }

// Advance runs as many fixed steps as fit in the accumulated time, at most
// MaxSubsteps. Time beyond the cap is dropped so a stalled caller cannot
// trigger a spiral of ever longer frames. It returns the number of steps.
func (w *World) Advance(elapsed float64) (int, error) {
	if !(elapsed >= 0) || math.IsInf(elapsed, 0) {
		return 0, fmt.Errorf("advance %v: %w", elapsed, ErrNonFiniteInput)
	}
	dt := w.cfg.Timestep
	w.accumulator += elapsed
	steps := 0
	for w.accumulator >= dt && steps < w.cfg.MaxSubsteps {
		if _, err := w.Step(dt); err != nil {
			return steps, err
		}
		w.accumulator -= dt
		steps++
	}
	if w.accumulator >= dt {
		w.log.Debugf("dropping %.4fs after %d substeps", w.accumulator-math.Mod(w.accumulator, dt), steps)
		w.accumulator = math.Mod(w.accumulator, dt)
	}
	return steps, nil
}

// Alpha is the fraction of a step left in the accumulator, for
// interpolating rendered poses.
func (w *World) Alpha() float64 {
	return w.accumulator / w.cfg.Timestep
}

// Step advances the world by dt. The phases always run in the same order:
// forces, multibodies, broad phase, narrow phase, continuous collision,
// islands, velocity solve, integration with position correction, sleep.
func (w *World) Step(dt float64) (StepMetrics, error) {
	if !(dt > 0) || math.IsInf(dt, 0) {
		return StepMetrics{}, fmt.Errorf("step %v: %w", dt, ErrNonFiniteInput)
	}
	w.frame++
	m := StepMetrics{Frame: w.frame}
	b := &w.store.Bodies
	w.solver.Params.Dt = dt

	w.applyGenerators(dt)
	m.Resets = integrator.ApplyForces(b, w.gravity, dt, w.cfg.Workers)
	m.Multibodies = w.stepMultibodies(dt)

	w.store.UpdateColliders()
	w.predictMotions(dt)
	pairs := w.findPairs()
	m.Pairs = len(pairs)

	w.collide(pairs)
	w.sweep(pairs, dt, &m)
	w.prune()

	manifolds := w.cache.Manifolds()
	joints, jointIds := w.jointList()
	islands, woken := w.islands.Build(b, w.contactLinks(manifolds), w.jointLinks(joints))
	m.Islands = len(islands)
	m.Woken = woken

	work := make([]solver.Island, 0, len(islands))
	for k := range islands {
		is := &islands[k]
		if !is.Awake {
			continue
		}
		si := solver.Island{
			Manifolds: make([]*narrowphase.Manifold, len(is.Manifolds)),
			Joints:    make([]*solver.Joint, len(is.Joints)),
			JointIds:  make([]EntityId, len(is.Joints)),
		}
		for n, item := range is.Manifolds {
			si.Manifolds[n] = manifolds[item]
		}
		for n, item := range is.Joints {
			si.Joints[n] = joints[item]
			si.JointIds[n] = jointIds[item]
		}
		work = append(work, si)
	}
	m.AwakeIslands = len(work)

	velocity := make([]solver.Report, len(work))
	parallel.Each(len(work), w.cfg.Workers, func(k int) {
		velocity[k] = w.solver.SolveVelocities(b, work[k])
	})

	limits := integrator.Limits{MaxLinearSpeed: w.cfg.MaxLinearSpeed, MaxAngularSpeed: w.cfg.MaxAngularSpeed}
	m.Resets += integrator.IntegratePositions(b, dt, limits, w.cfg.Workers)
	w.snapLinks()

	position := make([]solver.Report, len(work))
	parallel.Each(len(work), w.cfg.Workers, func(k int) {
		position[k] = w.solver.SolvePositions(b, work[k])
	})
	w.store.UpdateColliders()

	m.Slept = w.sleep.Update(b, islands, dt)
	w.time += dt

	var total solver.Report
	for k := range work {
		total.Merge(velocity[k])
		total.PositionError = math.Max(total.PositionError, position[k].PositionError)
		total.Faults = append(total.Faults, position[k].Faults...)
	}
	w.finish(&m, total)
	return m, nil
}

// finish records metrics, reports recovered faults and publishes the
// snapshot.
func (w *World) finish(m *StepMetrics, r solver.Report) {
	b := &w.store.Bodies
	m.Bodies = b.Len()
	for i := 0; i < b.Cap(); i++ {
		if b.Dynamic(i) && b.Sleep[i] == store.Awake {
			m.AwakeBodies++
		}
	}
	m.Manifolds = r.Manifolds
	m.Points = r.Points
	m.Joints = r.Joints
	m.NormalImpulse = r.NormalImpulse
	m.FrictionImpulse = r.FrictionImpulse
	m.PredictiveImpulse = r.PredictiveImpulse
	m.MaxPenetration = r.MaxPenetration
	m.PositionError = r.PositionError
	m.Faults = len(r.Faults)

	for _, f := range r.Faults {
		if f.Kind == "joint" && !f.Joint.IsNil() {
			w.log.Warnf("frame %d: joint %s: %v", w.frame, f.Joint, f)
		} else {
			w.log.Warnf("frame %d: %v", w.frame, f)
		}
		w.diag.Report(f)
	}
	if m.Resets > 0 {
		err := fmt.Errorf("frame %d: %d bodies stopped: %w", w.frame, m.Resets, ErrNonFiniteState)
		w.log.Warnf("%v", err)
		w.diag.Report(err)
	}

	w.metrics = *m
	if w.log.DebugEnabled() {
		w.log.Debugf("frame %d: %d/%d bodies awake, %d pairs, %d manifolds, %d islands (%d awake), ccd %d/%d/%d",
			m.Frame, m.AwakeBodies, m.Bodies, m.Pairs, m.Manifolds, m.Islands, m.AwakeIslands,
			m.CCDSweeps, m.CCDHits, m.CCDFallbacks)
	}
	w.publish()
}

// motion is the collider's movement over the coming step at the current
// velocities.
func (w *World) motion(ci int, dt float64) ccd.Motion {
	c := &w.store.Colliders
	b := &w.store.Bodies
	bi := c.BodyIndex[ci]
	mo := ccd.Motion{Shape: c.Shape[ci], Start: c.World[ci], Pivot: b.WorldCenter[bi]}
	if b.Active(bi) {
		mo.Linear = b.LinearVelocity[bi].Mul(dt)
		mo.Angular = b.AngularVelocity[bi].Mul(dt)
	}
	return mo
}

func (w *World) minExtent(bi int) float64 {
	b := &w.store.Bodies
	ext := math.Inf(1)
	for _, cid := range b.Colliders[bi] {
		ci := int(cid.Index)
		if w.store.Colliders.Trigger[ci] {
			continue
		}
		ext = math.Min(ext, w.store.Colliders.Shape[ci].MinExtent())
	}
	return ext
}

func (w *World) predictMotions(dt float64) {
	clear(w.sweeps)
	if !w.ccd.Enabled {
		return
	}
	b := &w.store.Bodies
	c := &w.store.Colliders
	for bi := 0; bi < b.Cap(); bi++ {
		if !b.Active(bi) || !b.CCD[bi] {
			continue
		}
		ext := w.minExtent(bi)
		for _, cid := range b.Colliders[bi] {
			ci := int(cid.Index)
			if c.Trigger[ci] {
				continue
			}
			if mo := w.motion(ci, dt); w.ccd.NeedsSweep(mo, ext) {
				w.sweeps[ci] = mo
			}
		}
	}
}

func (w *World) findPairs() []broadphase.Pair {
	c := &w.store.Colliders
	b := &w.store.Bodies
	margin := w.cfg.ContactMargin
	w.proxies = w.proxies[:0]
	for ci := 0; ci < c.Cap(); ci++ {
		if !c.Live(ci) {
			continue
		}
		box := c.AABB[ci]
		if mo, ok := w.sweeps[ci]; ok {
			box = mo.SweptAABB()
		}
		w.proxies = append(w.proxies, broadphase.Proxy{
			Collider: c.Slots.Id(ci),
			Body:     c.Body[ci],
			AABB:     box.Expand(margin),
			Filter:   c.Filter[ci],
			Active:   b.Active(c.BodyIndex[ci]),
		})
	}
	pairs := w.backend.FindPairs(w.proxies)

	excluded := w.jointExclusions()
	if len(excluded) == 0 {
		return pairs
	}
	out := pairs[:0]
	for _, p := range pairs {
		ia, ib := w.colliderBody(p.A), w.colliderBody(p.B)
		if excluded[bodyKey(ia, ib)] {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (w *World) colliderBody(id EntityId) int {
	return w.store.Colliders.BodyIndex[id.Index]
}

func bodyKey(a, b int) [2]int {
	if b < a {
		a, b = b, a
	}
	return [2]int{a, b}
}

// jointExclusions lists the body pairs whose joints disable contact.
func (w *World) jointExclusions() map[[2]int]bool {
	var out map[[2]int]bool
	b := &w.store.Bodies
	w.joints.Each(func(_ EntityId, j *solver.Joint) bool {
		if j.CollideConnected {
			return true
		}
		ia, ib, err := b.Pair(j.BodyA, j.BodyB)
		if err != nil {
			return true
		}
		if out == nil {
			out = make(map[[2]int]bool)
		}
		out[bodyKey(ia, ib)] = true
		return true
	})
	return out
}

func round(s geom.Shape) bool {
	switch s.Kind() {
	case geom.KindSphere, geom.KindCapsule, geom.KindCylinder:
		return true
	}
	return false
}

// pairMaterial combines the two colliders' materials. Rolling and
// torsional resistance only act when one side can roll. Friction
// anisotropy follows the collider that declares it.
func (w *World) pairMaterial(ca, cb int) geom.PairMaterial {
	c := &w.store.Colliders
	m := geom.Combine(c.Material[ca], c.Material[cb])
	m.Orient(c.Material[ca], c.Material[cb], c.World[ca].Rotation, c.World[cb].Rotation)
	if !round(c.Shape[ca]) && !round(c.Shape[cb]) {
		m.RollingFriction = 0
		m.TorsionalFriction = 0
	}
	return m
}

func (w *World) object(ci int) narrowphase.Object {
	c := &w.store.Colliders
	return narrowphase.Object{Shape: c.Shape[ci], Xf: c.World[ci]}
}

// store writes a contact into the pair's persistent manifold.
func (w *World) storeContact(p broadphase.Pair, contact narrowphase.Contact) *narrowphase.Manifold {
	c := &w.store.Colliders
	b := &w.store.Bodies
	ca, cb := int(p.A.Index), int(p.B.Index)
	ba, bb := c.BodyIndex[ca], c.BodyIndex[cb]
	return w.cache.Update(p, c.Body[ca], c.Body[cb], b.Transform(ba), b.Transform(bb),
		contact, w.pairMaterial(ca, cb), c.Trigger[ca] || c.Trigger[cb], w.frame)
}

type collision struct {
	contact narrowphase.Contact
	ok      bool
}

// collide runs the narrow phase on every pair in parallel, then updates
// the cache in pair order.
func (w *World) collide(pairs []broadphase.Pair) {
	results := make([]collision, len(pairs))
	margin := w.cfg.ContactMargin
	parallel.Each(len(pairs), w.cfg.Workers, func(k int) {
		p := pairs[k]
		c, ok := narrowphase.Collide(w.object(int(p.A.Index)), w.object(int(p.B.Index)), margin)
		results[k] = collision{contact: c, ok: ok}
	})
	for k, p := range pairs {
		if results[k].ok {
			w.storeContact(p, results[k].contact)
		}
	}
}

// sweep runs continuous collision on pairs involving a fast collider.
// A hit becomes a speculative manifold at the start poses whose gap the
// solver may close but not cross, and the approach velocity is clamped
// to reach the surface at the end of the step.
func (w *World) sweep(pairs []broadphase.Pair, dt float64, m *StepMetrics) {
	if len(w.sweeps) == 0 {
		return
	}
	c := &w.store.Colliders
	for _, p := range pairs {
		ca, cb := int(p.A.Index), int(p.B.Index)
		ma, okA := w.sweeps[ca]
		mb, okB := w.sweeps[cb]
		if !okA && !okB || c.Trigger[ca] || c.Trigger[cb] {
			continue
		}
		if old, ok := w.cache.Get(p); ok && old.Frame == w.frame && old.Touching() {
			continue
		}
		if !okA {
			ma = w.motion(ca, dt)
		}
		if !okB {
			mb = w.motion(cb, dt)
		}
		m.CCDSweeps++

		toi, err := w.ccd.TimeOfImpact(ma, mb)
		if err != nil {
			m.CCDFallbacks++
			err = fmt.Errorf("frame %d: colliders %s %s: %w", w.frame, p.A, p.B, err)
			w.log.Warnf("%v", err)
			w.diag.Report(err)
			margin := ma.Travel() + mb.Travel() + w.cfg.ContactMargin
			if contact, ok := narrowphase.Collide(w.object(ca), w.object(cb), margin); ok {
				w.storeContact(p, contact).Speculative = true
			}
			continue
		}
		if !toi.Hit {
			continue
		}
		m.CCDHits++
		contact := w.impactContact(ma, mb, toi)
		mf := w.storeContact(p, contact)
		mf.Speculative = true
		w.clampApproach(c.BodyIndex[ca], c.BodyIndex[cb], contact, dt)
	}
}

// impactContact builds the contact at the time of impact and carries its
// points back to the start poses, so each point's depth is minus the gap
// the pair closes before touching.
func (w *World) impactContact(ma, mb ccd.Motion, toi ccd.TOI) narrowphase.Contact {
	xa, xb := ma.At(toi.T), mb.At(toi.T)
	hit, ok := narrowphase.Collide(
		narrowphase.Object{Shape: ma.Shape, Xf: xa},
		narrowphase.Object{Shape: mb.Shape, Xf: xb},
		2*w.ccd.Tolerance+w.cfg.ContactMargin)
	if !ok {
		hit = narrowphase.Contact{
			Normal: toi.Normal,
			Points: []narrowphase.ContactPoint{{PointA: toi.PointA, PointB: toi.PointB, Normal: toi.Normal}},
		}
	}
	out := narrowphase.Contact{Normal: hit.Normal, Points: make([]narrowphase.ContactPoint, len(hit.Points))}
	for k, p := range hit.Points {
		pa := ma.Start.Apply(xa.ApplyInverse(p.PointA))
		pb := mb.Start.Apply(xb.ApplyInverse(p.PointB))
		out.Points[k] = narrowphase.ContactPoint{
			PointA: pa,
			PointB: pb,
			Normal: p.Normal,
			Depth:  pa.Sub(pb).Dot(p.Normal),
		}
	}
	return out
}

// clampApproach limits the closing speed of two bodies along the contact
// normal to what closes the smallest gap in one step, split by inverse
// mass.
func (w *World) clampApproach(ia, ib int, contact narrowphase.Contact, dt float64) {
	b := &w.store.Bodies
	gap := math.Inf(1)
	for _, p := range contact.Points {
		gap = math.Min(gap, -p.Depth)
	}
	if !(gap > 0) || math.IsInf(gap, 0) {
		return
	}
	wa, wb := 0.0, 0.0
	if b.Dynamic(ia) {
		wa = b.InvMass[ia]
	}
	if b.Dynamic(ib) {
		wb = b.InvMass[ib]
	}
	if wa+wb == 0 {
		return
	}
	n := contact.Normal
	vn := b.LinearVelocity[ib].Sub(b.LinearVelocity[ia]).Dot(n)
	allowed := -gap / dt
	if vn >= allowed {
		return
	}
	deficit := allowed - vn
	b.LinearVelocity[ia] = b.LinearVelocity[ia].Sub(n.Mul(deficit * wa / (wa + wb)))
	b.LinearVelocity[ib] = b.LinearVelocity[ib].Add(n.Mul(deficit * wb / (wa + wb)))
}

// prune drops manifolds the narrow phase did not refresh this step,
// except between bodies that are both asleep or static, which the broad
// phase skips.
func (w *World) prune() {
	b := &w.store.Bodies
	w.cache.Prune(w.frame, func(m *narrowphase.Manifold) bool {
		ia, ib, err := b.Pair(m.BodyA, m.BodyB)
		if err != nil {
			return false
		}
		return !b.Active(ia) && !b.Active(ib)
	})
}

func (w *World) contactLinks(manifolds []*narrowphase.Manifold) []island.Link {
	b := &w.store.Bodies
	links := make([]island.Link, 0, len(manifolds))
	for k, m := range manifolds {
		if m.Trigger || m.Count == 0 {
			continue
		}
		ia, ib, err := b.Pair(m.BodyA, m.BodyB)
		if err != nil {
			continue
		}
		links = append(links, island.Link{A: ia, B: ib, Item: k})
	}
	return links
}

// jointList returns the joints in handle order with their handles.
func (w *World) jointList() ([]*solver.Joint, []EntityId) {
	var js []*solver.Joint
	var ids []EntityId
	w.joints.Each(func(id EntityId, j *solver.Joint) bool {
		js = append(js, j)
		ids = append(ids, id)
		return true
	})
	return js, ids
}

func (w *World) jointLinks(joints []*solver.Joint) []island.Link {
	b := &w.store.Bodies
	links := make([]island.Link, 0, len(joints))
	for k, j := range joints {
		ia, ib, err := b.Pair(j.BodyA, j.BodyB)
		if err != nil {
			continue
		}
		links = append(links, island.Link{A: ia, B: ib, Item: k})
	}
	return links
}
