// Package solver resolves contacts and joints with projected Gauss-Seidel
// on velocities (sequential impulses with warm starting) followed by
// non-linear Gauss-Seidel on positions.
package solver

import (
	"errors"
	"fmt"
	"math"

	"github.com/gekko3d/rigid/arena"
	"github.com/gekko3d/rigid/narrowphase"
	"github.com/gekko3d/rigid/store"
)

var ErrNumericalFault = errors.New("solver: non-finite impulse")

type Params struct {
	Dt                 float64
	VelocityIterations int
	PositionIterations int
	WarmStart          bool
	// Baumgarte is the fraction of contact penetration removed per
	// position iteration.
	Baumgarte            float64
	LinearSlop           float64
	AngularSlop          float64
	MaxLinearCorrection  float64
	MaxAngularCorrection float64
	// RestitutionThreshold is the approach speed below which contacts
	// do not bounce.
	RestitutionThreshold float64
	// StaticSlipSpeed is the tangential speed below which static
	// friction applies.
	StaticSlipSpeed float64
	// PredictiveIterations runs the predictive correction after the
	// velocity solve; 0 disables it.
	PredictiveIterations int
	// PredictiveSlop is the predicted penetration the correction allows.
	PredictiveSlop float64
}

func DefaultParams() Params {
	return Params{
		Dt:                   1.0 / 60,
		VelocityIterations:   8,
		PositionIterations:   3,
		WarmStart:            true,
		Baumgarte:            0.2,
		LinearSlop:           0.005,
		AngularSlop:          2.0 / 180 * math.Pi,
		MaxLinearCorrection:  0.2,
		MaxAngularCorrection: 8.0 / 180 * math.Pi,
		RestitutionThreshold: 1.0,
		StaticSlipSpeed:      0.05,
		PredictiveSlop:       0.001,
	}
}

func (p Params) Validate() error {
	if !(p.Dt > 0) || math.IsInf(p.Dt, 0) {
		return fmt.Errorf("solver timestep %v must be positive", p.Dt)
	}
	if p.VelocityIterations < 1 || p.PositionIterations < 0 || p.PredictiveIterations < 0 {
		return fmt.Errorf("solver iterations %d/%d/%d out of range", p.VelocityIterations, p.PositionIterations, p.PredictiveIterations)
	}
	for _, v := range []float64{p.Baumgarte, p.LinearSlop, p.AngularSlop, p.MaxLinearCorrection, p.MaxAngularCorrection, p.RestitutionThreshold, p.StaticSlipSpeed, p.PredictiveSlop} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("solver parameter %v must be finite and non-negative", v)
		}
	}
	return nil
}

// Fault records a row whose impulse or effective mass was not finite.
// The row was skipped for that iteration. Item indexes the island's own
// list; Joint is the joint handle when the island carried one.
type Fault struct {
	Kind         string
	Item         int
	Row          string
	BodyA, BodyB arena.EntityId
	Joint        arena.EntityId
}

func (f Fault) Error() string {
	return fmt.Sprintf("%s %d (%s, %s) %s row: %v", f.Kind, f.Item, f.BodyA, f.BodyB, f.Row, ErrNumericalFault)
}

func (f Fault) Unwrap() error { return ErrNumericalFault }

// Report summarises one island solve.
type Report struct {
	Manifolds       int
	Points          int
	Joints          int
	NormalImpulse   float64
	FrictionImpulse float64
	// PredictiveImpulse is the normal impulse added by the predictive
	// correction. It is not warm started.
	PredictiveImpulse float64
	MaxPenetration    float64
	// PositionError is the largest remaining joint or contact error after
	// the position iterations.
	PositionError float64
	Faults        []Fault

	manifolds []*narrowphase.Manifold
	joints    []*Joint
	jointIds  []arena.EntityId
}

// Merge folds another report into r.
func (r *Report) Merge(o Report) {
	r.Manifolds += o.Manifolds
	r.Points += o.Points
	r.Joints += o.Joints
	r.NormalImpulse += o.NormalImpulse
	r.FrictionImpulse += o.FrictionImpulse
	r.PredictiveImpulse += o.PredictiveImpulse
	r.MaxPenetration = math.Max(r.MaxPenetration, o.MaxPenetration)
	r.PositionError = math.Max(r.PositionError, o.PositionError)
	r.Faults = append(r.Faults, o.Faults...)
}

func (r *Report) fault(f Fault) {
	if n := len(r.Faults); n > 0 {
		last := r.Faults[n-1]
		if last.Kind == f.Kind && last.Item == f.Item && last.Row == f.Row {
			return
		}
	}
	r.Faults = append(r.Faults, f)
}

func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }

func (r *Report) checkContact(item int, row string, lambda float64) bool {
	if finite(lambda) {
		return true
	}
	m := r.manifolds[item]
	r.fault(Fault{Kind: "contact", Item: item, Row: row, BodyA: m.BodyA, BodyB: m.BodyB})
	return false
}

func (r *Report) checkJoint(item int, row string, lambda float64) bool {
	if finite(lambda) {
		return true
	}
	j := r.joints[item]
	f := Fault{Kind: "joint", Item: item, Row: row, BodyA: j.BodyA, BodyB: j.BodyB}
	if item < len(r.jointIds) {
		f.Joint = r.jointIds[item]
	}
	r.fault(f)
	return false
}

func (r *Report) checkJointVec(item int, row string, v [3]float64) bool {
	return r.checkJoint(item, row, v[0]+v[1]+v[2])
}

// Island is the constraint set of one island, in solve order: joints by
// ascending id, manifolds by ascending collider pair.
type Island struct {
	Manifolds []*narrowphase.Manifold
	Joints    []*Joint
	// JointIds optionally names Joints, in the same order.
	JointIds []arena.EntityId
}

type Solver struct {
	Params Params
}

func New(p Params) *Solver {
	return &Solver{Params: p}
}

// prepared holds the island-local state of one solve.
type prepared struct {
	st       *states
	contacts []contactConstraint
	joints   []jointConstraint
}

func (s *Solver) prepare(b *store.Bodies, is Island) prepared {
	st := newStates(2 * (len(is.Manifolds) + len(is.Joints)))
	p := prepared{st: st}
	for k, j := range is.Joints {
		ia, errA := b.Index(j.BodyA)
		ib, errB := b.Index(j.BodyB)
		if errA != nil || errB != nil {
			continue
		}
		p.joints = append(p.joints, jointConstraint{j: j, item: k, a: st.get(b, ia), b: st.get(b, ib)})
	}
	for k, m := range is.Manifolds {
		if m.Trigger || m.Count == 0 {
			continue
		}
		ia, errA := b.Index(m.BodyA)
		ib, errB := b.Index(m.BodyB)
		if errA != nil || errB != nil {
			continue
		}
		p.contacts = append(p.contacts, contactConstraint{m: m, item: k, a: st.get(b, ia), b: st.get(b, ib)})
	}
	return p
}

// SolveVelocities runs the velocity iterations of one island and writes
// the new velocities of its dynamic bodies back to the store. Accumulated
// impulses are stored on the manifolds and joints for the next step.
func (s *Solver) SolveVelocities(b *store.Bodies, is Island) Report {
	r := Report{manifolds: is.Manifolds, joints: is.Joints, jointIds: is.JointIds}
	p := s.prepare(b, is)
	st := p.st.list

	for k := range p.joints {
		s.prepareJoint(&p.joints[k], st)
	}
	for k := range p.contacts {
		s.prepareContact(&p.contacts[k], st)
	}

	if s.Params.WarmStart {
		for k := range p.joints {
			s.warmStartJoint(&p.joints[k], st)
		}
		for k := range p.contacts {
			s.warmStartContact(&p.contacts[k], st)
		}
	} else {
		for k := range p.joints {
			p.joints[k].j.ResetImpulses()
		}
		for k := range p.contacts {
			p.contacts[k].reset()
		}
	}

	for it := 0; it < s.Params.VelocityIterations; it++ {
		for k := range p.joints {
			s.solveJoint(&p.joints[k], st, &r)
		}
		for k := range p.contacts {
			s.solveContact(&p.contacts[k], st, it%2 == 1, &r)
		}
	}
	for k := range p.contacts {
		s.restitute(&p.contacts[k], st, &r)
	}
	for it := 0; it < s.Params.PredictiveIterations; it++ {
		for k := range p.contacts {
			s.predict(&p.contacts[k], st, &r)
		}
	}

	for k := range p.contacts {
		p.contacts[k].store(&r)
	}
	r.Joints = len(p.joints)
	p.st.storeVelocities(b)
	return r
}

// SolvePositions runs the position iterations of one island on the
// integrated poses. Velocities are not touched.
func (s *Solver) SolvePositions(b *store.Bodies, is Island) Report {
	r := Report{manifolds: is.Manifolds, joints: is.Joints, jointIds: is.JointIds}
	if s.Params.PositionIterations == 0 {
		return r
	}
	p := s.prepare(b, is)
	st := p.st.list

	for it := 0; it < s.Params.PositionIterations; it++ {
		linErr, angErr := 0.0, 0.0
		for k := range p.joints {
			l, a := s.correctJoint(&p.joints[k], st)
			linErr = math.Max(linErr, l)
			angErr = math.Max(angErr, a)
		}
		minSep := 0.0
		for k := range p.contacts {
			minSep = math.Min(minSep, s.correctContact(&p.contacts[k], st))
		}
		r.PositionError = math.Max(linErr, -minSep)
		if minSep >= -3*s.Params.LinearSlop && linErr <= s.Params.LinearSlop && angErr <= s.Params.AngularSlop {
			break
		}
	}
	p.st.storePoses(b)
	return r
}
