package solver

import (
	"errors"
	"fmt"
	"math"

	"github.com/gekko3d/rigid/arena"
	"github.com/gekko3d/rigid/geom"
	"github.com/go-gl/mathgl/mgl64"
)

var ErrInvalidJoint = errors.New("invalid joint")

type JointKind uint8

const (
	Fixed JointKind = iota
	Revolute
	Prismatic
	Distance
)

func (k JointKind) String() string {
	switch k {
	case Fixed:
		return "fixed"
	case Revolute:
		return "revolute"
	case Prismatic:
		return "prismatic"
	case Distance:
		return "distance"
	}
	return fmt.Sprintf("JointKind(%d)", uint8(k))
}

func ParseJointKind(s string) (JointKind, error) {
	for k := Fixed; k <= Distance; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("joint kind %q: %w", s, ErrInvalidJoint)
}

// Limit bounds the joint coordinate: the hinge angle in radians, the
// slide translation, or the distance joint length.
type Limit struct {
	Enabled      bool
	Lower, Upper float64
}

// Motor drives the joint coordinate towards Speed using at most MaxForce
// (a torque for revolute joints).
type Motor struct {
	Enabled  bool
	Speed    float64
	MaxForce float64
}

// Joint is a persistent two-body constraint. Anchors and axes are in each
// body's origin frame; Reference is the rest rotation of B relative to A
// (qB = qA * Reference).
type Joint struct {
	Kind         JointKind
	BodyA, BodyB arena.EntityId
	LocalAnchorA mgl64.Vec3
	LocalAnchorB mgl64.Vec3
	LocalAxisA   mgl64.Vec3
	LocalAxisB   mgl64.Vec3
	Reference    mgl64.Quat
	Length       float64
	Limit        Limit
	Motor        Motor
	// CollideConnected keeps contacts between the two bodies.
	CollideConnected bool

	// lockImpulse is indexed like lockRows.
	lockImpulse  [maxRows - 1]float64
	motorImpulse float64
	lowerImpulse float64
	upperImpulse float64
	axialImpulse float64
}

func (j *Joint) Validate() error {
	if j.Kind > Distance {
		return fmt.Errorf("joint kind %d: %w", j.Kind, ErrInvalidJoint)
	}
	if j.BodyA == j.BodyB {
		return fmt.Errorf("joint connects body %s to itself: %w", j.BodyA, ErrInvalidJoint)
	}
	for _, v := range []mgl64.Vec3{j.LocalAnchorA, j.LocalAnchorB, j.LocalAxisA, j.LocalAxisB} {
		if !geom.FiniteVec(v) {
			return fmt.Errorf("joint frame must be finite: %w", ErrInvalidJoint)
		}
	}
	if j.Kind == Revolute || j.Kind == Prismatic {
		if math.Abs(j.LocalAxisA.Len()-1) > 1e-6 || math.Abs(j.LocalAxisB.Len()-1) > 1e-6 {
			return fmt.Errorf("%s joint axis must be unit length: %w", j.Kind, ErrInvalidJoint)
		}
	}
	if !geom.FiniteQuat(j.Reference) || math.Abs(j.Reference.Len()-1) > 1e-6 {
		return fmt.Errorf("joint reference rotation must be a unit quaternion: %w", ErrInvalidJoint)
	}
	if !geom.Finite(j.Length) || j.Length < 0 {
		return fmt.Errorf("joint length %v: %w", j.Length, ErrInvalidJoint)
	}
	if j.Limit.Enabled && (!geom.Finite(j.Limit.Lower) || !geom.Finite(j.Limit.Upper) || j.Limit.Lower > j.Limit.Upper) {
		return fmt.Errorf("joint limit [%v, %v]: %w", j.Limit.Lower, j.Limit.Upper, ErrInvalidJoint)
	}
	if j.Motor.Enabled && (!geom.Finite(j.Motor.Speed) || !geom.Finite(j.Motor.MaxForce) || j.Motor.MaxForce < 0) {
		return fmt.Errorf("joint motor: %w", ErrInvalidJoint)
	}
	return nil
}

// ResetImpulses drops warm-start state, used when the joint is edited.
func (j *Joint) ResetImpulses() {
	j.lockImpulse = [maxRows - 1]float64{}
	j.motorImpulse = 0
	j.lowerImpulse = 0
	j.upperImpulse = 0
	j.axialImpulse = 0
}

// jointFrame is the joint geometry at the current poses.
type jointFrame struct {
	rA, rB mgl64.Vec3
	d      mgl64.Vec3
	axis   mgl64.Vec3
	perp   [2]mgl64.Vec3
	// value is the joint coordinate: hinge angle, slide offset or length.
	value float64
}

func (j *Joint) frame(a, b *state) jointFrame {
	var f jointFrame
	f.rA = a.q.Rotate(j.LocalAnchorA.Sub(a.localCenter))
	f.rB = b.q.Rotate(j.LocalAnchorB.Sub(b.localCenter))
	f.d = b.c.Add(f.rB).Sub(a.c.Add(f.rA))
	switch j.Kind {
	case Revolute:
		f.axis = a.q.Rotate(j.LocalAxisA)
		f.value = j.hingeAngle(a, b)
	case Prismatic:
		f.axis = a.q.Rotate(j.LocalAxisA)
		f.value = f.d.Dot(f.axis)
	case Distance:
		f.value = f.d.Len()
		f.axis = geom.SafeNormalize(f.d, mgl64.Vec3{0, 1, 0})
	default:
		f.axis = mgl64.Vec3{0, 1, 0}
	}
	f.perp[0], f.perp[1] = geom.Basis(f.axis)
	return f
}

// hingeAngle is the rotation of B relative to its rest pose about the
// hinge axis, in (-π, π].
func (j *Joint) hingeAngle(a, b *state) float64 {
	rel := a.q.Mul(j.Reference).Conjugate().Mul(b.q)
	axis := j.Reference.Conjugate().Rotate(j.LocalAxisA)
	angle := 2 * math.Atan2(rel.V.Dot(axis), rel.W)
	if angle > math.Pi {
		angle -= 2 * math.Pi
	} else if angle <= -math.Pi {
		angle += 2 * math.Pi
	}
	return angle
}

var unitAxes = [3]mgl64.Vec3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}

// lockRows fills rows with the equality rows of the joint at frame f and
// returns how many there are. Revolute joints lock the anchor point and
// the two directions off the hinge axis; prismatic joints lock rotation
// and the two directions off the slide axis.
func (j *Joint) lockRows(f *jointFrame, rows *[maxRows]jacobian) int {
	n := 0
	switch j.Kind {
	case Fixed, Revolute:
		for _, e := range unitAxes {
			rows[n] = pointRow(f.rA, f.rB, e)
			n++
		}
	}
	switch j.Kind {
	case Fixed, Prismatic:
		for _, e := range unitAxes {
			rows[n] = angularRow(e)
			n++
		}
	case Revolute:
		for k := 0; k < 2; k++ {
			rows[n] = angularRow(f.perp[k])
			n++
		}
	}
	if j.Kind == Prismatic {
		rA := f.rA.Add(f.d)
		for k := 0; k < 2; k++ {
			rows[n] = pointRow(rA, f.rB, f.perp[k])
			n++
		}
	}
	return n
}

// lockErrors is the position error of each lock row, in lockRows order.
func (j *Joint) lockErrors(a, b *state, f *jointFrame, c *[maxRows]float64) {
	n := 0
	switch j.Kind {
	case Fixed, Revolute:
		for k := 0; k < 3; k++ {
			c[n] = f.d[k]
			n++
		}
	}
	switch j.Kind {
	case Fixed, Prismatic:
		e := rotationBetween(b.q, a.q.Mul(j.Reference))
		for k := 0; k < 3; k++ {
			c[n] = -e[k]
			n++
		}
	case Revolute:
		e := b.q.Rotate(j.LocalAxisB).Cross(f.axis)
		for k := 0; k < 2; k++ {
			c[n] = -f.perp[k].Dot(e)
			n++
		}
	}
	if j.Kind == Prismatic {
		for k := 0; k < 2; k++ {
			c[n] = f.d.Dot(f.perp[k])
			n++
		}
	}
}

func (j *Joint) axialRow(f *jointFrame) jacobian {
	switch j.Kind {
	case Revolute:
		return angularRow(f.axis)
	case Prismatic:
		return pointRow(f.rA.Add(f.d), f.rB, f.axis)
	}
	return pointRow(f.rA, f.rB, f.axis)
}

// jointConstraint is a joint prepared for one velocity solve.
//
// The lock rows are solved together as one block. The axial row (motor,
// limit or distance) uses the mass left once the locks hold, and every
// axial impulse carries the lock impulses that keep them holding, so an
// axial row sees the full inertia about the joint axis.
type jointConstraint struct {
	j    *Joint
	item int
	a, b int
	f    jointFrame

	locks   [maxRows]jacobian
	n       int
	lockInv block
	lockOK  bool

	axial  jacobian
	axMass float64
	// axComp is K⁻¹ of the locks times their coupling to the axial row.
	axComp [maxRows]float64
}

func (s *Solver) prepareJoint(jc *jointConstraint, st []state) {
	a, b := &st[jc.a], &st[jc.b]
	j := jc.j
	jc.f = j.frame(a, b)
	jc.n = j.lockRows(&jc.f, &jc.locks)
	jc.lockInv = newBlock(jc.locks[:jc.n], a, b)
	jc.lockOK = jc.n > 0 && jc.lockInv.invert()

	jc.axComp = [maxRows]float64{}
	jc.axMass = 0
	if j.Kind != Fixed {
		jc.axial = j.axialRow(&jc.f)
		k := jc.axial.coupling(&jc.axial, a, b)
		if jc.lockOK {
			var cross [maxRows]float64
			for i := 0; i < jc.n; i++ {
				cross[i] = jc.locks[i].coupling(&jc.axial, a, b)
			}
			jc.axComp = jc.lockInv.mul(cross[:jc.n])
			for i := 0; i < jc.n; i++ {
				k -= cross[i] * jc.axComp[i]
			}
		}
		if k > geom.Epsilon {
			jc.axMass = 1 / k
		}
	}

	if !j.Motor.Enabled || (j.Kind != Revolute && j.Kind != Prismatic) {
		j.motorImpulse = 0
	}
	if !j.Limit.Enabled {
		j.lowerImpulse, j.upperImpulse = 0, 0
	}
}

func (s *Solver) warmStartJoint(jc *jointConstraint, st []state) {
	a, b := &st[jc.a], &st[jc.b]
	j := jc.j
	for i := 0; i < jc.n; i++ {
		jc.locks[i].apply(a, b, j.lockImpulse[i])
	}
	if j.Kind != Fixed {
		jc.axial.apply(a, b, j.motorImpulse+j.lowerImpulse-j.upperImpulse+j.axialImpulse)
	}
}

// applyAxial applies an axial impulse together with the lock impulses
// that cancel its effect on the locked rows.
func (jc *jointConstraint) applyAxial(a, b *state, lambda float64) {
	jc.axial.apply(a, b, lambda)
	if !jc.lockOK {
		return
	}
	for i := 0; i < jc.n; i++ {
		p := -jc.axComp[i] * lambda
		jc.locks[i].apply(a, b, p)
		jc.j.lockImpulse[i] += p
	}
}

func (s *Solver) solveJoint(jc *jointConstraint, st []state, r *Report) {
	a, b := &st[jc.a], &st[jc.b]
	j := jc.j
	dt := s.Params.Dt
	f := &jc.f

	s.solveLocks(jc, a, b, r)

	if j.Motor.Enabled && (j.Kind == Revolute || j.Kind == Prismatic) && jc.axMass > 0 {
		cdot := jc.axial.velocity(a, b) - j.Motor.Speed
		lambda := -jc.axMass * cdot
		if r.checkJoint(jc.item, "motor", lambda) {
			limit := j.Motor.MaxForce * dt
			old := j.motorImpulse
			j.motorImpulse = geom.Clamp(old+lambda, -limit, limit)
			jc.applyAxial(a, b, j.motorImpulse-old)
		}
	}

	if j.Kind == Distance && !j.Limit.Enabled && jc.axMass > 0 {
		lambda := -jc.axMass * jc.axial.velocity(a, b)
		if r.checkJoint(jc.item, "length", lambda) {
			j.axialImpulse += lambda
			jc.applyAxial(a, b, lambda)
		}
	}

	// limits go last so they have the final word in each iteration
	if j.Limit.Enabled && j.Kind != Fixed && jc.axMass > 0 {
		// speculative: the row only pushes once the coordinate would
		// cross the bound within this step
		c := f.value - j.Limit.Lower
		lambda := -jc.axMass * (jc.axial.velocity(a, b) + math.Max(c, 0)/dt)
		if r.checkJoint(jc.item, "lower limit", lambda) {
			old := j.lowerImpulse
			j.lowerImpulse = math.Max(old+lambda, 0)
			jc.applyAxial(a, b, j.lowerImpulse-old)
		}
		c = j.Limit.Upper - f.value
		lambda = -jc.axMass * (-jc.axial.velocity(a, b) + math.Max(c, 0)/dt)
		if r.checkJoint(jc.item, "upper limit", lambda) {
			old := j.upperImpulse
			j.upperImpulse = math.Max(old+lambda, 0)
			jc.applyAxial(a, b, -(j.upperImpulse - old))
		}
	}
}

// solveLocks drives the relative velocity of every lock row to zero.
func (s *Solver) solveLocks(jc *jointConstraint, a, b *state, r *Report) {
	j := jc.j
	if jc.n == 0 {
		return
	}
	var cdot [maxRows]float64
	sum := 0.0
	for i := 0; i < jc.n; i++ {
		cdot[i] = -jc.locks[i].velocity(a, b)
		sum += cdot[i]
	}
	if !r.checkJoint(jc.item, "lock", sum) {
		return
	}
	if jc.lockOK {
		lambda := jc.lockInv.mul(cdot[:jc.n])
		for i := 0; i < jc.n; i++ {
			j.lockImpulse[i] += lambda[i]
			jc.locks[i].apply(a, b, lambda[i])
		}
		return
	}
	// degenerate block: one row at a time
	for i := 0; i < jc.n; i++ {
		if m := jc.locks[i].mass(a, b); m > 0 {
			lambda := -m * jc.locks[i].velocity(a, b)
			j.lockImpulse[i] += lambda
			jc.locks[i].apply(a, b, lambda)
		}
	}
}

// correctJoint is one non-linear Gauss-Seidel pass over the joint's
// position error. A violated limit joins the lock rows in a single
// block so the anchor correction cannot undo it. It returns the linear
// and angular error before the correction.
func (s *Solver) correctJoint(jc *jointConstraint, st []state) (float64, float64) {
	a, b := &st[jc.a], &st[jc.b]
	j := jc.j
	p := &s.Params
	f := j.frame(a, b)

	var rows [maxRows]jacobian
	var c [maxRows]float64
	n := j.lockRows(&f, &rows)
	j.lockErrors(a, b, &f, &c)

	if j.Limit.Enabled && j.Kind != Fixed {
		switch {
		case f.value < j.Limit.Lower:
			c[n] = f.value - j.Limit.Lower
		case f.value > j.Limit.Upper:
			c[n] = f.value - j.Limit.Upper
		}
		if c[n] != 0 {
			rows[n] = j.axialRow(&f)
			n++
		}
	} else if j.Kind == Distance {
		c[n] = f.value - j.Length
		rows[n] = j.axialRow(&f)
		n++
	}

	linErr, angErr := 0.0, 0.0
	for i := 0; i < n; i++ {
		if rows[i].angular() {
			angErr = math.Max(angErr, math.Abs(c[i]))
			c[i] = -geom.Clamp(c[i], -p.MaxAngularCorrection, p.MaxAngularCorrection)
		} else {
			linErr = math.Max(linErr, math.Abs(c[i]))
			c[i] = -geom.Clamp(c[i], -p.MaxLinearCorrection, p.MaxLinearCorrection)
		}
	}
	if n == 0 {
		return linErr, angErr
	}

	k := newBlock(rows[:n], a, b)
	if k.invert() {
		lambda := k.mul(c[:n])
		for i := 0; i < n; i++ {
			rows[i].correct(a, b, lambda[i])
		}
		return linErr, angErr
	}
	for i := 0; i < n; i++ {
		if m := rows[i].mass(a, b); m > 0 {
			rows[i].correct(a, b, c[i]*m)
		}
	}
	return linErr, angErr
}

// rotationBetween is the small rotation vector taking orientation from
// onto orientation to.
func rotationBetween(from, to mgl64.Quat) mgl64.Vec3 {
	d := to.Mul(from.Conjugate())
	if d.W < 0 {
		d = d.Scale(-1)
	}
	return d.V.Mul(2)
}
