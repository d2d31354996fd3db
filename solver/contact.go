package solver

import (
	"math"

	"github.com/gekko3d/rigid/geom"
	"github.com/gekko3d/rigid/narrowphase"
	"github.com/go-gl/mathgl/mgl64"
)

type contactPoint struct {
	src    *narrowphase.Point
	normal jacobian
	nMass  float64

	normalImpulse float64
	// relVel is the approach speed before the solve, used for bounce.
	relVel float64
	// target is the lowest normal velocity the row enforces; negative for
	// speculative points so the gap may close within the step.
	target float64
}

// contactConstraint is one manifold prepared for the solve. Normal rows
// are per point; friction acts once at the centre of the points as two
// tangent rows plus a twist row about the normal.
type contactConstraint struct {
	m    *narrowphase.Manifold
	item int
	a, b int

	points [narrowphase.MaxPoints]contactPoint
	count  int

	restitution float64
	mu          float64
	material    geom.PairMaterial
	rolling     float64
	torsional   float64
	// radius is the mean distance of the points from their centre; it
	// turns sliding friction into a twist limit.
	radius float64

	t          [2]mgl64.Vec3
	tangent    [2]jacobian
	tangentInv block
	tangentOK  bool
	friction   [2]float64

	roll        [2]jacobian
	rollMass    [2]float64
	rollAxes    [2]mgl64.Vec3
	rollImpulse [2]float64
	twist       jacobian
	twistMass   float64
	twistImp    float64
}

func (s *Solver) prepareContact(cc *contactConstraint, st []state) {
	a, b := &st[cc.a], &st[cc.b]
	m := cc.m
	mat := m.Material
	dt := s.Params.Dt
	cc.restitution = mat.Restitution
	cc.material = mat
	cc.rolling = mat.RollingFriction
	cc.torsional = mat.TorsionalFriction

	var mids [narrowphase.MaxPoints]mgl64.Vec3
	var center mgl64.Vec3
	cc.count = 0
	for k := 0; k < m.Count; k++ {
		src := &m.Points[k]
		cp := &cc.points[cc.count]
		mid := src.WorldA.Add(src.WorldB).Mul(0.5)
		mids[cc.count] = mid
		center = center.Add(mid)
		cc.count++
		*cp = contactPoint{src: src}

		cp.normal = pointRow(mid.Sub(a.c), mid.Sub(b.c), src.Normal)
		cp.nMass = cp.normal.mass(a, b)
		cp.relVel = cp.normal.velocity(a, b)
		if src.Depth < 0 {
			cp.target = src.Depth / dt
		}
		cp.normalImpulse = src.NormalImpulse
	}

	n := m.Normal
	cc.radius = 0
	if cc.count > 0 {
		center = center.Mul(1 / float64(cc.count))
		for k := 0; k < cc.count; k++ {
			cc.radius += mids[k].Sub(center).Len()
		}
		cc.radius /= float64(cc.count)
	}
	rA, rB := center.Sub(a.c), center.Sub(b.c)
	cc.t[0], cc.t[1] = geom.Basis(n)
	var tangent mgl64.Vec3
	for k := 0; k < cc.count; k++ {
		tangent = tangent.Add(cc.points[k].src.TangentImpulse)
	}
	for i := 0; i < 2; i++ {
		cc.tangent[i] = pointRow(rA, rB, cc.t[i])
		cc.friction[i] = tangent.Dot(cc.t[i])
	}
	cc.tangentInv = newBlock(cc.tangent[:], a, b)
	cc.tangentOK = cc.tangentInv.invert()

	slip := math.Hypot(cc.tangent[0].velocity(a, b), cc.tangent[1].velocity(a, b))
	cc.mu = mat.DynamicFriction
	if slip < s.Params.StaticSlipSpeed {
		cc.mu = mat.StaticFriction
	}

	cc.rollAxes[0], cc.rollAxes[1] = geom.Basis(n)
	for i := 0; i < 2; i++ {
		cc.roll[i] = angularRow(cc.rollAxes[i])
		cc.rollMass[i] = cc.roll[i].mass(a, b)
		cc.rollImpulse[i] = m.RollingImpulse.Dot(cc.rollAxes[i])
	}
	cc.twist = angularRow(n)
	cc.twistMass = cc.twist.mass(a, b)
	cc.twistImp = m.TorsionalImpulse
	if cc.rolling == 0 {
		cc.rollImpulse = [2]float64{}
	}
	if cc.twistCoefficient() == 0 {
		cc.twistImp = 0
	}
}

// twistCoefficient scales the total normal impulse into the twist limit:
// sliding friction over the contact patch plus torsional friction.
func (cc *contactConstraint) twistCoefficient() float64 {
	return cc.mu*cc.radius + cc.torsional
}

func (cc *contactConstraint) reset() {
	for k := 0; k < cc.count; k++ {
		cc.points[k].normalImpulse = 0
	}
	cc.friction = [2]float64{}
	cc.rollImpulse = [2]float64{}
	cc.twistImp = 0
}

func (s *Solver) warmStartContact(cc *contactConstraint, st []state) {
	a, b := &st[cc.a], &st[cc.b]
	for k := 0; k < cc.count; k++ {
		cp := &cc.points[k]
		cp.normal.apply(a, b, cp.normalImpulse)
	}
	cc.tangent[0].apply(a, b, cc.friction[0])
	cc.tangent[1].apply(a, b, cc.friction[1])
	cc.roll[0].apply(a, b, cc.rollImpulse[0])
	cc.roll[1].apply(a, b, cc.rollImpulse[1])
	cc.twist.apply(a, b, cc.twistImp)
}

func (cc *contactConstraint) totalNormal() float64 {
	total := 0.0
	for k := 0; k < cc.count; k++ {
		total += cc.points[k].normalImpulse
	}
	return total
}

// solveContact runs one iteration over the manifold. Normal rows are
// visited in reverse on alternate iterations so a symmetric stack gets a
// symmetric answer.
func (s *Solver) solveContact(cc *contactConstraint, st []state, reverse bool, r *Report) {
	a, b := &st[cc.a], &st[cc.b]

	// friction first: non-penetration matters more
	total := cc.totalNormal()
	s.solveFriction(cc, a, b, total, r)
	if limit := cc.twistCoefficient() * total; cc.twistMass > 0 && (limit > 0 || cc.twistImp != 0) {
		lambda := -cc.twistMass * cc.twist.velocity(a, b)
		if r.checkContact(cc.item, "torsional", lambda) {
			old := cc.twistImp
			cc.twistImp = geom.Clamp(old+lambda, -limit, limit)
			cc.twist.apply(a, b, cc.twistImp-old)
		}
	}

	for i := 0; i < cc.count; i++ {
		k := i
		if reverse {
			k = cc.count - 1 - i
		}
		cp := &cc.points[k]
		vn := cp.normal.velocity(a, b)
		lambda := -cp.nMass * (vn - cp.target)
		if !r.checkContact(cc.item, "normal", lambda) {
			continue
		}
		old := cp.normalImpulse
		cp.normalImpulse = math.Max(old+lambda, 0)
		cp.normal.apply(a, b, cp.normalImpulse-old)
	}

	if cc.rolling > 0 {
		total = cc.totalNormal()
		var lambda [2]float64
		ok := true
		for i := 0; i < 2; i++ {
			lambda[i] = -cc.rollMass[i] * cc.roll[i].velocity(a, b)
			ok = ok && r.checkContact(cc.item, "rolling", lambda[i])
		}
		if ok {
			old := cc.rollImpulse
			next := clampDisc([2]float64{old[0] + lambda[0], old[1] + lambda[1]}, cc.rolling*total)
			cc.rollImpulse = next
			cc.roll[0].apply(a, b, next[0]-old[0])
			cc.roll[1].apply(a, b, next[1]-old[1])
		}
	}
}

// solveFriction drives the tangential velocity at the manifold centre to
// zero, keeping the impulse inside the Coulomb disc. An anisotropic
// material scales the disc radius along the impulse direction.
func (s *Solver) solveFriction(cc *contactConstraint, a, b *state, total float64, r *Report) {
	cdot := []float64{-cc.tangent[0].velocity(a, b), -cc.tangent[1].velocity(a, b)}
	var lambda [2]float64
	if cc.tangentOK {
		l := cc.tangentInv.mul(cdot)
		lambda = [2]float64{l[0], l[1]}
	} else {
		for i := 0; i < 2; i++ {
			lambda[i] = cc.tangent[i].mass(a, b) * cdot[i]
		}
	}
	for i := 0; i < 2; i++ {
		if !r.checkContact(cc.item, "friction", lambda[i]) {
			return
		}
	}
	old := cc.friction
	next := [2]float64{old[0] + lambda[0], old[1] + lambda[1]}
	dir := cc.t[0].Mul(next[0]).Add(cc.t[1].Mul(next[1]))
	next = clampDisc(next, cc.mu*cc.material.FrictionScale(dir)*total)
	cc.friction = next
	cc.tangent[0].apply(a, b, next[0]-old[0])
	cc.tangent[1].apply(a, b, next[1]-old[1])
}

// restitute adds the bounce once the contact has settled: points that
// approached faster than the threshold and carry load are driven to
// -restitution times their approach speed.
func (s *Solver) restitute(cc *contactConstraint, st []state, r *Report) {
	if cc.restitution == 0 {
		return
	}
	a, b := &st[cc.a], &st[cc.b]
	for k := 0; k < cc.count; k++ {
		cp := &cc.points[k]
		if cp.relVel > -s.Params.RestitutionThreshold || cp.normalImpulse == 0 {
			continue
		}
		vn := cp.normal.velocity(a, b)
		lambda := -cp.nMass * (vn + cc.restitution*cp.relVel)
		if !r.checkContact(cc.item, "restitution", lambda) {
			continue
		}
		old := cp.normalImpulse
		cp.normalImpulse = math.Max(old+lambda, 0)
		cp.normal.apply(a, b, cp.normalImpulse-old)
	}
}

// predict pushes apart points whose penetration after this step, at the
// solved velocity, would exceed the slop. The impulse stays out of the
// accumulated normal impulse.
func (s *Solver) predict(cc *contactConstraint, st []state, r *Report) {
	a, b := &st[cc.a], &st[cc.b]
	dt := s.Params.Dt
	for k := 0; k < cc.count; k++ {
		cp := &cc.points[k]
		if cp.nMass == 0 {
			continue
		}
		predicted := cp.src.Depth - cp.normal.velocity(a, b)*dt
		if predicted <= s.Params.PredictiveSlop {
			continue
		}
		lambda := cp.nMass * (predicted - s.Params.PredictiveSlop) / dt
		if !r.checkContact(cc.item, "predictive", lambda) {
			continue
		}
		cp.normal.apply(a, b, lambda)
		r.PredictiveImpulse += lambda
	}
}

func (cc *contactConstraint) store(r *Report) {
	r.Manifolds++
	total := cc.totalNormal()
	friction := cc.t[0].Mul(cc.friction[0]).Add(cc.t[1].Mul(cc.friction[1]))
	for k := 0; k < cc.count; k++ {
		cp := &cc.points[k]
		// the centre impulse is shared out by load for warm starts and
		// snapshots
		share := 1 / float64(cc.count)
		if total > 0 {
			share = cp.normalImpulse / total
		}
		cp.src.NormalImpulse = cp.normalImpulse
		cp.src.TangentImpulse = friction.Mul(share)
		r.Points++
		r.NormalImpulse += cp.normalImpulse
		r.MaxPenetration = math.Max(r.MaxPenetration, cp.src.Depth)
	}
	r.FrictionImpulse += math.Hypot(cc.friction[0], cc.friction[1])
	cc.m.RollingImpulse = cc.rollAxes[0].Mul(cc.rollImpulse[0]).Add(cc.rollAxes[1].Mul(cc.rollImpulse[1]))
	cc.m.TorsionalImpulse = cc.twistImp
}

// correctContact pushes penetrating points apart along their normals and
// returns the smallest separation seen. Every point is measured at the
// same pose before any correction is applied.
func (s *Solver) correctContact(cc *contactConstraint, st []state) float64 {
	a, b := &st[cc.a], &st[cc.b]
	p := &s.Params
	ta, tb := a.transform(), b.transform()
	minSep := 0.0

	var rows [narrowphase.MaxPoints]jacobian
	var lambda [narrowphase.MaxPoints]float64
	for k := 0; k < cc.m.Count; k++ {
		src := &cc.m.Points[k]
		pA := ta.Apply(src.LocalA)
		pB := tb.Apply(src.LocalB)
		n := src.Normal
		sep := pB.Sub(pA).Dot(n)
		minSep = math.Min(minSep, sep)

		c := geom.Clamp(p.Baumgarte*(sep+p.LinearSlop), -p.MaxLinearCorrection, 0)
		if c == 0 {
			continue
		}
		mid := pA.Add(pB).Mul(0.5)
		rows[k] = pointRow(mid.Sub(a.c), mid.Sub(b.c), n)
		if m := rows[k].mass(a, b); m > 0 {
			lambda[k] = -c * m
		}
	}
	for k := 0; k < cc.m.Count; k++ {
		if lambda[k] != 0 {
			rows[k].correct(a, b, lambda[k])
		}
	}
	return minSep
}

// clampDisc scales v back onto the disc of the given radius.
func clampDisc(v [2]float64, radius float64) [2]float64 {
	l := math.Hypot(v[0], v[1])
	if l <= radius || l == 0 {
		return v
	}
	s := radius / l
	return [2]float64{v[0] * s, v[1] * s}
}
