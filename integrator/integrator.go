// Package integrator advances body state with semi-implicit Euler: the
// velocity half runs before the solver, the position half after it.
package integrator

import (
	"math"

	"github.com/gekko3d/rigid/geom"
	"github.com/gekko3d/rigid/internal/parallel"
	"github.com/gekko3d/rigid/store"
	"github.com/go-gl/mathgl/mgl64"
)

// Limits caps per-step motion. Zero disables a cap.
type Limits struct {
	MaxLinearSpeed  float64
	MaxAngularSpeed float64
}

// ApplyForces integrates gravity and accumulated force and torque into
// velocity, applies damping and clears the accumulators. Static and
// sleeping bodies are left alone. A body whose new velocity would not be
// finite is stopped instead; the number of such bodies is returned.
func ApplyForces(b *store.Bodies, gravity mgl64.Vec3, dt float64, workers int) int {
	ranges := parallel.Split(b.Cap(), workers)
	resets := make([]int, len(ranges))
	parallel.For(b.Cap(), workers, func(r parallel.Range) {
		for i := r.Lo; i < r.Hi; i++ {
			if !applyForce(b, i, gravity, dt) {
				resets[r.Worker]++
			}
		}
	})
	return sum(resets)
}

func applyForce(b *store.Bodies, i int, gravity mgl64.Vec3, dt float64) bool {
	if !b.Live(i) || b.Sleep[i] == store.Sleeping {
		return true
	}
	switch b.Type[i] {
	case store.Static:
		return true
	case store.Kinematic:
		b.Force[i] = mgl64.Vec3{}
		b.Torque[i] = mgl64.Vec3{}
		return true
	}

	acc := gravity.Mul(b.GravityScale[i]).Add(b.Force[i].Mul(b.InvMass[i]))
	v := b.LinearVelocity[i].Add(acc.Mul(dt))
	w := b.AngularVelocity[i].Add(b.InvWorldInertia[i].Mul3x1(b.Torque[i]).Mul(dt))

	// Pade approximation of exp(-c dt)
	v = v.Mul(1 / (1 + dt*b.LinearDamping[i]))
	w = w.Mul(1 / (1 + dt*b.AngularDamping[i]))

	b.Force[i] = mgl64.Vec3{}
	b.Torque[i] = mgl64.Vec3{}
	if !geom.FiniteVec(v) || !geom.FiniteVec(w) {
		b.LinearVelocity[i] = mgl64.Vec3{}
		b.AngularVelocity[i] = mgl64.Vec3{}
		return false
	}
	b.LinearVelocity[i] = v
	b.AngularVelocity[i] = w
	return true
}

// IntegratePositions moves every awake dynamic or kinematic body by its
// velocity. A body whose new pose would not be finite keeps its old pose
// and loses its velocity; the number of such bodies is returned.
func IntegratePositions(b *store.Bodies, dt float64, limits Limits, workers int) int {
	ranges := parallel.Split(b.Cap(), workers)
	resets := make([]int, len(ranges))
	parallel.For(b.Cap(), workers, func(r parallel.Range) {
		for i := r.Lo; i < r.Hi; i++ {
			if !b.Active(i) {
				continue
			}
			v := clampLen(b.LinearVelocity[i], limits.MaxLinearSpeed)
			w := clampLen(b.AngularVelocity[i], limits.MaxAngularSpeed)
			center := b.WorldCenter[i].Add(v.Mul(dt))
			rot := geom.IntegrateRotation(b.Rotation[i], w, dt)
			if !geom.FiniteVec(center) || !geom.FiniteQuat(rot) {
				b.LinearVelocity[i] = mgl64.Vec3{}
				b.AngularVelocity[i] = mgl64.Vec3{}
				resets[r.Worker]++
				continue
			}
			b.LinearVelocity[i] = v
			b.AngularVelocity[i] = w
			b.SetCenterPose(i, center, rot)
		}
	})
	return sum(resets)
}

func sum(xs []int) int {
	total := 0
	for _, x := range xs {
		total += x
	}
	return total
}

func clampLen(v mgl64.Vec3, limit float64) mgl64.Vec3 {
	if limit <= 0 {
		return v
	}
	if l2 := v.LenSqr(); l2 > limit*limit {
		return v.Mul(limit / math.Sqrt(l2))
	}
	return v
}
