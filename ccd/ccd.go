// Package ccd finds the time of impact of fast-moving colliders so a step
// cannot carry them through thin geometry.
package ccd

import (
	"errors"
	"fmt"
	"math"

	"github.com/gekko3d/rigid/geom"
	"github.com/gekko3d/rigid/narrowphase"
	"github.com/go-gl/mathgl/mgl64"
)

var ErrBudgetExceeded = errors.New("ccd: iteration budget exceeded")

// Motion is one collider's movement over a step. The collider turns
// about Pivot (its body's centre of mass) while Pivot translates by
// Linear; Angular is the rotation vector for the whole step.
type Motion struct {
	Shape   geom.Shape
	Start   geom.Transform
	Pivot   mgl64.Vec3
	Linear  mgl64.Vec3
	Angular mgl64.Vec3
}

// At returns the collider pose at fraction t of the step.
func (m Motion) At(t float64) geom.Transform {
	rot := mgl64.QuatIdent()
	if a := m.Angular.Len(); a > 1e-12 {
		rot = mgl64.QuatRotate(a*t, m.Angular.Mul(1/a))
	}
	arm := m.Start.Position.Sub(m.Pivot)
	return geom.Transform{
		Position: m.Pivot.Add(m.Linear.Mul(t)).Add(rot.Rotate(arm)),
		Rotation: rot.Mul(m.Start.Rotation).Normalize(),
	}
}

// reach bounds the distance of any surface point from the pivot.
func (m Motion) reach() float64 {
	return m.Start.Position.Sub(m.Pivot).Len() + m.Shape.BoundingRadius()
}

// Travel bounds how far any surface point moves during the step.
func (m Motion) Travel() float64 {
	return m.Linear.Len() + m.Angular.Len()*m.reach()
}

// SweptAABB covers the collider over the whole step.
func (m Motion) SweptAABB() geom.AABB {
	local := m.Shape.LocalAABB()
	box := local.Transformed(m.Start).Union(local.Transformed(m.At(1)))
	if m.Angular.LenSqr() > 0 {
		box = box.Expand(m.Angular.Len() * m.reach())
	}
	return box
}

// TOI is the outcome of a sweep. Normal points from A to B at the
// moment of impact; T is a fraction of the step.
type TOI struct {
	Hit        bool
	T          float64
	Normal     mgl64.Vec3
	PointA     mgl64.Vec3
	PointB     mgl64.Vec3
	Iterations int
}

type Detector struct {
	Enabled bool
	// MotionFraction of a body's smallest extent it may travel in one
	// step before it is swept.
	MotionFraction float64
	MaxIterations  int
	// Tolerance is the separation at which the sweep counts as touching.
	Tolerance float64
}

func NewDetector() Detector {
	return Detector{
		Enabled:        true,
		MotionFraction: 0.5,
		MaxIterations:  32,
		Tolerance:      1e-3,
	}
}

func (d Detector) Validate() error {
	if d.MotionFraction <= 0 || !geom.Finite(d.MotionFraction) {
		return fmt.Errorf("ccd motion fraction %v must be positive", d.MotionFraction)
	}
	if d.MaxIterations <= 0 {
		return fmt.Errorf("ccd iteration cap %d must be positive", d.MaxIterations)
	}
	if d.Tolerance <= 0 || !geom.Finite(d.Tolerance) {
		return fmt.Errorf("ccd tolerance %v must be positive", d.Tolerance)
	}
	return nil
}

// NeedsSweep reports whether a motion is long enough, relative to the
// smallest extent of the moving body, to risk tunnelling.
func (d Detector) NeedsSweep(m Motion, minExtent float64) bool {
	if !d.Enabled {
		return false
	}
	return m.Travel() > d.MotionFraction*minExtent
}

// TimeOfImpact advances both motions conservatively by the GJK distance
// over the bound on approach speed until the shapes come within
// Tolerance. An overshoot into overlap is pulled back by bisection.
// Every distance query counts against MaxIterations.
func (d Detector) TimeOfImpact(a, b Motion) (TOI, error) {
	rel := a.Linear.Sub(b.Linear)
	spin := a.Angular.Len()*a.reach() + b.Angular.Len()*b.reach()
	horizon := rel.Len() + spin + d.Tolerance

	iter := 0
	query := func(t float64) (narrowphase.Separation, bool) {
		iter++
		return narrowphase.Distance(
			narrowphase.Object{Shape: a.Shape, Xf: a.At(t)},
			narrowphase.Object{Shape: b.Shape, Xf: b.At(t)},
			horizon,
		)
	}
	hit := func(t float64, s narrowphase.Separation) TOI {
		return TOI{Hit: true, T: t, Normal: s.Normal, PointA: s.PointA, PointB: s.PointB, Iterations: iter}
	}

	t := 0.0
	sep, ok := query(t)
	if !ok {
		return TOI{Iterations: iter}, nil
	}
	for iter < d.MaxIterations {
		if sep.Distance <= d.Tolerance {
			return hit(t, sep), nil
		}
		rate := math.Max(rel.Dot(sep.Normal), 0) + spin
		if rate <= 1e-12 {
			return TOI{Iterations: iter}, nil
		}
		next := t + (sep.Distance-0.5*d.Tolerance)/rate
		if next > 1 {
			return TOI{Iterations: iter}, nil
		}
		s, ok := query(next)
		if !ok {
			// moved out of range of everything it could reach
			return TOI{Iterations: iter}, nil
		}
		if s.Distance >= -d.Tolerance {
			t, sep = next, s
			continue
		}
		// overshoot: bisect between the last separated time and next
		lo, hi := t, next
		for iter < d.MaxIterations {
			mid := 0.5 * (lo + hi)
			m, ok := query(mid)
			if !ok || m.Distance > d.Tolerance {
				lo, sep = mid, m
				continue
			}
			if m.Distance >= -d.Tolerance {
				return hit(mid, m), nil
			}
			hi = mid
		}
		return TOI{Iterations: iter}, fmt.Errorf("bisection after %d queries: %w", iter, ErrBudgetExceeded)
	}
	return TOI{Iterations: iter}, fmt.Errorf("advancement after %d queries: %w", iter, ErrBudgetExceeded)
}
