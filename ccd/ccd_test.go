package ccd

import (
	"errors"
	"math"
	"testing"

	"github.com/gekko3d/rigid/geom"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func still(s geom.Shape, p mgl64.Vec3) Motion {
	return Motion{Shape: s, Start: geom.NewTransform(p, mgl64.QuatIdent()), Pivot: p}
}

func bullet(p, v mgl64.Vec3, dt float64) Motion {
	s, _ := geom.NewSphere(0.1)
	m := still(s, p)
	m.Linear = v.Mul(dt)
	return m
}

func TestTimeOfImpact_ThinWall(t *testing.T) {
	wall, _ := geom.NewBox(mgl64.Vec3{0.025, 2, 2})
	d := NewDetector()
	dt := 1.0 / 60
	toi, err := d.TimeOfImpact(bullet(mgl64.Vec3{-5, 0, 0}, mgl64.Vec3{500, 0, 0}, dt), still(wall, mgl64.Vec3{}))
	require.NoError(t, err)
	require.True(t, toi.Hit)
	assert.InDelta(t, 4.875/(500*dt), toi.T, 1e-3)
	assertVecNear(t, mgl64.Vec3{1, 0, 0}, toi.Normal, 1e-6, "normal %v", toi.Normal)
	assert.LessOrEqual(t, toi.Iterations, d.MaxIterations)
}

func TestTimeOfImpact_Miss(t *testing.T) {
	wall, _ := geom.NewBox(mgl64.Vec3{0.025, 2, 2})
	d := NewDetector()
	dt := 1.0 / 60

	// parallel to the wall
	toi, err := d.TimeOfImpact(bullet(mgl64.Vec3{-1, 0, 0}, mgl64.Vec3{0, 500, 0}, dt), still(wall, mgl64.Vec3{}))
	require.NoError(t, err)
	assert.False(t, toi.Hit)

	// stops short of the wall
	toi, err = d.TimeOfImpact(bullet(mgl64.Vec3{-20, 0, 0}, mgl64.Vec3{500, 0, 0}, dt), still(wall, mgl64.Vec3{}))
	require.NoError(t, err)
	assert.False(t, toi.Hit)
}

func TestTimeOfImpact_AlreadyTouching(t *testing.T) {
	wall, _ := geom.NewBox(mgl64.Vec3{0.025, 2, 2})
	toi, err := NewDetector().TimeOfImpact(bullet(mgl64.Vec3{-0.1, 0, 0}, mgl64.Vec3{500, 0, 0}, 1.0/60), still(wall, mgl64.Vec3{}))
	require.NoError(t, err)
	require.True(t, toi.Hit)
	assert.Equal(t, 0.0, toi.T)
}

func TestTimeOfImpact_BothMoving(t *testing.T) {
	d := NewDetector()
	a := bullet(mgl64.Vec3{-3, 0, 0}, mgl64.Vec3{3, 0, 0}, 1)
	b := bullet(mgl64.Vec3{3, 0, 0}, mgl64.Vec3{-3, 0, 0}, 1)
	toi, err := d.TimeOfImpact(a, b)
	require.NoError(t, err)
	require.True(t, toi.Hit)
	assert.InDelta(t, 5.8/6, toi.T, 1e-3)
}

func TestTimeOfImpact_BudgetExceeded(t *testing.T) {
	wall, _ := geom.NewBox(mgl64.Vec3{0.025, 2, 2})
	d := NewDetector()
	d.MaxIterations = 1
	_, err := d.TimeOfImpact(bullet(mgl64.Vec3{-5, 0, 0}, mgl64.Vec3{500, 0, 0}, 1.0/60), still(wall, mgl64.Vec3{}))
	assert.True(t, errors.Is(err, ErrBudgetExceeded))
}

func TestTimeOfImpact_SpinningPlank(t *testing.T) {
	plank, _ := geom.NewBox(mgl64.Vec3{2, 0.05, 0.05})
	post, _ := geom.NewBox(mgl64.Vec3{0.05, 0.05, 1})
	m := still(plank, mgl64.Vec3{})
	m.Angular = mgl64.Vec3{0, 0, math.Pi}
	toi, err := NewDetector().TimeOfImpact(m, still(post, mgl64.Vec3{0, 1.5, 0}))
	require.NoError(t, err)
	require.True(t, toi.Hit)
	// the plank sweeps a quarter turn before its arm reaches the post
	assert.Greater(t, toi.T, 0.35)
	assert.Less(t, toi.T, 0.5)
}

func TestMotionAt(t *testing.T) {
	s, _ := geom.NewSphere(0.5)
	m := Motion{
		Shape:   s,
		Start:   geom.NewTransform(mgl64.Vec3{1, 0, 0}, mgl64.QuatIdent()),
		Pivot:   mgl64.Vec3{},
		Linear:  mgl64.Vec3{0, 0, 2},
		Angular: mgl64.Vec3{0, math.Pi, 0},
	}
	end := m.At(1)
	assertVecNear(t, mgl64.Vec3{-1, 0, 2}, end.Position, 1e-9, "%v", end.Position)
	half := m.At(0.5)
	assertVecNear(t, mgl64.Vec3{0, 0, 0}, half.Position, 1e-9, "%v", half.Position)
	assert.InDelta(t, 2+math.Pi*1.5, m.Travel(), 1e-9)
}

func TestNeedsSweep(t *testing.T) {
	d := NewDetector()
	slow := bullet(mgl64.Vec3{}, mgl64.Vec3{1, 0, 0}, 1.0/60)
	fast := bullet(mgl64.Vec3{}, mgl64.Vec3{500, 0, 0}, 1.0/60)
	assert.False(t, d.NeedsSweep(slow, 0.2))
	assert.True(t, d.NeedsSweep(fast, 0.2))
	d.Enabled = false
	assert.False(t, d.NeedsSweep(fast, 0.2))
}

func TestSweptAABBCoversPath(t *testing.T) {
	m := bullet(mgl64.Vec3{-5, 0, 0}, mgl64.Vec3{500, 0, 0}, 1.0/60)
	box := m.SweptAABB()
	assert.True(t, box.Contains(mgl64.Vec3{0, 0, 0}))
	assert.True(t, box.Contains(mgl64.Vec3{-5.05, 0, 0}))
}

func TestDetectorValidate(t *testing.T) {
	assert.NoError(t, NewDetector().Validate())
	d := NewDetector()
	d.MaxIterations = 0
	assert.Error(t, d.Validate())
}

// assertVecNear compares component-wise with an absolute tolerance.
func assertVecNear(t *testing.T, want, got mgl64.Vec3, tol float64, msgAndArgs ...interface{}) {
	t.Helper()
	for i := 0; i < 3; i++ {
		assert.InDelta(t, want[i], got[i], tol, msgAndArgs...)
	}
}
