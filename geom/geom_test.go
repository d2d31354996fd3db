package geom

import (
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShapeValidation(t *testing.T) {
	cases := []struct {
		name  string
		build func() error
		ok    bool
	}{
		{"sphere", func() error { _, err := NewSphere(0.5); return err }, true},
		{"sphere zero radius", func() error { _, err := NewSphere(0); return err }, false},
		{"sphere nan", func() error { _, err := NewSphere(math.NaN()); return err }, false},
		{"box", func() error { _, err := NewBox(mgl64.Vec3{1, 2, 3}); return err }, true},
		{"box negative", func() error { _, err := NewBox(mgl64.Vec3{1, -2, 3}); return err }, false},
		{"capsule", func() error { _, err := NewCapsule(0.3, 1); return err }, true},
		{"capsule flat", func() error { _, err := NewCapsule(0.3, 0); return err }, false},
		{"cylinder", func() error { _, err := NewCylinder(0.3, 1); return err }, true},
		{"cylinder inf", func() error { _, err := NewCylinder(math.Inf(1), 1); return err }, false},
		{"triangle", func() error {
			_, err := NewTriangle(mgl64.Vec3{0, 0, 0}, mgl64.Vec3{1, 0, 0}, mgl64.Vec3{0, 0, 1})
			return err
		}, true},
		{"triangle collinear", func() error {
			_, err := NewTriangle(mgl64.Vec3{0, 0, 0}, mgl64.Vec3{1, 0, 0}, mgl64.Vec3{2, 0, 0})
			return err
		}, false},
		{"hull coplanar", func() error {
			_, err := NewConvexHull([]mgl64.Vec3{{0, 0, 0}, {1, 0, 0}, {0, 0, 1}, {1, 0, 1}})
			return err
		}, false},
		{"hull too few", func() error {
			_, err := NewConvexHull([]mgl64.Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}})
			return err
		}, false},
		{"compound empty", func() error { _, err := NewCompound(nil); return err }, false},
		{"mesh bad index", func() error {
			_, err := NewMesh([]mgl64.Vec3{{0, 0, 0}, {1, 0, 0}}, [][3]uint32{{0, 1, 2}})
			return err
		}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.build()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidShapeParameters), "got %v", err)
			}
		})
	}
}

func cubePoints(h float64) []mgl64.Vec3 {
	var pts []mgl64.Vec3
	for _, x := range []float64{-h, h} {
		for _, y := range []float64{-h, h} {
			for _, z := range []float64{-h, h} {
				pts = append(pts, mgl64.Vec3{x, y, z})
			}
		}
	}
	return pts
}

func TestConvexHull_CubeMatchesBox(t *testing.T) {
	hull, err := NewConvexHull(cubePoints(0.5))
	require.NoError(t, err)
	assert.Len(t, hull.Faces, 6)
	for _, f := range hull.Faces {
		assert.Len(t, f.Verts, 4)
	}

	box, _ := NewBox(mgl64.Vec3{0.5, 0.5, 0.5})
	hm := hull.MassProperties(1000)
	bm := box.MassProperties(1000)
	assert.InDelta(t, bm.Mass, hm.Mass, 1e-9)
	assertVecNear(t, mgl64.Vec3{}, hm.Center, 1e-9)
	for i := 0; i < 9; i++ {
		assert.InDelta(t, bm.Inertia[i], hm.Inertia[i], 1e-6, "inertia element %d", i)
	}
	assert.InDelta(t, 1.0, hull.MinExtent(), 1e-9)
}

func TestConvexHull_InteriorPointIgnored(t *testing.T) {
	pts := append(cubePoints(1), mgl64.Vec3{0.1, 0.2, 0.3})
	hull, err := NewConvexHull(pts)
	require.NoError(t, err)
	assert.Len(t, hull.Faces, 6)
	assert.Equal(t, mgl64.Vec3{1, 1, 1}, hull.Support(mgl64.Vec3{1, 1, 1}))
}

func TestCompound_ParallelAxis(t *testing.T) {
	s, _ := NewSphere(0.5)
	c, err := NewCompound([]Child{
		{Local: NewTransform(mgl64.Vec3{-1, 0, 0}, mgl64.QuatIdent()), Shape: s},
		{Local: NewTransform(mgl64.Vec3{1, 0, 0}, mgl64.QuatIdent()), Shape: s},
	})
	require.NoError(t, err)
	mp := c.MassProperties(1)
	one := s.MassProperties(1)
	assert.InDelta(t, 2*one.Mass, mp.Mass, 1e-12)
	assertVecNear(t, mgl64.Vec3{}, mp.Center, 1e-12)
	// about X the spheres sit on the axis, about Y they are offset by 1
	assert.InDelta(t, 2*one.Inertia.At(0, 0), mp.Inertia.At(0, 0), 1e-12)
	assert.InDelta(t, 2*(one.Inertia.At(1, 1)+one.Mass), mp.Inertia.At(1, 1), 1e-12)
	assert.Equal(t, mgl64.Vec3{-1.5, -0.5, -0.5}, c.LocalAABB().Min)
}

func TestTransform_RoundTrip(t *testing.T) {
	xf := NewTransform(mgl64.Vec3{1, 2, 3}, mgl64.QuatRotate(0.7, mgl64.Vec3{0, 1, 0}))
	p := mgl64.Vec3{0.3, -4, 2}
	assertVecNear(t, p, xf.ApplyInverse(xf.Apply(p)), 1e-12)
	assertVecNear(t, mgl64.Vec3{}, xf.Mul(xf.Inverse()).Position, 1e-12)

	r := xf.Matrix()
	assertVecNear(t, xf.Rotate(p), r.Mul3x1(p), 1e-12)
}

func TestAABB_TransformedAndRay(t *testing.T) {
	b := AABBFromCenter(mgl64.Vec3{}, mgl64.Vec3{1, 0.5, 0.5})
	rot := NewTransform(mgl64.Vec3{0, 0, 0}, mgl64.QuatRotate(math.Pi/2, mgl64.Vec3{0, 0, 1}))
	tb := b.Transformed(rot)
	assert.InDelta(t, 0.5, tb.Max[0], 1e-12)
	assert.InDelta(t, 1.0, tb.Max[1], 1e-12)

	tEnter, ok := b.RayIntersect(mgl64.Vec3{-5, 0, 0}, mgl64.Vec3{1, 0, 0}, 100)
	require.True(t, ok)
	assert.InDelta(t, 4.0, tEnter, 1e-12)
	_, ok = b.RayIntersect(mgl64.Vec3{-5, 2, 0}, mgl64.Vec3{1, 0, 0}, 100)
	assert.False(t, ok)
	_, ok = b.RayIntersect(mgl64.Vec3{-5, 0, 0}, mgl64.Vec3{1, 0, 0}, 3)
	assert.False(t, ok)
}

func TestMaterialCombine(t *testing.T) {
	a := DefaultMaterial()
	b := Ice()
	pm := Combine(a, b)
	assert.InDelta(t, math.Sqrt(a.StaticFriction*b.StaticFriction), pm.StaticFriction, 1e-12)
	assert.InDelta(t, math.Max(a.Restitution, b.Restitution), pm.Restitution, 1e-12)
	assert.Equal(t, Combine(b, a), pm)

	b.FrictionMix = MixMin
	b.RestitutionMix = MixMin
	a.FrictionMix = MixAverage
	a.RestitutionMix = MixAverage
	pm = Combine(a, b)
	assert.InDelta(t, 0.1, pm.StaticFriction, 1e-12)

	_, err := MaterialPreset("jelly")
	assert.Error(t, err)
	steel, err := MaterialPreset("steel")
	require.NoError(t, err)
	assert.Equal(t, 7850.0, steel.Density)
}

func TestMaterial_Anisotropy(t *testing.T) {
	a := DefaultMaterial()
	b := DefaultMaterial()
	b.Anisotropy = mgl64.Vec3{1, 0, 0.25}
	require.NoError(t, b.Validate())

	pm := Combine(a, b)
	assert.Equal(t, 1.0, pm.FrictionScale(mgl64.Vec3{0, 0, 3}))

	rot := mgl64.QuatRotate(math.Pi/2, mgl64.Vec3{0, 1, 0})
	pm.Orient(a, b, mgl64.QuatIdent(), rot)
	assert.Equal(t, b.Anisotropy, pm.Anisotropy)
	// the rotated frame maps world z onto local x
	assert.InDelta(t, 1, pm.FrictionScale(mgl64.Vec3{0, 0, 5}), 1e-9)
	assert.InDelta(t, 0.25, pm.FrictionScale(mgl64.Vec3{1, 0, 0}), 1e-9)
	assert.InDelta(t, math.Sqrt(0.5*(1+0.0625)), pm.FrictionScale(mgl64.Vec3{1, 0, 1}), 1e-9)
	assert.Equal(t, 1.0, pm.FrictionScale(mgl64.Vec3{}))

	pm.Orient(a, a, rot, rot)
	assert.Equal(t, 1.0, pm.FrictionScale(mgl64.Vec3{1, 0, 0}))

	b.Anisotropy = mgl64.Vec3{-1, 1, 1}
	assert.Error(t, b.Validate())
}

func TestCollisionFilter(t *testing.T) {
	a := CollisionFilter{Layer: 1, Mask: 0b10}
	b := CollisionFilter{Layer: 2, Mask: 0b01}
	c := CollisionFilter{Layer: 2, Mask: 0b10}
	assert.True(t, a.Matches(b))
	assert.False(t, a.Matches(c))
	assert.True(t, DefaultFilter().Matches(DefaultFilter()))
}

func TestClosestPointsSegments(t *testing.T) {
	p, q := ClosestPointsSegments(
		mgl64.Vec3{-1, 0, 0}, mgl64.Vec3{1, 0, 0},
		mgl64.Vec3{0, 1, -1}, mgl64.Vec3{0, 1, 1},
	)
	assertVecNear(t, mgl64.Vec3{0, 0, 0}, p, 1e-12)
	assertVecNear(t, mgl64.Vec3{0, 1, 0}, q, 1e-12)

	c := ClosestPointOnTriangle(mgl64.Vec3{0.25, 3, 0.25},
		mgl64.Vec3{0, 0, 0}, mgl64.Vec3{1, 0, 0}, mgl64.Vec3{0, 0, 1})
	assertVecNear(t, mgl64.Vec3{0.25, 0, 0.25}, c, 1e-12)
}

func TestIntegrateRotation_KeepsUnitLength(t *testing.T) {
	q := mgl64.QuatIdent()
	for i := 0; i < 600; i++ {
		q = IntegrateRotation(q, mgl64.Vec3{0, math.Pi, 0}, 1.0/60)
	}
	assert.InDelta(t, 1.0, q.Len(), 1e-12)
}

// assertVecNear compares component-wise with an absolute tolerance.
func assertVecNear(t *testing.T, want, got mgl64.Vec3, tol float64, msgAndArgs ...interface{}) {
	t.Helper()
	for i := 0; i < 3; i++ {
		assert.InDelta(t, want[i], got[i], tol, msgAndArgs...)
	}
}
