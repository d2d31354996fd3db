package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

type AABB struct {
	Min mgl64.Vec3
	Max mgl64.Vec3
}

// EmptyAABB is the identity for Union.
func EmptyAABB() AABB {
	inf := math.Inf(1)
	return AABB{
		Min: mgl64.Vec3{inf, inf, inf},
		Max: mgl64.Vec3{-inf, -inf, -inf},
	}
}

func AABBFromCenter(center, halfExtents mgl64.Vec3) AABB {
	return AABB{Min: center.Sub(halfExtents), Max: center.Add(halfExtents)}
}

func (b AABB) Overlaps(o AABB) bool {
	return b.Min[0] <= o.Max[0] && b.Max[0] >= o.Min[0] &&
		b.Min[1] <= o.Max[1] && b.Max[1] >= o.Min[1] &&
		b.Min[2] <= o.Max[2] && b.Max[2] >= o.Min[2]
}

func (b AABB) Contains(p mgl64.Vec3) bool {
	return p[0] >= b.Min[0] && p[0] <= b.Max[0] &&
		p[1] >= b.Min[1] && p[1] <= b.Max[1] &&
		p[2] >= b.Min[2] && p[2] <= b.Max[2]
}

func (b AABB) Union(o AABB) AABB {
	return AABB{Min: MinVec(b.Min, o.Min), Max: MaxVec(b.Max, o.Max)}
}

func (b AABB) Expand(margin float64) AABB {
	m := mgl64.Vec3{margin, margin, margin}
	return AABB{Min: b.Min.Sub(m), Max: b.Max.Add(m)}
}

// Sweep grows the box to cover its translation by d.
func (b AABB) Sweep(d mgl64.Vec3) AABB {
	moved := AABB{Min: b.Min.Add(d), Max: b.Max.Add(d)}
	return b.Union(moved)
}

func (b AABB) Center() mgl64.Vec3 { return b.Min.Add(b.Max).Mul(0.5) }

func (b AABB) HalfExtents() mgl64.Vec3 { return b.Max.Sub(b.Min).Mul(0.5) }

func (b AABB) LargestExtent() float64 {
	e := b.Max.Sub(b.Min)
	return math.Max(e[0], math.Max(e[1], e[2]))
}

func (b AABB) IsEmpty() bool {
	return b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] || b.Min[2] > b.Max[2]
}

// Transformed returns the world box enclosing a local box under t.
func (b AABB) Transformed(t Transform) AABB {
	center := t.Apply(b.Center())
	r := t.Matrix()
	h := b.HalfExtents()
	var ext mgl64.Vec3
	for i := 0; i < 3; i++ {
		ext[i] = math.Abs(r.At(i, 0))*h[0] + math.Abs(r.At(i, 1))*h[1] + math.Abs(r.At(i, 2))*h[2]
	}
	return AABBFromCenter(center, ext)
}

// RayIntersect is the slab test. It returns the entry distance along dir
// (clamped to 0 when the origin is inside) and whether the ray hits within maxT.
func (b AABB) RayIntersect(origin, dir mgl64.Vec3, maxT float64) (float64, bool) {
	tMin, tMax := 0.0, maxT
	for i := 0; i < 3; i++ {
		if math.Abs(dir[i]) < 1e-15 {
			if origin[i] < b.Min[i] || origin[i] > b.Max[i] {
				return 0, false
			}
			continue
		}
		inv := 1 / dir[i]
		t1 := (b.Min[i] - origin[i]) * inv
		t2 := (b.Max[i] - origin[i]) * inv
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tMin = math.Max(tMin, t1)
		tMax = math.Min(tMax, t2)
		if tMin > tMax {
			return 0, false
		}
	}
	return tMin, true
}
