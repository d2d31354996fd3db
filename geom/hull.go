package geom

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
)

// MaxHullPoints bounds the brute-force face search done at construction.
const MaxHullPoints = 64

type HullFace struct {
	Normal mgl64.Vec3
	Offset float64
	// Verts index ConvexHull.Points, ordered counter-clockwise about Normal.
	Verts []int
}

// ConvexHull is the convex hull of a point cloud in local space.
type ConvexHull struct {
	Points []mgl64.Vec3
	Faces  []HullFace
	radius float64
	minExt float64
}

func NewConvexHull(points []mgl64.Vec3) (*ConvexHull, error) {
	h := &ConvexHull{Points: append([]mgl64.Vec3(nil), points...)}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	h.Faces = hullFaces(h.Points)
	if len(h.Faces) < 4 {
		return nil, invalid(KindConvexHull, "degenerate hull with %d faces", len(h.Faces))
	}
	for _, p := range h.Points {
		h.radius = math.Max(h.radius, p.Len())
	}
	h.minExt = math.Inf(1)
	for _, f := range h.Faces {
		// width of the hull across this face
		lo := math.Inf(1)
		for _, p := range h.Points {
			lo = math.Min(lo, p.Dot(f.Normal))
		}
		h.minExt = math.Min(h.minExt, f.Offset-lo)
	}
	return h, nil
}

func (h *ConvexHull) Kind() ShapeKind { return KindConvexHull }

func (h *ConvexHull) Validate() error {
	if len(h.Points) < 4 {
		return invalid(KindConvexHull, "need at least 4 points, got %d", len(h.Points))
	}
	if len(h.Points) > MaxHullPoints {
		return invalid(KindConvexHull, "too many points: %d > %d", len(h.Points), MaxHullPoints)
	}
	for _, p := range h.Points {
		if !FiniteVec(p) {
			return invalid(KindConvexHull, "non-finite point %v", p)
		}
	}
	if hullVolumeSpan(h.Points) < 1e-12 {
		return invalid(KindConvexHull, "points are coplanar")
	}
	return nil
}

// hullVolumeSpan is the largest tetrahedron volume found greedily, zero
// when all points are coplanar.
func hullVolumeSpan(pts []mgl64.Vec3) float64 {
	a := pts[0]
	b, best := a, 0.0
	for _, p := range pts {
		if d := p.Sub(a).LenSqr(); d > best {
			b, best = p, d
		}
	}
	c, best := a, 0.0
	for _, p := range pts {
		if d := b.Sub(a).Cross(p.Sub(a)).LenSqr(); d > best {
			c, best = p, d
		}
	}
	n := b.Sub(a).Cross(c.Sub(a))
	vol := 0.0
	for _, p := range pts {
		vol = math.Max(vol, math.Abs(p.Sub(a).Dot(n)))
	}
	return vol / 6
}

// hullFaces finds every supporting plane through three points and groups
// coplanar points into one ordered polygon per plane.
func hullFaces(pts []mgl64.Vec3) []HullFace {
	scale := 0.0
	for _, p := range pts {
		scale = math.Max(scale, p.Len())
	}
	tol := 1e-9 * math.Max(scale, 1)

	var faces []HullFace
	n := len(pts)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			for k := j + 1; k < n; k++ {
				normal := pts[j].Sub(pts[i]).Cross(pts[k].Sub(pts[i]))
				if normal.LenSqr() < 1e-20 {
					continue
				}
				normal = normal.Normalize()
				offset := normal.Dot(pts[i])
				above, below := false, false
				for _, p := range pts {
					d := p.Dot(normal) - offset
					if d > tol {
						above = true
					} else if d < -tol {
						below = true
					}
				}
				if above && below {
					continue
				}
				if above {
					normal, offset = normal.Mul(-1), -offset
				}
				if hasFace(faces, normal, offset, tol) {
					continue
				}
				var verts []int
				for idx, p := range pts {
					if math.Abs(p.Dot(normal)-offset) <= tol {
						verts = append(verts, idx)
					}
				}
				faces = append(faces, HullFace{Normal: normal, Offset: offset, Verts: orderFace(pts, verts, normal)})
			}
		}
	}
	return faces
}

func hasFace(faces []HullFace, normal mgl64.Vec3, offset, tol float64) bool {
	for _, f := range faces {
		if f.Normal.Dot(normal) > 1-1e-9 && math.Abs(f.Offset-offset) <= tol {
			return true
		}
	}
	return false
}

// orderFace sorts coplanar points by angle about their centroid, dropping
// points that lie inside the polygon.
func orderFace(pts []mgl64.Vec3, verts []int, normal mgl64.Vec3) []int {
	var c mgl64.Vec3
	for _, v := range verts {
		c = c.Add(pts[v])
	}
	c = c.Mul(1 / float64(len(verts)))
	u, w := Basis(normal)
	angle := make(map[int]float64, len(verts))
	for _, v := range verts {
		d := pts[v].Sub(c)
		angle[v] = math.Atan2(d.Dot(w), d.Dot(u))
	}
	sort.Slice(verts, func(i, j int) bool { return angle[verts[i]] < angle[verts[j]] })

	// drop collinear and interior points so the polygon is strictly convex
	out := make([]int, 0, len(verts))
	for i, v := range verts {
		prev := pts[verts[(i+len(verts)-1)%len(verts)]]
		next := pts[verts[(i+1)%len(verts)]]
		cur := pts[v]
		if cur.Sub(prev).Cross(next.Sub(cur)).Dot(normal) > 1e-12 {
			out = append(out, v)
		}
	}
	if len(out) < 3 {
		return verts
	}
	return out
}

func (h *ConvexHull) LocalAABB() AABB {
	b := EmptyAABB()
	for _, p := range h.Points {
		b.Min = MinVec(b.Min, p)
		b.Max = MaxVec(b.Max, p)
	}
	return b
}

// MassProperties integrates the solid by fanning each face into tetrahedra
// about an interior reference point.
func (h *ConvexHull) MassProperties(density float64) MassProperties {
	var ref mgl64.Vec3
	for _, p := range h.Points {
		ref = ref.Add(p)
	}
	ref = ref.Mul(1 / float64(len(h.Points)))

	var volume float64
	var center mgl64.Vec3
	var cov mgl64.Mat3
	canonical := mgl64.Mat3{
		2, 1, 1,
		1, 2, 1,
		1, 1, 2,
	}.Mul(1.0 / 120)

	for _, f := range h.Faces {
		a := h.Points[f.Verts[0]].Sub(ref)
		for i := 1; i+1 < len(f.Verts); i++ {
			b := h.Points[f.Verts[i]].Sub(ref)
			c := h.Points[f.Verts[i+1]].Sub(ref)
			m := mgl64.Mat3FromCols(a, b, c)
			det := m.Det()
			volume += det / 6
			center = center.Add(a.Add(b).Add(c).Mul(det / 24))
			cov = cov.Add(m.Mul3(canonical).Mul3(m.Transpose()).Mul(det))
		}
	}
	if volume <= 0 {
		return MassProperties{Center: ref}
	}
	center = center.Mul(1 / volume)
	mass := density * volume
	cov = cov.Mul(density)
	// shift the covariance from ref to the centroid
	cov = cov.Sub(outer(center, center).Mul(mass))
	tr := cov.Trace()
	inertia := mgl64.Ident3().Mul(tr).Sub(cov)
	return MassProperties{Mass: mass, Center: center.Add(ref), Inertia: inertia}
}

func outer(a, b mgl64.Vec3) mgl64.Mat3 {
	return mgl64.Mat3FromCols(a.Mul(b[0]), a.Mul(b[1]), a.Mul(b[2]))
}

func (h *ConvexHull) MinExtent() float64      { return h.minExt }
func (h *ConvexHull) BoundingRadius() float64 { return h.radius }
func (h *ConvexHull) Radius() float64         { return 0 }

func (h *ConvexHull) Support(dir mgl64.Vec3) mgl64.Vec3 {
	best, idx := math.Inf(-1), 0
	for i, p := range h.Points {
		if d := p.Dot(dir); d > best {
			best, idx = d, i
		}
	}
	return h.Points[idx]
}

func (h *ConvexHull) Feature(dir mgl64.Vec3) ([]mgl64.Vec3, mgl64.Vec3) {
	best, bi := math.Inf(-1), 0
	for i, f := range h.Faces {
		if d := f.Normal.Dot(dir); d > best {
			best, bi = d, i
		}
	}
	d := SafeNormalize(dir, h.Faces[bi].Normal)
	if best/math.Max(dir.Len(), 1e-12) > 0.7 {
		f := h.Faces[bi]
		pts := make([]mgl64.Vec3, len(f.Verts))
		for i, v := range f.Verts {
			pts[i] = h.Points[v]
		}
		return pts, f.Normal
	}
	return supportCluster(h.Points, d, 1e-6*h.radius), dir
}
