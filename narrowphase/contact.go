package narrowphase

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// MaxPoints is the manifold size after reduction.
const MaxPoints = 4

// ContactPoint is one world-space contact. Depth is positive when the
// shapes overlap and negative for speculative points inside the margin.
type ContactPoint struct {
	PointA mgl64.Vec3
	PointB mgl64.Vec3
	Normal mgl64.Vec3
	Depth  float64
}

// Contact is the raw output of a shape test, before persistence.
type Contact struct {
	Normal mgl64.Vec3
	Points []ContactPoint
}

func (c *Contact) add(p ContactPoint) {
	c.Points = append(c.Points, p)
}

func (c *Contact) flip() {
	c.Normal = c.Normal.Mul(-1)
	for i := range c.Points {
		p := &c.Points[i]
		p.PointA, p.PointB = p.PointB, p.PointA
		p.Normal = p.Normal.Mul(-1)
	}
}

// deepest returns the index of the most penetrating point.
func (c *Contact) deepest() int {
	best := 0
	for i := range c.Points {
		if c.Points[i].Depth > c.Points[best].Depth {
			best = i
		}
	}
	return best
}

func (p ContactPoint) mid() mgl64.Vec3 {
	return p.PointA.Add(p.PointB).Mul(0.5)
}

// reduce keeps at most MaxPoints points spanning the largest area: the
// deepest, the farthest from it, the one making the widest triangle and
// the one adding the most area outside that triangle.
func (c *Contact) reduce() {
	if len(c.Points) <= MaxPoints {
		return
	}
	pts := c.Points
	n := c.Normal
	chosen := [MaxPoints]int{c.deepest(), -1, -1, -1}
	p0 := pts[chosen[0]].mid()

	best := -1.0
	for i := range pts {
		if d := pts[i].mid().Sub(p0).LenSqr(); d > best {
			best, chosen[1] = d, i
		}
	}
	p1 := pts[chosen[1]].mid()

	best = -1
	for i := range pts {
		if i == chosen[0] || i == chosen[1] {
			continue
		}
		a := math.Abs(p1.Sub(p0).Cross(pts[i].mid().Sub(p0)).Dot(n))
		if a > best {
			best, chosen[2] = a, i
		}
	}
	p2 := pts[chosen[2]].mid()
	base := math.Abs(p1.Sub(p0).Cross(p2.Sub(p0)).Dot(n))

	best = -1
	for i := range pts {
		if i == chosen[0] || i == chosen[1] || i == chosen[2] {
			continue
		}
		q := pts[i].mid()
		a := math.Abs(p1.Sub(p0).Cross(q.Sub(p0)).Dot(n)) +
			math.Abs(p2.Sub(p1).Cross(q.Sub(p1)).Dot(n)) +
			math.Abs(p0.Sub(p2).Cross(q.Sub(p2)).Dot(n)) - base
		if a > best {
			best, chosen[3] = a, i
		}
	}

	out := make([]ContactPoint, 0, MaxPoints)
	for _, i := range chosen {
		if i >= 0 {
			out = append(out, pts[i])
		}
	}
	c.Points = out
}
