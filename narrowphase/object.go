// Package narrowphase turns candidate collider pairs into contact points:
// analytic tests for round shapes, GJK and EPA for general convex pairs,
// and face clipping for flat contacts.
package narrowphase

import (
	"github.com/gekko3d/rigid/geom"
	"github.com/go-gl/mathgl/mgl64"
)

// Object is a shape placed in the world.
type Object struct {
	Shape geom.Shape
	Xf    geom.Transform
}

func (o Object) AABB() geom.AABB {
	return o.Shape.LocalAABB().Transformed(o.Xf)
}

// convexObject is a convex shape placed in the world.
type convexObject struct {
	shape geom.Convex
	xf    geom.Transform
}

func (o convexObject) support(dir mgl64.Vec3) mgl64.Vec3 {
	return o.xf.Apply(o.shape.Support(o.xf.RotateInverse(dir)))
}

func (o convexObject) center() mgl64.Vec3 {
	return o.xf.Position
}

// feature returns the world-space feature most aligned with dir.
func (o convexObject) feature(dir mgl64.Vec3) ([]mgl64.Vec3, mgl64.Vec3) {
	pts, n := o.shape.Feature(o.xf.RotateInverse(dir))
	out := make([]mgl64.Vec3, len(pts))
	for i, p := range pts {
		out[i] = o.xf.Apply(p)
	}
	return out, o.xf.Rotate(n)
}
