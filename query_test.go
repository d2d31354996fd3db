package rigid

import (
	"errors"
	"math"
	"testing"

	"github.com/gekko3d/rigid/geom"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queryScene(t *testing.T) (w *World, ground, ball EntityId) {
	w = newTestWorld(t, nil)
	_, ground = addGround(t, w)
	_, ball = addSphere(t, w, mgl64.Vec3{0, 3, 0}, 0.5)
	return w, ground, ball
}

func down() RayQuery {
	return NewRayQuery(mgl64.Vec3{0, 10, 0}, mgl64.Vec3{0, -1, 0})
}

func TestRayCast_Closest(t *testing.T) {
	w, _, ball := queryScene(t)

	hits, err := w.RayCast(down())
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, ball, hits[0].Collider)
	assert.InDelta(t, 6.5, hits[0].Distance, 1e-9)
	assert.InDelta(t, 3.5, hits[0].Point.Y(), 1e-9)
	assert.InDelta(t, 1, hits[0].Normal.Y(), 1e-9)
}

func TestRayCast_AllHitsSorted(t *testing.T) {
	w, ground, ball := queryScene(t)
	q := down()
	q.ClosestOnly = false

	hits, err := w.RayCast(q)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, ball, hits[0].Collider)
	assert.Equal(t, ground, hits[1].Collider)
	assert.InDelta(t, 10, hits[1].Distance, 1e-9)
}

func TestRayCast_MaxDistance(t *testing.T) {
	w, _, _ := queryScene(t)
	q := down()
	q.MaxDistance = 5

	hits, err := w.RayCast(q)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestRayCast_Filters(t *testing.T) {
	w, ground, ball := queryScene(t)
	require.NoError(t, w.SetColliderFilter(ball, geom.CollisionFilter{Layer: 2, Mask: ^uint32(0)}))

	q := down()
	q.Mask = 1
	hits, err := w.RayCast(q)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, ground, hits[0].Collider)

	q = down()
	q.Exclude = func(collider, _ EntityId) bool { return collider == ball }
	hits, err = w.RayCast(q)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, ground, hits[0].Collider)

	require.NoError(t, w.SetColliderFilter(ground, geom.CollisionFilter{Layer: 1, Mask: 4}))
	q = down()
	q.Mask = 1
	hits, err = w.RayCast(q)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestRayCast_Triggers(t *testing.T) {
	w, ground, _ := queryScene(t)
	id, err := w.AddBody(StaticBody(mgl64.Vec3{0, 6, 0}))
	require.NoError(t, err)
	zone, err := geom.NewBox(mgl64.Vec3{1, 1, 1})
	require.NoError(t, err)
	cd := NewColliderDesc(id, zone)
	cd.Trigger = true
	trigger, err := w.AddCollider(cd)
	require.NoError(t, err)

	q := down()
	q.ClosestOnly = false
	hits, err := w.RayCast(q)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.NotEqual(t, trigger, hits[0].Collider)
	assert.Equal(t, ground, hits[1].Collider)

	q.IncludeTriggers = true
	hits, err = w.RayCast(q)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, trigger, hits[0].Collider)
	assert.InDelta(t, 3, hits[0].Distance, 1e-9)
}

func TestRayCast_FollowsMovedBodies(t *testing.T) {
	w, ground, _ := queryScene(t)
	_, err := w.RayCast(down())
	require.NoError(t, err)

	view, err := w.Collider(ground)
	require.NoError(t, err)
	require.NoError(t, w.SetBodyTransform(view.Body, mgl64.Vec3{0, -3.5, 0}, mgl64.QuatIdent()))

	q := down()
	q.Origin = mgl64.Vec3{5, 10, 0}
	hits, err := w.RayCast(q)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 13, hits[0].Distance, 1e-9)
}

func TestRayCast_RejectsBadRay(t *testing.T) {
	w, _, _ := queryScene(t)
	_, err := w.RayCast(NewRayQuery(mgl64.Vec3{}, mgl64.Vec3{}))
	assert.True(t, errors.Is(err, ErrNonFiniteInput))
	_, err = w.RayCast(NewRayQuery(mgl64.Vec3{math.NaN(), 0, 0}, mgl64.Vec3{1, 0, 0}))
	assert.True(t, errors.Is(err, ErrNonFiniteInput))
}

func TestOverlapShape(t *testing.T) {
	w, ground, ball := queryScene(t)
	shape, err := geom.NewSphere(0.5)
	require.NoError(t, err)

	ids, err := w.OverlapShape(ShapeQuery{Shape: shape, Transform: geom.NewTransform(mgl64.Vec3{0, 3.8, 0}, mgl64.QuatIdent())})
	require.NoError(t, err)
	assert.Equal(t, []EntityId{ball}, ids)

	big, err := geom.NewBox(mgl64.Vec3{1, 3, 1})
	require.NoError(t, err)
	ids, err = w.OverlapShape(ShapeQuery{Shape: big, Transform: geom.NewTransform(mgl64.Vec3{0, 1, 0}, mgl64.QuatIdent())})
	require.NoError(t, err)
	assert.Equal(t, []EntityId{ground, ball}, ids)

	ids, err = w.OverlapShape(ShapeQuery{Shape: shape, Transform: geom.NewTransform(mgl64.Vec3{5, 5, 5}, mgl64.QuatIdent())})
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = w.OverlapShape(ShapeQuery{Shape: big, Mask: 4})
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = w.OverlapShape(ShapeQuery{})
	assert.True(t, errors.Is(err, ErrInvalidShapeParameters))
}
