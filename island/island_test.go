package island

import (
	"testing"

	"github.com/gekko3d/rigid/store"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bodies(t *testing.T, types ...store.BodyType) *store.Store {
	t.Helper()
	s := store.New()
	for k, ty := range types {
		d := store.DynamicBody(mgl64.Vec3{float64(k), 0, 0})
		d.Type = ty
		_, err := s.AddBody(d)
		require.NoError(t, err)
	}
	return s
}

func TestBuild_StaticDoesNotMerge(t *testing.T) {
	// 0 and 2 both rest on static 1; 3 is alone; 4 touches 3
	s := bodies(t, store.Dynamic, store.Static, store.Dynamic, store.Dynamic, store.Dynamic)
	contacts := []Link{{A: 0, B: 1, Item: 0}, {A: 1, B: 2, Item: 1}, {A: 3, B: 4, Item: 2}}

	var b Builder
	islands, woke := b.Build(&s.Bodies, contacts, nil)
	assert.Equal(t, 0, woke)
	require.Len(t, islands, 3)
	assert.Equal(t, []int{0}, islands[0].Bodies)
	assert.Equal(t, []int{0}, islands[0].Manifolds)
	assert.Equal(t, []int{2}, islands[1].Bodies)
	assert.Equal(t, []int{1}, islands[1].Manifolds)
	assert.Equal(t, []int{3, 4}, islands[2].Bodies)
	assert.Equal(t, []int{2}, islands[2].Manifolds)
	for _, is := range islands {
		assert.True(t, is.Awake)
	}
}

func TestBuild_JointsJoinIslands(t *testing.T) {
	s := bodies(t, store.Dynamic, store.Dynamic, store.Dynamic)
	var b Builder
	islands, _ := b.Build(&s.Bodies, nil, []Link{{A: 2, B: 0, Item: 7}})
	require.Len(t, islands, 2)
	assert.Equal(t, []int{0, 2}, islands[0].Bodies)
	assert.Equal(t, []int{7}, islands[0].Joints)
	assert.Equal(t, []int{1}, islands[1].Bodies)
}

func TestBuild_AwakeMemberWakesIsland(t *testing.T) {
	s := bodies(t, store.Dynamic, store.Dynamic)
	s.Bodies.PutToSleep(1)
	var b Builder
	islands, woke := b.Build(&s.Bodies, []Link{{A: 0, B: 1}}, nil)
	assert.Equal(t, 1, woke)
	require.Len(t, islands, 1)
	assert.True(t, islands[0].Awake)
	assert.Equal(t, store.Awake, s.Bodies.Sleep[1])
}

func TestBuild_SleepingIslandStaysAsleep(t *testing.T) {
	s := bodies(t, store.Dynamic, store.Dynamic, store.Static)
	s.Bodies.PutToSleep(0)
	s.Bodies.PutToSleep(1)
	var b Builder
	islands, woke := b.Build(&s.Bodies, []Link{{A: 0, B: 1}, {A: 1, B: 2, Item: 1}}, nil)
	assert.Equal(t, 0, woke)
	require.Len(t, islands, 1)
	assert.False(t, islands[0].Awake)
}

func TestBuild_MovingKinematicWakes(t *testing.T) {
	s := bodies(t, store.Dynamic, store.Kinematic)
	s.Bodies.PutToSleep(0)
	var b Builder
	_, woke := b.Build(&s.Bodies, []Link{{A: 0, B: 1}}, nil)
	assert.Equal(t, 0, woke)

	s.Bodies.LinearVelocity[1] = mgl64.Vec3{1, 0, 0}
	islands, woke := b.Build(&s.Bodies, []Link{{A: 0, B: 1}}, nil)
	assert.Equal(t, 1, woke)
	assert.True(t, islands[0].Awake)
}

func TestSleep_WholeIslandMustRest(t *testing.T) {
	s := bodies(t, store.Dynamic, store.Dynamic)
	s.Bodies.LinearVelocity[1] = mgl64.Vec3{1, 0, 0}
	sleep := Sleep{Enabled: true, Threshold: 0.01, Time: 0.5}
	var b Builder
	link := []Link{{A: 0, B: 1}}

	for k := 0; k < 60; k++ {
		islands, _ := b.Build(&s.Bodies, link, nil)
		assert.Equal(t, 0, sleep.Update(&s.Bodies, islands, 1.0/60))
	}
	assert.Greater(t, s.Bodies.SleepTimer[0], 0.5)
	assert.Equal(t, 0.0, s.Bodies.SleepTimer[1])

	s.Bodies.LinearVelocity[1] = mgl64.Vec3{}
	slept := 0
	steps := 0
	for slept == 0 && steps < 100 {
		islands, _ := b.Build(&s.Bodies, link, nil)
		slept = sleep.Update(&s.Bodies, islands, 1.0/60)
		steps++
	}
	assert.Equal(t, 1, slept)
	assert.InDelta(t, 31, steps, 1)
	assert.Equal(t, store.Sleeping, s.Bodies.Sleep[0])
	assert.Equal(t, store.Sleeping, s.Bodies.Sleep[1])
}

func TestSleep_Disabled(t *testing.T) {
	s := bodies(t, store.Dynamic)
	sleep := Sleep{Enabled: false, Threshold: 1, Time: 0.1}
	var b Builder
	for k := 0; k < 30; k++ {
		islands, _ := b.Build(&s.Bodies, nil, nil)
		assert.Equal(t, 0, sleep.Update(&s.Bodies, islands, 0.1))
	}
	assert.Equal(t, store.Awake, s.Bodies.Sleep[0])
}
