package arena

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArena_AllocateGetFree(t *testing.T) {
	a := New[string]()
	id := a.Allocate("box")
	assert.False(t, id.IsNil())
	assert.Equal(t, uint32(1), id.Generation)

	v, err := a.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "box", *v)

	old, err := a.Free(id)
	require.NoError(t, err)
	assert.Equal(t, "box", old)

	_, err = a.Get(id)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = a.Free(id)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestArena_ReusedSlotRejectsStaleHandle(t *testing.T) {
	a := New[int]()
	first := a.Allocate(1)
	_, err := a.Free(first)
	require.NoError(t, err)

	second := a.Allocate(2)
	if second.Index != first.Index {
		t.Fatalf("expected slot reuse, got %v then %v", first, second)
	}
	if second.Generation == first.Generation {
		t.Errorf("generation should change on reuse")
	}

	_, err = a.Get(first)
	assert.ErrorIs(t, err, ErrNotFound)
	v, err := a.Get(second)
	require.NoError(t, err)
	assert.Equal(t, 2, *v)
}

func TestSlots_ExhaustedSlotIsRetired(t *testing.T) {
	var s Slots
	old := s.Allocate()
	s.generations[old.Index] = math.MaxUint32
	last := s.Id(int(old.Index))
	require.NoError(t, s.Free(last))

	next := s.Allocate()
	assert.NotEqual(t, old.Index, next.Index)
	assert.Equal(t, uint32(1), next.Generation)
	for _, stale := range []EntityId{old, last} {
		assert.False(t, s.Valid(stale))
		assert.True(t, errors.Is(s.Free(stale), ErrNotFound))
	}
	assert.False(t, s.Live(int(old.Index)))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 2, s.Cap())
}

func TestArena_NilHandle(t *testing.T) {
	a := New[int]()
	a.Allocate(7)
	_, err := a.Get(EntityId{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArena_Get2(t *testing.T) {
	a := New[int]()
	x := a.Allocate(1)
	y := a.Allocate(2)

	px, py, err := a.Get2(x, y)
	require.NoError(t, err)
	*px, *py = *py, *px
	vx, _ := a.Get(x)
	assert.Equal(t, 2, *vx)

	_, _, err = a.Get2(x, x)
	assert.Error(t, err)
}

func TestArena_FreeListIsFIFO(t *testing.T) {
	a := New[int]()
	ids := []EntityId{a.Allocate(0), a.Allocate(1), a.Allocate(2)}
	a.Free(ids[2])
	a.Free(ids[0])

	assert.Equal(t, ids[2].Index, a.Allocate(3).Index)
	assert.Equal(t, ids[0].Index, a.Allocate(4).Index)
	assert.Equal(t, uint32(3), a.Allocate(5).Index)
}

func TestArena_EachInSlotOrder(t *testing.T) {
	a := New[int]()
	for i := 0; i < 5; i++ {
		a.Allocate(i)
	}
	a.Free(EntityId{Index: 1, Generation: 1})

	var seen []int
	a.Each(func(id EntityId, v *int) bool {
		seen = append(seen, *v)
		return true
	})
	assert.Equal(t, []int{0, 2, 3, 4}, seen)
	assert.Len(t, a.Ids(), 4)
	assert.Equal(t, 4, a.Len())
}

// Random interleavings: a handle resolves iff it is the latest one issued for
// its slot and has not been freed.
func TestArena_RandomInterleavingNeverAliases(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	a := New[uint64]()
	live := map[EntityId]uint64{}
	var dead []EntityId
	var serial uint64

	for step := 0; step < 20000; step++ {
		if len(live) == 0 || rng.Intn(3) != 0 {
			serial++
			id := a.Allocate(serial)
			_, clash := live[id]
			require.False(t, clash, "handle %v issued twice", id)
			live[id] = serial
			continue
		}
		// free a random live handle
		var victim EntityId
		n := rng.Intn(len(live))
		for id := range live {
			if n == 0 {
				victim = id
				break
			}
			n--
		}
		_, err := a.Free(victim)
		require.NoError(t, err)
		delete(live, victim)
		dead = append(dead, victim)
	}

	for id, want := range live {
		v, err := a.Get(id)
		require.NoError(t, err)
		if *v != want {
			t.Errorf("handle %v resolved to %d, want %d", id, *v, want)
		}
	}
	for _, id := range dead {
		if _, err := a.Get(id); !errors.Is(err, ErrNotFound) {
			t.Errorf("stale handle %v still resolves", id)
		}
	}
	assert.Equal(t, len(live), a.Len())
}
