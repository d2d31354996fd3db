package rigid

import (
	"sync"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_RoundTrip(t *testing.T) {
	w := newTestWorld(t, nil)
	addGround(t, w)
	crate, _ := addBox(t, w, mgl64.Vec3{0, 0.5, 0}, 0.5)
	run(t, w, 5)

	s := w.Snapshot()
	require.Len(t, s.Bodies, 2)
	require.NotEmpty(t, s.Contacts)
	assert.Equal(t, w.ID().String(), s.WorldID)
	assert.Equal(t, uint64(5), s.Frame)

	data, err := s.Encode()
	require.NoError(t, err)
	back, err := DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, s, back)

	b, ok := back.Body(crate)
	require.True(t, ok)
	assert.Equal(t, body(t, w, crate).Position, b.Position)
}

func TestSnapshot_ContactsCarryImpulses(t *testing.T) {
	w := newTestWorld(t, nil)
	_, ground := addGround(t, w)
	_, cid := addBox(t, w, mgl64.Vec3{0, 0.5, 0}, 0.5)
	run(t, w, 10)

	contacts := w.Contacts()
	require.Len(t, contacts, 1)
	c := contacts[0]
	assert.Equal(t, ground, c.ColliderA)
	assert.Equal(t, cid, c.ColliderB)
	assert.False(t, c.Trigger)
	assert.Len(t, c.Points, 4)
	total := 0.0
	for _, p := range c.Points {
		total += p.NormalImpulse
	}
	assert.Greater(t, total, 0.0)
	assert.InDelta(t, 1, c.Normal.Y(), 1e-6)
}

func TestSnapshot_LatestIsPublished(t *testing.T) {
	w := newTestWorld(t, nil)
	addSphere(t, w, mgl64.Vec3{0, 5, 0}, 0.5)
	assert.Nil(t, w.Latest())

	var wg sync.WaitGroup
	wg.Add(1)
	frames := make(chan uint64, 1)
	go func() {
		defer wg.Done()
		var last uint64
		for last < 20 {
			if s := w.Latest(); s != nil {
				last = s.Frame
			}
		}
		frames <- last
	}()
	run(t, w, 20)
	wg.Wait()
	assert.Equal(t, uint64(20), <-frames)

	s := w.Latest()
	assert.Equal(t, uint64(20), s.Frame)
	assert.Less(t, s.Bodies[0].Position.Y(), 5.0)
}

func TestSnapshot_PublishingDisabled(t *testing.T) {
	w := newTestWorld(t, func(cfg *Config) { cfg.PublishSnapshots = false })
	run(t, w, 3)
	assert.Nil(t, w.Latest())
	assert.Equal(t, uint64(3), w.Snapshot().Frame)
}

func TestDecodeSnapshot_Garbage(t *testing.T) {
	_, err := DecodeSnapshot([]byte{0xc1})
	assert.Error(t, err)
}
