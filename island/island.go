// Package island groups interacting bodies so that each group can be
// solved on its own and put to sleep as a unit.
package island

import (
	"github.com/gekko3d/rigid/store"
)

// Link is a constraint between two body slots: a contact manifold or a
// joint. Item is the index of the manifold or joint it stands for.
type Link struct {
	A, B int
	Item int
}

type Island struct {
	// Bodies are dynamic member slots in ascending order.
	Bodies []int
	// Manifolds and Joints are Link.Item values in input order.
	Manifolds []int
	Joints    []int
	Awake     bool
}

// Builder runs union-find over body slots. It keeps its buffers between
// steps.
type Builder struct {
	parent []int
	rank   []uint8
	root   []int
}

func (b *Builder) reset(n int) {
	if cap(b.parent) < n {
		b.parent = make([]int, n)
		b.rank = make([]uint8, n)
		b.root = make([]int, n)
	}
	b.parent = b.parent[:n]
	b.rank = b.rank[:n]
	b.root = b.root[:n]
	for i := range b.parent {
		b.parent[i] = i
		b.rank[i] = 0
		b.root[i] = -1
	}
}

func (b *Builder) find(x int) int {
	for b.parent[x] != x {
		b.parent[x] = b.parent[b.parent[x]]
		x = b.parent[x]
	}
	return x
}

func (b *Builder) union(x, y int) {
	rx, ry := b.find(x), b.find(y)
	if rx == ry {
		return
	}
	if b.rank[rx] < b.rank[ry] {
		rx, ry = ry, rx
	}
	b.parent[ry] = rx
	if b.rank[rx] == b.rank[ry] {
		b.rank[rx]++
	}
}

// links merges dynamic endpoints only: static and kinematic bodies anchor
// an island but never join two islands together.
func links(bodies *store.Bodies, l Link) (int, int, bool) {
	da := l.A >= 0 && bodies.Dynamic(l.A)
	db := l.B >= 0 && bodies.Dynamic(l.B)
	switch {
	case da && db:
		return l.A, l.B, true
	case da:
		return l.A, -1, true
	case db:
		return l.B, -1, true
	}
	return -1, -1, false
}

// Build groups live dynamic bodies through contacts and joints. Islands
// are ordered by their lowest member slot. An island with any awake
// member wakes all of its members; a dynamic body touching a moving
// kinematic body is woken as well. It returns the islands and the number
// of bodies it woke.
func (b *Builder) Build(bodies *store.Bodies, contacts, joints []Link) ([]Island, int) {
	n := bodies.Cap()
	b.reset(n)
	woke := 0

	all := [2][]Link{contacts, joints}
	for _, list := range all {
		for _, l := range list {
			x, y, ok := links(bodies, l)
			if !ok {
				continue
			}
			if y >= 0 {
				b.union(x, y)
			}
			if kick(bodies, l.A, l.B) || kick(bodies, l.B, l.A) {
				woke++
			}
		}
	}

	var islands []Island
	for i := 0; i < n; i++ {
		if !bodies.Dynamic(i) {
			continue
		}
		r := b.find(i)
		k := b.root[r]
		if k < 0 {
			k = len(islands)
			b.root[r] = k
			islands = append(islands, Island{})
		}
		is := &islands[k]
		is.Bodies = append(is.Bodies, i)
		if bodies.Sleep[i] == store.Awake {
			is.Awake = true
		}
	}

	for li, list := range all {
		for _, l := range list {
			x, _, ok := links(bodies, l)
			if !ok {
				continue
			}
			is := &islands[b.root[b.find(x)]]
			if li == 0 {
				is.Manifolds = append(is.Manifolds, l.Item)
			} else {
				is.Joints = append(is.Joints, l.Item)
			}
		}
	}

	for k := range islands {
		is := &islands[k]
		if !is.Awake {
			continue
		}
		for _, i := range is.Bodies {
			if bodies.Sleep[i] == store.Sleeping {
				bodies.Wake(i)
				woke++
			}
		}
	}
	return islands, woke
}

// kick wakes sleeping dynamic body d when k is a moving kinematic body.
func kick(bodies *store.Bodies, d, k int) bool {
	if d < 0 || k < 0 || !bodies.Dynamic(d) || bodies.Sleep[d] != store.Sleeping {
		return false
	}
	if !bodies.Live(k) || bodies.Type[k] != store.Kinematic {
		return false
	}
	if bodies.LinearVelocity[k].LenSqr() == 0 && bodies.AngularVelocity[k].LenSqr() == 0 {
		return false
	}
	bodies.Wake(d)
	return true
}

// Sleep decides when resting islands go to sleep.
type Sleep struct {
	Enabled bool
	// Threshold is the specific kinetic energy, ½|v|² + ½|ω|², below
	// which a body counts as resting.
	Threshold float64
	// Time a whole island must rest before it sleeps.
	Time float64
}

// Update advances rest timers of the bodies of awake islands and puts an
// island to sleep once every member has rested for Time. It returns the
// number of islands put to sleep.
func (s Sleep) Update(bodies *store.Bodies, islands []Island, dt float64) int {
	slept := 0
	for k := range islands {
		is := &islands[k]
		if !is.Awake {
			continue
		}
		minTimer := -1.0
		for _, i := range is.Bodies {
			lin, ang := bodies.KineticEnergy(i)
			if !s.Enabled || lin+ang > s.Threshold {
				bodies.SleepTimer[i] = 0
			} else {
				bodies.SleepTimer[i] += dt
			}
			if minTimer < 0 || bodies.SleepTimer[i] < minTimer {
				minTimer = bodies.SleepTimer[i]
			}
		}
		if s.Enabled && minTimer >= s.Time {
			for _, i := range is.Bodies {
				bodies.PutToSleep(i)
			}
			is.Awake = false
			slept++
		}
	}
	return slept
}
