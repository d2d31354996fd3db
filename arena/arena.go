// Package arena hands out generational handles for bodies, colliders and
// joints. A handle stays valid until its slot is freed; after that every
// lookup through it fails with ErrNotFound, even once the slot is reused.
package arena

import (
	"errors"
	"fmt"
	"math"
)

var ErrNotFound = errors.New("entity not found")

// EntityId is a slot index paired with the generation it was issued for.
// The zero value is never issued and acts as the null handle.
type EntityId struct {
	Index      uint32
	Generation uint32
}

func (id EntityId) IsNil() bool { return id.Generation == 0 }

// Less orders handles by slot then generation.
func (id EntityId) Less(other EntityId) bool {
	if id.Index != other.Index {
		return id.Index < other.Index
	}
	return id.Generation < other.Generation
}

func (id EntityId) String() string {
	return fmt.Sprintf("%d:%d", id.Index, id.Generation)
}

// Slots tracks generations and liveness without storing values. The SoA
// stores use it directly and index their own columns by slot.
type Slots struct {
	generations []uint32
	live        []bool
	free        []uint32
	count       int
}

// Allocate reuses the oldest freed slot, or grows by one.
func (s *Slots) Allocate() EntityId {
	if len(s.free) > 0 {
		idx := s.free[0]
		s.free = s.free[1:]
		s.live[idx] = true
		s.count++
		return EntityId{Index: idx, Generation: s.generations[idx]}
	}
	idx := uint32(len(s.generations))
	s.generations = append(s.generations, 1)
	s.live = append(s.live, true)
	s.count++
	return EntityId{Index: idx, Generation: 1}
}

func (s *Slots) Valid(id EntityId) bool {
	if id.Generation == 0 || int(id.Index) >= len(s.generations) {
		return false
	}
	return s.live[id.Index] && s.generations[id.Index] == id.Generation
}

// Free releases the slot behind id. A slot whose generation counter is
// exhausted is retired instead of reused, so no old handle can come back.
func (s *Slots) Free(id EntityId) error {
	if !s.Valid(id) {
		return fmt.Errorf("free %s: %w", id, ErrNotFound)
	}
	s.live[id.Index] = false
	s.count--
	if s.generations[id.Index] == math.MaxUint32 {
		s.generations[id.Index] = 0
		return nil
	}
	s.generations[id.Index]++
	s.free = append(s.free, id.Index)
	return nil
}

// Live reports whether slot i currently holds a value.
func (s *Slots) Live(i int) bool {
	return i >= 0 && i < len(s.live) && s.live[i]
}

// Id returns the current handle for a live slot.
func (s *Slots) Id(i int) EntityId {
	return EntityId{Index: uint32(i), Generation: s.generations[i]}
}

func (s *Slots) Len() int { return s.count }

// Cap is the number of slots ever allocated, live or not.
func (s *Slots) Cap() int { return len(s.generations) }

// Each visits live handles in slot order until fn returns false.
func (s *Slots) Each(fn func(id EntityId) bool) {
	for i, ok := range s.live {
		if !ok {
			continue
		}
		if !fn(s.Id(i)) {
			return
		}
	}
}

// Arena stores values of T behind generational handles.
type Arena[T any] struct {
	slots  Slots
	values []T
}

func New[T any]() *Arena[T] {
	return &Arena[T]{}
}

func (a *Arena[T]) Allocate(v T) EntityId {
	id := a.slots.Allocate()
	if int(id.Index) == len(a.values) {
		a.values = append(a.values, v)
	} else {
		a.values[id.Index] = v
	}
	return id
}

func (a *Arena[T]) Free(id EntityId) (T, error) {
	var zero T
	if err := a.slots.Free(id); err != nil {
		return zero, err
	}
	v := a.values[id.Index]
	a.values[id.Index] = zero
	return v, nil
}

func (a *Arena[T]) Get(id EntityId) (*T, error) {
	if !a.slots.Valid(id) {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return &a.values[id.Index], nil
}

// Get2 returns two distinct values at once. Asking for the same slot twice
// is an error so callers never hold aliased pointers.
func (a *Arena[T]) Get2(x, y EntityId) (*T, *T, error) {
	if x.Index == y.Index {
		return nil, nil, fmt.Errorf("get2 %s %s: aliased slot", x, y)
	}
	px, err := a.Get(x)
	if err != nil {
		return nil, nil, err
	}
	py, err := a.Get(y)
	if err != nil {
		return nil, nil, err
	}
	return px, py, nil
}

func (a *Arena[T]) Contains(id EntityId) bool { return a.slots.Valid(id) }

func (a *Arena[T]) Len() int { return a.slots.Len() }

// Each visits values in slot order until fn returns false.
func (a *Arena[T]) Each(fn func(id EntityId, v *T) bool) {
	a.slots.Each(func(id EntityId) bool {
		return fn(id, &a.values[id.Index])
	})
}

// Ids returns live handles in slot order.
func (a *Arena[T]) Ids() []EntityId {
	ids := make([]EntityId, 0, a.slots.Len())
	a.slots.Each(func(id EntityId) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}
