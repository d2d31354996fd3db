package rigid

import (
	"fmt"

	"github.com/gekko3d/rigid/articulation"
	"github.com/gekko3d/rigid/store"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/vmihailenco/msgpack/v5"
)

// BodySnapshot is the published state of one body.
type BodySnapshot struct {
	Id              EntityId       `msgpack:"id"`
	Type            store.BodyType `msgpack:"type"`
	Position        mgl64.Vec3     `msgpack:"position"`
	Rotation        mgl64.Quat     `msgpack:"rotation"`
	LinearVelocity  mgl64.Vec3     `msgpack:"linear_velocity"`
	AngularVelocity mgl64.Vec3     `msgpack:"angular_velocity"`
	Sleeping        bool           `msgpack:"sleeping"`
}

type ContactPointSnapshot struct {
	PointA         mgl64.Vec3 `msgpack:"point_a"`
	PointB         mgl64.Vec3 `msgpack:"point_b"`
	Depth          float64    `msgpack:"depth"`
	NormalImpulse  float64    `msgpack:"normal_impulse"`
	TangentImpulse mgl64.Vec3 `msgpack:"tangent_impulse"`
}

// ContactSnapshot is a read-only copy of one persistent manifold.
type ContactSnapshot struct {
	ColliderA   EntityId               `msgpack:"collider_a"`
	ColliderB   EntityId               `msgpack:"collider_b"`
	BodyA       EntityId               `msgpack:"body_a"`
	BodyB       EntityId               `msgpack:"body_b"`
	Normal      mgl64.Vec3             `msgpack:"normal"`
	Points      []ContactPointSnapshot `msgpack:"points"`
	Trigger     bool                   `msgpack:"trigger"`
	Speculative bool                   `msgpack:"speculative"`
}

type LinkSnapshot struct {
	Name     string     `msgpack:"name"`
	Position mgl64.Vec3 `msgpack:"position"`
	Rotation mgl64.Quat `msgpack:"rotation"`
}

// MultibodySnapshot holds a multibody's joint state and world link poses.
type MultibodySnapshot struct {
	Id    EntityId       `msgpack:"id"`
	Q     []float64      `msgpack:"q"`
	Dq    []float64      `msgpack:"dq"`
	Links []LinkSnapshot `msgpack:"links"`
}

// Snapshot is an immutable copy of the world after a step, safe to hand
// to other goroutines.
type Snapshot struct {
	WorldID  string            `msgpack:"world_id"`
	Frame    uint64            `msgpack:"frame"`
	Time     float64           `msgpack:"time"`
	Bodies   []BodySnapshot    `msgpack:"bodies"`
	Contacts []ContactSnapshot `msgpack:"contacts"`
	// Multibodies are in slot order.
	Multibodies []MultibodySnapshot `msgpack:"multibodies,omitempty"`
	Metrics     StepMetrics         `msgpack:"metrics"`
}

func (s *Snapshot) Encode() ([]byte, error) {
	data, err := msgpack.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &s, nil
}

// Body finds a body by handle.
func (s *Snapshot) Body(id EntityId) (BodySnapshot, bool) {
	for _, b := range s.Bodies {
		if b.Id == id {
			return b, true
		}
	}
	return BodySnapshot{}, false
}

// Snapshot copies the current state. Bodies are in slot order and
// contacts in collider-pair order.
func (w *World) Snapshot() *Snapshot {
	b := &w.store.Bodies
	s := &Snapshot{
		WorldID:  w.id.String(),
		Frame:    w.frame,
		Time:     w.time,
		Bodies:   make([]BodySnapshot, 0, b.Len()),
		Contacts: w.Contacts(),
		Metrics:  w.metrics,
	}
	for i := 0; i < b.Cap(); i++ {
		if !b.Live(i) {
			continue
		}
		s.Bodies = append(s.Bodies, BodySnapshot{
			Id:              b.Slots.Id(i),
			Type:            b.Type[i],
			Position:        b.Position[i],
			Rotation:        b.Rotation[i],
			LinearVelocity:  b.LinearVelocity[i],
			AngularVelocity: b.AngularVelocity[i],
			Sleeping:        b.Sleep[i] == store.Sleeping,
		})
	}
	w.multibodies.Each(func(id EntityId, mb *articulation.Multibody) bool {
		ms := MultibodySnapshot{
			Id:    id,
			Q:     append([]float64(nil), mb.Q...),
			Dq:    append([]float64(nil), mb.Dq...),
			Links: make([]LinkSnapshot, len(mb.Links)),
		}
		for k, l := range mb.Links {
			xf := mb.Pose(k)
			ms.Links[k] = LinkSnapshot{Name: l.Name, Position: xf.Position, Rotation: xf.Rotation}
		}
		s.Multibodies = append(s.Multibodies, ms)
		return true
	})
	return s
}

// Contacts lists the persistent manifolds with their solved impulses.
func (w *World) Contacts() []ContactSnapshot {
	ms := w.cache.Manifolds()
	out := make([]ContactSnapshot, 0, len(ms))
	for _, m := range ms {
		c := ContactSnapshot{
			ColliderA:   m.Key.A,
			ColliderB:   m.Key.B,
			BodyA:       m.BodyA,
			BodyB:       m.BodyB,
			Normal:      m.Normal,
			Trigger:     m.Trigger,
			Speculative: m.Speculative,
			Points:      make([]ContactPointSnapshot, 0, m.Count),
		}
		for _, p := range m.Slice() {
			c.Points = append(c.Points, ContactPointSnapshot{
				PointA:         p.WorldA,
				PointB:         p.WorldB,
				Depth:          p.Depth,
				NormalImpulse:  p.NormalImpulse,
				TangentImpulse: p.TangentImpulse,
			})
		}
		out = append(out, c)
	}
	return out
}

// Latest returns the snapshot published by the last step, or nil before
// the first one. Safe for concurrent use.
func (w *World) Latest() *Snapshot {
	return w.latest.Load()
}

func (w *World) publish() {
	if w.cfg.PublishSnapshots {
		w.latest.Store(w.Snapshot())
	}
}
