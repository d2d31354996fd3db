package store

import (
	"fmt"

	"github.com/gekko3d/rigid/arena"
	"github.com/gekko3d/rigid/geom"
)

type ColliderDesc struct {
	Body     arena.EntityId
	Shape    geom.Shape
	Local    geom.Transform
	Material geom.Material
	Filter   geom.CollisionFilter
	// Trigger colliders report overlaps but never generate forces.
	Trigger bool
}

// NewColliderDesc fills in the default material, filter and identity offset.
func NewColliderDesc(body arena.EntityId, shape geom.Shape) ColliderDesc {
	return ColliderDesc{
		Body:     body,
		Shape:    shape,
		Local:    geom.Identity(),
		Material: geom.DefaultMaterial(),
		Filter:   geom.DefaultFilter(),
	}
}

type Colliders struct {
	Slots arena.Slots

	Shape     []geom.Shape
	Local     []geom.Transform
	Material  []geom.Material
	Filter    []geom.CollisionFilter
	Trigger   []bool
	Body      []arena.EntityId
	BodyIndex []int
	World     []geom.Transform
	AABB      []geom.AABB
}

type ColliderView struct {
	Id       arena.EntityId
	Body     arena.EntityId
	Shape    geom.Shape
	Local    geom.Transform
	World    geom.Transform
	AABB     geom.AABB
	Material geom.Material
	Filter   geom.CollisionFilter
	Trigger  bool
}

func (c *Colliders) add(d ColliderDesc, bodyIndex int) (arena.EntityId, int) {
	id := c.Slots.Allocate()
	i := int(id.Index)
	if i == len(c.Shape) {
		c.Shape = append(c.Shape, nil)
		c.Local = append(c.Local, geom.Transform{})
		c.Material = append(c.Material, geom.Material{})
		c.Filter = append(c.Filter, geom.CollisionFilter{})
		c.Trigger = append(c.Trigger, false)
		c.Body = append(c.Body, arena.EntityId{})
		c.BodyIndex = append(c.BodyIndex, -1)
		c.World = append(c.World, geom.Transform{})
		c.AABB = append(c.AABB, geom.AABB{})
	}
	local := d.Local
	if local.Rotation.Len() < 1e-12 {
		local.Rotation = geom.Identity().Rotation
	}
	c.Shape[i] = d.Shape
	c.Local[i] = local
	c.Material[i] = d.Material
	c.Filter[i] = d.Filter
	c.Trigger[i] = d.Trigger
	c.Body[i] = d.Body
	c.BodyIndex[i] = bodyIndex
	return id, i
}

func (c *Colliders) clear(i int) {
	c.Shape[i] = nil
	c.Body[i] = arena.EntityId{}
	c.BodyIndex[i] = -1
	c.AABB[i] = geom.AABB{}
}

func (c *Colliders) Index(id arena.EntityId) (int, error) {
	if !c.Slots.Valid(id) {
		return -1, fmt.Errorf("collider %s: %w", id, arena.ErrNotFound)
	}
	return int(id.Index), nil
}

func (c *Colliders) Get(id arena.EntityId) (ColliderView, error) {
	i, err := c.Index(id)
	if err != nil {
		return ColliderView{}, err
	}
	return c.View(i), nil
}

func (c *Colliders) View(i int) ColliderView {
	return ColliderView{
		Id:       c.Slots.Id(i),
		Body:     c.Body[i],
		Shape:    c.Shape[i],
		Local:    c.Local[i],
		World:    c.World[i],
		AABB:     c.AABB[i],
		Material: c.Material[i],
		Filter:   c.Filter[i],
		Trigger:  c.Trigger[i],
	}
}

func (c *Colliders) Live(i int) bool { return c.Slots.Live(i) }

func (c *Colliders) Len() int { return c.Slots.Len() }

func (c *Colliders) Cap() int { return c.Slots.Cap() }
