package geom

// CollisionFilter admits a pair only when each side's layer is in the
// other's mask.
type CollisionFilter struct {
	Layer uint32
	Mask  uint32
}

func DefaultFilter() CollisionFilter {
	return CollisionFilter{Layer: 1, Mask: ^uint32(0)}
}

func (f CollisionFilter) Matches(o CollisionFilter) bool {
	return f.Layer&o.Mask != 0 && o.Layer&f.Mask != 0
}
