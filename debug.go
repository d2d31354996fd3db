package rigid

import (
	"fmt"
	"strings"

	"github.com/davecgh/go-spew/spew"
)

var dumper = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

// DebugString dumps the world's metrics and every persistent manifold,
// impulses included.
func (w *World) DebugString() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "world %s frame %d t=%.4f backend=%s\n", w.id, w.frame, w.time, w.backend.Name())
	sb.WriteString(dumper.Sdump(w.metrics))
	for _, m := range w.cache.Manifolds() {
		sb.WriteString(dumper.Sdump(m))
	}
	return sb.String()
}

// Dump renders any value the way DebugString does.
func Dump(v any) string {
	return dumper.Sdump(v)
}
