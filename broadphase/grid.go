package broadphase

import (
	"math"
	"sort"

	"github.com/gekko3d/rigid/internal/parallel"
)

// maxCellsPerProxy sends huge boxes to the overflow list instead of
// stamping them into thousands of cells.
const maxCellsPerProxy = 64

// Grid is a uniform spatial hash. Each box goes into every cell it covers
// and pairs are found per cell.
type Grid struct {
	// CellSize of zero picks the median largest box extent each step.
	CellSize float64
	Workers  int

	cellSize float64
	cells    map[uint64][]int32
	keys     []uint64
	overflow []int32
	outputs  [][]Pair
}

func NewGrid(cellSize float64, workers int) *Grid {
	return &Grid{
		CellSize: cellSize,
		Workers:  workers,
		cells:    make(map[uint64][]int32),
	}
}

func (g *Grid) Name() string { return "grid" }

func (g *Grid) Clear() {
	for k, v := range g.cells {
		if len(v) == 0 {
			// unused for a whole step
			delete(g.cells, k)
			continue
		}
		g.cells[k] = v[:0]
	}
	g.keys = g.keys[:0]
	g.overflow = g.overflow[:0]
}

func (g *Grid) getCellIndex(pos float64) int {
	return int(math.Floor(pos / g.cellSize))
}

// Simple hash function for 3D coordinates
func (g *Grid) hashKey(x, y, z int) uint64 {
	// large primes for mixing
	const p1 = 73856093
	const p2 = 19349663
	const p3 = 83492791
	return uint64(x*p1 ^ y*p2 ^ z*p3)
}

func (g *Grid) chooseCellSize(proxies []Proxy) float64 {
	if g.CellSize > 0 {
		return g.CellSize
	}
	ext := make([]float64, 0, len(proxies))
	for i := range proxies {
		e := proxies[i].AABB.LargestExtent()
		if e > 0 && !math.IsInf(e, 0) && !math.IsNaN(e) {
			ext = append(ext, e)
		}
	}
	if len(ext) == 0 {
		return 1
	}
	sort.Float64s(ext)
	return math.Max(ext[len(ext)/2], 1e-3)
}

func (g *Grid) insert(idx int32, p *Proxy) {
	const maxCoord = 1 << 40
	for k := 0; k < 3; k++ {
		if math.Abs(p.AABB.Min[k]/g.cellSize) > maxCoord || math.Abs(p.AABB.Max[k]/g.cellSize) > maxCoord {
			g.overflow = append(g.overflow, idx)
			return
		}
	}
	minX, maxX := g.getCellIndex(p.AABB.Min[0]), g.getCellIndex(p.AABB.Max[0])
	minY, maxY := g.getCellIndex(p.AABB.Min[1]), g.getCellIndex(p.AABB.Max[1])
	minZ, maxZ := g.getCellIndex(p.AABB.Min[2]), g.getCellIndex(p.AABB.Max[2])

	span := float64(maxX-minX+1) * float64(maxY-minY+1) * float64(maxZ-minZ+1)
	if span > maxCellsPerProxy || span <= 0 {
		g.overflow = append(g.overflow, idx)
		return
	}
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			for z := minZ; z <= maxZ; z++ {
				key := g.hashKey(x, y, z)
				list, ok := g.cells[key]
				if !ok || len(list) == 0 {
					g.keys = append(g.keys, key)
				}
				g.cells[key] = append(list, idx)
			}
		}
	}
}

func (g *Grid) FindPairs(proxies []Proxy) []Pair {
	if len(proxies) < 2 {
		return nil
	}
	g.Clear()
	g.cellSize = g.chooseCellSize(proxies)

	isOverflow := make([]bool, len(proxies))
	for i := range proxies {
		if !finiteBox(&proxies[i]) {
			g.overflow = append(g.overflow, int32(i))
			continue
		}
		g.insert(int32(i), &proxies[i])
	}
	for _, i := range g.overflow {
		isOverflow[i] = true
	}
	// fixed cell order keeps the work split reproducible
	sort.Slice(g.keys, func(i, j int) bool { return g.keys[i] < g.keys[j] })

	workers := max(g.Workers, 1)
	if cap(g.outputs) < workers {
		g.outputs = make([][]Pair, workers)
	}
	g.outputs = g.outputs[:workers]
	for w := range g.outputs {
		g.outputs[w] = g.outputs[w][:0]
	}

	parallel.For(len(g.keys), workers, func(r parallel.Range) {
		out := g.outputs[r.Worker]
		for k := r.Lo; k < r.Hi; k++ {
			list := g.cells[g.keys[k]]
			for a := 0; a < len(list); a++ {
				pa := &proxies[list[a]]
				for b := a + 1; b < len(list); b++ {
					pb := &proxies[list[b]]
					if Admissible(pa, pb) {
						out = append(out, MakePair(pa.Collider, pb.Collider))
					}
				}
			}
		}
		g.outputs[r.Worker] = out
	})

	var pairs []Pair
	for _, out := range g.outputs {
		pairs = append(pairs, out...)
	}
	for _, oi := range g.overflow {
		po := &proxies[oi]
		for j := range proxies {
			if int32(j) == oi || (isOverflow[j] && int32(j) < oi) {
				continue
			}
			if Admissible(po, &proxies[j]) {
				pairs = append(pairs, MakePair(po.Collider, proxies[j].Collider))
			}
		}
	}
	return Canonical(pairs)
}

func finiteBox(p *Proxy) bool {
	for k := 0; k < 3; k++ {
		if math.IsNaN(p.AABB.Min[k]) || math.IsInf(p.AABB.Min[k], 0) ||
			math.IsNaN(p.AABB.Max[k]) || math.IsInf(p.AABB.Max[k], 0) {
			return false
		}
	}
	return true
}
