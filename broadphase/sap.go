package broadphase

import "sort"

type endpoint struct {
	value float64
	proxy int32
	isMin bool
}

// SweepAndPrune sorts box endpoints on the X axis and sweeps an active
// set. Endpoints are kept between calls so insertion sort stays close to
// linear while bodies move little per step.
type SweepAndPrune struct {
	endpoints []endpoint
	active    []int32
}

func NewSweepAndPrune() *SweepAndPrune {
	return &SweepAndPrune{}
}

func (s *SweepAndPrune) Name() string { return "sap" }

func endpointLess(a, b endpoint) bool {
	if a.value != b.value {
		return a.value < b.value
	}
	// starts before ends so touching boxes still overlap
	if a.isMin != b.isMin {
		return a.isMin
	}
	return a.proxy < b.proxy
}

func (s *SweepAndPrune) FindPairs(proxies []Proxy) []Pair {
	if len(proxies) < 2 {
		return nil
	}
	if len(s.endpoints) != 2*len(proxies) {
		s.endpoints = s.endpoints[:0]
		for i := range proxies {
			s.endpoints = append(s.endpoints,
				endpoint{proxy: int32(i), isMin: true},
				endpoint{proxy: int32(i), isMin: false},
			)
		}
	}
	for k := range s.endpoints {
		e := &s.endpoints[k]
		if e.isMin {
			e.value = proxies[e.proxy].AABB.Min[0]
		} else {
			e.value = proxies[e.proxy].AABB.Max[0]
		}
	}
	insertionSort(s.endpoints)

	var out []Pair
	s.active = s.active[:0]
	for _, ep := range s.endpoints {
		if ep.isMin {
			p := &proxies[ep.proxy]
			for _, other := range s.active {
				if Admissible(p, &proxies[other]) {
					out = append(out, MakePair(p.Collider, proxies[other].Collider))
				}
			}
			s.active = append(s.active, ep.proxy)
			continue
		}
		for i, id := range s.active {
			if id == ep.proxy {
				s.active[i] = s.active[len(s.active)-1]
				s.active = s.active[:len(s.active)-1]
				break
			}
		}
	}
	return Canonical(out)
}

func insertionSort(e []endpoint) {
	// NaN bounds break insertion sort's invariants; fall back to a full sort
	for i := range e {
		if e[i].value != e[i].value {
			sort.SliceStable(e, func(a, b int) bool { return endpointLess(e[a], e[b]) })
			return
		}
	}
	for i := 1; i < len(e); i++ {
		v := e[i]
		j := i - 1
		for j >= 0 && endpointLess(v, e[j]) {
			e[j+1] = e[j]
			j--
		}
		e[j+1] = v
	}
}
