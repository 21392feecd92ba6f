package index

import (
	"math"
	"slices"
)

// ivfList is one inverted list: the ids assigned to a centroid and the
// largest Euclidean distance from the centroid to any member ever assigned.
type ivfList struct {
	centroid []float32
	radius   float64
	ids      []string
}

// ivfState is the coarse quantizer of a generation. Immutable once built.
type ivfState struct {
	lists       []ivfList
	trainedSize int
}

func euclid(a, b []float32) float64 {
	var s float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		s += d * d
	}
	return math.Sqrt(s)
}

func nearestList(v []float32, lists []ivfList) (int, float64) {
	best, bestD := 0, math.Inf(1)
	for i := range lists {
		if d := euclid(v, lists[i].centroid); d < bestD {
			best, bestD = i, d
		}
	}
	return best, bestD
}

// assign builds lists for the given centroids and vectors.
func assign(centroids [][]float32, ids []string, vecs map[string][]float32) []ivfList {
	lists := make([]ivfList, len(centroids))
	for i, c := range centroids {
		lists[i].centroid = c
	}
	for _, id := range ids {
		li, d := nearestList(vecs[id], lists)
		lists[li].ids = append(lists[li].ids, id)
		if d > lists[li].radius {
			lists[li].radius = d
		}
	}
	return lists
}

// update returns a copy with changed ids removed and puts reassigned. Radii
// only grow, so they remain valid upper bounds after removals.
func (s *ivfState) update(changed map[string]struct{}, puts map[string][]float32) *ivfState {
	lists := make([]ivfList, len(s.lists))
	for i, l := range s.lists {
		ids := make([]string, 0, len(l.ids))
		for _, id := range l.ids {
			if _, ok := changed[id]; !ok {
				ids = append(ids, id)
			}
		}
		lists[i] = ivfList{centroid: l.centroid, radius: l.radius, ids: ids}
	}

	added := make([]string, 0, len(puts))
	for id := range puts {
		added = append(added, id)
	}
	slices.Sort(added)
	for _, id := range added {
		li, d := nearestList(puts[id], lists)
		lists[li].ids = append(lists[li].ids, id)
		if d > lists[li].radius {
			lists[li].radius = d
		}
	}
	return &ivfState{lists: lists, trainedSize: s.trainedSize}
}

func (s *ivfState) centroids() [][]float32 {
	out := make([][]float32, len(s.lists))
	for i := range s.lists {
		out[i] = s.lists[i].centroid
	}
	return out
}

// probe is a list visit order entry.
type probe struct {
	list  int
	bound float64
}

// probeOrder sorts lists by the triangle-inequality lower bound on the
// distance from q to any member: max(0, |q-c| - radius).
func (s *ivfState) probeOrder(q []float32) []probe {
	order := make([]probe, 0, len(s.lists))
	for i := range s.lists {
		if len(s.lists[i].ids) == 0 {
			continue
		}
		lb := euclid(q, s.lists[i].centroid) - s.lists[i].radius
		if lb < 0 {
			lb = 0
		}
		order = append(order, probe{list: i, bound: lb})
	}
	slices.SortFunc(order, func(a, b probe) int {
		switch {
		case a.bound < b.bound:
			return -1
		case a.bound > b.bound:
			return 1
		}
		return a.list - b.list
	})
	return order
}

// nlistFor picks the number of lists for n vectors.
func nlistFor(configured, n int) int {
	k := configured
	if k <= 0 {
		k = int(math.Sqrt(float64(n)))
	}
	return max(1, min(k, n))
}
