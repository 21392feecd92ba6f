package index

import (
	"container/heap"
	"slices"
	"strings"
)

// Neighbor is one search hit. Distance is metric-specific (smaller is closer);
// Score is the derived similarity (larger is closer).
type Neighbor struct {
	ID       string
	Distance float64
	Score    float64
}

// worse orders neighbors so ties on distance break by ascending id.
func worse(a, b Neighbor) bool {
	if a.Distance != b.Distance {
		return a.Distance > b.Distance
	}
	return a.ID > b.ID
}

// neighborHeap is a max-heap on worse(): the root is the current worst kept.
type neighborHeap []Neighbor

func (h neighborHeap) Len() int           { return len(h) }
func (h neighborHeap) Less(i, j int) bool { return worse(h[i], h[j]) }
func (h neighborHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *neighborHeap) Push(x any)        { *h = append(*h, x.(Neighbor)) }
func (h *neighborHeap) Pop() any {
	old := *h
	n := old[len(old)-1]
	*h = old[:len(old)-1]
	return n
}

type topK struct {
	k int
	h neighborHeap
}

func newTopK(k int) *topK {
	return &topK{k: k, h: make(neighborHeap, 0, k)}
}

func (t *topK) offer(id string, d float64) {
	n := Neighbor{ID: id, Distance: d}
	if len(t.h) < t.k {
		heap.Push(&t.h, n)
		return
	}
	if worse(t.h[0], n) {
		t.h[0] = n
		heap.Fix(&t.h, 0)
	}
}

func (t *topK) full() bool { return len(t.h) >= t.k }

// worstID returns the id of the farthest kept neighbor. Only meaningful when full.
func (t *topK) worstID() string { return t.h[0].ID }

func (t *topK) merge(o *topK) {
	for _, n := range o.h {
		t.offer(n.ID, n.Distance)
	}
}

// sorted returns the kept neighbors closest first.
func (t *topK) sorted() []Neighbor {
	out := slices.Clone([]Neighbor(t.h))
	slices.SortFunc(out, func(a, b Neighbor) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}
