package index

import (
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// generation is an immutable snapshot of the index contents. Mutations build
// a new generation and publish it with an atomic pointer swap.
type generation struct {
	id        uuid.UUID
	seq       uint64
	createdAt time.Time
	vectors   map[string][]float32
	ids       []string // sorted ascending
	ivf       *ivfState
	bad       atomic.Bool
}

func emptyGeneration() *generation {
	return &generation{
		id:        uuid.New(),
		createdAt: time.Now().UTC(),
		vectors:   map[string][]float32{},
	}
}

// Info describes a published generation.
type Info struct {
	ID        string
	Seq       uint64
	Len       int
	CreatedAt time.Time
	Trained   bool
	Lists     int
	Corrupt   bool
}

func (g *generation) info() Info {
	inf := Info{
		ID:        g.id.String(),
		Seq:       g.seq,
		Len:       len(g.ids),
		CreatedAt: g.createdAt,
		Corrupt:   g.bad.Load(),
	}
	if g.ivf != nil {
		inf.Trained = true
		inf.Lists = len(g.ivf.lists)
	}
	return inf
}

// next derives a successor generation from prev with puts and deletes applied.
// Stored slices are shared; neither generation ever mutates them.
func (g *generation) next(puts map[string][]float32, deletes map[string]struct{}) *generation {
	vecs := make(map[string][]float32, len(g.vectors)+len(puts))
	for id, v := range g.vectors {
		if _, gone := deletes[id]; gone {
			continue
		}
		vecs[id] = v
	}
	for id, v := range puts {
		vecs[id] = v
	}

	ids := make([]string, 0, len(vecs))
	for id := range vecs {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	n := &generation{
		id:        uuid.New(),
		seq:       g.seq + 1,
		createdAt: time.Now().UTC(),
		vectors:   vecs,
		ids:       ids,
	}
	if g.ivf != nil {
		changed := make(map[string]struct{}, len(puts)+len(deletes))
		for id := range deletes {
			changed[id] = struct{}{}
		}
		for id := range puts {
			changed[id] = struct{}{}
		}
		n.ivf = g.ivf.update(changed, puts)
	}
	return n
}
