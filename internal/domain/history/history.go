// Package history models a user's interaction history as handed to the
// recommender. The core never persists it.
package history

import (
	"math"
	"strings"

	"github.com/kailas-cloud/kpdex/internal/domain"
)

// MaxItems bounds the history accepted per request.
const MaxItems = 1000

// DefaultDecay is the per-position recency decay.
const DefaultDecay = 0.85

// Item is one interaction. Weight 0 means 1.
type Item struct {
	ID     string
	Weight float64
}

// History is an ordered interaction list, most recent first.
type History struct {
	items []Item
}

// New validates items. Order is significant: index 0 is the most recent.
func New(items []Item) (History, error) {
	if len(items) > MaxItems {
		return History{}, domain.Invalidf("history too long (max %d items)", MaxItems)
	}
	out := make([]Item, 0, len(items))
	for i, it := range items {
		id := strings.TrimSpace(it.ID)
		if id == "" {
			return History{}, domain.Invalidf("history item %d has an empty id", i)
		}
		if it.Weight < 0 || math.IsNaN(it.Weight) || math.IsInf(it.Weight, 0) {
			return History{}, domain.Invalidf("history item %q has an invalid weight", id)
		}
		w := it.Weight
		if w == 0 {
			w = 1
		}
		out = append(out, Item{ID: id, Weight: w})
	}
	return History{items: out}, nil
}

// FromIDs builds a unit-weight history from ids, most recent first.
func FromIDs(ids []string) (History, error) {
	items := make([]Item, len(ids))
	for i, id := range ids {
		items[i] = Item{ID: id}
	}
	return New(items)
}

// Len returns the number of interactions.
func (h History) Len() int { return len(h.items) }

// IsEmpty reports whether there are no interactions.
func (h History) IsEmpty() bool { return len(h.items) == 0 }

// Items returns the interactions.
func (h History) Items() []Item { return h.items }

// IDs returns the distinct ids in first-seen order.
func (h History) IDs() []string {
	seen := make(map[string]struct{}, len(h.items))
	out := make([]string, 0, len(h.items))
	for _, it := range h.items {
		if _, ok := seen[it.ID]; ok {
			continue
		}
		seen[it.ID] = struct{}{}
		out = append(out, it.ID)
	}
	return out
}

// Weighted is an id with its aggregated recency weight.
type Weighted struct {
	ID     string
	Weight float64
}

// RecencyWeights computes decay^position * item weight for each interaction.
// Repeated ids accumulate. Order follows first occurrence.
func (h History) RecencyWeights(decay float64) []Weighted {
	if decay <= 0 || decay > 1 {
		decay = DefaultDecay
	}
	idx := make(map[string]int, len(h.items))
	out := make([]Weighted, 0, len(h.items))
	factor := 1.0
	for _, it := range h.items {
		w := factor * it.Weight
		factor *= decay
		if i, ok := idx[it.ID]; ok {
			out[i].Weight += w
			continue
		}
		idx[it.ID] = len(out)
		out = append(out, Weighted{ID: it.ID, Weight: w})
	}
	return out
}
