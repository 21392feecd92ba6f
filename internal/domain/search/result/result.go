// Package result holds ranked query output.
package result

import "github.com/kailas-cloud/kpdex/internal/domain/document"

// Hit is a single ranked document. Score semantics depend on the producer:
// similarity for search and recommendation, confidence for classification.
type Hit struct {
	id    string
	score float64
	doc   *document.Document
}

// NewHit creates a ranked hit. doc may be nil when metadata is not joined.
func NewHit(id string, score float64, doc *document.Document) Hit {
	return Hit{id: id, score: score, doc: doc}
}

// ID returns the document identifier.
func (h *Hit) ID() string { return h.id }

// Score returns the producer-specific score.
func (h *Hit) Score() float64 { return h.score }

// Document returns the joined metadata, nil if not joined.
func (h *Hit) Document() *document.Document { return h.doc }

// Page is one page of ranked hits.
//
// Total is the number of documents matching the query. Exhaustive is false
// when ranking stopped at a search ceiling before the page could be filled;
// a short page then does not mean "no more results". LastPage is true only
// when the page is exhaustive and nothing matches beyond it.
type Page struct {
	Hits       []Hit
	Offset     int
	Limit      int
	Total      int
	LastPage   bool
	Exhaustive bool
}

// Slice pages a ranked hit list. total counts every matching document,
// ranked or not, and is raised to len(ranked) if smaller.
func Slice(ranked []Hit, offset, limit, total int) Page {
	total = max(total, len(ranked))
	p := Page{Offset: offset, Limit: limit, Total: total}
	if offset < len(ranked) {
		end := min(offset+limit, len(ranked))
		p.Hits = ranked[offset:end]
	}
	p.Exhaustive = len(ranked) >= min(total, offset+limit)
	p.LastPage = p.Exhaustive && offset+limit >= total
	return p
}
