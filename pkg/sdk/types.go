package kpdex

import (
	"time"

	domdoc "github.com/kailas-cloud/kpdex/internal/domain/document"
	"github.com/kailas-cloud/kpdex/internal/domain/search/result"
	classifyuc "github.com/kailas-cloud/kpdex/internal/usecase/classify"
	recommenduc "github.com/kailas-cloud/kpdex/internal/usecase/recommend"
)

// DocumentType is the media type of a knowledge product.
type DocumentType string

// Document type constants.
const (
	TypeText  DocumentType = "text"
	TypeVideo DocumentType = "video"
	TypeAudio DocumentType = "audio"
)

// Document is a knowledge product's metadata. An empty Type means text.
type Document struct {
	ID          string
	Type        DocumentType
	Author      string
	Domain      string
	Field       string
	Subfield    string
	Title       string
	Subtitle    string
	PublishedAt time.Time
}

// Hit is one ranked document. Score is nil when no search text was given.
type Hit struct {
	ID       string
	Score    *float64
	Document Document
}

// Page is one page of ranked hits. See the HTTP API for Exhaustive and
// LastPage semantics; they are identical here.
type Page struct {
	Hits       []Hit
	Offset     int
	Limit      int
	Total      int
	LastPage   bool
	Exhaustive bool
}

// HistoryItem is one consumed document, most recent first. Weight 0 means 1.
type HistoryItem struct {
	ID     string
	Weight float64
}

// Recommendation is a suggested document with its similarity score.
type Recommendation struct {
	ID       string
	Score    float64
	Document Document
}

// Label is a category with a confidence in [0,1].
type Label struct {
	Category   string
	Confidence float64
}

// Classification is the outcome of classifying one document or text.
// No labels means uncategorized.
type Classification struct {
	Labels     []Label
	SetVersion string
}

// Uncategorized reports whether no category reached the threshold.
func (c Classification) Uncategorized() bool { return len(c.Labels) == 0 }

// ItemResult is the outcome of one document in a batch operation.
type ItemResult struct {
	ID  string
	Err error
}

// OK reports whether the item succeeded.
func (r ItemResult) OK() bool { return r.Err == nil }

func (d Document) toDomain() (domdoc.Document, error) {
	t := domdoc.Type(d.Type)
	if t == "" {
		t = domdoc.TypeText
	}
	return domdoc.New(d.ID, domdoc.Attributes{
		Type:        t,
		Author:      d.Author,
		Domain:      d.Domain,
		Field:       d.Field,
		Subfield:    d.Subfield,
		Title:       d.Title,
		Subtitle:    d.Subtitle,
		PublishedAt: d.PublishedAt.UTC(),
	})
}

func documentFromDomain(d *domdoc.Document) Document {
	if d == nil {
		return Document{}
	}
	return Document{
		ID:          d.ID(),
		Type:        DocumentType(d.Type()),
		Author:      d.Author(),
		Domain:      d.Domain(),
		Field:       d.Field(),
		Subfield:    d.Subfield(),
		Title:       d.Title(),
		Subtitle:    d.Subtitle(),
		PublishedAt: d.PublishedAt(),
	}
}

func pageFromDomain(p result.Page, scored bool) Page {
	out := Page{
		Hits:       make([]Hit, 0, len(p.Hits)),
		Offset:     p.Offset,
		Limit:      p.Limit,
		Total:      p.Total,
		LastPage:   p.LastPage,
		Exhaustive: p.Exhaustive,
	}
	for i := range p.Hits {
		h := &p.Hits[i]
		hit := Hit{ID: h.ID(), Document: documentFromDomain(h.Document())}
		if scored {
			s := h.Score()
			hit.Score = &s
		}
		out.Hits = append(out.Hits, hit)
	}
	return out
}

func classificationFromDomain(r classifyuc.Result) Classification {
	out := Classification{SetVersion: r.SetVersion, Labels: make([]Label, len(r.Labels))}
	for i, l := range r.Labels {
		out.Labels[i] = Label{Category: l.Category, Confidence: l.Confidence}
	}
	return out
}

func recommendationsFromDomain(recs []recommenduc.Recommendation) []Recommendation {
	out := make([]Recommendation, len(recs))
	for i, r := range recs {
		out[i] = Recommendation{ID: r.ID, Score: r.Score, Document: documentFromDomain(&r.Document)}
	}
	return out
}
