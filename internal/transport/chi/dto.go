package chi

import (
	"time"

	domdoc "github.com/kailas-cloud/kpdex/internal/domain/document"
	"github.com/kailas-cloud/kpdex/internal/domain/search/result"
	classifyuc "github.com/kailas-cloud/kpdex/internal/usecase/classify"
	healthuc "github.com/kailas-cloud/kpdex/internal/usecase/health"
	recommenduc "github.com/kailas-cloud/kpdex/internal/usecase/recommend"
)

// ErrorCode is a stable machine-readable error identifier.
type ErrorCode string

// Error codes returned by the API.
const (
	CodeBadRequest           ErrorCode = "bad_request"
	CodeUnauthorized         ErrorCode = "unauthorized"
	CodeValidationFailed     ErrorCode = "validation_failed"
	CodeDimensionMismatch    ErrorCode = "dimension_mismatch"
	CodeNotFound             ErrorCode = "not_found"
	CodeTimeout              ErrorCode = "timeout"
	CodeEmbeddingUnavailable ErrorCode = "embedding_unavailable"
	CodeIndexCorrupt         ErrorCode = "index_corrupt"
	CodeInternalError        ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// FilterClause is one predicate clause.
type FilterClause struct {
	Attribute string `json:"attribute"`
	Op        string `json:"op"`
	Value     string `json:"value"`
}

// SearchRequest is the body of POST /v1/search.
type SearchRequest struct {
	Filters []FilterClause `json:"filters"`
	Query   string         `json:"query"`
	Offset  int            `json:"offset"`
	Limit   int            `json:"limit"`
}

// Document is the JSON form of a knowledge product.
type Document struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Author      string     `json:"author,omitempty"`
	Domain      string     `json:"domain,omitempty"`
	Field       string     `json:"field,omitempty"`
	Subfield    string     `json:"subfield,omitempty"`
	Title       string     `json:"title"`
	Subtitle    string     `json:"subtitle,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// SearchHit is one ranked search result.
type SearchHit struct {
	ID       string    `json:"id"`
	Score    *float64  `json:"score,omitempty"`
	Document *Document `json:"document,omitempty"`
}

// SearchResponse is one page of search results.
type SearchResponse struct {
	Items      []SearchHit `json:"items"`
	Offset     int         `json:"offset"`
	Limit      int         `json:"limit"`
	Total      int         `json:"total"`
	LastPage   bool        `json:"last_page"`
	Exhaustive bool        `json:"exhaustive"`
}

// HistoryItem is one interaction; weight 0 means 1.
type HistoryItem struct {
	ID     string  `json:"id"`
	Weight float64 `json:"weight,omitempty"`
}

// RecommendRequest is the body of POST /v1/recommend. History is ordered most
// recent first.
type RecommendRequest struct {
	History []HistoryItem `json:"history"`
	Exclude []string      `json:"exclude"`
	Limit   int           `json:"limit"`
}

// Recommendation is one recommended document.
type Recommendation struct {
	ID       string    `json:"id"`
	Score    float64   `json:"score"`
	Document *Document `json:"document,omitempty"`
}

// RecommendResponse lists recommendations, best first.
type RecommendResponse struct {
	Items []Recommendation `json:"items"`
}

// ClassifyRequest is the body of POST /v1/classify. Exactly one of Vector
// and Text is set.
type ClassifyRequest struct {
	Vector []float32 `json:"vector,omitempty"`
	Text   string    `json:"text,omitempty"`
}

// Label is one category with its confidence.
type Label struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// ClassifyResponse lists labels, most confident first. An empty list means
// uncategorized.
type ClassifyResponse struct {
	ID            string  `json:"id,omitempty"`
	Labels        []Label `json:"labels"`
	Uncategorized bool    `json:"uncategorized"`
	SetVersion    string  `json:"set_version,omitempty"`
}

// IndexStatus describes the live index generation.
type IndexStatus struct {
	Generation string    `json:"generation"`
	Seq        uint64    `json:"seq"`
	Vectors    int       `json:"vectors"`
	Trained    bool      `json:"trained"`
	CreatedAt  time.Time `json:"created_at"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Index  *IndexStatus      `json:"index,omitempty"`
}

func documentToDTO(d *domdoc.Document) *Document {
	if d == nil {
		return nil
	}
	out := &Document{
		ID:       d.ID(),
		Type:     string(d.Type()),
		Author:   d.Author(),
		Domain:   d.Domain(),
		Field:    d.Field(),
		Subfield: d.Subfield(),
		Title:    d.Title(),
		Subtitle: d.Subtitle(),
	}
	if at := d.PublishedAt(); !at.IsZero() {
		out.PublishedAt = &at
	}
	return out
}

func pageToDTO(p result.Page, scored bool) SearchResponse {
	items := make([]SearchHit, len(p.Hits))
	for i := range p.Hits {
		h := &p.Hits[i]
		items[i] = SearchHit{ID: h.ID(), Document: documentToDTO(h.Document())}
		if scored {
			score := h.Score()
			items[i].Score = &score
		}
	}
	return SearchResponse{
		Items:      items,
		Offset:     p.Offset,
		Limit:      p.Limit,
		Total:      p.Total,
		LastPage:   p.LastPage,
		Exhaustive: p.Exhaustive,
	}
}

func recommendationsToDTO(recs []recommenduc.Recommendation) RecommendResponse {
	items := make([]Recommendation, len(recs))
	for i := range recs {
		items[i] = Recommendation{ID: recs[i].ID, Score: recs[i].Score, Document: documentToDTO(&recs[i].Document)}
	}
	return RecommendResponse{Items: items}
}

func classifyToDTO(id string, res classifyuc.Result) ClassifyResponse {
	labels := make([]Label, len(res.Labels))
	for i, l := range res.Labels {
		labels[i] = Label{Category: l.Category, Confidence: l.Confidence}
	}
	return ClassifyResponse{
		ID:            id,
		Labels:        labels,
		Uncategorized: res.Uncategorized(),
		SetVersion:    res.SetVersion,
	}
}

func healthToDTO(r healthuc.Report) HealthResponse {
	checks := make(map[string]string, len(r.Checks))
	for k, v := range r.Checks {
		checks[k] = string(v)
	}
	out := HealthResponse{Status: string(r.Status), Checks: checks}
	if r.Index != nil {
		out.Index = &IndexStatus{
			Generation: r.Index.Generation,
			Seq:        r.Index.Seq,
			Vectors:    r.Index.Vectors,
			Trained:    r.Index.Trained,
			CreatedAt:  r.Index.CreatedAt,
		}
	}
	return out
}
