// Package request holds the validated hybrid query: predicate, optional
// free-text search term and pagination.
package request

import (
	"strings"

	"github.com/kailas-cloud/kpdex/internal/domain"
	"github.com/kailas-cloud/kpdex/internal/domain/search/predicate"
)

// Query parameter limits.
const (
	// MaxQueryLength is the maximum allowed search term length.
	MaxQueryLength = 4096
	DefaultLimit   = 20
	MaxLimit       = 100
	MaxOffset      = 10_000
)

// Limits overrides the page size defaults.
type Limits struct {
	Default int
	Max     int
}

// DefaultLimits are the package page size defaults.
var DefaultLimits = Limits{Default: DefaultLimit, Max: MaxLimit}

// Request is a validated hybrid query.
type Request struct {
	pred   predicate.Predicate
	term   string
	offset int
	limit  int
}

// New validates a request using DefaultLimits.
func New(pred predicate.Predicate, term string, offset, limit int) (Request, error) {
	return NewWithLimits(pred, term, offset, limit, DefaultLimits)
}

// NewWithLimits validates a request. A non-positive limit falls back to the
// default, a limit over the max is clamped. The search term is trimmed; an
// empty term means predicate-only ranking.
func NewWithLimits(pred predicate.Predicate, term string, offset, limit int, l Limits) (Request, error) {
	if l.Default <= 0 {
		l.Default = DefaultLimit
	}
	if l.Max <= 0 {
		l.Max = MaxLimit
	}
	term = strings.TrimSpace(term)
	if len(term) > MaxQueryLength {
		return Request{}, domain.Invalidf("search term too long (max %d chars)", MaxQueryLength)
	}
	if offset < 0 {
		return Request{}, domain.Invalidf("offset must be non-negative")
	}
	if offset > MaxOffset {
		return Request{}, domain.Invalidf("offset too large (max %d)", MaxOffset)
	}
	if limit <= 0 {
		limit = l.Default
	}
	if limit > l.Max {
		limit = l.Max
	}
	return Request{pred: pred, term: term, offset: offset, limit: limit}, nil
}

// Predicate returns the structured filter.
func (r *Request) Predicate() predicate.Predicate { return r.pred }

// Term returns the trimmed search term (empty when absent).
func (r *Request) Term() string { return r.term }

// HasTerm reports whether similarity ranking was requested.
func (r *Request) HasTerm() bool { return r.term != "" }

// Offset returns the number of ranked results to skip.
func (r *Request) Offset() int { return r.offset }

// Limit returns the page size.
func (r *Request) Limit() int { return r.limit }

// Window is offset+limit, the number of ranked results needed to fill the page.
func (r *Request) Window() int { return r.offset + r.limit }
