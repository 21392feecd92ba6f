package kpdex

import (
	"context"
	"time"

	"github.com/kailas-cloud/kpdex/internal/domain/search/predicate"
	"github.com/kailas-cloud/kpdex/internal/domain/search/request"
)

// SearchBuilder is a fluent builder for filtered semantic queries. Filters
// are conjunctive; every hit satisfies all of them.
type SearchBuilder struct {
	svc searchUseCase
	obs *observer

	filters []predicate.Spec
	text    string
	offset  int
	limit   int
}

// Where adds an equality filter on attribute (type, author, domain, field, subfield).
// Comparison ignores case and repeated whitespace.
func (b *SearchBuilder) Where(attribute, value string) *SearchBuilder {
	b.filters = append(b.filters, predicate.Spec{Attribute: attribute, Op: string(predicate.OpEq), Value: value})
	return b
}

// Contains adds a substring filter on attribute.
func (b *SearchBuilder) Contains(attribute, value string) *SearchBuilder {
	b.filters = append(b.filters, predicate.Spec{Attribute: attribute, Op: string(predicate.OpContains), Value: value})
	return b
}

// Text sets the free-text search term. Without it, matches are ranked by
// the secondary order and hits carry no score.
func (b *SearchBuilder) Text(q string) *SearchBuilder {
	b.text = q
	return b
}

// Offset skips the first n ranked hits.
func (b *SearchBuilder) Offset(n int) *SearchBuilder {
	b.offset = n
	return b
}

// Limit sets the page size. 0 uses the default.
func (b *SearchBuilder) Limit(n int) *SearchBuilder {
	b.limit = n
	return b
}

// Do executes the query and returns one page.
func (b *SearchBuilder) Do(ctx context.Context) (page Page, err error) {
	start := time.Now()
	defer func() { b.obs.observe("search", start, err) }()

	pred, err := predicate.Parse(b.filters)
	if err != nil {
		return Page{}, err
	}
	req, err := request.New(pred, b.text, b.offset, b.limit)
	if err != nil {
		return Page{}, err
	}
	p, err := b.svc.Query(ctx, req)
	if err != nil {
		return Page{}, err
	}
	return pageFromDomain(p, req.HasTerm()), nil
}
