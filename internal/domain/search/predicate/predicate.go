// Package predicate holds structured attribute filters: a conjunction of
// equality or substring clauses, validated up front.
package predicate

import (
	"slices"
	"strings"

	"github.com/kailas-cloud/kpdex/internal/domain"
	"github.com/kailas-cloud/kpdex/internal/domain/document"
)

// MaxClauses bounds the number of clauses in one predicate.
const MaxClauses = 32

// Op is a clause comparison operator.
type Op string

// Supported operators. Comparison is case-insensitive with collapsed whitespace.
const (
	OpEq       Op = "eq"
	OpContains Op = "contains"
)

// IsValid reports whether op is supported.
func (o Op) IsValid() bool { return o == OpEq || o == OpContains }

// Clause is one attribute condition.
type Clause struct {
	attr  document.Attribute
	op    Op
	value string
}

// NewClause validates and creates a Clause. An empty op means eq.
func NewClause(attr document.Attribute, op Op, value string) (Clause, error) {
	if !attr.IsFilterable() {
		return Clause{}, domain.Invalidf("attribute %q is not filterable", attr)
	}
	if op == "" {
		op = OpEq
	}
	if !op.IsValid() {
		return Clause{}, domain.Invalidf("operator %q must be eq or contains", op)
	}
	norm := document.NormalizeText(value)
	if norm == "" {
		return Clause{}, domain.Invalidf("value is required for attribute %q", attr)
	}
	if attr == document.AttrAuthor && op == OpEq && strings.Contains(norm, document.AuthorSeparator) {
		return Clause{}, domain.Invalidf("author %q must name a single author", value)
	}
	if attr == document.AttrType && op == OpEq && !document.Type(norm).IsValid() {
		return Clause{}, domain.Invalidf("type %q must be text, video or audio", value)
	}
	return Clause{attr: attr, op: op, value: norm}, nil
}

// Attribute returns the attribute the clause tests.
func (c Clause) Attribute() document.Attribute { return c.attr }

// Op returns the operator.
func (c Clause) Op() Op { return c.op }

// Value returns the normalized comparison value.
func (c Clause) Value() string { return c.value }

// Matches reports whether a raw attribute value satisfies the clause.
// Author eq holds when any listed author equals the value; author contains
// tests the normalized list as a whole.
func (c Clause) Matches(raw string) bool {
	if c.attr == document.AttrAuthor {
		if c.op == OpEq {
			return slices.Contains(document.SplitAuthors(raw), c.value)
		}
		return strings.Contains(document.NormalizeAuthors(raw), c.value)
	}
	v := document.NormalizeText(raw)
	if c.op == OpContains {
		return strings.Contains(v, c.value)
	}
	return v == c.value
}

// Predicate is a conjunction of clauses. The zero value matches everything.
type Predicate struct {
	clauses []Clause
}

// New validates and creates a Predicate.
func New(clauses ...Clause) (Predicate, error) {
	if len(clauses) > MaxClauses {
		return Predicate{}, domain.Invalidf("too many predicate clauses (max %d)", MaxClauses)
	}
	for _, c := range clauses {
		if c.attr == "" {
			return Predicate{}, domain.Invalidf("predicate clause is not initialized")
		}
	}
	return Predicate{clauses: append([]Clause(nil), clauses...)}, nil
}

// Spec is the loosely-typed clause form received from callers.
type Spec struct {
	Attribute string
	Op        string
	Value     string
}

// Parse builds a Predicate from caller-supplied clause specs.
func Parse(specs []Spec) (Predicate, error) {
	clauses := make([]Clause, 0, len(specs))
	for _, s := range specs {
		c, err := NewClause(document.Attribute(strings.ToLower(strings.TrimSpace(s.Attribute))), Op(strings.ToLower(s.Op)), s.Value)
		if err != nil {
			return Predicate{}, err
		}
		clauses = append(clauses, c)
	}
	return New(clauses...)
}

// Clauses returns the clauses.
func (p Predicate) Clauses() []Clause { return p.clauses }

// IsEmpty reports whether the predicate matches everything.
func (p Predicate) IsEmpty() bool { return len(p.clauses) == 0 }

// Match reports whether d satisfies every clause.
func (p Predicate) Match(d *document.Document) bool {
	for _, c := range p.clauses {
		if !c.Matches(d.Get(c.attr)) {
			return false
		}
	}
	return true
}
