package predicate

import (
	"errors"
	"testing"

	"github.com/kailas-cloud/kpdex/internal/domain"
	"github.com/kailas-cloud/kpdex/internal/domain/document"
)

func mustClause(t *testing.T, attr document.Attribute, op Op, v string) Clause {
	t.Helper()
	c, err := NewClause(attr, op, v)
	if err != nil {
		t.Fatalf("NewClause(%s, %s, %q): %v", attr, op, v, err)
	}
	return c
}

func TestNewClause_Invalid(t *testing.T) {
	tests := []struct {
		name string
		attr document.Attribute
		op   Op
		v    string
	}{
		{"title not filterable", document.AttrTitle, OpEq, "x"},
		{"unknown op", document.AttrDomain, "regex", "x"},
		{"empty value", document.AttrDomain, OpEq, "   "},
		{"bad type", document.AttrType, OpEq, "pdf"},
		{"author eq names two authors", document.AttrAuthor, OpEq, "jane doe; ann lee"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClause(tt.attr, tt.op, tt.v)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestNewClause_DefaultsToEq(t *testing.T) {
	c := mustClause(t, document.AttrDomain, "", "Health")
	if c.Op() != OpEq {
		t.Errorf("expected eq, got %q", c.Op())
	}
	if c.Value() != "health" {
		t.Errorf("expected normalized value, got %q", c.Value())
	}
}

func TestTypeContainsAllowsPartial(t *testing.T) {
	if _, err := NewClause(document.AttrType, OpContains, "vid"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMatch(t *testing.T) {
	doc := document.Reconstruct("d1", document.Attributes{
		Type:   document.TypeVideo,
		Author: "Jane   DOE",
		Domain: "Health",
		Field:  "Public Health Policy",
	})

	tests := []struct {
		name    string
		clauses []Clause
		want    bool
	}{
		{"empty matches all", nil, true},
		{"eq case-insensitive", []Clause{mustClause(t, document.AttrDomain, OpEq, "health")}, true},
		{"author whitespace normalized", []Clause{mustClause(t, document.AttrAuthor, OpEq, "jane doe")}, true},
		{"contains", []Clause{mustClause(t, document.AttrField, OpContains, "health pol")}, true},
		{"eq is not substring", []Clause{mustClause(t, document.AttrField, OpEq, "health")}, false},
		{"conjunction all", []Clause{
			mustClause(t, document.AttrType, OpEq, "video"),
			mustClause(t, document.AttrDomain, OpEq, "health"),
		}, true},
		{"conjunction one fails", []Clause{
			mustClause(t, document.AttrType, OpEq, "audio"),
			mustClause(t, document.AttrDomain, OpEq, "health"),
		}, false},
		{"missing attribute", []Clause{mustClause(t, document.AttrSubfield, OpEq, "x")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.clauses...)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if got := p.Match(&doc); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatch_AuthorList(t *testing.T) {
	doc := document.Reconstruct("d1", document.Attributes{
		Type:   document.TypeText,
		Author: "Jane Doe;  Ann  LEE",
	})

	tests := []struct {
		name   string
		clause Clause
		want   bool
	}{
		{"eq first author", mustClause(t, document.AttrAuthor, OpEq, "jane doe"), true},
		{"eq second author", mustClause(t, document.AttrAuthor, OpEq, "ann lee"), true},
		{"eq is per name", mustClause(t, document.AttrAuthor, OpEq, "ann"), false},
		{"contains spans names", mustClause(t, document.AttrAuthor, OpContains, "doe; ann"), true},
		{"contains within name", mustClause(t, document.AttrAuthor, OpContains, "lee"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.clause)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if got := p.Match(&doc); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNew_TooMany(t *testing.T) {
	cs := make([]Clause, MaxClauses+1)
	for i := range cs {
		cs[i] = mustClause(t, document.AttrDomain, OpEq, "x")
	}
	if _, err := New(cs...); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestNew_ZeroClause(t *testing.T) {
	if _, err := New(Clause{}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestParse(t *testing.T) {
	p, err := Parse([]Spec{{Attribute: " Domain ", Op: "EQ", Value: "health"}})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(p.Clauses()) != 1 || p.Clauses()[0].Attribute() != document.AttrDomain {
		t.Errorf("unexpected clauses %+v", p.Clauses())
	}
	if _, err := Parse([]Spec{{Attribute: "color", Value: "red"}}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}
