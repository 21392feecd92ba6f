// Package document models the structured attributes of a knowledge product.
// Embedding vectors live in the index, never here.
package document

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

// MaxIDLength is the maximum document identifier length.
const MaxIDLength = 256

// AuthorSeparator delimits names in a multi-author attribute.
const AuthorSeparator = ";"

// Type is the media type of a knowledge product.
type Type string

// Supported knowledge product types.
const (
	TypeText  Type = "text"
	TypeVideo Type = "video"
	TypeAudio Type = "audio"
)

// IsValid reports whether t is one of the supported types.
func (t Type) IsValid() bool {
	return t == TypeText || t == TypeVideo || t == TypeAudio
}

// Attribute names a filterable or displayable document attribute.
type Attribute string

// Document attributes.
const (
	AttrType     Attribute = "type"
	AttrAuthor   Attribute = "author"
	AttrDomain   Attribute = "domain"
	AttrField    Attribute = "field"
	AttrSubfield Attribute = "subfield"
	AttrTitle    Attribute = "title"
	AttrSubtitle Attribute = "subtitle"
)

// Filterable lists the attributes a predicate may reference, in canonical order.
var Filterable = []Attribute{AttrType, AttrAuthor, AttrDomain, AttrField, AttrSubfield}

// IsFilterable reports whether a predicate may reference a.
func (a Attribute) IsFilterable() bool {
	for _, f := range Filterable {
		if f == a {
			return true
		}
	}
	return false
}

// Document is a knowledge product's metadata (immutable value object).
type Document struct {
	id          string
	docType     Type
	author      string
	domain      string
	field       string
	subfield    string
	title       string
	subtitle    string
	publishedAt time.Time
}

// Attributes is the mutable input used to build a Document.
type Attributes struct {
	Type        Type
	Author      string
	Domain      string
	Field       string
	Subfield    string
	Title       string
	Subtitle    string
	PublishedAt time.Time
}

// ValidateID checks an identifier without building a document.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("document ID is required")
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("document ID too long (max %d)", MaxIDLength)
	}
	if !idRegex.MatchString(id) {
		return fmt.Errorf("document ID %q must be alphanumeric with '_', '-', '.', ':'", id)
	}
	return nil
}

// New validates and creates a Document.
func New(id string, a Attributes) (Document, error) {
	if err := ValidateID(id); err != nil {
		return Document{}, err
	}
	if !a.Type.IsValid() {
		return Document{}, fmt.Errorf("document type %q must be text, video or audio", a.Type)
	}
	if strings.TrimSpace(a.Title) == "" {
		return Document{}, fmt.Errorf("title is required")
	}
	return Reconstruct(id, a), nil
}

// Reconstruct creates a Document without validation (storage hydration).
func Reconstruct(id string, a Attributes) Document {
	return Document{
		id:          id,
		docType:     a.Type,
		author:      a.Author,
		domain:      a.Domain,
		field:       a.Field,
		subfield:    a.Subfield,
		title:       a.Title,
		subtitle:    a.Subtitle,
		publishedAt: a.PublishedAt,
	}
}

// ID returns the document identifier.
func (d *Document) ID() string { return d.id }

// Type returns the media type.
func (d *Document) Type() Type { return d.docType }

// Author returns the author string as ingested.
func (d *Document) Author() string { return d.author }

// Authors returns the normalized author names.
func (d *Document) Authors() []string { return SplitAuthors(d.author) }

// Domain returns the domain attribute.
func (d *Document) Domain() string { return d.domain }

// Field returns the field attribute.
func (d *Document) Field() string { return d.field }

// Subfield returns the subfield attribute.
func (d *Document) Subfield() string { return d.subfield }

// Title returns the title.
func (d *Document) Title() string { return d.title }

// Subtitle returns the subtitle.
func (d *Document) Subtitle() string { return d.subtitle }

// PublishedAt returns the publication time (zero when unknown).
func (d *Document) PublishedAt() time.Time { return d.publishedAt }

// Attributes returns a copy of the document attributes.
func (d *Document) Attributes() Attributes {
	return Attributes{
		Type: d.docType, Author: d.author, Domain: d.domain, Field: d.field,
		Subfield: d.subfield, Title: d.title, Subtitle: d.subtitle, PublishedAt: d.publishedAt,
	}
}

// Get returns the value of a named attribute.
func (d *Document) Get(a Attribute) string {
	switch a {
	case AttrType:
		return string(d.docType)
	case AttrAuthor:
		return d.author
	case AttrDomain:
		return d.domain
	case AttrField:
		return d.field
	case AttrSubfield:
		return d.subfield
	case AttrTitle:
		return d.title
	case AttrSubtitle:
		return d.subtitle
	default:
		return ""
	}
}

// EmbeddingText is the text handed to the embedding provider at ingestion.
func (d *Document) EmbeddingText() string {
	parts := []string{d.title, d.subtitle, d.author, d.domain, d.field, d.subfield}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}

// NormalizeText lower-cases and collapses whitespace. Author names are matched
// in this form so "Jane  DOE" and "jane doe" compare equal.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// SplitAuthors splits s on AuthorSeparator into normalized, non-empty names.
func SplitAuthors(s string) []string {
	var out []string
	for _, name := range strings.Split(s, AuthorSeparator) {
		if name = NormalizeText(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// NormalizeAuthors returns the normalized names of s joined by "; ".
func NormalizeAuthors(s string) string {
	return strings.Join(SplitAuthors(s), AuthorSeparator+" ")
}

// JoinAuthors builds an author attribute from a list of names.
func JoinAuthors(names ...string) string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return strings.Join(out, AuthorSeparator+" ")
}
