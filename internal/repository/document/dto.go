package document

import (
	"time"

	domdoc "github.com/kailas-cloud/kpdex/internal/domain/document"
)

// Hash field names.
const (
	fieldType        = "type"
	fieldAuthor      = "author"
	fieldDomain      = "domain"
	fieldField       = "field"
	fieldSubfield    = "subfield"
	fieldTitle       = "title"
	fieldSubtitle    = "subtitle"
	fieldPublishedAt = "published_at"
)

// buildHashFields converts a domain Document into a flat map[string]string for HSET.
func buildHashFields(doc *domdoc.Document) map[string]string {
	m := map[string]string{
		fieldType:     string(doc.Type()),
		fieldAuthor:   doc.Author(),
		fieldDomain:   doc.Domain(),
		fieldField:    doc.Field(),
		fieldSubfield: doc.Subfield(),
		fieldTitle:    doc.Title(),
		fieldSubtitle: doc.Subtitle(),
	}
	if t := doc.PublishedAt(); !t.IsZero() {
		m[fieldPublishedAt] = t.UTC().Format(time.RFC3339Nano)
	}
	return m
}

// parseHashFields converts a flat hash map back into a domain Document.
// Unparseable timestamps are dropped rather than failing the read.
func parseHashFields(id string, m map[string]string) domdoc.Document {
	a := domdoc.Attributes{
		Type:     domdoc.Type(m[fieldType]),
		Author:   m[fieldAuthor],
		Domain:   m[fieldDomain],
		Field:    m[fieldField],
		Subfield: m[fieldSubfield],
		Title:    m[fieldTitle],
		Subtitle: m[fieldSubtitle],
	}
	if ts := m[fieldPublishedAt]; ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			a.PublishedAt = t
		}
	}
	return domdoc.Reconstruct(id, a)
}
