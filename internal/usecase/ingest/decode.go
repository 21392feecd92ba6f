package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kailas-cloud/kpdex/internal/domain"
	domdoc "github.com/kailas-cloud/kpdex/internal/domain/document"
)

const maxLineBytes = 1 << 20

// Record is the JSON form of a knowledge product.
type Record struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Author      string     `json:"author,omitempty"`
	Authors     []string   `json:"authors,omitempty"`
	Domain      string     `json:"domain,omitempty"`
	Field       string     `json:"field,omitempty"`
	Subfield    string     `json:"subfield,omitempty"`
	Title       string     `json:"title"`
	Subtitle    string     `json:"subtitle,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Document validates the record.
func (r Record) Document() (domdoc.Document, error) {
	a := domdoc.Attributes{
		Type:     domdoc.Type(strings.ToLower(strings.TrimSpace(r.Type))),
		Author:   domdoc.JoinAuthors(append([]string{r.Author}, r.Authors...)...),
		Domain:   r.Domain,
		Field:    r.Field,
		Subfield: r.Subfield,
		Title:    r.Title,
		Subtitle: r.Subtitle,
	}
	if a.Type == "" {
		a.Type = domdoc.TypeText
	}
	if r.PublishedAt != nil {
		a.PublishedAt = r.PublishedAt.UTC()
	}
	doc, err := domdoc.New(r.ID, a)
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	return doc, nil
}

// DecodeJSONL reads one record per line. Blank lines are skipped; the first
// malformed or invalid record stops decoding.
func DecodeJSONL(r io.Reader) ([]domdoc.Document, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	var docs []domdoc.Document
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", domain.ErrInvalidInput, line, err)
		}
		doc, err := rec.Document()
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		docs = append(docs, doc)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read documents: %w", err)
	}
	return docs, nil
}
