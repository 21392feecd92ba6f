// Package category holds classification labels and their centroids. A Set is
// immutable once built; updates replace the whole set.
package category

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/kailas-cloud/kpdex/internal/domain"
	"github.com/kailas-cloud/kpdex/internal/domain/vector"
)

// MaxLabelLength bounds a category label.
const MaxLabelLength = 128

// Category is a label with a unit-length representative vector.
type Category struct {
	label    string
	centroid []float32
	members  int
}

// New validates a category and normalizes its centroid.
func New(label string, centroid []float32, members int) (Category, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return Category{}, domain.Invalidf("category label is required")
	}
	if len(label) > MaxLabelLength {
		return Category{}, domain.Invalidf("category label too long (max %d)", MaxLabelLength)
	}
	if err := vector.Validate(centroid, len(centroid)); err != nil {
		return Category{}, fmt.Errorf("category %q: %w", label, err)
	}
	norm, ok := vector.Normalized(centroid)
	if !ok {
		return Category{}, domain.Invalidf("category %q has a zero centroid", label)
	}
	return Category{label: label, centroid: norm, members: members}, nil
}

// Label returns the category label.
func (c *Category) Label() string { return c.label }

// Centroid returns the unit-length centroid. Callers must not modify it.
func (c *Category) Centroid() []float32 { return c.centroid }

// Members returns how many documents the centroid was trained from (0 if supplied directly).
func (c *Category) Members() int { return c.members }

// Set is a versioned, immutable collection of categories sorted by label.
type Set struct {
	version   string
	dim       int
	createdAt time.Time
	cats      []Category
}

// NewSet validates that labels are unique and dimensions agree.
func NewSet(version string, cats []Category) (*Set, error) {
	if version == "" {
		return nil, domain.Invalidf("category set version is required")
	}
	sorted := slices.Clone(cats)
	slices.SortFunc(sorted, func(a, b Category) int { return strings.Compare(a.label, b.label) })
	dim := 0
	for i, c := range sorted {
		if c.label == "" {
			return nil, domain.Invalidf("category %d is not initialized", i)
		}
		if i > 0 && sorted[i-1].label == c.label {
			return nil, domain.Invalidf("duplicate category label %q", c.label)
		}
		if dim == 0 {
			dim = len(c.centroid)
		} else if len(c.centroid) != dim {
			return nil, fmt.Errorf("category %q: %w: expected %d, got %d",
				c.label, domain.ErrDimensionMismatch, dim, len(c.centroid))
		}
	}
	return &Set{version: version, dim: dim, createdAt: time.Now().UTC(), cats: sorted}, nil
}

// Version identifies this set.
func (s *Set) Version() string { return s.version }

// Dimensions returns the centroid dimension (0 for an empty set).
func (s *Set) Dimensions() int { return s.dim }

// CreatedAt returns when the set was built.
func (s *Set) CreatedAt() time.Time { return s.createdAt }

// Len returns the number of categories.
func (s *Set) Len() int { return len(s.cats) }

// Categories returns the categories sorted by label. Callers must not modify it.
func (s *Set) Categories() []Category { return s.cats }

// Labels returns the sorted labels.
func (s *Set) Labels() []string {
	out := make([]string, len(s.cats))
	for i := range s.cats {
		out[i] = s.cats[i].label
	}
	return out
}

type categoryJSON struct {
	Label    string    `json:"label"`
	Centroid []float32 `json:"centroid"`
	Members  int       `json:"members,omitempty"`
}

type setJSON struct {
	Version    string         `json:"version"`
	Dimensions int            `json:"dimensions"`
	CreatedAt  time.Time      `json:"created_at"`
	Categories []categoryJSON `json:"categories"`
}

// MarshalJSON encodes the set for persistence.
func (s *Set) MarshalJSON() ([]byte, error) {
	out := setJSON{Version: s.version, Dimensions: s.dim, CreatedAt: s.createdAt}
	out.Categories = make([]categoryJSON, len(s.cats))
	for i, c := range s.cats {
		out.Categories[i] = categoryJSON{Label: c.label, Centroid: c.centroid, Members: c.members}
	}
	return json.Marshal(out)
}

// Decode validates and rebuilds a persisted set.
func Decode(data []byte) (*Set, error) {
	var in setJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%w: decode category set: %w", domain.ErrIndexCorruption, err)
	}
	cats := make([]Category, 0, len(in.Categories))
	for _, c := range in.Categories {
		cat, err := New(c.Label, c.Centroid, c.Members)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrIndexCorruption, err)
		}
		cats = append(cats, cat)
	}
	s, err := NewSet(in.Version, cats)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrIndexCorruption, err)
	}
	if in.Dimensions != 0 && s.dim != 0 && in.Dimensions != s.dim {
		return nil, fmt.Errorf("%w: category set declares %d dimensions, centroids have %d",
			domain.ErrIndexCorruption, in.Dimensions, s.dim)
	}
	if !in.CreatedAt.IsZero() {
		s.createdAt = in.CreatedAt
	}
	return s, nil
}
