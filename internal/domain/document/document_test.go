package document

import (
	"slices"
	"strings"
	"testing"
	"time"
)

func validAttrs() Attributes {
	return Attributes{
		Type:   TypeText,
		Author: "Jane Doe",
		Domain: "health",
		Field:  "epidemiology",
		Title:  "Malaria trends",
	}
}

func TestNew_Valid(t *testing.T) {
	d, err := New("doc-1", validAttrs())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.ID() != "doc-1" || d.Domain() != "health" {
		t.Errorf("unexpected document %+v", d)
	}
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name string
		id   string
		mut  func(*Attributes)
		want string
	}{
		{"empty id", "", nil, "required"},
		{"bad id", "a b", nil, "alphanumeric"},
		{"long id", strings.Repeat("x", MaxIDLength+1), nil, "too long"},
		{"bad type", "d", func(a *Attributes) { a.Type = "pdf" }, "type"},
		{"no title", "d", func(a *Attributes) { a.Title = "  " }, "title"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := validAttrs()
			if tc.mut != nil {
				tc.mut(&a)
			}
			_, err := New(tc.id, a)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestGet(t *testing.T) {
	a := validAttrs()
	a.Subfield = "vector-borne"
	a.Subtitle = "A review"
	d := Reconstruct("x", a)
	want := map[Attribute]string{
		AttrType: "text", AttrAuthor: "Jane Doe", AttrDomain: "health",
		AttrField: "epidemiology", AttrSubfield: "vector-borne",
		AttrTitle: "Malaria trends", AttrSubtitle: "A review", "unknown": "",
	}
	for attr, v := range want {
		if got := d.Get(attr); got != v {
			t.Errorf("Get(%s) = %q, want %q", attr, got, v)
		}
	}
}

func TestIsFilterable(t *testing.T) {
	if !AttrSubfield.IsFilterable() {
		t.Error("subfield must be filterable")
	}
	if AttrTitle.IsFilterable() {
		t.Error("title must not be filterable")
	}
}

func TestEmbeddingText(t *testing.T) {
	d := Reconstruct("x", Attributes{Title: "T", Subtitle: " ", Author: "A", PublishedAt: time.Now()})
	if got := d.EmbeddingText(); got != "T\nA" {
		t.Errorf("EmbeddingText() = %q", got)
	}
}

func TestNormalizeText(t *testing.T) {
	if got := NormalizeText("  Jane   DOE "); got != "jane doe" {
		t.Errorf("NormalizeText() = %q", got)
	}
}

func TestSplitAuthors(t *testing.T) {
	tests := []struct {
		in   string
		want []string
		norm string
	}{
		{"", nil, ""},
		{"Jane Doe", []string{"jane doe"}, "jane doe"},
		{" Jane  DOE ;; Ann Lee;", []string{"jane doe", "ann lee"}, "jane doe; ann lee"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := SplitAuthors(tt.in); !slices.Equal(got, tt.want) {
				t.Errorf("SplitAuthors() = %q, want %q", got, tt.want)
			}
			if got := NormalizeAuthors(tt.in); got != tt.norm {
				t.Errorf("NormalizeAuthors() = %q, want %q", got, tt.norm)
			}
		})
	}
}

func TestJoinAuthors(t *testing.T) {
	if got := JoinAuthors("Jane Doe", " ", "Ann Lee"); got != "Jane Doe; Ann Lee" {
		t.Errorf("JoinAuthors() = %q", got)
	}
	d := Reconstruct("x", Attributes{Author: JoinAuthors("Jane Doe", "Ann Lee")})
	if got := d.Authors(); !slices.Equal(got, []string{"jane doe", "ann lee"}) {
		t.Errorf("Authors() = %q", got)
	}
}
