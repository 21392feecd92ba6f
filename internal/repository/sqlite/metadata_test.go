package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/kailas-cloud/kpdex/internal/domain"
	domdoc "github.com/kailas-cloud/kpdex/internal/domain/document"
	"github.com/kailas-cloud/kpdex/internal/domain/search/predicate"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "meta", "kpdex.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustDoc(t *testing.T, id string, a domdoc.Attributes) domdoc.Document {
	t.Helper()
	if a.Type == "" {
		a.Type = domdoc.TypeText
	}
	if a.Title == "" {
		a.Title = "title " + id
	}
	d, err := domdoc.New(id, a)
	if err != nil {
		t.Fatalf("new document: %v", err)
	}
	return d
}

func clause(t *testing.T, attr domdoc.Attribute, op predicate.Op, v string) predicate.Clause {
	t.Helper()
	c, err := predicate.NewClause(attr, op, v)
	if err != nil {
		t.Fatalf("clause: %v", err)
	}
	return c
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	at := time.Date(2022, 5, 6, 7, 8, 9, 0, time.UTC)
	in := mustDoc(t, "kp-1", domdoc.Attributes{
		Type: domdoc.TypeVideo, Author: "Ada", Domain: "Health", Field: "Cardio",
		Subfield: "Rhythm", Title: "Beats", Subtitle: "Part 1", PublishedAt: at,
	})
	if err := s.Put(ctx, in); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.Get(ctx, "kp-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	ga, wa := got.Attributes(), in.Attributes()
	if !ga.PublishedAt.Equal(wa.PublishedAt) {
		t.Fatalf("published_at = %v, want %v", ga.PublishedAt, wa.PublishedAt)
	}
	ga.PublishedAt, wa.PublishedAt = time.Time{}, time.Time{}
	if ga != wa {
		t.Fatalf("got %+v, want %+v", ga, wa)
	}
}

func TestStore_PutReplaces(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_ = s.Put(ctx, mustDoc(t, "a", domdoc.Attributes{Domain: "health"}))
	_ = s.Put(ctx, mustDoc(t, "a", domdoc.Attributes{Domain: "finance"}))

	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Domain() != "finance" {
		t.Fatalf("domain = %q", got.Domain())
	}
	n, _ := s.Count(ctx)
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
}

func TestStore_GetNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_GetManyAndDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	docs := []domdoc.Document{
		mustDoc(t, "a", domdoc.Attributes{}),
		mustDoc(t, "b", domdoc.Attributes{}),
		mustDoc(t, "c", domdoc.Attributes{}),
	}
	if err := s.PutMany(ctx, docs); err != nil {
		t.Fatalf("put many: %v", err)
	}
	if err := s.Delete(ctx, "b"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, err := s.GetMany(ctx, []string{"a", "b", "c", "d"})
	if err != nil {
		t.Fatalf("get many: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if _, ok := got["b"]; ok {
		t.Fatal("deleted document returned")
	}
}

func TestStore_Match(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_ = s.PutMany(ctx, []domdoc.Document{
		mustDoc(t, "1", domdoc.Attributes{Domain: "Health", Author: "Ann Lee"}),
		mustDoc(t, "2", domdoc.Attributes{Domain: "finance", Author: "Bob"}),
		mustDoc(t, "3", domdoc.Attributes{Domain: "HEALTH", Author: "Carl", Type: domdoc.TypeAudio}),
		mustDoc(t, "4", domdoc.Attributes{Domain: "health care", Author: "ann"}),
		mustDoc(t, "5", domdoc.Attributes{Domain: "sports", Author: "50%_off"}),
		mustDoc(t, "6", domdoc.Attributes{Domain: "law", Author: "Bob Stone; Ann"}),
	})

	tests := []struct {
		name    string
		clauses []predicate.Clause
		want    []string
	}{
		{"all", nil, []string{"1", "2", "3", "4", "5", "6"}},
		{"eq is exact", []predicate.Clause{clause(t, domdoc.AttrDomain, predicate.OpEq, "health")}, []string{"1", "3"}},
		{"contains", []predicate.Clause{clause(t, domdoc.AttrDomain, predicate.OpContains, "health")}, []string{"1", "3", "4"}},
		{"conjunction", []predicate.Clause{
			clause(t, domdoc.AttrDomain, predicate.OpContains, "health"),
			clause(t, domdoc.AttrAuthor, predicate.OpContains, "ann"),
		}, []string{"1", "4"}},
		{"type", []predicate.Clause{clause(t, domdoc.AttrType, predicate.OpEq, "audio")}, []string{"3"}},
		{"author eq any listed name", []predicate.Clause{clause(t, domdoc.AttrAuthor, predicate.OpEq, "ANN")}, []string{"4", "6"}},
		{"author eq whole name", []predicate.Clause{clause(t, domdoc.AttrAuthor, predicate.OpEq, "bob")}, []string{"2"}},
		{"wildcards are literal", []predicate.Clause{clause(t, domdoc.AttrAuthor, predicate.OpContains, "%_")}, []string{"5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := predicate.New(tt.clauses...)
			if err != nil {
				t.Fatalf("predicate: %v", err)
			}
			got, err := s.Match(ctx, p)
			if err != nil {
				t.Fatalf("match: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d docs, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].ID() != tt.want[i] {
					t.Errorf("got[%d] = %s, want %s", i, got[i].ID(), tt.want[i])
				}
				if !p.Match(&got[i]) {
					t.Errorf("%s does not satisfy the predicate", got[i].ID())
				}
			}
		})
	}
}
