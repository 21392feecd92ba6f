package document

import (
	"context"
	"testing"
	"time"

	"github.com/kailas-cloud/kpdex/internal/db"
	domdoc "github.com/kailas-cloud/kpdex/internal/domain/document"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	hsetFn         func(ctx context.Context, key string, fields map[string]string) error
	hsetMultiFn    func(ctx context.Context, items []db.HashSetItem) error
	hgetAllFn      func(ctx context.Context, key string) (map[string]string, error)
	hgetAllMultiFn func(ctx context.Context, keys []string) ([]map[string]string, error)
	delFn          func(ctx context.Context, key string) error
	scanFn         func(ctx context.Context, pattern string) ([]string, error)
}

func (m *mockStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if m.hsetFn != nil {
		return m.hsetFn(ctx, key, fields)
	}
	return nil
}

func (m *mockStore) HSetMulti(ctx context.Context, items []db.HashSetItem) error {
	if m.hsetMultiFn != nil {
		return m.hsetMultiFn(ctx, items)
	}
	return nil
}

func (m *mockStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if m.hgetAllFn != nil {
		return m.hgetAllFn(ctx, key)
	}
	return map[string]string{}, nil
}

func (m *mockStore) HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error) {
	if m.hgetAllMultiFn != nil {
		return m.hgetAllMultiFn(ctx, keys)
	}
	return make([]map[string]string, len(keys)), nil
}

func (m *mockStore) Del(ctx context.Context, key string) error {
	if m.delFn != nil {
		return m.delFn(ctx, key)
	}
	return nil
}

func (m *mockStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	if m.scanFn != nil {
		return m.scanFn(ctx, pattern)
	}
	return nil, nil
}

// hashBackedStore wires a mockStore to an in-memory map of hashes.
func hashBackedStore(data map[string]map[string]string) *mockStore {
	return &mockStore{
		hgetAllFn: func(_ context.Context, key string) (map[string]string, error) {
			if m, ok := data[key]; ok {
				return m, nil
			}
			return map[string]string{}, nil
		},
		hgetAllMultiFn: func(_ context.Context, keys []string) ([]map[string]string, error) {
			out := make([]map[string]string, len(keys))
			for i, k := range keys {
				out[i] = data[k]
			}
			return out, nil
		},
		scanFn: func(_ context.Context, _ string) ([]string, error) {
			keys := make([]string, 0, len(data))
			for k := range data {
				keys = append(keys, k)
			}
			return keys, nil
		},
	}
}

func newTestRepo(t *testing.T) (*Repo, *mockStore) {
	t.Helper()
	ms := &mockStore{}
	return New(ms), ms
}

func testDocument(t *testing.T) domdoc.Document {
	t.Helper()
	doc, err := domdoc.New("kp-1", domdoc.Attributes{
		Type:        domdoc.TypeText,
		Author:      "Ada Lovelace",
		Domain:      "Health",
		Field:       "Cardiology",
		Title:       "Heart rhythms",
		PublishedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("new document: %v", err)
	}
	return doc
}
