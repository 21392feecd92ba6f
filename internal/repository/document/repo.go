// Package document stores knowledge product metadata as Redis hashes.
package document

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/kailas-cloud/kpdex/internal/db"
	"github.com/kailas-cloud/kpdex/internal/domain"
	domdoc "github.com/kailas-cloud/kpdex/internal/domain/document"
	"github.com/kailas-cloud/kpdex/internal/domain/search/predicate"
)

// fetchChunk bounds keys per pipelined HGETALL round-trip.
const fetchChunk = 500

var keyPrefix = domain.KeyPrefix + "doc:"

// store is the consumer interface for documents (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	Del(ctx context.Context, key string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// Repo is a Redis-backed metadata store.
type Repo struct {
	store store
}

// New creates a document repository.
func New(s store) *Repo {
	return &Repo{store: s}
}

// Put creates or replaces a document.
func (r *Repo) Put(ctx context.Context, doc domdoc.Document) error {
	key := docKey(doc.ID())
	// HSET only adds fields, so clear stale ones first
	if err := r.store.Del(ctx, key); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	if err := r.store.HSet(ctx, key, buildHashFields(&doc)); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	return nil
}

// PutMany writes documents in one pipelined round-trip.
func (r *Repo) PutMany(ctx context.Context, docs []domdoc.Document) error {
	if len(docs) == 0 {
		return nil
	}
	items := make([]db.HashSetItem, len(docs))
	for i := range docs {
		items[i] = db.HashSetItem{Key: docKey(docs[i].ID()), Fields: buildHashFields(&docs[i])}
	}
	if err := r.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("hset multi: %w", err)
	}
	return nil
}

// Get returns a document by ID.
func (r *Repo) Get(ctx context.Context, id string) (domdoc.Document, error) {
	key := docKey(id)
	m, err := r.store.HGetAll(ctx, key)
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("hgetall %s: %w", key, err)
	}
	// HGETALL on a missing key is an empty hash
	if len(m) == 0 {
		return domdoc.Document{}, domain.NewOpError("metadata.get", id, domain.ErrNotFound)
	}
	return parseHashFields(id, m), nil
}

// GetMany returns the documents that exist among ids.
func (r *Repo) GetMany(ctx context.Context, ids []string) (map[string]domdoc.Document, error) {
	out := make(map[string]domdoc.Document, len(ids))
	for start := 0; start < len(ids); start += fetchChunk {
		chunk := ids[start:min(start+fetchChunk, len(ids))]
		keys := make([]string, len(chunk))
		for i, id := range chunk {
			keys[i] = docKey(id)
		}
		maps, err := r.store.HGetAllMulti(ctx, keys)
		if err != nil {
			return nil, fmt.Errorf("hgetall multi: %w", err)
		}
		for i, m := range maps {
			if len(m) > 0 {
				out[chunk[i]] = parseHashFields(chunk[i], m)
			}
		}
	}
	return out, nil
}

// Match returns every document satisfying p, sorted by ID.
func (r *Repo) Match(ctx context.Context, p predicate.Predicate) ([]domdoc.Document, error) {
	keys, err := r.store.Scan(ctx, keyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("scan documents: %w", err)
	}
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = strings.TrimPrefix(k, keyPrefix)
	}
	slices.Sort(ids)
	ids = slices.Compact(ids) // SCAN may return a key more than once

	docs, err := r.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]domdoc.Document, 0, len(docs))
	for _, id := range ids {
		d, ok := docs[id]
		if ok && p.Match(&d) {
			out = append(out, d)
		}
	}
	return out, nil
}

// Delete removes a document. Deleting an absent document is a no-op.
func (r *Repo) Delete(ctx context.Context, id string) error {
	key := docKey(id)
	if err := r.store.Del(ctx, key); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

// Count returns the number of stored documents.
func (r *Repo) Count(ctx context.Context) (int, error) {
	keys, err := r.store.Scan(ctx, keyPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("scan documents: %w", err)
	}
	slices.Sort(keys)
	return len(slices.Compact(keys)), nil
}

func docKey(id string) string {
	return keyPrefix + id
}
