package kpdex

import (
	"context"
	"fmt"
	"time"

	domdoc "github.com/kailas-cloud/kpdex/internal/domain/document"
	ingestuc "github.com/kailas-cloud/kpdex/internal/usecase/ingest"
)

// DocumentService manages documents.
type DocumentService struct {
	ingest ingestUseCase
	meta   metadataReader
	obs    *observer
}

// Upsert validates, embeds and indexes documents. Each item succeeds or
// fails independently; the returned error is non-nil only when every item failed.
// Re-upserting an unchanged document leaves the index untouched.
func (s *DocumentService) Upsert(ctx context.Context, docs []Document) (res []ItemResult, err error) {
	start := time.Now()
	defer func() { s.obs.observe("upsert", start, err) }()

	res = make([]ItemResult, len(docs))
	valid := make([]domdoc.Document, 0, len(docs))
	pos := make([]int, 0, len(docs))
	for i, d := range docs {
		res[i].ID = d.ID
		dd, verr := d.toDomain()
		if verr != nil {
			res[i].Err = fmt.Errorf("%w: %w", ErrInvalidInput, verr)
			continue
		}
		valid = append(valid, dd)
		pos = append(pos, i)
	}

	if len(valid) > 0 {
		for j, r := range s.ingest.Upsert(ctx, valid) {
			res[pos[j]].Err = r.Err
		}
	}
	return res, allFailed(res)
}

// Delete removes documents from the index and the metadata store.
func (s *DocumentService) Delete(ctx context.Context, ids ...string) (res []ItemResult, err error) {
	start := time.Now()
	defer func() { s.obs.observe("delete", start, err) }()

	res = fromIngest(s.ingest.Delete(ctx, ids))
	return res, allFailed(res)
}

// Get returns a document's metadata.
func (s *DocumentService) Get(ctx context.Context, id string) (doc Document, err error) {
	start := time.Now()
	defer func() { s.obs.observe("get", start, err) }()

	d, err := s.meta.Get(ctx, id)
	if err != nil {
		return Document{}, err
	}
	return documentFromDomain(&d), nil
}

// Count returns the number of stored documents.
func (s *DocumentService) Count(ctx context.Context) (int, error) {
	return s.meta.Count(ctx)
}

func fromIngest(rs []ingestuc.Result) []ItemResult {
	out := make([]ItemResult, len(rs))
	for i, r := range rs {
		out[i] = ItemResult{ID: r.ID, Err: r.Err}
	}
	return out
}

// allFailed returns the first item error when no item succeeded.
func allFailed(res []ItemResult) error {
	if len(res) == 0 {
		return nil
	}
	for _, r := range res {
		if r.OK() {
			return nil
		}
	}
	return fmt.Errorf("all %d items failed: %w", len(res), res[0].Err)
}
