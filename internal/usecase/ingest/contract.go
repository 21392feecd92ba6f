package ingest

import (
	"context"

	"github.com/kailas-cloud/kpdex/internal/domain"
	domdoc "github.com/kailas-cloud/kpdex/internal/domain/document"
	"github.com/kailas-cloud/kpdex/internal/index"
)

// MetadataWriter stores document attributes.
type MetadataWriter interface {
	PutMany(ctx context.Context, docs []domdoc.Document) error
	Delete(ctx context.Context, id string) error
}

// VectorIndex applies vector mutations as one generation swap.
type VectorIndex interface {
	Apply(ctx context.Context, b *index.Batch) error
	Dimensions() int
}

// Embedder vectorizes document texts in batches.
type Embedder interface {
	BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error)
}
