package search

import (
	"context"

	"github.com/kailas-cloud/kpdex/internal/domain"
	domdoc "github.com/kailas-cloud/kpdex/internal/domain/document"
	"github.com/kailas-cloud/kpdex/internal/domain/search/predicate"
	"github.com/kailas-cloud/kpdex/internal/index"
)

// MetadataReader resolves predicates against the metadata store.
type MetadataReader interface {
	Match(ctx context.Context, p predicate.Predicate) ([]domdoc.Document, error)
}

// VectorIndex hands out consistent read views of the current index generation.
type VectorIndex interface {
	View() *index.View
}

// Embedder vectorizes text into embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}
