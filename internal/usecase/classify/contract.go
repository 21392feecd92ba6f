package classify

import (
	"context"

	domdoc "github.com/kailas-cloud/kpdex/internal/domain/document"
	"github.com/kailas-cloud/kpdex/internal/domain/search/predicate"
	"github.com/kailas-cloud/kpdex/internal/index"
)

// VectorIndex hands out consistent read views of the current index generation.
type VectorIndex interface {
	View() *index.View
	Dimensions() int
}

// MetadataReader supplies the labeled documents centroids are trained from.
type MetadataReader interface {
	Match(ctx context.Context, p predicate.Predicate) ([]domdoc.Document, error)
}

// SetStore persists encoded category sets. It has the same contract as
// index snapshot stores; names sort newest first.
type SetStore interface {
	Save(ctx context.Context, name string, data []byte) error
	Load(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Prune(ctx context.Context, prefix string, keep int) error
}
