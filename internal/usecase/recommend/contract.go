package recommend

import (
	"context"

	domdoc "github.com/kailas-cloud/kpdex/internal/domain/document"
	"github.com/kailas-cloud/kpdex/internal/index"
)

// VectorIndex hands out consistent read views of the current index generation.
type VectorIndex interface {
	View() *index.View
}

// MetadataReader resolves recommended ids to documents. Missing ids are omitted.
type MetadataReader interface {
	GetMany(ctx context.Context, ids []string) (map[string]domdoc.Document, error)
}
