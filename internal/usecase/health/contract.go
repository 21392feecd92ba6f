package health

import (
	"context"

	"github.com/kailas-cloud/kpdex/internal/index"
)

// DBPinger checks database availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}

// IndexInspector exposes the current index generation.
type IndexInspector interface {
	Generation() index.Info
}
