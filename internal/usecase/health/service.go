package health

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates the index cannot serve reads.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// IndexReport describes the generation readers currently see.
type IndexReport struct {
	Generation string
	Seq        uint64
	Vectors    int
	Trained    bool
	CreatedAt  time.Time
}

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
	Index  *IndexReport
}

// Service coordinates health checks.
type Service struct {
	db        DBPinger
	embedding EmbeddingChecker
	index     IndexInspector
	logger    *zap.Logger
}

// New creates a Service. Any checker can be nil.
func New(db DBPinger, embedding EmbeddingChecker, idx IndexInspector, logger *zap.Logger) *Service {
	return &Service{db: db, embedding: embedding, index: idx, logger: logger}
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)
	status := Healthy

	if s.db != nil {
		checks["metadata"] = s.run("metadata", func() error { return s.db.Ping(ctx) })
	}
	if s.embedding != nil {
		checks["embedding"] = s.run("embedding", func() error { return s.embedding.HealthCheck(ctx) })
	}
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}

	var ir *IndexReport
	if s.index != nil {
		info := s.index.Generation()
		ir = &IndexReport{
			Generation: info.ID,
			Seq:        info.Seq,
			Vectors:    info.Len,
			Trained:    info.Trained,
			CreatedAt:  info.CreatedAt,
		}
		checks["index"] = CheckOK
		if info.Corrupt {
			checks["index"] = CheckError
			status = Unhealthy
			s.logger.Error("Index generation is corrupt", zap.String("generation", info.ID))
		}
	}

	return Report{Status: status, Checks: checks, Index: ir}
}

func (s *Service) run(name string, fn func() error) CheckResult {
	if err := fn(); err != nil {
		s.logger.Warn("Health check failed", zap.String("component", name), zap.Error(err))
		return CheckError
	}
	return CheckOK
}
