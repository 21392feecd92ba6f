package kpdex

import "github.com/kailas-cloud/kpdex/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrInvalidInput         = domain.ErrInvalidInput
	ErrDimensionMismatch    = domain.ErrDimensionMismatch
	ErrNotFound             = domain.ErrNotFound
	ErrTimeout              = domain.ErrTimeout
	ErrEmbeddingUnavailable = domain.ErrEmbeddingUnavailable
	ErrIndexCorruption      = domain.ErrIndexCorruption
)
