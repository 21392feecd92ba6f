package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput signals a malformed vector, predicate or request.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDimensionMismatch signals a vector whose length differs from the index dimension.
	ErrDimensionMismatch = fmt.Errorf("%w: vector dimension mismatch", ErrInvalidInput)
	// ErrNotFound signals a direct lookup of an unknown identifier.
	ErrNotFound = errors.New("not found")
	// ErrEmbeddingUnavailable signals an embedding provider failure.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	// ErrTimeout signals that a request was abandoned because its deadline passed or it was canceled.
	ErrTimeout = errors.New("timeout")
	// ErrIndexCorruption signals an invariant violation inside an index generation.
	ErrIndexCorruption = errors.New("index corruption")
)

// OpError attaches the operation and (optionally) the identifier to an error.
type OpError struct {
	Op  string
	ID  string
	Err error
}

func (e *OpError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %q: %v", e.Op, e.ID, e.Err)
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error { return e.Err }

// NewOpError wraps err with operation context. Returns nil for a nil err.
func NewOpError(op, id string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, ID: id, Err: err}
}

// Invalidf builds an ErrInvalidInput with a formatted reason.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// FromContext converts a done context into ErrTimeout, keeping the cause reachable.
// Returns nil while the context is still live.
func FromContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return nil
}

// IsInputError reports whether err originates from caller input rather than infrastructure.
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrNotFound)
}
