// Package embedding holds the decorators applied around an embedding provider.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	retry "github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/kailas-cloud/kpdex/internal/domain"
	"github.com/kailas-cloud/kpdex/internal/metrics"
)

// DefaultMaxAPIBatchSize is the maximum number of texts sent in one provider call.
const DefaultMaxAPIBatchSize = 256

// retryDelay is the pause before the single retry of a failed provider call.
const retryDelay = 10 * time.Millisecond

// InstrumentedEmbedder wraps an Embedder with one immediate retry, output
// dimension checks, and logging. Transport metrics (requests, duration,
// tokens) are recorded in transport/openai.
type InstrumentedEmbedder struct {
	inner      domain.Embedder
	provider   string
	model      string
	dimensions int
	logger     *zap.Logger
}

// NewInstrumentedEmbedder wraps an embedder. dimensions <= 0 disables the length check.
func NewInstrumentedEmbedder(
	inner domain.Embedder, provider, model string,
	dimensions int, logger *zap.Logger,
) *InstrumentedEmbedder {
	return &InstrumentedEmbedder{
		inner:      inner,
		provider:   provider,
		model:      model,
		dimensions: dimensions,
		logger:     logger,
	}
}

// Embed delegates to the inner embedder, retrying a failure once.
// Provider failures surface as domain.ErrEmbeddingUnavailable.
func (p *InstrumentedEmbedder) Embed(
	ctx context.Context, text string,
) (domain.EmbeddingResult, error) {
	start := time.Now()

	var result domain.EmbeddingResult
	err := p.withRetry(ctx, func(ctx context.Context) error {
		var err error
		result, err = p.inner.Embed(ctx, text)
		return err
	})

	duration := time.Since(start)

	if err != nil {
		p.logger.Error("Embedding request failed",
			zap.String("provider", p.provider),
			zap.String("model", p.model),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return domain.EmbeddingResult{}, err
	}
	if err := p.checkDimensions(result.Embedding); err != nil {
		return domain.EmbeddingResult{}, err
	}

	p.logger.Debug("Embedding request completed",
		zap.String("provider", p.provider),
		zap.String("model", p.model),
		zap.Duration("duration", duration),
		zap.Int("dimensions", len(result.Embedding)),
		zap.Int("prompt_tokens", result.PromptTokens),
		zap.Int("total_tokens", result.TotalTokens),
	)

	return result, nil
}

// BatchEmbed splits texts into provider-sized chunks and delegates each to inner.
func (p *InstrumentedEmbedder) BatchEmbed(
	ctx context.Context, texts []string,
) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	start := time.Now()

	result, err := p.embedChunked(ctx, texts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, err
	}

	p.logger.Debug("Batch embedding completed",
		zap.String("provider", p.provider),
		zap.String("model", p.model),
		zap.Duration("duration", time.Since(start)),
		zap.Int("batch_size", len(texts)),
		zap.Int("prompt_tokens", result.PromptTokens),
		zap.Int("total_tokens", result.TotalTokens),
	)

	return result, nil
}

// HealthCheck forwards to the inner embedder when it supports health checks.
func (p *InstrumentedEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := p.inner.(domain.HealthChecker); ok {
		return hc.HealthCheck(ctx) //nolint:wrapcheck // transparent decorator
	}
	return nil
}

func (p *InstrumentedEmbedder) embedChunked(
	ctx context.Context, texts []string,
) (domain.BatchEmbeddingResult, error) {
	allEmbeddings := make([][]float32, 0, len(texts))
	var totalPrompt, totalTokens int

	for offset := 0; offset < len(texts); offset += DefaultMaxAPIBatchSize {
		chunk := texts[offset:min(offset+DefaultMaxAPIBatchSize, len(texts))]

		var chunkResult domain.BatchEmbeddingResult
		err := p.withRetry(ctx, func(ctx context.Context) error {
			var err error
			chunkResult, err = p.embedInner(ctx, chunk)
			return err
		})
		if err != nil {
			p.logger.Error("Batch embedding request failed",
				zap.String("provider", p.provider),
				zap.String("model", p.model),
				zap.Int("chunk_offset", offset),
				zap.Int("chunk_size", len(chunk)),
				zap.Error(err),
			)
			return domain.BatchEmbeddingResult{}, err
		}
		if len(chunkResult.Embeddings) != len(chunk) {
			return domain.BatchEmbeddingResult{}, fmt.Errorf("%w: got %d vectors for %d texts",
				domain.ErrEmbeddingUnavailable, len(chunkResult.Embeddings), len(chunk))
		}
		for _, v := range chunkResult.Embeddings {
			if err := p.checkDimensions(v); err != nil {
				return domain.BatchEmbeddingResult{}, err
			}
		}

		allEmbeddings = append(allEmbeddings, chunkResult.Embeddings...)
		totalPrompt += chunkResult.PromptTokens
		totalTokens += chunkResult.TotalTokens
	}

	return domain.BatchEmbeddingResult{
		Embeddings:   allEmbeddings,
		PromptTokens: totalPrompt,
		TotalTokens:  totalTokens,
	}, nil
}

func (p *InstrumentedEmbedder) embedInner(
	ctx context.Context, texts []string,
) (domain.BatchEmbeddingResult, error) {
	if be, ok := p.inner.(domain.BatchEmbedder); ok {
		res, err := be.BatchEmbed(ctx, texts)
		if err != nil {
			return domain.BatchEmbeddingResult{}, fmt.Errorf("inner batch embed: %w", err)
		}
		return res, nil
	}
	res, err := domain.BatchFallback(ctx, p.inner, texts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("inner batch fallback: %w", err)
	}
	return res, nil
}

// withRetry runs fn, retrying it once after a provider failure.
// Cancellation of ctx is never retried and maps to domain.ErrTimeout. A
// provider-side deadline on a live ctx is an ordinary failure.
func (p *InstrumentedEmbedder) withRetry(ctx context.Context, fn func(context.Context) error) error {
	attempt := 0
	b := retry.WithMaxRetries(1, retry.NewConstant(retryDelay))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		if attempt > 0 {
			metrics.EmbeddingRetriesTotal.WithLabelValues(p.provider, p.model).Inc()
		}
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		return retry.RetryableError(err)
	})
	if err == nil {
		return nil
	}
	if ctxErr := domain.FromContext(ctx); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, domain.ErrEmbeddingUnavailable) {
		return fmt.Errorf("embed: %w", err)
	}
	return fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
}

func (p *InstrumentedEmbedder) checkDimensions(v []float32) error {
	if p.dimensions > 0 && len(v) != p.dimensions {
		return fmt.Errorf("%w: provider returned %d dimensions, want %d",
			domain.ErrEmbeddingUnavailable, len(v), p.dimensions)
	}
	return nil
}
