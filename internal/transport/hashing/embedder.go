// Package hashing is a deterministic, offline embedding provider based on
// signed feature hashing of normalized tokens.
package hashing

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"github.com/kailas-cloud/kpdex/internal/domain"
)

// DefaultDimensions is used when the configured dimensionality is not positive.
const DefaultDimensions = 256

var tokenPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

var stopwords = func() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "for", "to", "of", "in", "on", "at",
		"by", "with", "as", "is", "are", "was", "were", "be", "it", "this", "that",
		"from", "into", "about", "than", "so",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()

// Embedder maps text to a fixed-length vector. Identical input always yields
// an identical vector; empty or stopword-only text yields the zero vector.
type Embedder struct {
	dim     int
	bigrams bool
}

// NewEmbedder creates a hashing embedder. bigrams adds adjacent token pairs as features.
func NewEmbedder(dim int, bigrams bool) *Embedder {
	if dim <= 0 {
		dim = DefaultDimensions
	}
	return &Embedder{dim: dim, bigrams: bigrams}
}

// Dimensions returns the output dimensionality.
func (e *Embedder) Dimensions() int { return e.dim }

// Embed implements domain.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if err := domain.FromContext(ctx); err != nil {
		return domain.EmbeddingResult{}, err
	}
	tokens := tokenize(text)
	vec := make([]float32, e.dim)
	for i, tok := range tokens {
		e.add(vec, tok, 1)
		if e.bigrams && i > 0 {
			e.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}
	normalize(vec)
	return domain.EmbeddingResult{Embedding: vec, PromptTokens: len(tokens), TotalTokens: len(tokens)}, nil
}

// BatchEmbed implements domain.BatchEmbedder.
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}
	return domain.BatchFallback(ctx, e, texts)
}

// HealthCheck always succeeds; the embedder has no external dependency.
func (e *Embedder) HealthCheck(_ context.Context) error { return nil }

// add accumulates a feature into its signed bucket.
func (e *Embedder) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dim))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

func tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, stop := stopwords[t]; stop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}
