// Package search implements the hybrid query engine: structured predicate
// filtering joined with vector similarity ranking.
package search

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/kpdex/internal/domain"
	domdoc "github.com/kailas-cloud/kpdex/internal/domain/document"
	"github.com/kailas-cloud/kpdex/internal/domain/search/request"
	"github.com/kailas-cloud/kpdex/internal/domain/search/result"
	"github.com/kailas-cloud/kpdex/internal/domain/vector"
	"github.com/kailas-cloud/kpdex/internal/index"
	"github.com/kailas-cloud/kpdex/internal/logger"
	"github.com/kailas-cloud/kpdex/internal/metrics"
)

const opQuery = "query"

// maxLoggedIDs caps the sample of skipped ids attached to a warning.
const maxLoggedIDs = 10

// Service answers filter-plus-search queries.
type Service struct {
	meta  MetadataReader
	index VectorIndex
	embed Embedder
	cfg   Config
}

// New creates a search service.
func New(meta MetadataReader, idx VectorIndex, embed Embedder, cfg Config) (*Service, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	return &Service{meta: meta, index: idx, embed: embed, cfg: cfg}, nil
}

// Query resolves the predicate, ranks the matches and returns the requested page.
// Every hit satisfies the predicate exactly. With a search term, matches are
// ranked by similarity; without one (or when the term embeds to a zero
// vector) they are ranked by the configured secondary order.
func (s *Service) Query(ctx context.Context, req request.Request) (page result.Page, err error) {
	start := time.Now()
	defer func() { metrics.ObserveEngine(opQuery, time.Since(start).Seconds(), err) }()

	if s.cfg.Timeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
			defer cancel()
		}
	}

	docs, err := s.meta.Match(ctx, req.Predicate())
	if err != nil {
		return result.Page{}, wrapErr(ctx, "match predicate", err)
	}

	view := s.index.View()
	candidates := s.joinIndexed(ctx, view, docs)

	if req.HasTerm() {
		emb, err := s.embed.Embed(ctx, req.Term())
		if err != nil {
			return result.Page{}, embedErr(ctx, err)
		}
		if !vector.IsZero(emb.Embedding) {
			return s.rankBySimilarity(ctx, view, emb.Embedding, candidates, req)
		}
		metrics.DegradedInputTotal.WithLabelValues(opQuery, "degenerate_term").Inc()
		logger.FromContext(ctx).Debug("Search term embeds to a zero vector, ranking by predicate only",
			zap.String("term", req.Term()))
	}

	return s.rankBySecondary(candidates, req), nil
}

// joinIndexed drops matched documents that have no vector in view.
func (s *Service) joinIndexed(ctx context.Context, view *index.View, docs []domdoc.Document) map[string]*domdoc.Document {
	out := make(map[string]*domdoc.Document, len(docs))
	var missing []string
	for i := range docs {
		id := docs[i].ID()
		if !view.Has(id) {
			missing = append(missing, id)
			continue
		}
		out[id] = &docs[i]
	}
	logMissing(ctx, "metadata without vector", "missing_vector", missing)
	return out
}

func (s *Service) rankBySecondary(candidates map[string]*domdoc.Document, req request.Request) result.Page {
	docs := make([]*domdoc.Document, 0, len(candidates))
	for _, d := range candidates {
		docs = append(docs, d)
	}
	slices.SortFunc(docs, s.secondaryCompare)

	ranked := make([]result.Hit, len(docs))
	for i, d := range docs {
		ranked[i] = result.NewHit(d.ID(), 0, d)
	}
	return result.Slice(ranked, req.Offset(), req.Limit(), len(ranked))
}

// secondaryCompare orders by id, or by publication date newest first with
// undated documents last and id as the tie-breaker.
func (s *Service) secondaryCompare(a, b *domdoc.Document) int {
	if s.cfg.Order == OrderRecency {
		ta, tb := a.PublishedAt(), b.PublishedAt()
		switch {
		case ta.IsZero() && !tb.IsZero():
			return 1
		case !ta.IsZero() && tb.IsZero():
			return -1
		case ta.After(tb):
			return -1
		case ta.Before(tb):
			return 1
		}
	}
	return strings.Compare(a.ID(), b.ID())
}

// rankBySimilarity oversamples the index and filters neighbors down to the
// candidate set, doubling k until the window is filled, every candidate is
// ranked, or the ceiling (MaxK, MaxWidenRounds, corpus size) is reached.
func (s *Service) rankBySimilarity(
	ctx context.Context, view *index.View, q []float32,
	candidates map[string]*domdoc.Document, req request.Request,
) (result.Page, error) {
	total := len(candidates)
	if total == 0 {
		return result.Slice(nil, req.Offset(), req.Limit(), 0), nil
	}

	n := view.Len()
	window := req.Window()
	k := min(s.initialK(window, n, total), n)

	var (
		ranked []result.Hit
		rounds int
	)
	for {
		rounds++
		neighbors, err := view.Search(ctx, q, k)
		if err != nil {
			return result.Page{}, wrapErr(ctx, "search index", err)
		}
		ranked = ranked[:0]
		for _, nb := range neighbors {
			if d, ok := candidates[nb.ID]; ok {
				ranked = append(ranked, result.NewHit(nb.ID, nb.Score, d))
			}
		}
		if len(ranked) >= window || len(ranked) == total || k >= n {
			break
		}
		if k >= s.cfg.MaxK || rounds >= s.cfg.MaxWidenRounds {
			break
		}
		k = min(k*2, s.cfg.MaxK, n)
	}
	metrics.QueryWidenRounds.Observe(float64(rounds))

	page := result.Slice(ranked, req.Offset(), req.Limit(), total)
	if !page.Exhaustive {
		metrics.QueryNonExhaustiveTotal.Inc()
		logger.FromContext(ctx).Info("Oversampling ceiling reached before the page was filled",
			zap.Int("k", k),
			zap.Int("rounds", rounds),
			zap.Int("ranked", len(ranked)),
			zap.Int("candidates", total),
			zap.Int("window", window),
		)
	}
	return page, nil
}

// initialK is window * oversample * max(1, ceil(N/|C|)), capped at MaxK.
// A selective predicate needs proportionally more neighbors to fill a page.
func (s *Service) initialK(window, n, candidates int) int {
	ratio := max(1, (n+candidates-1)/candidates)
	k := window * s.cfg.Oversample
	if k >= s.cfg.MaxK || ratio >= s.cfg.MaxK/k+1 {
		return s.cfg.MaxK
	}
	return min(k*ratio, s.cfg.MaxK)
}

func logMissing(ctx context.Context, msg, reason string, ids []string) {
	if len(ids) == 0 {
		return
	}
	metrics.DegradedInputTotal.WithLabelValues(opQuery, reason).Add(float64(len(ids)))
	logger.FromContext(ctx).Warn("Excluding documents: "+msg,
		zap.String("operation", opQuery),
		zap.Int("count", len(ids)),
		zap.Strings("ids", ids[:min(len(ids), maxLoggedIDs)]),
	)
}

func wrapErr(ctx context.Context, what string, err error) error {
	if ctxErr := domain.FromContext(ctx); ctxErr != nil && !errors.Is(err, domain.ErrTimeout) {
		return domain.NewOpError(opQuery, "", ctxErr)
	}
	return domain.NewOpError(opQuery, "", fmt.Errorf("%s: %w", what, err))
}

func embedErr(ctx context.Context, err error) error {
	if ctxErr := domain.FromContext(ctx); ctxErr != nil {
		return domain.NewOpError(opQuery, "", ctxErr)
	}
	if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		err = fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
	}
	return domain.NewOpError(opQuery, "", fmt.Errorf("vectorize search term: %w", err))
}
