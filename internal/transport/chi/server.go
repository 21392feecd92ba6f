// Package chi is the HTTP surface. Handlers decode requests and encode
// responses; semantics live in the use cases.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/kpdex/internal/domain"
	"github.com/kailas-cloud/kpdex/internal/domain/history"
	"github.com/kailas-cloud/kpdex/internal/domain/search/predicate"
	"github.com/kailas-cloud/kpdex/internal/domain/search/request"
	"github.com/kailas-cloud/kpdex/internal/domain/search/result"
	"github.com/kailas-cloud/kpdex/internal/metrics"
	classifyuc "github.com/kailas-cloud/kpdex/internal/usecase/classify"
	healthuc "github.com/kailas-cloud/kpdex/internal/usecase/health"
	recommenduc "github.com/kailas-cloud/kpdex/internal/usecase/recommend"
)

// maxBodyBytes bounds request bodies; a classify vector is the largest payload.
const maxBodyBytes = 4 << 20

// Searcher answers hybrid queries.
type Searcher interface {
	Query(ctx context.Context, req request.Request) (result.Page, error)
}

// Recommender produces personalized recommendations.
type Recommender interface {
	Recommend(ctx context.Context, h history.History, exclude []string, limit int) ([]recommenduc.Recommendation, error)
}

// Classifier labels vectors and indexed documents.
type Classifier interface {
	Classify(ctx context.Context, vec []float32) (classifyuc.Result, error)
	ClassifyDocument(ctx context.Context, id string) (classifyuc.Result, error)
}

// Embedder vectorizes free text for classification.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// HealthChecker reports component health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Server holds the HTTP handlers.
type Server struct {
	search        Searcher
	recommend     Recommender
	classify      Classifier
	embed         Embedder
	health        HealthChecker
	limits        request.Limits
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server. embed may be nil, which disables
// classification of free text.
func NewServer(
	search Searcher,
	recommend Recommender,
	classify Classifier,
	embed Embedder,
	health HealthChecker,
	limits request.Limits,
	logger *zap.Logger,
) *Server {
	s := &Server{
		search:    search,
		recommend: recommend,
		classify:  classify,
		embed:     embed,
		health:    health,
		limits:    limits,
		logger:    logger,
	}
	// order matters: ErrDimensionMismatch wraps ErrInvalidInput
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrDimensionMismatch, http.StatusBadRequest, CodeDimensionMismatch),
		sentinelHandler(domain.ErrInvalidInput, http.StatusBadRequest, CodeValidationFailed),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, CodeNotFound),
		sentinelHandler(domain.ErrTimeout, http.StatusGatewayTimeout, CodeTimeout),
		sentinelHandler(domain.ErrEmbeddingUnavailable, http.StatusBadGateway, CodeEmbeddingUnavailable),
		sentinelHandler(domain.ErrIndexCorruption, http.StatusServiceUnavailable, CodeIndexCorrupt),
	}
	return s
}

// Routes registers the API on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/search", s.Search)
		r.Post("/recommend", s.Recommend)
		r.Post("/classify", s.Classify)
		r.Get("/documents/{id}/categories", s.DocumentCategories)
	})
}

// NewRouter wraps the server's routes with the standard middleware stack.
func NewRouter(s *Server, apiKeys []string, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(JSONRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(WideEventMiddleware(logger))
	r.Use(BearerAuthMiddleware(apiKeys))
	r.Use(metrics.Middleware())
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, CodeBadRequest, "method not allowed")
	})
	s.Routes(r)
	return r
}

// Search handles POST /v1/search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var body SearchRequest
	if !s.decode(w, r, &body) {
		return
	}

	specs := make([]predicate.Spec, len(body.Filters))
	for i, f := range body.Filters {
		specs[i] = predicate.Spec{Attribute: f.Attribute, Op: f.Op, Value: f.Value}
	}
	pred, err := predicate.Parse(specs)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	req, err := request.NewWithLimits(pred, body.Query, body.Offset, body.Limit, s.limits)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	page, err := s.search.Query(r.Context(), req)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pageToDTO(page, req.HasTerm()))
}

// Recommend handles POST /v1/recommend.
func (s *Server) Recommend(w http.ResponseWriter, r *http.Request) {
	var body RecommendRequest
	if !s.decode(w, r, &body) {
		return
	}

	items := make([]history.Item, len(body.History))
	for i, it := range body.History {
		items[i] = history.Item{ID: it.ID, Weight: it.Weight}
	}
	h, err := history.New(items)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	recs, err := s.recommend.Recommend(r.Context(), h, body.Exclude, body.Limit)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recommendationsToDTO(recs))
}

// Classify handles POST /v1/classify.
func (s *Server) Classify(w http.ResponseWriter, r *http.Request) {
	var body ClassifyRequest
	if !s.decode(w, r, &body) {
		return
	}

	text := strings.TrimSpace(body.Text)
	vec := body.Vector
	switch {
	case len(vec) > 0 && text != "":
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "set either vector or text, not both")
		return
	case len(vec) == 0 && text == "":
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "vector or text is required")
		return
	case text != "":
		if s.embed == nil {
			writeError(w, http.StatusBadRequest, CodeValidationFailed, "text classification is not enabled")
			return
		}
		emb, err := s.embed.Embed(r.Context(), text)
		if err != nil {
			s.handleDomainError(w, err)
			return
		}
		vec = emb.Embedding
	}

	res, err := s.classify.Classify(r.Context(), vec)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, classifyToDTO("", res))
}

// DocumentCategories handles GET /v1/documents/{id}/categories.
func (s *Server) DocumentCategories(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := s.classify.ClassifyDocument(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, classifyToDTO(id, res))
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, healthToDTO(report))
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeMessage returns the client-facing part of an error. Input errors carry
// caller-supplied detail; everything else is reduced to its sentinel.
func safeMessage(err error) string {
	if domain.IsInputError(err) {
		var opErr *domain.OpError
		if errors.As(err, &opErr) {
			return opErr.Err.Error()
		}
		return err.Error()
	}
	for _, sentinel := range []error{
		domain.ErrTimeout,
		domain.ErrEmbeddingUnavailable,
		domain.ErrIndexCorruption,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "internal error"
}

func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, safeMessage(err))
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	for _, h := range s.errorHandlers {
		if h(w, err) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
