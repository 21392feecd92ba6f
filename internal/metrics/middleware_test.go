package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(Middleware())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/v1", func(r chi.Router) {
		r.Post("/search", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("fail") != "" {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte("{}"))
		})
		r.Post("/classify", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		})
		r.Get("/documents/{id}/categories", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("[]"))
		})
	})
	return r
}

func serve(r http.Handler, method, target string) int {
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(method, target, http.NoBody))
	return rr.Code
}

func TestMiddleware_RecordsDurationAndCount(t *testing.T) {
	r := newRouter()
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/health", "200"))

	if code := serve(r, "GET", "/health"); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}

	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/health", "200")); got != before+1 {
		t.Errorf("expected http_requests_total %v, got %v", before+1, got)
	}
	if testutil.CollectAndCount(httpRequestDuration) == 0 {
		t.Error("expected http_request_duration_seconds observations")
	}
}

func TestMiddleware_StatusCodes(t *testing.T) {
	r := newRouter()
	tests := []struct {
		target string
		path   string
		status string
	}{
		{"/v1/search", "/v1/search", "200"},
		{"/v1/search?fail=1", "/v1/search", "503"},
		{"/v1/classify", "/v1/classify", "400"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", tt.path, tt.status))
			serve(r, "POST", tt.target)
			if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", tt.path, tt.status)); got != before+1 {
				t.Errorf("expected %s %s count %v, got %v", tt.path, tt.status, before+1, got)
			}
		})
	}
}

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	r := newRouter()
	const pattern = "/v1/documents/{id}/categories"
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", pattern, "200"))

	for _, id := range []string{"doc-1", "doc-2", "doc-3"} {
		serve(r, "GET", "/v1/documents/"+id+"/categories")
	}

	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", pattern, "200")); got != before+3 {
		t.Errorf("expected three requests under %s, got %v", pattern, got-before)
	}
}

func TestMiddleware_UnmatchedRoute(t *testing.T) {
	r := newRouter()
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "unknown", "404"))

	if code := serve(r, "GET", "/v2/nowhere"); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}

	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "unknown", "404")); got != before+1 {
		t.Errorf("expected unmatched request labelled unknown, got %v", got-before)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "unknown"},
		{"/v1/search", "/v1/search"},
		{"/v1/documents/{id}/categories", "/v1/documents/{id}/categories"},
	}
	for _, tc := range tests {
		if got := normalizePath(tc.input); got != tc.expected {
			t.Errorf("normalizePath(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}
