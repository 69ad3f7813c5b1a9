package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/hybrid-retriever/internal/core/domain"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	return rec.Body.String()
}

func TestRetrievalMetricsShareHTTPRegistry(t *testing.T) {
	httpMetrics := NewHTTPServerMetrics("api")
	retrieval := NewRetrievalMetrics("api", httpMetrics.Registry())

	retrieval.RecordCacheLookup(true)
	retrieval.RecordCacheLookup(false)
	retrieval.RecordCacheLookup(false)
	retrieval.RecordBuild("success", 12, 40*time.Millisecond)
	retrieval.RecordSearch("success", 3, 2*time.Millisecond)

	body := scrape(t, httpMetrics.Handler())
	for _, want := range []string{
		`hybrid_cache_lookups_total{result="miss",service="api"} 2`,
		`hybrid_cache_lookups_total{result="hit",service="api"} 1`,
		`hybrid_index_builds_total{service="api",status="success"} 1`,
		`hybrid_search_requests_total{service="api",status="success"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in /metrics output:\n%s", want, body)
		}
	}
}

func TestHTTPMiddlewareLabelsByRoutePattern(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sources/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := m.Middleware("api", mux)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/sources/acme.com", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	body := scrape(t, m.Handler())
	for _, want := range []string{
		`hybrid_http_requests_total{method="POST",route="POST /v1/sources/{id}",service="api",status="418"} 1`,
		`hybrid_http_requests_total{method="GET",route="unmatched",service="api",status="404"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in /metrics output:\n%s", want, body)
		}
	}
	if strings.Contains(body, "acme.com") {
		t.Fatalf("raw path leaked into labels:\n%s", body)
	}
}

func TestResilienceMetrics(t *testing.T) {
	httpMetrics := NewHTTPServerMetrics("api")
	m := NewResilienceMetrics("api", httpMetrics.Registry())
	m.RecordRetry("ollama.embed")
	m.RecordRetry("ollama.embed")
	m.RecordBreakerState("ollama.embed", "closed", "open")

	body := scrape(t, httpMetrics.Handler())
	for _, want := range []string{
		`hybrid_outbound_retries_total{operation="ollama.embed",service="api"} 2`,
		`hybrid_outbound_breaker_open{operation="ollama.embed",service="api"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in /metrics output:\n%s", want, body)
		}
	}
}

func TestWorkerMetricsClassifiesRejectedEvents(t *testing.T) {
	m := NewWorkerMetrics("worker")
	m.StartIngest()
	m.FinishIngest("worker", time.Millisecond, domain.WrapError(domain.ErrInvalidInput, "ingest", errors.New("bad source")))
	m.StartIngest()
	m.FinishIngest("worker", time.Millisecond, nil)

	body := scrape(t, m.Handler())
	for _, want := range []string{
		`hybrid_worker_ingest_total{service="worker",status="rejected"} 1`,
		`hybrid_worker_ingest_total{service="worker",status="success"} 1`,
		`hybrid_worker_ingest_in_flight{service="worker"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in /metrics output:\n%s", want, body)
		}
	}
}
