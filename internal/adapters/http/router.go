package httpadapter

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/hybrid-retriever/internal/config"
	"github.com/kirillkom/hybrid-retriever/internal/core/domain"
	"github.com/kirillkom/hybrid-retriever/internal/core/ports"
	"github.com/kirillkom/hybrid-retriever/internal/core/usecase"
	"github.com/kirillkom/hybrid-retriever/internal/observability/metrics"
)

const (
	serviceName      = "api"
	backpressureWait = 50 * time.Millisecond
	jsonBodyLimit    = 1 << 20
)

type Router struct {
	cfg         config.Config
	retrieval   ports.RetrievalService
	publisher   ports.IngestPublisher
	extractor   ports.TextExtractor
	httpMetrics *metrics.HTTPServerMetrics
}

// NewRouter builds the HTTP surface. publisher may be nil, in which case
// asynchronous ingestion is refused.
func NewRouter(
	cfg config.Config,
	retrieval ports.RetrievalService,
	publisher ports.IngestPublisher,
	extractor ports.TextExtractor,
	httpMetrics *metrics.HTTPServerMetrics,
) *Router {
	return &Router{
		cfg:         cfg,
		retrieval:   retrieval,
		publisher:   publisher,
		extractor:   extractor,
		httpMetrics: httpMetrics,
	}
}

func (rt *Router) Handler() http.Handler {
	var onReject func(string)
	if rt.httpMetrics != nil {
		onReject = func(reason string) { rt.httpMetrics.RecordRejected(serviceName, reason) }
	}

	var limiter *rate.Limiter
	if rt.cfg.APIRateLimitRPS > 0 {
		burst := rt.cfg.APIRateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rt.cfg.APIRateLimitRPS), burst)
	}

	api := http.NewServeMux()
	api.HandleFunc("POST /v1/sources", rt.ingestSource)
	api.HandleFunc("POST /v1/search", rt.search)
	guarded := rateLimitMiddleware(
		backpressureMiddlewareWithHook(api, rt.cfg.APIMaxInFlight, backpressureWait, onReject),
		limiter,
		onReject,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.httpMetrics != nil {
		mux.Handle("GET /metrics", rt.httpMetrics.Handler())
	}
	mux.Handle("/v1/", guarded)

	var handler http.Handler = mux
	if rt.httpMetrics != nil {
		handler = rt.httpMetrics.Middleware(serviceName, handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ingestRequest struct {
	Source  string `json:"source"`
	Text    string `json:"text"`
	Rebuild bool   `json:"rebuild"`
	Async   bool   `json:"async"`
}

func (rt *Router) ingestSource(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.MaxUploadBytes+jsonBodyLimit)
	req, err := rt.decodeIngest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "source is required"})
		return
	}

	in := domain.IngestRequest{SourceID: req.Source, Text: req.Text, Rebuild: req.Rebuild}
	if req.Async {
		if rt.publisher == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "asynchronous ingestion is not configured"})
			return
		}
		key, err := domain.NormalizeSourceKey(req.Source)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := rt.publisher.PublishSourceIngested(r.Context(), in); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"source_key": key, "status": "queued"})
		return
	}

	result, err := rt.retrieval.Ingest(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) decodeIngest(r *http.Request) (ingestRequest, error) {
	var req ingestRequest
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, domain.WrapError(domain.ErrInvalidInput, "decode ingest request", err)
		}
		return req, nil
	}

	if rt.extractor == nil {
		return req, domain.WrapError(domain.ErrInvalidInput, "decode ingest request", errors.New("file uploads are not supported"))
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return req, domain.WrapError(domain.ErrInvalidInput, "decode ingest request", errors.New("multipart field 'file' is required"))
	}
	defer file.Close()

	text, err := rt.extractor.Extract(r.Context(), header.Filename, file)
	if err != nil {
		return req, err
	}
	req.Text = text
	req.Source = r.FormValue("source")
	req.Rebuild = formBool(r.FormValue("rebuild"))
	req.Async = formBool(r.FormValue("async"))
	return req, nil
}

type searchRequest struct {
	Source   string   `json:"source"`
	Query    string   `json:"query"`
	TopK     int      `json:"top_k"`
	MixRatio *float64 `json:"mix_ratio"`
	Explain  bool     `json:"explain"`
}

type searchResponse struct {
	SourceKey  domain.SourceKey         `json:"source_key"`
	Passages   []string                 `json:"passages"`
	Context    string                   `json:"context"`
	Candidates []domain.ScoredCandidate `json:"candidates,omitempty"`
}

func (rt *Router) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	r.Body = http.MaxBytesReader(w, r.Body, jsonBodyLimit)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Source) == "" || strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "source and query are required"})
		return
	}

	result, err := rt.retrieval.Search(r.Context(), domain.SearchRequest{
		SourceID: req.Source,
		Query:    req.Query,
		TopK:     req.TopK,
		MixRatio: req.MixRatio,
		Explain:  req.Explain,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{
		SourceKey:  result.SourceKey,
		Passages:   result.Passages,
		Context:    usecase.Context(result.Passages),
		Candidates: result.Candidates,
	})
}

func formBool(v string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(v))
	return b
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request_failed", "request_id", requestIDFromContext(r.Context()), "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
