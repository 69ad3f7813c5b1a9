package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/hybrid-retriever/internal/core/domain"
	"github.com/kirillkom/hybrid-retriever/internal/core/ports"
	"github.com/kirillkom/hybrid-retriever/internal/infrastructure/cache/bundle"
	"github.com/kirillkom/hybrid-retriever/internal/infrastructure/chunking"
	"github.com/kirillkom/hybrid-retriever/internal/infrastructure/dense/flat"
	"github.com/kirillkom/hybrid-retriever/internal/infrastructure/embedding/hashing"
	"github.com/kirillkom/hybrid-retriever/internal/infrastructure/lexical/bm25"
	"github.com/kirillkom/hybrid-retriever/internal/infrastructure/storage/localfs"
)

type retrievalMetricsFake struct {
	mu       sync.Mutex
	hits     int
	misses   int
	builds   map[string]int
	searches map[string]int
}

func newRetrievalMetricsFake() *retrievalMetricsFake {
	return &retrievalMetricsFake{builds: map[string]int{}, searches: map[string]int{}}
}

func (m *retrievalMetricsFake) RecordCacheLookup(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.hits++
	} else {
		m.misses++
	}
}

func (m *retrievalMetricsFake) RecordBuild(status string, _ int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.builds[status]++
}

func (m *retrievalMetricsFake) RecordSearch(status string, _ int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searches[status]++
}

func newTestService(cache *memoryCacheFake, embedder *vectorEmbedderFake) (*RetrievalService, *retrievalMetricsFake) {
	metrics := newRetrievalMetricsFake()
	deps := newDeps(staticChunker{texts: sixChunks}, embedder, cache)
	deps.Metrics = metrics
	return NewRetrievalService(deps, ServiceOptions{DefaultTopK: 3, DefaultMixRatio: 0.5}), metrics
}

func TestServiceIngestThenSearch(t *testing.T) {
	svc, metrics := newTestService(newMemoryCacheFake(), &vectorEmbedderFake{})

	res, err := svc.Ingest(context.Background(), domain.IngestRequest{SourceID: "https://acme.com/faq", Text: "ignored"})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if res.SourceKey != "acme.com_faq" || res.Chunks != len(sixChunks) || res.CacheHit {
		t.Fatalf("unexpected ingest result %+v", res)
	}

	mix := 0.0
	out, err := svc.Search(context.Background(), domain.SearchRequest{
		SourceID: "acme.com/faq",
		Query:    "quarterly invoice",
		MixRatio: &mix,
		Explain:  true,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(out.Passages) != 1 || out.Passages[0] != sixChunks[4] {
		t.Fatalf("passages = %q", out.Passages)
	}
	if len(out.Candidates) != 1 || out.Candidates[0].ChunkID != 4 {
		t.Fatalf("candidates = %+v", out.Candidates)
	}
	if metrics.builds["success"] != 1 || metrics.searches["success"] != 1 {
		t.Fatalf("unexpected metrics builds=%v searches=%v", metrics.builds, metrics.searches)
	}
}

func TestServiceSearchWithoutExplainOmitsCandidates(t *testing.T) {
	svc, _ := newTestService(newMemoryCacheFake(), &vectorEmbedderFake{})
	if _, err := svc.Ingest(context.Background(), domain.IngestRequest{SourceID: "s", Text: "x"}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	out, err := svc.Search(context.Background(), domain.SearchRequest{SourceID: "s", Query: "Lunch"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if out.Candidates != nil {
		t.Fatalf("expected no candidates, got %+v", out.Candidates)
	}
	if len(out.Passages) == 0 || len(out.Passages) > 3 {
		t.Fatalf("expected 1..3 passages with default top k, got %d", len(out.Passages))
	}
}

func TestServiceSearchUnknownSource(t *testing.T) {
	svc, metrics := newTestService(newMemoryCacheFake(), &vectorEmbedderFake{})
	_, err := svc.Search(context.Background(), domain.SearchRequest{SourceID: "nowhere", Query: "q"})
	if !domain.IsKind(err, domain.ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound, got %v", err)
	}
	if metrics.searches["error"] != 1 {
		t.Fatalf("expected an error search metric, got %v", metrics.searches)
	}
}

func TestServiceSearchLoadsSourceBuiltElsewhere(t *testing.T) {
	cache := newMemoryCacheFake()
	builder, _ := newTestService(cache, &vectorEmbedderFake{})
	if _, err := builder.Ingest(context.Background(), domain.IngestRequest{SourceID: "shared", Text: "x"}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	embedder := &vectorEmbedderFake{}
	reader, _ := newTestService(cache, embedder)
	out, err := reader.Search(context.Background(), domain.SearchRequest{SourceID: "shared", Query: "Parking permits"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(out.Passages) == 0 || out.Passages[0] != sixChunks[5] {
		t.Fatalf("passages = %q", out.Passages)
	}
	if embedder.embedCalls != 0 {
		t.Fatalf("loading must not re-embed chunks, got %d calls", embedder.embedCalls)
	}
}

func TestServiceRebuildDeletesCachedBundle(t *testing.T) {
	cache := newMemoryCacheFake()
	embedder := &vectorEmbedderFake{}
	svc, _ := newTestService(cache, embedder)
	ctx := context.Background()

	if _, err := svc.Ingest(ctx, domain.IngestRequest{SourceID: "s", Text: "x"}); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	res, err := svc.Ingest(ctx, domain.IngestRequest{SourceID: "s", Text: "x"})
	if err != nil || !res.CacheHit {
		t.Fatalf("second ingest should hit the cache, got %+v, %v", res, err)
	}
	res, err = svc.Ingest(ctx, domain.IngestRequest{SourceID: "s", Text: "x", Rebuild: true})
	if err != nil {
		t.Fatalf("rebuild ingest: %v", err)
	}
	if res.CacheHit || cache.deletes != 1 || embedder.embedCalls != 2 {
		t.Fatalf("rebuild must rebuild: result=%+v deletes=%d embeds=%d", res, cache.deletes, embedder.embedCalls)
	}
}

func TestServiceIngestRejectsInvalidSource(t *testing.T) {
	svc, _ := newTestService(newMemoryCacheFake(), &vectorEmbedderFake{})
	if _, err := svc.Ingest(context.Background(), domain.IngestRequest{SourceID: "///", Text: "x"}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestServiceConcurrentIngestAndSearch(t *testing.T) {
	svc, _ := newTestService(newMemoryCacheFake(), &vectorEmbedderFake{})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Ingest(ctx, domain.IngestRequest{SourceID: "busy", Text: "x"}); err != nil {
				errs <- err
				return
			}
			if _, err := svc.Search(ctx, domain.SearchRequest{SourceID: "busy", Query: "Lunch"}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent call failed: %v", err)
	}
}

func TestContextJoinsPassagesWithBlankLines(t *testing.T) {
	if got := Context([]string{"one", "two"}); got != "one\n\ntwo" {
		t.Fatalf("Context() = %q", got)
	}
	if got := Context(nil); got != "" {
		t.Fatalf("Context(nil) = %q", got)
	}
}

// gatedEmbedderFake blocks Embed until release is closed or ctx ends.
type gatedEmbedderFake struct {
	*vectorEmbedderFake
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func newGatedEmbedderFake() *gatedEmbedderFake {
	return &gatedEmbedderFake{
		vectorEmbedderFake: &vectorEmbedderFake{},
		started:            make(chan struct{}, 8),
		release:            make(chan struct{}),
	}
}

func (f *gatedEmbedderFake) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls.Add(1)
	f.started <- struct{}{}
	select {
	case <-f.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return f.vectorEmbedderFake.Embed(ctx, texts)
}

func waitStarted(t *testing.T, f *gatedEmbedderFake) {
	t.Helper()
	select {
	case <-f.started:
	case <-time.After(5 * time.Second):
		t.Fatal("embedding never started")
	}
}

func TestServiceRebuildIsNotMergedIntoInFlightIngest(t *testing.T) {
	cache := newMemoryCacheFake()
	embedder := newGatedEmbedderFake()
	svc := NewRetrievalService(newDeps(staticChunker{texts: sixChunks}, embedder, cache), ServiceOptions{})
	ctx := context.Background()

	type outcome struct {
		res *domain.IngestResult
		err error
	}
	plain := make(chan outcome, 1)
	go func() {
		res, err := svc.Ingest(ctx, domain.IngestRequest{SourceID: "s", Text: "x"})
		plain <- outcome{res, err}
	}()
	waitStarted(t, embedder)

	rebuilt := make(chan outcome, 1)
	go func() {
		res, err := svc.Ingest(ctx, domain.IngestRequest{SourceID: "s", Text: "x", Rebuild: true})
		rebuilt <- outcome{res, err}
	}()
	waitStarted(t, embedder)
	close(embedder.release)

	if out := <-plain; out.err != nil {
		t.Fatalf("plain ingest: %v", out.err)
	}
	out := <-rebuilt
	if out.err != nil {
		t.Fatalf("rebuild ingest: %v", out.err)
	}
	if out.res.CacheHit {
		t.Fatal("rebuild must not report a cache hit")
	}
	if cache.deletes != 1 || embedder.calls.Load() != 2 {
		t.Fatalf("deletes=%d embeds=%d, want 1 and 2", cache.deletes, embedder.calls.Load())
	}
}

func TestServiceCanceledCallerDoesNotAbortSharedBuild(t *testing.T) {
	cache := newMemoryCacheFake()
	embedder := newGatedEmbedderFake()
	svc := NewRetrievalService(newDeps(staticChunker{texts: sixChunks}, embedder, cache), ServiceOptions{})

	callerCtx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := svc.Ingest(callerCtx, domain.IngestRequest{SourceID: "s", Text: "x"})
		first <- err
	}()
	waitStarted(t, embedder)
	cancel()

	select {
	case err := <-first:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("canceled caller got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("canceled caller kept waiting for the build")
	}

	close(embedder.release)
	if _, err := svc.Ingest(context.Background(), domain.IngestRequest{SourceID: "s", Text: "x"}); err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if got := embedder.calls.Load(); got != 1 {
		t.Fatalf("the build must finish once and be reused, got %d embed calls", got)
	}
	out, err := svc.Search(context.Background(), domain.SearchRequest{SourceID: "s", Query: "Lunch"})
	if err != nil || len(out.Passages) == 0 {
		t.Fatalf("Search() = %+v, %v", out, err)
	}
}

func TestServiceReloadsGenerationStoredByAnotherService(t *testing.T) {
	cache := newMemoryCacheFake()
	reader := NewRetrievalService(newDeps(staticChunker{texts: sixChunks}, &vectorEmbedderFake{}, cache), ServiceOptions{DefaultTopK: 1})
	writer := NewRetrievalService(newDeps(staticChunker{texts: []string{"Lunch moved to one o'clock."}}, &vectorEmbedderFake{}, cache), ServiceOptions{DefaultTopK: 1})
	ctx := context.Background()

	if _, err := reader.Ingest(ctx, domain.IngestRequest{SourceID: "s", Text: "x"}); err != nil {
		t.Fatalf("reader ingest: %v", err)
	}
	if _, err := writer.Ingest(ctx, domain.IngestRequest{SourceID: "s", Text: "x", Rebuild: true}); err != nil {
		t.Fatalf("writer rebuild: %v", err)
	}

	out, err := reader.Search(ctx, domain.SearchRequest{SourceID: "s", Query: "Lunch"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(out.Passages) != 1 || out.Passages[0] != "Lunch moved to one o'clock." {
		t.Fatalf("reader served stale passages %q", out.Passages)
	}
}

func TestServiceKeepsRetrieverWhileCachedBundleIsAbsent(t *testing.T) {
	cache := newMemoryCacheFake()
	svc, _ := newTestService(cache, &vectorEmbedderFake{})
	ctx := context.Background()
	if _, err := svc.Ingest(ctx, domain.IngestRequest{SourceID: "s", Text: "x"}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if err := cache.Delete(ctx, "s"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	out, err := svc.Search(ctx, domain.SearchRequest{SourceID: "s", Query: "Lunch"})
	if err != nil || len(out.Passages) == 0 || out.Passages[0] != sixChunks[3] {
		t.Fatalf("Search() = %+v, %v", out, err)
	}
}

func TestServiceRevalidatesOncePerInterval(t *testing.T) {
	cache := newMemoryCacheFake()
	deps := newDeps(staticChunker{texts: sixChunks}, &vectorEmbedderFake{}, cache)
	svc := NewRetrievalService(deps, ServiceOptions{RevalidateInterval: time.Minute})
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }
	ctx := context.Background()

	if _, err := svc.Ingest(ctx, domain.IngestRequest{SourceID: "s", Text: "x"}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	search := func() {
		t.Helper()
		if _, err := svc.Search(ctx, domain.SearchRequest{SourceID: "s", Query: "Lunch"}); err != nil {
			t.Fatalf("Search() error = %v", err)
		}
	}

	search()
	search()
	if cache.buildIDCalls != 0 {
		t.Fatalf("no revalidation expected inside the interval, got %d", cache.buildIDCalls)
	}
	clock = clock.Add(time.Minute)
	search()
	search()
	if cache.buildIDCalls != 1 {
		t.Fatalf("expected one revalidation after the interval, got %d", cache.buildIDCalls)
	}
}

func TestServiceServesRebuildAcrossProcessesOnLocalfs(t *testing.T) {
	dir := t.TempDir()
	newService := func() *RetrievalService {
		storage, err := localfs.New(dir)
		if err != nil {
			t.Fatalf("localfs.New() error = %v", err)
		}
		store := bundle.New(storage, nil)
		store.RegisterLexical(bm25.Kind, func(data []byte) (ports.LexicalIndex, error) { return bm25.Unmarshal(data) })
		store.RegisterDense(flat.Kind, func(data []byte) (ports.DenseIndex, error) { return flat.Unmarshal(data) })
		return NewRetrievalService(newDeps(chunking.NewSplitter(1), hashing.New(64), store), ServiceOptions{DefaultTopK: 1})
	}
	api, worker := newService(), newService()
	ctx := context.Background()
	const source = "https://acme.com/pricing"

	if _, err := api.Ingest(ctx, domain.IngestRequest{
		SourceID: source,
		Text:     "The basic plan costs ten dollars. Support answers on weekdays.",
	}); err != nil {
		t.Fatalf("api ingest: %v", err)
	}
	if _, err := worker.Ingest(ctx, domain.IngestRequest{
		SourceID: source,
		Text:     "The basic plan costs twelve dollars. Support answers on weekdays.",
		Rebuild:  true,
	}); err != nil {
		t.Fatalf("worker rebuild: %v", err)
	}

	out, err := api.Search(ctx, domain.SearchRequest{SourceID: source, Query: "basic plan costs"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(out.Passages) != 1 || out.Passages[0] != "The basic plan costs twelve dollars." {
		t.Fatalf("api served %q after the worker rebuilt the source", out.Passages)
	}
}
