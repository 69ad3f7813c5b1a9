package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kirillkom/hybrid-retriever/internal/core/domain"
	"github.com/kirillkom/hybrid-retriever/internal/core/ports"
)

type ServiceOptions struct {
	DefaultTopK     int
	DefaultMixRatio float64
	// RevalidateInterval is how long a registered retriever is served before
	// its BuildID is compared with the cache again. Zero checks every lookup.
	RevalidateInterval time.Duration
}

// RetrievalService keeps one retriever per source key. Builds and loads of
// the same key are collapsed into a single flight, and a retriever is
// reloaded once another process stores a newer generation for its key.
type RetrievalService struct {
	deps RetrieverDeps
	opts ServiceOptions
	now  func() time.Time

	mu         sync.RWMutex
	retrievers map[domain.SourceKey]registered
	flights    singleflight.Group
}

type registered struct {
	retriever *HybridRetriever
	checkedAt time.Time
}

var _ ports.RetrievalService = (*RetrievalService)(nil)

func NewRetrievalService(deps RetrieverDeps, opts ServiceOptions) *RetrievalService {
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = DefaultTopK
	}
	if opts.RevalidateInterval < 0 {
		opts.RevalidateInterval = 0
	}
	return &RetrievalService{
		deps:       deps,
		opts:       opts,
		now:        time.Now,
		retrievers: make(map[domain.SourceKey]registered),
	}
}

func (s *RetrievalService) Ingest(ctx context.Context, req domain.IngestRequest) (*domain.IngestResult, error) {
	key, err := domain.NormalizeSourceKey(req.SourceID)
	if err != nil {
		return nil, err
	}

	flight := "build:" + string(key)
	if req.Rebuild {
		flight += ":rebuild"
	}
	v, err := s.do(ctx, flight, func(ctx context.Context) (any, error) {
		if req.Rebuild {
			if err := s.deps.Cache.Delete(ctx, key); err != nil {
				return nil, fmt.Errorf("delete cached bundle %s: %w", key, err)
			}
		}
		retriever, err := NewHybridRetriever(ctx, s.deps, req.Text, req.SourceID)
		if err != nil {
			return nil, err
		}
		s.store(retriever)
		return retriever, nil
	})
	if err != nil {
		s.deps.logger().Error("ingest_failed", "source_key", key, "error", err)
		return nil, err
	}

	retriever := v.(*HybridRetriever)
	s.deps.logger().Info("source_ingested",
		"source_key", key,
		"chunks", len(retriever.Chunks()),
		"cache_hit", retriever.CacheHit(),
		"rebuild", req.Rebuild,
	)
	return &domain.IngestResult{
		SourceKey: key,
		Chunks:    len(retriever.Chunks()),
		CacheHit:  retriever.CacheHit(),
	}, nil
}

func (s *RetrievalService) Search(ctx context.Context, req domain.SearchRequest) (*domain.SearchResult, error) {
	start := time.Now()
	result, err := s.search(ctx, req)

	status := "success"
	results := 0
	if err != nil {
		status = "error"
	} else {
		results = len(result.Passages)
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordSearch(status, results, time.Since(start))
	}
	return result, err
}

func (s *RetrievalService) search(ctx context.Context, req domain.SearchRequest) (*domain.SearchResult, error) {
	key, err := domain.NormalizeSourceKey(req.SourceID)
	if err != nil {
		return nil, err
	}
	retriever, err := s.retriever(ctx, key, req.SourceID)
	if err != nil {
		return nil, err
	}

	topK := req.TopK
	if topK <= 0 {
		topK = s.opts.DefaultTopK
	}
	mix := s.opts.DefaultMixRatio
	if req.MixRatio != nil {
		mix = *req.MixRatio
	}

	candidates, err := retriever.SearchScored(ctx, req.Query, topK, mix)
	if err != nil {
		return nil, err
	}

	passages := make([]string, len(candidates))
	for i, c := range candidates {
		passages[i] = c.Text
	}
	result := &domain.SearchResult{SourceKey: key, Passages: passages}
	if req.Explain {
		result.Candidates = candidates
	}
	return result, nil
}

// retriever returns the in-process retriever for key, falling back to the
// cache store for sources built by another process.
func (s *RetrievalService) retriever(ctx context.Context, key domain.SourceKey, sourceID string) (*HybridRetriever, error) {
	s.mu.RLock()
	entry, ok := s.retrievers[key]
	s.mu.RUnlock()
	if !ok {
		return s.load(ctx, key, sourceID)
	}
	if s.now().Sub(entry.checkedAt) < s.opts.RevalidateInterval {
		return entry.retriever, nil
	}
	return s.revalidate(ctx, key, sourceID, entry.retriever), nil
}

// revalidate keeps serving current unless the cache holds a different
// generation that loads cleanly. A bundle that is absent or half written
// during another process's rebuild leaves current in place.
func (s *RetrievalService) revalidate(ctx context.Context, key domain.SourceKey, sourceID string, current *HybridRetriever) *HybridRetriever {
	buildID, err := s.deps.Cache.BuildID(ctx, key)
	if err != nil {
		if !domain.IsKind(err, domain.ErrCacheMiss) {
			s.deps.logger().Warn("cache_build_id_failed", "source_key", key, "error", err)
		}
		return current
	}
	if buildID == current.BuildID() {
		s.touch(current)
		return current
	}

	fresh, err := s.load(ctx, key, sourceID)
	if err != nil {
		s.deps.logger().Warn("retriever_reload_failed",
			"source_key", key,
			"build_id", current.BuildID(),
			"cached_build_id", buildID,
			"error", err,
		)
		return current
	}
	s.deps.logger().Info("retriever_reloaded",
		"source_key", key,
		"previous_build_id", current.BuildID(),
		"build_id", fresh.BuildID(),
	)
	return fresh
}

func (s *RetrievalService) load(ctx context.Context, key domain.SourceKey, sourceID string) (*HybridRetriever, error) {
	v, err := s.do(ctx, "load:"+string(key), func(ctx context.Context) (any, error) {
		r, err := LoadHybridRetriever(ctx, s.deps, sourceID)
		if err != nil {
			return nil, err
		}
		s.store(r)
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*HybridRetriever), nil
}

// do runs fn once per flight key. The shared call is detached from any one
// caller's cancellation, and each caller stops waiting when its own ctx ends.
func (s *RetrievalService) do(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	detached := context.WithoutCancel(ctx)
	ch := s.flights.DoChan(key, func() (any, error) { return fn(detached) })
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *RetrievalService) store(r *HybridRetriever) {
	s.mu.Lock()
	s.retrievers[r.Key()] = registered{retriever: r, checkedAt: s.now()}
	s.mu.Unlock()
}

// touch restarts the revalidation interval if r is still the registered one.
func (s *RetrievalService) touch(r *HybridRetriever) {
	s.mu.Lock()
	if entry, ok := s.retrievers[r.Key()]; ok && entry.retriever == r {
		entry.checkedAt = s.now()
		s.retrievers[r.Key()] = entry
	}
	s.mu.Unlock()
}

// Context joins passages the way they are handed to a generator.
func Context(passages []string) string {
	return strings.Join(passages, "\n\n")
}
