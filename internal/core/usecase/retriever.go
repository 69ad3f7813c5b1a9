package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/hybrid-retriever/internal/core/domain"
	"github.com/kirillkom/hybrid-retriever/internal/core/ports"
)

const DefaultTopK = 5

type RetrieverDeps struct {
	Chunker      ports.Chunker
	Embedder     ports.Embedder
	Cache        ports.BundleCache
	BuildLexical ports.LexicalBuilder
	BuildDense   ports.DenseBuilder
	Metrics      ports.RetrievalMetrics
	Logger       *slog.Logger
}

func (d RetrieverDeps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// HybridRetriever answers queries over one source's immutable bundle.
type HybridRetriever struct {
	bundle   *ports.IndexBundle
	embedder ports.Embedder
	cacheHit bool
}

// NewHybridRetriever adopts the cached bundle for sourceID when one exists and
// otherwise builds it from text and saves it.
func NewHybridRetriever(ctx context.Context, deps RetrieverDeps, text, sourceID string) (*HybridRetriever, error) {
	key, err := domain.NormalizeSourceKey(sourceID)
	if err != nil {
		return nil, err
	}

	if bundle, ok := loadBundle(ctx, deps, key); ok {
		return &HybridRetriever{bundle: bundle, embedder: deps.Embedder, cacheHit: true}, nil
	}

	start := time.Now()
	bundle, err := buildBundle(ctx, deps, key, text)
	if err != nil {
		recordBuild(deps, "error", 0, time.Since(start))
		return nil, err
	}
	if err := deps.Cache.Save(ctx, bundle); err != nil {
		recordBuild(deps, "error", len(bundle.Chunks), time.Since(start))
		return nil, fmt.Errorf("save bundle %s: %w", key, err)
	}
	recordBuild(deps, "success", len(bundle.Chunks), time.Since(start))

	deps.logger().Info("bundle_built",
		"source_key", key,
		"build_id", bundle.BuildID,
		"chunks", len(bundle.Chunks),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &HybridRetriever{bundle: bundle, embedder: deps.Embedder}, nil
}

// LoadHybridRetriever opens a previously built source without its text.
func LoadHybridRetriever(ctx context.Context, deps RetrieverDeps, sourceID string) (*HybridRetriever, error) {
	key, err := domain.NormalizeSourceKey(sourceID)
	if err != nil {
		return nil, err
	}
	bundle, ok := loadBundle(ctx, deps, key)
	if !ok {
		return nil, domain.WrapError(domain.ErrSourceNotFound, "load retriever", fmt.Errorf("no cached bundle for %s", key))
	}
	return &HybridRetriever{bundle: bundle, embedder: deps.Embedder, cacheHit: true}, nil
}

func loadBundle(ctx context.Context, deps RetrieverDeps, key domain.SourceKey) (*ports.IndexBundle, bool) {
	bundle, err := deps.Cache.Load(ctx, key)
	hit := err == nil && bundle != nil
	if deps.Metrics != nil {
		deps.Metrics.RecordCacheLookup(hit)
	}
	if err != nil && !domain.IsKind(err, domain.ErrCacheMiss) {
		deps.logger().Warn("cache_load_failed", "source_key", key, "error", err)
	}
	return bundle, hit
}

func buildBundle(ctx context.Context, deps RetrieverDeps, key domain.SourceKey, text string) (*ports.IndexBundle, error) {
	chunks := domain.ChunksFromTexts(deps.Chunker.Split(text))
	bundle := &ports.IndexBundle{Key: key, Chunks: chunks}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lexical, err := deps.BuildLexical(chunks)
		if err != nil {
			return fmt.Errorf("build lexical index: %w", err)
		}
		bundle.Lexical = lexical
		return nil
	})
	g.Go(func() error {
		dense, err := deps.BuildDense(gctx, chunks)
		if err != nil {
			return fmt.Errorf("build dense index: %w", err)
		}
		bundle.Dense = dense
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return bundle, nil
}

func recordBuild(deps RetrieverDeps, status string, chunks int, d time.Duration) {
	if deps.Metrics != nil {
		deps.Metrics.RecordBuild(status, chunks, d)
	}
}

func (r *HybridRetriever) Key() domain.SourceKey { return r.bundle.Key }

func (r *HybridRetriever) BuildID() string { return r.bundle.BuildID }

func (r *HybridRetriever) Chunks() []domain.Chunk { return r.bundle.Chunks }

// CacheHit reports whether the bundle came from the cache store.
func (r *HybridRetriever) CacheHit() bool { return r.cacheHit }

// Search returns up to topK chunk texts, best first.
func (r *HybridRetriever) Search(ctx context.Context, query string, topK int, mixRatio float64) ([]string, error) {
	candidates, err := r.SearchScored(ctx, query, topK, mixRatio)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.Text
	}
	return out, nil
}

// SearchScored fuses dense and lexical evidence. Only the dense top-k receive
// a dense score; every chunk receives a lexical score. Candidates with a fused
// score of zero are dropped, so fewer than topK results may come back.
func (r *HybridRetriever) SearchScored(ctx context.Context, query string, topK int, mixRatio float64) ([]domain.ScoredCandidate, error) {
	if math.IsNaN(mixRatio) || mixRatio < 0 || mixRatio > 1 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search", fmt.Errorf("mix ratio %v outside [0,1]", mixRatio))
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	chunks := r.bundle.Chunks
	if len(chunks) == 0 {
		return []domain.ScoredCandidate{}, nil
	}

	queryVector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, domain.WrapError(domain.ErrEmbedding, "embed query", err)
	}

	hits, err := r.bundle.Dense.Search(queryVector, topK)
	if err != nil {
		return nil, fmt.Errorf("dense search: %w", err)
	}
	dense := make([]float64, len(chunks))
	for _, h := range hits {
		if h.ChunkID < 0 || h.ChunkID >= len(chunks) {
			return nil, fmt.Errorf("dense search: chunk id %d out of range", h.ChunkID)
		}
		dense[h.ChunkID] = 1 / (1 + h.Distance)
	}

	lexical := r.bundle.Lexical.Score(query)
	if len(lexical) != len(chunks) {
		return nil, errors.New("lexical search: score count does not match chunk count")
	}

	candidates := make([]domain.ScoredCandidate, 0, len(chunks))
	for id, chunk := range chunks {
		fused := mixRatio*dense[id] + (1-mixRatio)*lexical[id]
		if fused == 0 {
			continue
		}
		candidates = append(candidates, domain.ScoredCandidate{
			ChunkID: id,
			Text:    chunk.Text,
			Score:   fused,
			Dense:   dense[id],
			Lexical: lexical[id],
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}
