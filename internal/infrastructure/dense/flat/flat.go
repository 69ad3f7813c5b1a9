// Package flat is an exhaustive squared-L2 nearest-neighbor index over chunk
// embeddings. Distances match a FAISS IndexFlatL2: squared Euclidean, no sqrt.
package flat

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/kirillkom/hybrid-retriever/internal/core/domain"
	"github.com/kirillkom/hybrid-retriever/internal/core/ports"
)

const Kind = "flat-l2"

// Index stores vectors contiguously; row i belongs to chunk id i.
type Index struct {
	dim     int
	vectors []float32
}

var _ ports.DenseIndex = (*Index)(nil)

// Build embeds every chunk in one batch and indexes the vectors.
func Build(ctx context.Context, embedder ports.Embedder, chunks []domain.Chunk) (*Index, error) {
	if len(chunks) == 0 {
		return &Index{}, nil
	}

	vectors, err := embedder.Embed(ctx, domain.ChunkTexts(chunks))
	if err != nil {
		return nil, domain.WrapError(domain.ErrEmbedding, "embed chunks", err)
	}
	if len(vectors) != len(chunks) {
		return nil, domain.WrapError(
			domain.ErrEmbedding,
			"embed chunks",
			fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(chunks)),
		)
	}
	return FromVectors(vectors)
}

func FromVectors(vectors [][]float32) (*Index, error) {
	if len(vectors) == 0 {
		return &Index{}, nil
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, domain.WrapError(domain.ErrEmbedding, "index vectors", errors.New("zero-dimensional embedding"))
	}

	flat := make([]float32, 0, dim*len(vectors))
	for i, v := range vectors {
		if len(v) != dim {
			return nil, domain.WrapError(
				domain.ErrEmbedding,
				"index vectors",
				fmt.Errorf("vector %d has dimension %d, expected %d", i, len(v), dim),
			)
		}
		flat = append(flat, v...)
	}
	return &Index{dim: dim, vectors: flat}, nil
}

func (f *Index) Kind() string { return Kind }

func (f *Index) Dimension() int { return f.dim }

func (f *Index) Len() int {
	if f.dim == 0 {
		return 0
	}
	return len(f.vectors) / f.dim
}

// Search scans every vector. Equal distances keep ascending chunk id order.
func (f *Index) Search(query []float32, k int) ([]domain.DenseHit, error) {
	n := f.Len()
	if k <= 0 || n == 0 {
		return nil, nil
	}
	if len(query) != f.dim {
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"dense search",
			fmt.Errorf("query dimension %d, index dimension %d", len(query), f.dim),
		)
	}

	hits := make([]domain.DenseHit, n)
	for i := 0; i < n; i++ {
		hits[i] = domain.DenseHit{
			ChunkID:  i,
			Distance: float64(squaredL2(query, f.vectors[i*f.dim:(i+1)*f.dim])),
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Distance < hits[j].Distance
	})
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
