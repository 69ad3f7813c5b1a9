package flat

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/kirillkom/hybrid-retriever/internal/core/domain"
)

type embedderFake struct {
	vectors [][]float32
	err     error
	calls   int
}

func (f *embedderFake) Embed(context.Context, []string) ([][]float32, error) {
	f.calls++
	return f.vectors, f.err
}

func (f *embedderFake) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, errors.New("not used")
}

func TestSearchOrdersByDistanceThenChunkID(t *testing.T) {
	idx, err := FromVectors([][]float32{{3, 0}, {1, 0}, {0, 1}, {1, 0}})
	if err != nil {
		t.Fatalf("FromVectors() error = %v", err)
	}

	hits, err := idx.Search([]float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	want := []domain.DenseHit{{ChunkID: 1, Distance: 0}, {ChunkID: 3, Distance: 0}, {ChunkID: 2, Distance: 2}}
	if !reflect.DeepEqual(hits, want) {
		t.Fatalf("Search() = %+v, want %+v", hits, want)
	}
}

func TestSearchBoundsResultCount(t *testing.T) {
	idx, _ := FromVectors([][]float32{{0}, {1}})
	hits, err := idx.Search([]float32{0}, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits, _ := idx.Search([]float32{0}, 0); len(hits) != 0 {
		t.Fatalf("expected no hits for k=0")
	}
}

func TestSearchRejectsDimensionMismatch(t *testing.T) {
	idx, _ := FromVectors([][]float32{{0, 1}})
	_, err := idx.Search([]float32{0, 1, 2}, 1)
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestBuildPropagatesEmbeddingFailure(t *testing.T) {
	embedder := &embedderFake{err: errors.New("model unavailable")}
	_, err := Build(context.Background(), embedder, domain.ChunksFromTexts([]string{"a"}))
	if !domain.IsKind(err, domain.ErrEmbedding) {
		t.Fatalf("expected ErrEmbedding, got %v", err)
	}
}

func TestBuildRejectsMismatchedVectors(t *testing.T) {
	embedder := &embedderFake{vectors: [][]float32{{1, 2}, {1}}}
	_, err := Build(context.Background(), embedder, domain.ChunksFromTexts([]string{"a", "b"}))
	if err == nil {
		t.Fatalf("expected error for ragged vectors")
	}

	embedder = &embedderFake{vectors: [][]float32{{1, 2}}}
	_, err = Build(context.Background(), embedder, domain.ChunksFromTexts([]string{"a", "b"}))
	if err == nil {
		t.Fatalf("expected error for vector count mismatch")
	}
}

func TestBuildEmptyCorpusSkipsEmbedder(t *testing.T) {
	embedder := &embedderFake{}
	idx, err := Build(context.Background(), embedder, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if idx.Len() != 0 || embedder.calls != 0 {
		t.Fatalf("expected empty index without embedder calls, len=%d calls=%d", idx.Len(), embedder.calls)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	idx, _ := FromVectors([][]float32{{0.5, -1}, {2, 3.25}, {0, 0}})
	raw, err := idx.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}
	loaded, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if loaded.Len() != 3 || loaded.Dimension() != 2 {
		t.Fatalf("unexpected shape len=%d dim=%d", loaded.Len(), loaded.Dimension())
	}
	want, _ := idx.Search([]float32{1, 1}, 3)
	got, _ := loaded.Search([]float32{1, 1}, 3)
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("hits differ after round trip: %+v vs %+v", want, got)
	}

	if _, err := Unmarshal(raw[:len(raw)-1]); err == nil {
		t.Fatalf("expected error for truncated payload")
	}
}
