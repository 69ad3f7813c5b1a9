package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/hybrid-retriever/internal/core/domain"
)

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Chunker splits text into the ordered passages of a corpus.
type Chunker interface {
	Split(text string) []string
}

// LexicalIndex scores a query against every chunk of a corpus.
type LexicalIndex interface {
	Kind() string
	Len() int
	// Score returns one non-negative score per chunk id.
	Score(query string) []float64
	MarshalBinary() ([]byte, error)
}

// DenseIndex answers nearest-neighbor lookups over embedded chunks.
type DenseIndex interface {
	Kind() string
	Len() int
	Dimension() int
	// Search returns at most k hits in ascending distance order.
	Search(query []float32, k int) ([]domain.DenseHit, error)
	MarshalBinary() ([]byte, error)
}

// LexicalBuilder and DenseBuilder construct fresh indexes for a corpus.
type LexicalBuilder func(chunks []domain.Chunk) (LexicalIndex, error)

type DenseBuilder func(ctx context.Context, chunks []domain.Chunk) (DenseIndex, error)

// IndexBundle is the persisted unit for one source: chunks and both indexes
// built over the same chunk id space.
type IndexBundle struct {
	Key     domain.SourceKey
	BuildID string
	Chunks  []domain.Chunk
	Lexical LexicalIndex
	Dense   DenseIndex
}

// BundleCache persists and loads whole index bundles.
type BundleCache interface {
	// Load returns domain.ErrCacheMiss unless a complete, consistent bundle exists.
	Load(ctx context.Context, key domain.SourceKey) (*IndexBundle, error)
	Save(ctx context.Context, bundle *IndexBundle) error
	Delete(ctx context.Context, key domain.SourceKey) error
	// BuildID reports the generation currently stored for key without
	// decoding the bundle. A missing bundle is domain.ErrCacheMiss.
	BuildID(ctx context.Context, key domain.SourceKey) (string, error)
}

// ArtifactStorage stores opaque cache artifacts by name.
type ArtifactStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// MessageQueue publishes/consumes source ingestion events.
type MessageQueue interface {
	PublishSourceIngested(ctx context.Context, req domain.IngestRequest) error
	SubscribeSourceIngested(ctx context.Context, handler func(context.Context, domain.IngestRequest) error) error
}

// TextExtractor reads plain text from an uploaded body.
type TextExtractor interface {
	Extract(ctx context.Context, name string, body io.Reader) (string, error)
}

// RetrievalMetrics records build, cache and search outcomes.
type RetrievalMetrics interface {
	RecordCacheLookup(hit bool)
	RecordBuild(status string, chunks int, duration time.Duration)
	RecordSearch(status string, results int, duration time.Duration)
}
