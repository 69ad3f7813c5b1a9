package ports

import (
	"context"

	"github.com/kirillkom/hybrid-retriever/internal/core/domain"
)

// RetrievalService is the inbound contract for building and querying corpora.
type RetrievalService interface {
	Ingest(ctx context.Context, req domain.IngestRequest) (*domain.IngestResult, error)
	Search(ctx context.Context, req domain.SearchRequest) (*domain.SearchResult, error)
}

// IngestPublisher hands ingestion off to the asynchronous worker.
type IngestPublisher interface {
	PublishSourceIngested(ctx context.Context, req domain.IngestRequest) error
}
