package domain

import "time"

// DenseHit is one nearest-neighbor result; Distance is squared L2.
type DenseHit struct {
	ChunkID  int
	Distance float64
}

type ScoredCandidate struct {
	ChunkID int     `json:"chunk_id"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
	Dense   float64 `json:"dense_score"`
	Lexical float64 `json:"lexical_score"`
}

type IngestRequest struct {
	SourceID string `json:"source"`
	Text     string `json:"text"`
	Rebuild  bool   `json:"rebuild"`
	// RequestedAt is set when the request is queued for a worker.
	RequestedAt time.Time `json:"requested_at,omitzero"`
}

type IngestResult struct {
	SourceKey SourceKey `json:"source_key"`
	Chunks    int       `json:"chunks"`
	CacheHit  bool      `json:"cache_hit"`
}

type SearchRequest struct {
	SourceID string
	Query    string
	TopK     int
	MixRatio *float64
	Explain  bool
}

type SearchResult struct {
	SourceKey  SourceKey         `json:"source_key"`
	Passages   []string          `json:"passages"`
	Candidates []ScoredCandidate `json:"candidates,omitempty"`
}
