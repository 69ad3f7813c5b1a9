package domain

// Chunk is a passage of corpus text. ID is its zero-based position in the
// splitter output and addresses the chunk in both indexes.
type Chunk struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

func ChunksFromTexts(texts []string) []Chunk {
	out := make([]Chunk, len(texts))
	for i, text := range texts {
		out[i] = Chunk{ID: i, Text: text}
	}
	return out
}

func ChunkTexts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}
