package bundle

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/kirillkom/hybrid-retriever/internal/core/domain"
)

const chunksKind = "chunk-list"

func encodeChunks(chunks []domain.Chunk) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(chunks)))
	for _, c := range chunks {
		_ = binary.Write(&buf, binary.LittleEndian, uint32(len(c.Text)))
		buf.WriteString(c.Text)
	}
	return buf.Bytes()
}

// decodeChunks restores ids from position, so ids are always dense and zero-based.
func decodeChunks(payload []byte) ([]domain.Chunk, error) {
	r := bytes.NewReader(payload)
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read chunk count: %w", err)
	}
	if int64(count)*4 > int64(r.Len()) {
		return nil, errors.New("chunk count exceeds payload")
	}

	chunks := make([]domain.Chunk, count)
	for i := range chunks {
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("read chunk %d length: %w", i, err)
		}
		if int64(n) > int64(r.Len()) {
			return nil, fmt.Errorf("chunk %d exceeds payload", i)
		}
		text := make([]byte, n)
		if _, err := io.ReadFull(r, text); err != nil {
			return nil, fmt.Errorf("read chunk %d: %w", i, err)
		}
		chunks[i] = domain.Chunk{ID: i, Text: string(text)}
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes", r.Len())
	}
	return chunks, nil
}
