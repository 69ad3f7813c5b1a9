package flat

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// MarshalBinary layout (little endian): uint32 dim, uint32 count, count*dim float32.
func (f *Index) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(8 + 4*len(f.vectors))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(f.dim))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(f.Len()))
	_ = binary.Write(&buf, binary.LittleEndian, f.vectors)
	return buf.Bytes(), nil
}

func (f *Index) UnmarshalBinary(data []byte) error {
	if len(data) < 8 {
		return fmt.Errorf("payload too short: %d bytes", len(data))
	}
	dim := binary.LittleEndian.Uint32(data[0:4])
	count := binary.LittleEndian.Uint32(data[4:8])
	body := data[8:]
	if uint64(len(body)) != uint64(dim)*uint64(count)*4 {
		return fmt.Errorf("payload holds %d bytes, expected %d vectors of dimension %d", len(body), count, dim)
	}
	if dim == 0 && count != 0 {
		return fmt.Errorf("zero dimension with %d vectors", count)
	}

	vectors := make([]float32, int(dim)*int(count))
	if err := binary.Read(bytes.NewReader(body), binary.LittleEndian, vectors); err != nil {
		return fmt.Errorf("read vectors: %w", err)
	}
	f.dim = int(dim)
	f.vectors = vectors
	if count == 0 {
		f.dim = 0
		f.vectors = nil
	}
	return nil
}

// Unmarshal decodes an index produced by MarshalBinary.
func Unmarshal(data []byte) (*Index, error) {
	f := &Index{}
	if err := f.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("decode flat index: %w", err)
	}
	return f, nil
}
