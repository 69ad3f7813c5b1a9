package bundle

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"

	"github.com/klauspost/compress/zstd"
)

// Artifact frame, little endian:
//
//	[4]byte  magic "HRIX"
//	uint16   format version
//	uint8    artifact type
//	uint16+  source key, index kind, build id (length-prefixed strings)
//	uint32   uncompressed payload length
//	uint32   CRC32 (IEEE) of the uncompressed payload
//	...      zstd-compressed payload
const (
	formatVersion uint16 = 1
	maxPayload           = 1 << 30
)

var magic = [4]byte{'H', 'R', 'I', 'X'}

type artifactType uint8

const (
	artifactChunks artifactType = iota + 1
	artifactLexical
	artifactDense
)

func (t artifactType) String() string {
	switch t {
	case artifactChunks:
		return "chunks"
	case artifactLexical:
		return "lexical"
	case artifactDense:
		return "dense"
	default:
		return fmt.Sprintf("artifact(%d)", uint8(t))
	}
}

type frameHeader struct {
	Version uint16
	Type    artifactType
	Key     string
	Kind    string
	BuildID string
}

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

func encodeFrame(h frameHeader, payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(magic[:])
	_ = binary.Write(&buf, binary.LittleEndian, formatVersion)
	buf.WriteByte(byte(h.Type))
	for _, field := range []string{h.Key, h.Kind, h.BuildID} {
		if err := writeString(&buf, field); err != nil {
			return nil, err
		}
	}
	if len(payload) > maxPayload {
		return nil, fmt.Errorf("payload of %d bytes exceeds limit", len(payload))
	}
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(payload)))
	_ = binary.Write(&buf, binary.LittleEndian, crc32.ChecksumIEEE(payload))
	return encoder.EncodeAll(payload, buf.Bytes()), nil
}

func decodeFrame(data []byte) (frameHeader, []byte, error) {
	r := bytes.NewReader(data)
	h, size, checksum, err := readHeader(r)
	if err != nil {
		return h, nil, err
	}

	compressed := data[len(data)-r.Len():]
	payload, err := decoder.DecodeAll(compressed, make([]byte, 0, size))
	if err != nil {
		return h, nil, fmt.Errorf("decompress payload: %w", err)
	}
	if uint32(len(payload)) != size || crc32.ChecksumIEEE(payload) != checksum {
		return h, nil, errors.New("payload checksum mismatch")
	}
	return h, payload, nil
}

// readHeader consumes everything before the compressed payload.
func readHeader(r io.Reader) (h frameHeader, size, checksum uint32, err error) {
	var m [4]byte
	if _, err := io.ReadFull(r, m[:]); err != nil || m != magic {
		return h, 0, 0, errors.New("bad magic")
	}
	if err := binary.Read(r, binary.LittleEndian, &h.Version); err != nil {
		return h, 0, 0, fmt.Errorf("read version: %w", err)
	}
	if h.Version != formatVersion {
		return h, 0, 0, fmt.Errorf("unsupported format version %d", h.Version)
	}
	var t [1]byte
	if _, err := io.ReadFull(r, t[:]); err != nil {
		return h, 0, 0, fmt.Errorf("read artifact type: %w", err)
	}
	h.Type = artifactType(t[0])
	for _, dst := range []*string{&h.Key, &h.Kind, &h.BuildID} {
		if *dst, err = readString(r); err != nil {
			return h, 0, 0, err
		}
	}

	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return h, 0, 0, fmt.Errorf("read payload size: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &checksum); err != nil {
		return h, 0, 0, fmt.Errorf("read checksum: %w", err)
	}
	if size > maxPayload {
		return h, 0, 0, fmt.Errorf("payload size %d exceeds limit", size)
	}
	return h, size, checksum, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("header field of %d bytes exceeds %d", len(s), math.MaxUint16)
	}
	_ = binary.Write(buf, binary.LittleEndian, uint16(len(s)))
	buf.WriteString(s)
	return nil
}

func readString(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", fmt.Errorf("read string length: %w", err)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("read string: %w", err)
	}
	return string(b), nil
}
