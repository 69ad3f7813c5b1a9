package bm25

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MarshalBinary layout (little endian):
//
//	uint32 docCount, docCount x uint32 docLength
//	uint32 termCount, then per term (sorted):
//	  uint32 termLen, term bytes, uint32 postingCount, postingCount x (uint32 doc, uint32 tf)
func (idx *Index) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	w := func(v any) {
		_ = binary.Write(&buf, binary.LittleEndian, v)
	}

	w(uint32(len(idx.docLengths)))
	w(idx.docLengths)

	terms := idx.sortedTerms()
	w(uint32(len(terms)))
	for _, term := range terms {
		w(uint32(len(term)))
		buf.WriteString(term)
		postings := idx.inverted[term]
		w(uint32(len(postings)))
		for _, p := range postings {
			w(p.doc)
			w(p.tf)
		}
	}
	return buf.Bytes(), nil
}

func (idx *Index) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)

	docCount, err := readUint32(r)
	if err != nil {
		return fmt.Errorf("read doc count: %w", err)
	}
	if int64(docCount)*4 > int64(r.Len()) {
		return errors.New("doc count exceeds payload")
	}
	docLengths := make([]uint32, docCount)
	if err := binary.Read(r, binary.LittleEndian, docLengths); err != nil {
		return fmt.Errorf("read doc lengths: %w", err)
	}

	termCount, err := readUint32(r)
	if err != nil {
		return fmt.Errorf("read term count: %w", err)
	}
	inverted := make(map[string][]posting, min(int(termCount), r.Len()))
	for i := uint32(0); i < termCount; i++ {
		termLen, err := readUint32(r)
		if err != nil {
			return fmt.Errorf("read term length: %w", err)
		}
		if int64(termLen) > int64(r.Len()) {
			return errors.New("term length exceeds payload")
		}
		term := make([]byte, termLen)
		if _, err := io.ReadFull(r, term); err != nil {
			return fmt.Errorf("read term: %w", err)
		}
		postingCount, err := readUint32(r)
		if err != nil {
			return fmt.Errorf("read posting count: %w", err)
		}
		if int64(postingCount)*8 > int64(r.Len()) {
			return errors.New("posting count exceeds payload")
		}
		postings := make([]posting, postingCount)
		for j := range postings {
			if postings[j].doc, err = readUint32(r); err != nil {
				return fmt.Errorf("read posting doc: %w", err)
			}
			if postings[j].tf, err = readUint32(r); err != nil {
				return fmt.Errorf("read posting tf: %w", err)
			}
			if postings[j].doc >= docCount {
				return fmt.Errorf("posting references chunk %d of %d", postings[j].doc, docCount)
			}
		}
		inverted[string(term)] = postings
	}
	if r.Len() != 0 {
		return fmt.Errorf("%d trailing bytes", r.Len())
	}

	var total uint64
	for _, l := range docLengths {
		total += uint64(l)
	}
	idx.inverted = inverted
	idx.docLengths = docLengths
	idx.recomputeAverage(total)
	return nil
}

// Unmarshal decodes an index produced by MarshalBinary.
func Unmarshal(data []byte) (*Index, error) {
	idx := &Index{}
	if err := idx.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("decode bm25 index: %w", err)
	}
	return idx, nil
}

func readUint32(r io.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}
