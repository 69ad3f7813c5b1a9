// Package bm25 implements the lexical side of hybrid retrieval: an Okapi BM25
// scorer over whitespace-separated, case-sensitive tokens.
//
// Tokenization is deliberately minimal (strings.Fields, no case folding or
// punctuation stripping), so "Sales" and "sales." do not match "sales".
package bm25

import (
	"math"
	"sort"
	"strings"

	"github.com/kirillkom/hybrid-retriever/internal/core/domain"
)

const (
	Kind = "bm25-okapi"

	k1 = 1.5
	b  = 0.75
)

type posting struct {
	doc uint32
	tf  uint32
}

// Index is immutable after Build and safe for concurrent Score calls.
type Index struct {
	inverted   map[string][]posting
	docLengths []uint32
	avgDocLen  float64
}

func Build(chunks []domain.Chunk) *Index {
	idx := &Index{
		inverted:   make(map[string][]posting),
		docLengths: make([]uint32, len(chunks)),
	}

	var total uint64
	for i, chunk := range chunks {
		tokens := tokenize(chunk.Text)
		idx.docLengths[i] = uint32(len(tokens))
		total += uint64(len(tokens))

		tf := make(map[string]uint32, len(tokens))
		order := make([]string, 0, len(tokens))
		for _, token := range tokens {
			if tf[token] == 0 {
				order = append(order, token)
			}
			tf[token]++
		}
		for _, token := range order {
			idx.inverted[token] = append(idx.inverted[token], posting{doc: uint32(i), tf: tf[token]})
		}
	}
	idx.recomputeAverage(total)
	return idx
}

func (idx *Index) Kind() string { return Kind }

func (idx *Index) Len() int { return len(idx.docLengths) }

// Score returns a score for every chunk id, zero where no query token occurs.
func (idx *Index) Score(query string) []float64 {
	scores := make([]float64, len(idx.docLengths))
	if len(scores) == 0 {
		return scores
	}

	n := float64(len(idx.docLengths))
	for _, token := range tokenize(query) {
		postings, ok := idx.inverted[token]
		if !ok {
			continue
		}
		df := float64(len(postings))
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		for _, p := range postings {
			tf := float64(p.tf)
			norm := 1 - b
			if idx.avgDocLen > 0 {
				norm += b * float64(idx.docLengths[p.doc]) / idx.avgDocLen
			}
			scores[p.doc] += idf * (tf * (k1 + 1)) / (tf + k1*norm)
		}
	}
	return scores
}

func (idx *Index) recomputeAverage(total uint64) {
	if len(idx.docLengths) == 0 {
		idx.avgDocLen = 0
		return
	}
	idx.avgDocLen = float64(total) / float64(len(idx.docLengths))
}

func (idx *Index) sortedTerms() []string {
	terms := make([]string, 0, len(idx.inverted))
	for term := range idx.inverted {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return terms
}

func tokenize(text string) []string {
	return strings.Fields(text)
}
