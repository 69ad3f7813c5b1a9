package chunking

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	defaultSentencesPerChunk = 3
	wordsPerSentence         = 20
)

// Splitter groups sentences into passages. When the text has fewer sentences
// than one group it falls back to fixed windows of SentencesPerChunk*20 words.
type Splitter struct {
	SentencesPerChunk int
}

func NewSplitter(sentencesPerChunk int) *Splitter {
	if sentencesPerChunk <= 0 {
		sentencesPerChunk = defaultSentencesPerChunk
	}
	return &Splitter{SentencesPerChunk: sentencesPerChunk}
}

func (s *Splitter) Split(text string) []string {
	group := s.SentencesPerChunk
	if group <= 0 {
		group = defaultSentencesPerChunk
	}

	sentences := splitSentences(text)
	var chunks []string
	if len(sentences) < group {
		chunks = windows(strings.Fields(text), group*wordsPerSentence)
	} else {
		chunks = windows(sentences, group)
	}

	out := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		chunk = strings.TrimSpace(chunk)
		if chunk != "" {
			out = append(out, chunk)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// splitSentences cuts after '.', '!' or '?' when whitespace follows and drops
// the whitespace run. Blank pieces are not sentences.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		end := i
		for i < len(text) {
			next, nextSize := utf8.DecodeRuneInString(text[i:])
			if !unicode.IsSpace(next) {
				break
			}
			i += nextSize
		}
		if i == end {
			continue
		}
		if piece := text[start:end]; strings.TrimSpace(piece) != "" {
			out = append(out, piece)
		}
		start = i
	}
	if piece := text[start:]; strings.TrimSpace(piece) != "" {
		out = append(out, piece)
	}
	return out
}

func windows(items []string, size int) []string {
	if len(items) == 0 {
		return nil
	}
	out := make([]string, 0, len(items)/size+1)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, strings.Join(items[start:end], " "))
	}
	return out
}
