// Package chunker splits extracted document text into overlapping, size-bounded segments.
package chunker

import (
	"strings"
	"unicode"
)

const (
	DefaultChunkSize = 2000
	DefaultOverlap   = 200
)

// separators in priority order; the last resort is an arbitrary rune boundary.
var separators = [][]rune{
	[]rune("\n\n"),
	[]rune("\n"),
	[]rune(" "),
}

// Chunk is one segment of the source text. Start and End are rune offsets, End exclusive.
type Chunk struct {
	Index int
	Text  string
	Start int
	End   int
}

type Splitter struct {
	size    int
	overlap int
}

type Option func(*Splitter)

func WithChunkSize(size int) Option {
	return func(s *Splitter) {
		if size > 0 {
			s.size = size
		}
	}
}

func WithOverlap(overlap int) Option {
	return func(s *Splitter) {
		if overlap >= 0 {
			s.overlap = overlap
		}
	}
}

func New(opts ...Option) *Splitter {
	s := &Splitter{size: DefaultChunkSize, overlap: DefaultOverlap}
	for _, opt := range opts {
		opt(s)
	}
	if s.overlap >= s.size {
		s.overlap = s.size - 1
	}
	return s
}

func (s *Splitter) Size() int    { return s.size }
func (s *Splitter) Overlap() int { return s.overlap }

// Split returns the chunks of text in order. Text that fits in one window is returned
// unchanged as a single chunk; blank text yields no chunks. Every chunk holds at most
// Size runes and each chunk starts at or before the end of the previous one.
func (s *Splitter) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	n := len(runes)
	if n <= s.size {
		return []Chunk{{Index: 0, Text: text, Start: 0, End: n}}
	}

	var chunks []Chunk
	start := 0
	for start < n {
		end := start + s.size
		if end >= n {
			end = n
		} else {
			end = s.breakPoint(runes, start, end)
		}

		if piece := string(runes[start:end]); strings.TrimSpace(piece) != "" {
			chunks = append(chunks, Chunk{Index: len(chunks), Text: piece, Start: start, End: end})
		}
		if end >= n {
			break
		}

		next := end - s.overlap
		if next <= start {
			next = end
		}
		start = snapToWord(runes, next, end)
	}
	return chunks
}

// breakPoint picks the split position for the window [start, end), preferring the
// highest-priority separator found in the back half of the window. The separator
// stays with the earlier chunk.
func (s *Splitter) breakPoint(runes []rune, start, end int) int {
	half := start + (end-start)/2
	for _, sep := range separators {
		if p := lastIndex(runes, sep, half, end); p >= 0 {
			return p + len(sep)
		}
	}
	return end
}

func lastIndex(runes, sep []rune, from, to int) int {
	for i := to - len(sep); i >= from; i-- {
		match := true
		for j := range sep {
			if runes[i+j] != sep[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// snapToWord moves pos forward past the next whitespace run inside [pos, limit) so an
// overlapping chunk does not begin mid-word. pos is returned unchanged when there is none.
func snapToWord(runes []rune, pos, limit int) int {
	if pos == 0 || unicode.IsSpace(runes[pos-1]) {
		return pos
	}
	for i := pos; i < limit; i++ {
		if unicode.IsSpace(runes[i]) {
			for i < limit && unicode.IsSpace(runes[i]) {
				i++
			}
			return i
		}
	}
	return pos
}
