package ingest

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 50
	minChunkLength      = 10
)

// Span is one window of the source text. Start and End are rune offsets.
type Span struct {
	Index   int
	Start   int
	End     int
	Content string
}

type Chunker struct {
	size    int
	overlap int
}

type ChunkerOption func(*Chunker)

func WithChunkSize(size int) ChunkerOption {
	return func(c *Chunker) {
		if size > 0 {
			c.size = size
		}
	}
}

func WithChunkOverlap(overlap int) ChunkerOption {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

func NewChunker(opts ...ChunkerOption) *Chunker {
	c := &Chunker{size: DefaultChunkSize, overlap: DefaultChunkOverlap}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.size {
		c.overlap = c.size / 4
	}
	return c
}

// Split cuts text into fixed windows. Window i covers
// [max(0, i*size-overlap), min((i+1)*size, len)) so every window after the
// first repeats the tail of its predecessor. Windows that are nearly empty
// once trimmed are dropped but keep their index slot.
func (c *Chunker) Split(text string) []Span {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	total := len(runes)
	windows := (total + c.size - 1) / c.size
	spans := make([]Span, 0, windows)
	for i := 0; i < windows; i++ {
		start := i*c.size - c.overlap
		if start < 0 {
			start = 0
		}
		end := (i + 1) * c.size
		if end > total {
			end = total
		}
		content := string(runes[start:end])
		if utf8.RuneCountInString(strings.TrimSpace(content)) < minChunkLength {
			continue
		}
		spans = append(spans, Span{Index: i, Start: start, End: end, Content: content})
	}
	return spans
}
