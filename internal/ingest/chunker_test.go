package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitWindowsAndOverlap(t *testing.T) {
	text := strings.Repeat("a", 2500)
	spans := NewChunker().Split(text)
	require.Len(t, spans, 3)

	require.Equal(t, 0, spans[0].Start)
	require.Equal(t, 1000, spans[0].End)
	require.Equal(t, 950, spans[1].Start)
	require.Equal(t, 2000, spans[1].End)
	require.Equal(t, 1950, spans[2].Start)
	require.Equal(t, 2500, spans[2].End)
	for i, s := range spans {
		require.Equal(t, i, s.Index)
		require.LessOrEqual(t, len([]rune(s.Content)), 1050)
	}
}

func TestSplitShortTextSingleChunk(t *testing.T) {
	spans := NewChunker().Split("A short but valid sentence.")
	require.Len(t, spans, 1)
	require.Equal(t, "A short but valid sentence.", spans[0].Content)
}

func TestSplitSkipsNearlyEmptyWindows(t *testing.T) {
	text := strings.Repeat("b", 1000) + strings.Repeat(" ", 45) + "tail"
	spans := NewChunker(WithChunkOverlap(0)).Split(text)
	require.Len(t, spans, 1)
	require.Equal(t, 0, spans[0].Index)
}

func TestSplitCountsRunesNotBytes(t *testing.T) {
	text := strings.Repeat("é", 1500)
	spans := NewChunker().Split(text)
	require.Len(t, spans, 2)
	require.Equal(t, 1000, len([]rune(spans[0].Content)))
	require.Equal(t, 550, len([]rune(spans[1].Content)))
}

func TestSplitEmpty(t *testing.T) {
	require.Empty(t, NewChunker().Split(""))
}

func TestNewChunkerClampsOverlap(t *testing.T) {
	c := NewChunker(WithChunkSize(100), WithChunkOverlap(200))
	require.Equal(t, 25, c.overlap)
}
