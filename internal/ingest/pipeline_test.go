package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	appErr "github.com/xxxsen/magent/internal/pkg/errors"
)

type fakeEmbedder struct {
	calls  int
	failAt int
	dims   []int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	f.calls++
	if f.failAt > 0 && f.calls == f.failAt {
		return nil, errors.New("quota exceeded")
	}
	dim := 3
	if len(f.dims) >= f.calls {
		dim = f.dims[f.calls-1]
	}
	return make([]float32, dim), nil
}

func (f *fakeEmbedder) ModelName() string { return "fake" }

func longText() string {
	return strings.Repeat("Customers value consistent onboarding support. ", 50)
}

func TestPipelineIngestProducesChunks(t *testing.T) {
	emb := &fakeEmbedder{}
	p := NewPipeline(emb, WithEmbedRate(1000))
	set, err := p.Ingest(context.Background(), []byte(longText()), "text/plain", "notes.txt")
	require.NoError(t, err)
	require.Equal(t, 3, set.Dimensions)
	require.Len(t, set.Chunks, 3)
	require.Equal(t, 3, emb.calls)
	for i, c := range set.Chunks {
		require.Equal(t, i, c.ChunkIndex)
		require.Len(t, c.Embedding, 3)
	}
}

func TestPipelineEmbeddingFailure(t *testing.T) {
	p := NewPipeline(&fakeEmbedder{failAt: 2})
	_, err := p.Ingest(context.Background(), []byte(longText()), "text/plain", "notes.txt")
	require.True(t, appErr.IsEmbeddingProvider(err))
}

func TestPipelineDimensionMismatch(t *testing.T) {
	p := NewPipeline(&fakeEmbedder{dims: []int{3, 4}})
	_, err := p.Ingest(context.Background(), []byte(longText()), "text/plain", "notes.txt")
	require.True(t, appErr.IsEmbeddingProvider(err))
}

func TestPipelineExtractionFailureSkipsEmbedding(t *testing.T) {
	emb := &fakeEmbedder{}
	_, err := NewPipeline(emb).Ingest(context.Background(), []byte("short"), "text/plain", "x.txt")
	require.True(t, appErr.IsExtraction(err))
	require.Zero(t, emb.calls)
}
