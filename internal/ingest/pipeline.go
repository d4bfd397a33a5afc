package ingest

import (
	"context"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xxxsen/magent/internal/ai"
	"github.com/xxxsen/magent/internal/extract"
	"github.com/xxxsen/magent/internal/model"
	appErr "github.com/xxxsen/magent/internal/pkg/errors"
)

// ChunkSet is the output of one ingestion run. Chunks carry index, offsets,
// content and embedding; ownership fields are filled by the caller.
type ChunkSet struct {
	Chunks     []model.DocumentChunk
	Dimensions int
	MimeType   string
	Text       string
}

type Pipeline struct {
	embedder ai.IEmbedder
	chunker  *Chunker
	limiter  *rate.Limiter
}

type PipelineOption func(*Pipeline)

// WithEmbedRate throttles embedding calls to rps per second. Zero disables.
func WithEmbedRate(rps float64) PipelineOption {
	return func(p *Pipeline) {
		if rps > 0 {
			burst := int(rps)
			if burst < 1 {
				burst = 1
			}
			p.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

func NewPipeline(embedder ai.IEmbedder, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{embedder: embedder, chunker: NewChunker()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest extracts, validates, chunks and embeds raw. It never writes
// anything; a failure is either an *ExtractionError or an
// *EmbeddingProviderError.
func (p *Pipeline) Ingest(ctx context.Context, raw []byte, mimeType string, filename string) (*ChunkSet, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("filename", filename))
	res, err := extract.Extract(ctx, raw, mimeType, filename)
	if err != nil {
		logger.Warn("document rejected by extraction", zap.Error(err))
		return nil, err
	}
	spans := p.chunker.Split(res.Text)
	if len(spans) == 0 {
		return nil, &appErr.ExtractionError{Reason: "no chunkable content", Notice: "[Document has no indexable content.]"}
	}
	set := &ChunkSet{
		Chunks:   make([]model.DocumentChunk, 0, len(spans)),
		MimeType: res.MimeType,
		Text:     res.Text,
	}
	for _, span := range spans {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return nil, &appErr.EmbeddingProviderError{Err: err}
			}
		}
		vec, err := p.embedder.Embed(ctx, span.Content, ai.TaskRetrievalDocument)
		if err != nil {
			return nil, &appErr.EmbeddingProviderError{Err: fmt.Errorf("chunk %d: %w", span.Index, err)}
		}
		if len(vec) == 0 {
			return nil, &appErr.EmbeddingProviderError{Err: fmt.Errorf("chunk %d: empty embedding", span.Index)}
		}
		if set.Dimensions == 0 {
			set.Dimensions = len(vec)
		} else if len(vec) != set.Dimensions {
			return nil, &appErr.EmbeddingProviderError{Err: fmt.Errorf("chunk %d: dimension %d differs from %d", span.Index, len(vec), set.Dimensions)}
		}
		set.Chunks = append(set.Chunks, model.DocumentChunk{
			ChunkIndex: span.Index,
			Start:      span.Start,
			End:        span.End,
			Content:    span.Content,
			Embedding:  vec,
		})
	}
	logger.Info("document chunked and embedded",
		zap.String("mime_type", res.MimeType),
		zap.Int("chunks", len(set.Chunks)),
		zap.Int("dimensions", set.Dimensions),
	)
	return set, nil
}
