package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/magent/internal/filestore"
	"github.com/xxxsen/magent/internal/ingest"
	"github.com/xxxsen/magent/internal/metrics"
	"github.com/xxxsen/magent/internal/model"
	appErr "github.com/xxxsen/magent/internal/pkg/errors"
)

type DocumentStore interface {
	GetByID(ctx context.Context, companyID, id string) (*model.SourceDocument, error)
	ListPending(ctx context.Context, limit int) ([]model.SourceDocument, error)
	RecordFailure(ctx context.Context, documentID, reason string, at int64) error
}

type ChunkWriter interface {
	ReplaceForDocument(ctx context.Context, doc *model.SourceDocument, chunks []model.DocumentChunk, tags []string, mtime int64) error
}

type ChunkPipeline interface {
	Ingest(ctx context.Context, raw []byte, mimeType string, filename string) (*ingest.ChunkSet, error)
}

type IngestRequest struct {
	DocumentID     string
	CompanyID      string
	AgentID        string
	StorageLocator string
}

type IngestResult struct {
	ChunkCount          int `json:"chunkCount"`
	EmbeddingDimensions int `json:"embeddingDimensions"`
}

type IngestService struct {
	docs        DocumentStore
	chunks      ChunkWriter
	files       filestore.Store
	pipeline    ChunkPipeline
	maxFileSize int64
}

func NewIngestService(docs DocumentStore, chunks ChunkWriter, files filestore.Store, pipeline ChunkPipeline, maxFileSize int64) *IngestService {
	return &IngestService{docs: docs, chunks: chunks, files: files, pipeline: pipeline, maxFileSize: maxFileSize}
}

// Ingest replaces the chunk set of a document. Nothing is written unless
// extraction and every embedding succeed.
func (s *IngestService) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if strings.TrimSpace(req.DocumentID) == "" || strings.TrimSpace(req.CompanyID) == "" {
		return nil, appErr.Invalid("documentId and companyId are required")
	}
	logger := logutil.GetLogger(ctx).With(zap.String("document_id", req.DocumentID), zap.String("company_id", req.CompanyID))
	doc, err := s.docs.GetByID(ctx, req.CompanyID, req.DocumentID)
	if err != nil {
		return nil, err
	}
	if req.AgentID != "" {
		doc.AgentID = req.AgentID
	}
	locator := req.StorageLocator
	if locator == "" {
		locator = doc.FileKey
	}
	if locator == "" {
		return nil, appErr.Invalid("storageLocator is required")
	}
	result, err := s.ingestDocument(ctx, doc, locator)
	if err != nil {
		metrics.IngestedDocuments.WithLabelValues(ingestOutcome(err)).Inc()
		logger.Error("document ingestion failed", zap.Error(err))
		return nil, err
	}
	metrics.IngestedDocuments.WithLabelValues("ok").Inc()
	metrics.IngestedChunks.Add(float64(result.ChunkCount))
	logger.Info("document ingested", zap.Int("chunks", result.ChunkCount), zap.Int("dimensions", result.EmbeddingDimensions))
	return result, nil
}

func (s *IngestService) ingestDocument(ctx context.Context, doc *model.SourceDocument, locator string) (*IngestResult, error) {
	raw, err := filestore.ReadAll(ctx, s.files, locator, s.maxFileSize)
	if err != nil {
		return nil, err
	}
	set, err := s.pipeline.Ingest(ctx, raw, doc.MimeType, doc.Name)
	if err != nil {
		return nil, err
	}
	now := time.Now().UnixMilli()
	for i := range set.Chunks {
		c := &set.Chunks[i]
		c.ID = newID()
		c.DocumentID = doc.ID
		c.CompanyID = doc.CompanyID
		c.AgentID = doc.AgentID
		c.Ctime = now
	}
	tags := []string{model.DocumentTagProcessed, model.DocumentTagEmbedded}
	if err := s.chunks.ReplaceForDocument(ctx, doc, set.Chunks, tags, now); err != nil {
		return nil, err
	}
	return &IngestResult{ChunkCount: len(set.Chunks), EmbeddingDimensions: set.Dimensions}, nil
}

// ProcessPending ingests up to limit documents that were never embedded.
// Failures are logged per document and do not stop the sweep. Permanent
// failures are recorded so the next sweep moves past them.
func (s *IngestService) ProcessPending(ctx context.Context, limit int) (int, error) {
	docs, err := s.docs.ListPending(ctx, limit)
	if err != nil {
		return 0, err
	}
	done := 0
	for i := range docs {
		doc := docs[i]
		if _, err := s.Ingest(ctx, IngestRequest{DocumentID: doc.ID, CompanyID: doc.CompanyID, StorageLocator: doc.FileKey}); err != nil {
			if !permanentFailure(err) {
				continue
			}
			if rerr := s.docs.RecordFailure(ctx, doc.ID, err.Error(), time.Now().UnixMilli()); rerr != nil {
				logutil.GetLogger(ctx).Warn("record ingest failure failed",
					zap.String("document_id", doc.ID), zap.Error(rerr))
			}
			continue
		}
		done++
	}
	return done, nil
}

// permanentFailure reports errors that retrying the same bytes cannot fix.
// Provider and storage outages stay pending for the next sweep.
func permanentFailure(err error) bool {
	return appErr.IsExtraction(err) || appErr.IsNotFound(err) || errors.Is(err, appErr.ErrInvalid)
}

func ingestOutcome(err error) string {
	switch {
	case appErr.IsExtraction(err):
		return "extraction_error"
	case appErr.IsEmbeddingProvider(err):
		return "embedding_error"
	case appErr.IsNotFound(err):
		return "not_found"
	default:
		return "error"
	}
}
