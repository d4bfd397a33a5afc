package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type PendingProcessor interface {
	ProcessPending(ctx context.Context, limit int) (int, error)
}

// PendingIngestJob ingests documents that were uploaded but never indexed.
type PendingIngestJob struct {
	processor PendingProcessor
	batchSize int
}

func NewPendingIngestJob(processor PendingProcessor, batchSize int) *PendingIngestJob {
	return &PendingIngestJob{processor: processor, batchSize: batchSize}
}

func (j *PendingIngestJob) Name() string {
	return "pending_ingest"
}

func (j *PendingIngestJob) Run(ctx context.Context) error {
	if j.processor == nil {
		return nil
	}
	batch := j.batchSize
	if batch <= 0 {
		batch = 20
	}
	n, err := j.processor.ProcessPending(ctx, batch)
	if n > 0 {
		logutil.GetLogger(ctx).Info("pending documents ingested", zap.Int("count", n))
	}
	return err
}
