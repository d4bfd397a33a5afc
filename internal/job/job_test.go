package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeProcessor struct {
	limit int
	n     int
	err   error
}

func (f *fakeProcessor) ProcessPending(ctx context.Context, limit int) (int, error) {
	f.limit = limit
	return f.n, f.err
}

type fakeCleaner struct {
	cutoff int64
}

func (f *fakeCleaner) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	f.cutoff = cutoff
	return 3, nil
}

func TestPendingIngestJobBatch(t *testing.T) {
	p := &fakeProcessor{n: 2}
	require.NoError(t, NewPendingIngestJob(p, 0).Run(context.Background()))
	require.Equal(t, 20, p.limit)

	p = &fakeProcessor{err: errors.New("db down")}
	require.Error(t, NewPendingIngestJob(p, 5).Run(context.Background()))
	require.Equal(t, 5, p.limit)

	require.NoError(t, NewPendingIngestJob(nil, 5).Run(context.Background()))
}

func TestEmbeddingCacheCleanupCutoff(t *testing.T) {
	c := &fakeCleaner{}
	j := NewEmbeddingCacheCleanupJob(c, 7)
	now := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return now }
	require.NoError(t, j.Run(context.Background()))
	require.Equal(t, now.AddDate(0, 0, -7).Unix(), c.cutoff)
}
