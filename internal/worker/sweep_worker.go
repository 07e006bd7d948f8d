package worker

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/tunegrab/api/internal/client"
)

// SweepWorker purges expired artifacts from storage. It runs as a scheduled
// maintenance task so orphaned objects are eventually removed even when the
// job that created them crashed before its own cleanup.
type SweepWorker struct {
	storage     client.StorageClient
	artifactTTL time.Duration
	logger      *zap.Logger
}

func NewSweepWorker(storage client.StorageClient, artifactTTL time.Duration, logger *zap.Logger) *SweepWorker {
	return &SweepWorker{
		storage:     storage,
		artifactTTL: artifactTTL,
		logger:      logger,
	}
}

// ProcessTask deletes every object older than the artifact TTL. Best-effort:
// individual delete failures are logged and the sweep moves on.
func (w *SweepWorker) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	removed, err := w.Sweep(ctx, time.Now())
	if err != nil {
		w.logger.Warn("sweep failed", zap.Error(err))
		return nil
	}
	if removed > 0 {
		w.logger.Info("sweep removed expired artifacts", zap.Int("count", removed))
	}
	return nil
}

// Sweep removes objects last modified before now-artifactTTL and returns
// how many were deleted.
func (w *SweepWorker) Sweep(ctx context.Context, now time.Time) (int, error) {
	objects, err := w.storage.List(ctx, "")
	if err != nil {
		return 0, err
	}

	cutoff := now.Add(-w.artifactTTL)
	removed := 0
	for _, obj := range objects {
		if !obj.LastModified.Before(cutoff) {
			continue
		}
		if err := w.storage.Delete(ctx, obj.Key); err != nil {
			w.logger.Warn("failed to delete expired artifact", zap.String("key", obj.Key), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}
