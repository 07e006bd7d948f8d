package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/tunegrab/api/internal/client"
	"github.com/tunegrab/api/internal/config"
	"github.com/tunegrab/api/internal/model"
)

// terminalWriteTimeout bounds the detached Complete/Fail writes.
const terminalWriteTimeout = 5 * time.Second

// JobTracker is the slice of the job store the pipeline writes through.
type JobTracker interface {
	UpdateProgress(ctx context.Context, jobID string, progress float64, message string) error
	Complete(ctx context.Context, jobID string, result *model.GrabResult) error
	Fail(ctx context.Context, jobID string, errMsg string) error
}

// GrabWorker executes the per-job pipeline: download → transcode → upload →
// presign → cleanup. It is stateless across jobs; the queue guarantees at
// most one worker runs a given job at a time.
type GrabWorker struct {
	jobs    JobTracker
	storage client.StorageClient
	fetcher client.MediaFetcher
	cfg     config.GrabConfig
	logger  *zap.Logger
}

func NewGrabWorker(jobs JobTracker, storage client.StorageClient, fetcher client.MediaFetcher, cfg config.GrabConfig, logger *zap.Logger) *GrabWorker {
	return &GrabWorker{
		jobs:    jobs,
		storage: storage,
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logger,
	}
}

// ProcessTask handles one grab task delivered by the queue. All pipeline
// failures are converted into a terminal failed job record; the queue is
// told to skip retries so only crash redelivery re-runs a job. Re-execution
// is idempotent: the identity's current artifact slot is deleted before the
// new upload.
func (w *GrabWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var taskPayload struct {
		JobID   string               `json:"jobId"`
		Payload model.GrabJobPayload `json:"payload"`
	}
	if err := json.Unmarshal(t.Payload(), &taskPayload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	jobID := taskPayload.JobID
	url := taskPayload.Payload.URL
	identity := taskPayload.Payload.Identity
	w.logger.Info("starting grab job", zap.String("jobID", jobID), zap.String("url", url))

	result, err := w.run(ctx, jobID, url, identity)

	// Terminal writes detach from the task context: when the hard timeout
	// (or a shutdown) cancels it, the failed/finished record must still land
	// or pollers would see status=running forever.
	writeCtx, cancelWrite := terminalWriteContext(ctx)
	defer cancelWrite()

	if err != nil {
		w.failJob(writeCtx, jobID, err.Error())
		w.logger.Warn("grab job failed", zap.String("jobID", jobID), zap.Error(err))
		return fmt.Errorf("grab job %s: %v: %w", jobID, err, asynq.SkipRetry)
	}

	if err := w.jobs.Complete(writeCtx, jobID, result); err != nil {
		w.logger.Error("failed to save result", zap.String("jobID", jobID), zap.Error(err))
		return fmt.Errorf("grab job %s: save result: %w", jobID, err)
	}

	w.logger.Info("grab job completed", zap.String("jobID", jobID), zap.String("title", result.Title))
	return nil
}

// run walks the pipeline states. The hard timeout lives in the task context;
// between states we check it cooperatively.
func (w *GrabWorker) run(ctx context.Context, jobID, url, identity string) (*model.GrabResult, error) {
	w.updateProgress(ctx, jobID, 0.1, "Starting download...")

	// Unique per identity, not per job: two concurrent jobs for the same
	// identity race on this directory (last writer wins).
	tempDir := filepath.Join(w.cfg.TempDir, "grab_"+identity)
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %v", err)
	}
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			w.logger.Warn("failed to remove temp directory", zap.String("dir", tempDir), zap.Error(err))
		}
	}()

	// The extracting message fires before the download-range updates arrive;
	// progress ordering is best-effort, matching the tool's callback timing.
	w.updateProgress(ctx, jobID, 0.2, "Extracting audio...")

	output, err := w.fetcher.Fetch(ctx, url, tempDir, func(p client.FetchProgress) {
		progress := downloadProgress(p.DownloadedBytes, p.TotalBytes)
		message := fmt.Sprintf("Downloading... %.1f%%", percentOf(p.DownloadedBytes, p.TotalBytes))
		w.updateProgress(ctx, jobID, progress, message)
	})
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("job timed out: %v", err)
	}

	w.updateProgress(ctx, jobID, 0.7, "Uploading to storage...")

	// Purge the identity's previous artifact before writing the new one.
	// Failures here are logged, never fatal.
	w.deleteCurrentArtifacts(ctx, identity)

	key := fmt.Sprintf("%s/%s.%s", identity, output.Title, w.cfg.AudioFormat)
	if err := w.uploadArtifact(ctx, key, output.Path); err != nil {
		return nil, err
	}

	downloadURL, err := w.storage.GetSignedURL(ctx, key, w.cfg.LinkTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to generate download link: %v", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("job timed out: %v", err)
	}

	if err := os.Remove(output.Path); err != nil {
		w.logger.Warn("failed to remove local file", zap.String("path", output.Path), zap.Error(err))
	}

	return &model.GrabResult{
		Title:       output.Title,
		DownloadURL: downloadURL,
	}, nil
}

func (w *GrabWorker) uploadArtifact(ctx context.Context, key, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open audio file: %v", err)
	}
	defer file.Close()

	metadata := map[string]string{
		client.ExpiryMetadataKey: time.Now().Add(w.cfg.ArtifactTTL).Format(time.RFC3339),
	}
	if err := w.storage.Upload(ctx, key, file, contentTypeFor(w.cfg.AudioFormat), metadata); err != nil {
		return fmt.Errorf("failed to upload to storage: %v", err)
	}
	return nil
}

// deleteCurrentArtifacts removes everything under the identity's prefix so
// at most one current artifact exists per identity. Not-found and listing
// errors are swallowed.
func (w *GrabWorker) deleteCurrentArtifacts(ctx context.Context, identity string) {
	objects, err := w.storage.List(ctx, identity+"/")
	if err != nil {
		w.logger.Warn("failed to list current artifacts", zap.String("identity", identity), zap.Error(err))
		return
	}
	for _, obj := range objects {
		if err := w.storage.Delete(ctx, obj.Key); err != nil {
			w.logger.Warn("failed to delete stale artifact", zap.String("key", obj.Key), zap.Error(err))
		}
	}
}

func (w *GrabWorker) updateProgress(ctx context.Context, jobID string, progress float64, message string) {
	if err := w.jobs.UpdateProgress(ctx, jobID, progress, message); err != nil {
		w.logger.Warn("failed to update progress", zap.String("jobID", jobID), zap.Error(err))
	}
}

func terminalWriteContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
}

func (w *GrabWorker) failJob(ctx context.Context, jobID, errMsg string) {
	if err := w.jobs.Fail(ctx, jobID, errMsg); err != nil {
		w.logger.Error("failed to mark job as failed", zap.String("jobID", jobID), zap.Error(err))
	}
}

// downloadProgress maps the raw byte fraction into the [0.1, 0.6] slice of
// the overall pipeline progress.
func downloadProgress(downloaded, total int64) float64 {
	if total <= 0 {
		return 0.1
	}
	fraction := float64(downloaded) / float64(total)
	if fraction > 1 {
		fraction = 1
	}
	progress := 0.1 + fraction*0.5
	if progress > 0.6 {
		progress = 0.6
	}
	return progress
}

func percentOf(downloaded, total int64) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(downloaded) / float64(total) * 100
	if p > 100 {
		p = 100
	}
	return p
}

func contentTypeFor(format string) string {
	if format == "mp3" {
		return "audio/mpeg"
	}
	return "audio/" + format
}
