package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/tunegrab/api/internal/model"
)

const (
	TaskTypeGrab  = "grab:process"
	TaskTypeSweep = "maintenance:sweep"

	QueueDownloads   = "downloads"
	QueueMaintenance = "maintenance"

	jobRetention = 24 * time.Hour
)

// ErrJobNotFound is returned when a job id is unknown to the store.
var ErrJobNotFound = errors.New("job not found")

// GrabService owns the job records in Redis and hands work to the queue.
// Job records are mutated by exactly one worker at a time; the API only
// reads snapshots, so no locking beyond the queue's delivery guarantee
// is needed.
type GrabService struct {
	redis       *redis.Client
	asynqClient *asynq.Client
	jobTimeout  time.Duration
}

func NewGrabService(redisClient *redis.Client, asynqClient *asynq.Client, jobTimeout time.Duration) *GrabService {
	return &GrabService{
		redis:       redisClient,
		asynqClient: asynqClient,
		jobTimeout:  jobTimeout,
	}
}

// Submit creates a queued job record for (url, identity) and enqueues the
// grab task. The hard job timeout is enforced by the queue, not the pipeline.
func (s *GrabService) Submit(ctx context.Context, url, identity string) (*model.DownloadResponse, error) {
	jobID := uuid.New().String()
	now := time.Now()

	job := &model.Job{
		ID:        jobID,
		URL:       url,
		Identity:  identity,
		Status:    model.JobStatusQueued,
		Progress:  0,
		CreatedAt: now,
	}

	if err := s.saveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	task, err := newGrabTask(jobID, url, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	_, err = s.asynqClient.Enqueue(task,
		asynq.Queue(QueueDownloads),
		asynq.TaskID(jobID),
		asynq.Timeout(s.jobTimeout),
		asynq.MaxRetry(2),
		asynq.Retention(time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return &model.DownloadResponse{
		Message: "Download started",
		JobID:   jobID,
	}, nil
}

// Status returns the polling snapshot for a job.
func (s *GrabService) Status(ctx context.Context, jobID string) (*model.JobStatusView, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &model.JobStatusView{
		ID:       job.ID,
		Status:   job.Status,
		Result:   job.Result,
		Error:    job.Error,
		Progress: job.Progress,
		Message:  job.Message,
	}, nil
}

// UpdateProgress writes a progress/message pair (called by worker). The
// first update moves the job from queued to running. Updates are best-effort
// ordered; a later write may carry a smaller progress value.
func (s *GrabService) UpdateProgress(ctx context.Context, jobID string, progress float64, message string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}

	job.Progress = progress
	job.Message = message

	if job.Status == model.JobStatusQueued {
		job.Status = model.JobStatusRunning
		now := time.Now()
		job.StartedAt = &now
	}

	return s.saveJob(ctx, job)
}

// Complete marks the job finished with its result (called by worker).
func (s *GrabService) Complete(ctx context.Context, jobID string, result *model.GrabResult) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.Status = model.JobStatusFinished
	job.Progress = 1.0
	job.Message = "Complete!"
	job.Result = result
	job.Error = nil
	now := time.Now()
	job.CompletedAt = &now

	return s.saveJob(ctx, job)
}

// Fail marks the job failed with a human-readable error (called by worker).
func (s *GrabService) Fail(ctx context.Context, jobID string, errMsg string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.Status = model.JobStatusFailed
	job.Error = &errMsg
	now := time.Now()
	job.CompletedAt = &now

	return s.saveJob(ctx, job)
}

// Ping probes the Redis backend, used by the health check.
func (s *GrabService) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

// Helper methods

func (s *GrabService) saveJob(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, jobKey(job.ID), data, jobRetention).Err()
}

func (s *GrabService) getJob(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}

	return &job, nil
}

func jobKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

func newGrabTask(jobID, url, identity string) (*asynq.Task, error) {
	payload := struct {
		JobID   string               `json:"jobId"`
		Payload model.GrabJobPayload `json:"payload"`
	}{
		JobID: jobID,
		Payload: model.GrabJobPayload{
			URL:      url,
			Identity: identity,
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeGrab, data), nil
}

// NewSweepTask builds the periodic maintenance task that purges expired
// artifacts from storage.
func NewSweepTask() *asynq.Task {
	return asynq.NewTask(TaskTypeSweep, nil)
}
