package model

import "time"

// JobStatus is the lifecycle state of a grab job. Transitions only move
// forward: queued → running → finished|failed.
type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusRunning  JobStatus = "running"
	JobStatusFinished JobStatus = "finished"
	JobStatusFailed   JobStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusFinished || s == JobStatusFailed
}

// Job represents one download/transcode/upload unit of work, tracked
// end-to-end. A job is mutated only by the worker that owns it; the API
// reads snapshots.
type Job struct {
	ID          string      `json:"id"`
	URL         string      `json:"url"`
	Identity    string      `json:"identity"`
	Status      JobStatus   `json:"status"`
	Progress    float64     `json:"progress"` // always within [0,1]
	Message     string      `json:"message"`
	Result      *GrabResult `json:"result,omitempty"`
	Error       *string     `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	StartedAt   *time.Time  `json:"startedAt,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
}

// GrabJobPayload is the task body handed to the worker through the queue.
type GrabJobPayload struct {
	URL      string `json:"url"`
	Identity string `json:"identity"`
}

// GrabResult is what a finished job hands back to the client: the media
// title and a time-limited link to the stored audio object.
type GrabResult struct {
	Title       string `json:"title"`
	DownloadURL string `json:"download_url"`
}
