package model

// DownloadRequest is the form body of POST /download.
type DownloadRequest struct {
	URL string `form:"url" json:"url" validate:"required"`
}

// DownloadResponse acknowledges a queued job.
type DownloadResponse struct {
	Message string `json:"message"`
	JobID   string `json:"job_id"`
}

// JobStatusView is the polling snapshot returned by GET /status/:jobID.
type JobStatusView struct {
	ID       string      `json:"id"`
	Status   JobStatus   `json:"status"`
	Result   *GrabResult `json:"result"`
	Error    *string     `json:"error"`
	Progress float64     `json:"progress"`
	Message  string      `json:"message"`
}

// HealthCheck is the outcome of a single dependency probe.
type HealthCheck struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message"`
}

// HealthReport aggregates dependency probes; Status is "healthy" only when
// every check passed.
type HealthReport struct {
	Status string                 `json:"status"`
	Checks map[string]HealthCheck `json:"checks"`
}
