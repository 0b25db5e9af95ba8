package dto

// CreateJobResponse is returned once a job is recorded
type CreateJobResponse struct {
	JobID    string `json:"job_id"`
	FileName string `json:"file_name"`
	Status   string `json:"status"`
}

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
	// JobID is set when the job exists despite the error
	JobID string `json:"job_id,omitempty"`
}

// JobStatusResponse is the observable state of one job
type JobStatusResponse struct {
	JobID         string         `json:"job_id"`
	Status        string         `json:"status"`
	FileName      string         `json:"file_name"`
	Algorithm     string         `json:"algorithm"`
	Params        map[string]any `json:"params,omitempty"`
	QueuePosition string         `json:"queue_position"`
	DownloadURL   string         `json:"download_url,omitempty"`
	RetryCount    int            `json:"retry_count"`
	CreatedAt     string         `json:"created_at"`
	Heartbeat     string         `json:"heartbeat,omitempty"`
	ExpiresAt     string         `json:"expires_at,omitempty"`
}

type ListJobsRequest struct {
	Status    string `form:"status"`
	Algorithm string `form:"algorithm"`
	PageSize  int    `form:"page_size"`
	Cursor    string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID      string `json:"job_id"`
	Status     string `json:"status"`
	FileName   string `json:"file_name"`
	Algorithm  string `json:"algorithm"`
	RetryCount int    `json:"retry_count"`
	CreatedAt  string `json:"created_at"`
	Heartbeat  string `json:"heartbeat,omitempty"`
}

// AlgorithmsResponse lists what POST /api/v1/jobs accepts
type AlgorithmsResponse struct {
	Algorithms []AlgorithmDTO `json:"algorithms"`
}

type AlgorithmDTO struct {
	Name   string     `json:"name"`
	Params []ParamDTO `json:"params"`
}

type ParamDTO struct {
	Name    string   `json:"name"`
	Kind    string   `json:"kind"`
	Default any      `json:"default"`
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Enum    []string `json:"enum,omitempty"`
}
