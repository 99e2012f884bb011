package dto

import (
	"time"

	"property-analysis/internal/domain"
)

// SubmitResponse acknowledges an accepted analysis submission.
type SubmitResponse struct {
	JobID               string `json:"job_id"`
	Status              string `json:"status"`
	StatusURL           string `json:"status_url"`
	EstimatedCompletion string `json:"estimated_completion,omitempty"`
}

// JobFileDTO describes one staged document in API responses.
type JobFileDTO struct {
	Role         string `json:"role"`
	OriginalName string `json:"original_name"`
	SizeBytes    int64  `json:"size_bytes"`
	UploadedAt   string `json:"uploaded_at"`
	Processed    bool   `json:"processed"`
}

// JobResponse is the full job record returned by the status endpoint.
type JobResponse struct {
	JobID       string            `json:"job_id"`
	PropertyID  string            `json:"property_id,omitempty"`
	Status      string            `json:"status"`
	Progress    int               `json:"progress"`
	Error       string            `json:"error,omitempty"`
	Files       []JobFileDTO      `json:"files"`
	Outputs     map[string]string `json:"outputs,omitempty"`
	CreatedAt   string            `json:"created_at"`
	CompletedAt string            `json:"completed_at,omitempty"`
	FailedAt    string            `json:"failed_at,omitempty"`
	CancelledAt string            `json:"cancelled_at,omitempty"`
}

// NewJobResponse maps a domain job onto the wire shape.
func NewJobResponse(job *domain.Job) JobResponse {
	files := make([]JobFileDTO, len(job.Files))
	for i, f := range job.Files {
		files[i] = JobFileDTO{
			Role:         string(f.Role),
			OriginalName: f.OriginalName,
			SizeBytes:    f.SizeBytes,
			UploadedAt:   f.UploadedAt.Format(time.RFC3339),
			Processed:    f.Processed,
		}
	}

	resp := JobResponse{
		JobID:      job.ID,
		PropertyID: job.PropertyID,
		Status:     string(job.Status),
		Progress:   job.Progress,
		Error:      job.Error,
		Files:      files,
		Outputs:    job.Outputs,
		CreatedAt:  job.CreatedAt.Format(time.RFC3339),
	}
	if job.CompletedAt != nil {
		resp.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	if job.FailedAt != nil {
		resp.FailedAt = job.FailedAt.Format(time.RFC3339)
	}
	if job.CancelledAt != nil {
		resp.CancelledAt = job.CancelledAt.Format(time.RFC3339)
	}
	return resp
}
