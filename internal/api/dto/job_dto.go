package dto

import (
	"time"

	"github.com/cuongbtq/sof-extractor/internal/domain"
	"github.com/cuongbtq/sof-extractor/internal/upload"
)

type UploadResponse struct {
	Message            string   `json:"message"`
	JobID              string   `json:"job_id"`
	Filenames          []string `json:"filenames"`
	TotalFiles         int      `json:"total_files"`
	EnhancedProcessing bool     `json:"enhanced_processing"`
	BatchName          *string  `json:"batch_name,omitempty"`
	BatchSize          *int     `json:"batch_size,omitempty"`
}

// NewUploadResponse maps a dispatcher receipt; batch fields are present only for batch submissions
func NewUploadResponse(r *upload.Receipt, batch bool) UploadResponse {
	resp := UploadResponse{
		Message:            r.Message,
		JobID:              r.JobID,
		Filenames:          r.Filenames,
		TotalFiles:         r.TotalFiles,
		EnhancedProcessing: r.Enhanced,
	}
	if batch {
		name, size := r.BatchName, r.BatchSize
		resp.BatchName = &name
		resp.BatchSize = &size
	}
	return resp
}

type JobDTO struct {
	JobID           string   `json:"job_id"`
	Status          string   `json:"status"`
	Filenames       []string `json:"filenames"`
	TotalFiles      int      `json:"total_files"`
	SuccessfulFiles int      `json:"successful_files"`
	BatchName       string   `json:"batch_name,omitempty"`
	CreatedAt       string   `json:"created_at"`
}

// NewJobDTO reports successful files only once the job has completed
func NewJobDTO(job *domain.Job) JobDTO {
	status := job.Status.Normalize()
	dto := JobDTO{
		JobID:      job.ID,
		Status:     string(status),
		Filenames:  job.Filenames,
		TotalFiles: job.TotalFiles,
		BatchName:  job.BatchName,
		CreatedAt:  job.CreatedAt.Format(time.RFC3339),
	}
	if status == domain.StatusCompleted {
		dto.SuccessfulFiles = job.SuccessfulFiles
	}
	return dto
}

type ProcessingResult struct {
	JobID      string   `json:"job_id"`
	Status     string   `json:"status"`
	Message    string   `json:"message"`
	TotalFiles int      `json:"total_files"`
	Filenames  []string `json:"filenames"`
}

type FailedResult struct {
	JobID      string   `json:"job_id"`
	Status     string   `json:"status"`
	Error      string   `json:"error"`
	TotalFiles int      `json:"total_files"`
	Filenames  []string `json:"filenames"`
}

type CompletedResult struct {
	JobID           string               `json:"job_id"`
	Status          string               `json:"status"`
	Filenames       []string             `json:"filenames"`
	TotalFiles      int                  `json:"total_files"`
	ProcessedFiles  []string             `json:"processed_files"`
	SuccessfulFiles int                  `json:"successful_files"`
	Events          []domain.Event       `json:"events"`
	Summary         domain.Summary       `json:"summary"`
	HasLaytimeData  bool                 `json:"has_laytime_data"`
	Outcomes        []domain.FileOutcome `json:"outcomes,omitempty"`
	ProcessedAt     string               `json:"processed_at"`
}

// NewResult picks the response shape for the job's current state
func NewResult(job *domain.Job) any {
	switch job.Status.Normalize() {
	case domain.StatusFailed:
		return FailedResult{
			JobID:      job.ID,
			Status:     string(domain.StatusFailed),
			Error:      job.Error,
			TotalFiles: job.TotalFiles,
			Filenames:  job.Filenames,
		}
	case domain.StatusCompleted:
		res := CompletedResult{
			JobID:           job.ID,
			Status:          string(domain.StatusCompleted),
			Filenames:       job.Filenames,
			TotalFiles:      job.TotalFiles,
			ProcessedFiles:  job.ProcessedFiles,
			SuccessfulFiles: job.SuccessfulFiles,
			Events:          job.Events,
			Summary:         job.Summary,
			HasLaytimeData:  job.HasLaytimeData,
			Outcomes:        job.Outcomes,
		}
		if res.ProcessedFiles == nil {
			res.ProcessedFiles = []string{}
		}
		if res.Events == nil {
			res.Events = []domain.Event{}
		}
		if res.Summary == nil {
			res.Summary = domain.Summary{}
		}
		if job.CompletedAt != nil {
			res.ProcessedAt = job.CompletedAt.Format(time.RFC3339)
		}
		return res
	}
	return ProcessingResult{
		JobID:      job.ID,
		Status:     string(domain.StatusProcessing),
		Message:    "Document(s) still being processed",
		TotalFiles: job.TotalFiles,
		Filenames:  job.Filenames,
	}
}

type LaytimeRequest struct {
	Summary domain.Summary `json:"summary"`
	Events  []domain.Event `json:"events"`
}

type ExportRequest struct {
	Events []domain.Event `json:"events"`
}

type ListJobsRequest struct {
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}
