package domain

import (
	"fmt"
	"slices"
	"time"
)

// Job is one submission's unit of tracked asynchronous work
type Job struct {
	ID                 string        `json:"job_id"`
	Status             Status        `json:"status"`
	Filenames          []string      `json:"filenames"`
	TotalFiles         int           `json:"total_files"`
	SuccessfulFiles    int           `json:"successful_files"`
	ProcessedFiles     []string      `json:"processed_files,omitempty"`
	Events             []Event       `json:"events,omitempty"`
	Summary            Summary       `json:"summary,omitempty"`
	HasLaytimeData     bool          `json:"has_laytime_data"`
	EnhancedProcessing bool          `json:"use_enhanced_processing"`
	BatchName          string        `json:"batch_name,omitempty"`
	ResultPath         string        `json:"result_file,omitempty"`
	Outcomes           []FileOutcome `json:"outcomes,omitempty"`
	Error              string        `json:"error,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	CompletedAt        *time.Time    `json:"processed_at,omitempty"`
	FailedAt           *time.Time    `json:"failed_at,omitempty"`
}

// FileOutcome records what happened to one submitted file
type FileOutcome struct {
	Filename   string `json:"filename"`
	Path       string `json:"path"`
	Processed  bool   `json:"processed"`
	Reason     string `json:"reason,omitempty"`
	EventCount int    `json:"event_count"`
}

// Result is the merged output of one orchestration run
type Result struct {
	Events          []Event       `json:"events"`
	Summary         Summary       `json:"summary"`
	HasLaytimeData  bool          `json:"has_laytime_data"`
	ProcessedFiles  []string      `json:"processed_files"`
	TotalFiles      int           `json:"total_files"`
	SuccessfulFiles int           `json:"successful_files"`
	Outcomes        []FileOutcome `json:"outcomes"`
}

// NewJob creates a job in the processing state
func NewJob(id string, filenames []string, enhanced bool, batchName string, now time.Time) *Job {
	return &Job{
		ID:                 id,
		Status:             StatusProcessing,
		Filenames:          slices.Clone(filenames),
		TotalFiles:         len(filenames),
		EnhancedProcessing: enhanced,
		BatchName:          batchName,
		CreatedAt:          now,
	}
}

// Complete moves the job to completed with the merged result
func (j *Job) Complete(res *Result, resultPath string, at time.Time) {
	j.Status = StatusCompleted
	j.Events = CloneEvents(res.Events)
	j.Summary = res.Summary.Clone()
	j.HasLaytimeData = res.HasLaytimeData
	j.ProcessedFiles = slices.Clone(res.ProcessedFiles)
	j.SuccessfulFiles = res.SuccessfulFiles
	j.Outcomes = slices.Clone(res.Outcomes)
	j.ResultPath = resultPath
	j.CompletedAt = &at
	j.Error = ""
	j.FailedAt = nil
}

// Fail moves the job to failed, dropping any partial result
func (j *Job) Fail(err error, at time.Time) {
	j.Status = StatusFailed
	j.Error = err.Error()
	j.FailedAt = &at
	j.Events = nil
	j.Summary = nil
	j.HasLaytimeData = false
	j.ProcessedFiles = nil
	j.SuccessfulFiles = 0
	j.CompletedAt = nil
}

// Validate checks the record invariants
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if j.SuccessfulFiles > j.TotalFiles {
		return fmt.Errorf("successful files %d exceed total files %d", j.SuccessfulFiles, j.TotalFiles)
	}
	switch j.Status.Normalize() {
	case StatusProcessing:
		if len(j.Events) > 0 || j.Error != "" {
			return fmt.Errorf("processing job %s carries results", j.ID)
		}
	case StatusCompleted:
		if j.Error != "" {
			return fmt.Errorf("completed job %s carries an error", j.ID)
		}
	case StatusFailed:
		if j.Error == "" {
			return fmt.Errorf("failed job %s has no error message", j.ID)
		}
		if len(j.Events) > 0 {
			return fmt.Errorf("failed job %s carries events", j.ID)
		}
	default:
		return fmt.Errorf("unknown job status %q", j.Status)
	}
	return nil
}

// Clone returns a deep copy safe to hand to concurrent readers
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.Filenames = slices.Clone(j.Filenames)
	out.ProcessedFiles = slices.Clone(j.ProcessedFiles)
	out.Events = CloneEvents(j.Events)
	out.Summary = j.Summary.Clone()
	out.Outcomes = slices.Clone(j.Outcomes)
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	if j.FailedAt != nil {
		t := *j.FailedAt
		out.FailedAt = &t
	}
	return &out
}

// SourceFile points at a persisted upload
type SourceFile struct {
	Key      string `json:"key"`
	Filename string `json:"filename"`
}

// Task is the unit of work handed to the orchestrator
type Task struct {
	JobID    string       `json:"job_id"`
	Files    []SourceFile `json:"files"`
	Enhanced bool         `json:"enhanced"`
}
