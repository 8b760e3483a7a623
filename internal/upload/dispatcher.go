// Package upload validates submissions, persists their files and schedules processing.
package upload

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/cuongbtq/sof-extractor/internal/domain"
	"github.com/cuongbtq/sof-extractor/internal/store"
	"github.com/cuongbtq/sof-extractor/shared/blobstore"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// File is one submitted document
type File struct {
	Filename string
	Content  []byte
}

// Submission is an ordered list of files plus processing options
type Submission struct {
	Files     []File
	Enhanced  bool
	Batch     bool // submitted through the batch entry point
	BatchName string
}

// Receipt is returned to the caller once the job is scheduled
type Receipt struct {
	JobID      string
	Filenames  []string
	TotalFiles int
	Enhanced   bool
	BatchName  string
	BatchSize  int
	Message    string
}

// Scheduler accepts tasks for asynchronous processing
type Scheduler interface {
	Enqueue(ctx context.Context, task domain.Task) error
}

// Config holds dispatcher configuration
type Config struct {
	Logger        *slog.Logger
	Store         store.Store
	Uploads       blobstore.Store
	Scheduler     Scheduler
	MaxFileSize   int64
	MaxBatchFiles int
	NewID         func() string
	Now           func() time.Time
}

// Dispatcher is the entry point of every upload
type Dispatcher struct {
	logger        *slog.Logger
	store         store.Store
	uploads       blobstore.Store
	scheduler     Scheduler
	maxFileSize   int64
	maxBatchFiles int
	newID         func() string
	now           func() time.Time
}

// NewDispatcher creates a new upload dispatcher
func NewDispatcher(cfg *Config) *Dispatcher {
	d := &Dispatcher{
		logger:        cfg.Logger,
		store:         cfg.Store,
		uploads:       cfg.Uploads,
		scheduler:     cfg.Scheduler,
		maxFileSize:   cfg.MaxFileSize,
		maxBatchFiles: cfg.MaxBatchFiles,
		newID:         cfg.NewID,
		now:           cfg.Now,
	}
	if d.newID == nil {
		d.newID = uuid.NewString
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Submit validates every file, then persists them under a new job and schedules it.
// Nothing is stored when validation fails.
func (d *Dispatcher) Submit(ctx context.Context, sub Submission) (*Receipt, error) {
	if err := d.validate(sub); err != nil {
		return nil, err
	}

	jobID := d.newID()
	filenames := lo.Map(sub.Files, func(f File, _ int) string { return f.Filename })

	job := domain.NewJob(jobID, filenames, sub.Enhanced, sub.BatchName, d.now())
	if err := d.store.Put(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	task := domain.Task{
		JobID:    jobID,
		Enhanced: sub.Enhanced,
		Files:    make([]domain.SourceFile, 0, len(sub.Files)),
	}
	for i, f := range sub.Files {
		key := StorageKey(jobID, i, f.Filename)
		if err := d.uploads.Put(ctx, key, f.Content); err != nil {
			return nil, d.abort(ctx, job, fmt.Errorf("failed to save %s: %w", f.Filename, err))
		}
		task.Files = append(task.Files, domain.SourceFile{Key: key, Filename: f.Filename})
	}

	if err := d.scheduler.Enqueue(ctx, task); err != nil {
		return nil, d.abort(ctx, job, fmt.Errorf("failed to schedule job: %w", err))
	}

	d.logger.Info("Document upload initiated",
		slog.String("job_id", jobID),
		slog.Int("files", len(filenames)),
		slog.Bool("enhanced", sub.Enhanced),
		slog.String("batch_name", sub.BatchName),
	)

	receipt := &Receipt{
		JobID:      jobID,
		Filenames:  filenames,
		TotalFiles: len(filenames),
		Enhanced:   sub.Enhanced,
		Message:    fmt.Sprintf("%d file(s) uploaded successfully", len(filenames)),
	}
	if sub.Batch {
		receipt.BatchName = sub.BatchName
		receipt.BatchSize = len(filenames)
	}
	return receipt, nil
}

func (d *Dispatcher) validate(sub Submission) error {
	if len(sub.Files) == 0 {
		return domain.NewValidationError(domain.ErrNoFiles, "No files uploaded")
	}

	if sub.Batch && d.maxBatchFiles > 0 && len(sub.Files) > d.maxBatchFiles {
		return domain.NewValidationError(domain.ErrTooManyFiles, "Maximum %d files per batch", d.maxBatchFiles)
	}

	for _, f := range sub.Files {
		ext := domain.Extension(f.Filename)
		if !domain.IsAllowedExtension(ext) {
			return domain.NewValidationError(domain.ErrUnsupportedFileType,
				"Unsupported file type: .%s in file '%s'. Supported types: %s",
				ext, f.Filename, supportedTypes())
		}
		if int64(len(f.Content)) > d.maxFileSize {
			return domain.NewValidationError(domain.ErrFileTooLarge,
				"File '%s' exceeds the maximum allowed size (%d bytes)", f.Filename, d.maxFileSize)
		}
	}
	return nil
}

// abort marks a created job failed after a persistence or scheduling error
func (d *Dispatcher) abort(ctx context.Context, job *domain.Job, cause error) error {
	d.logger.Error("Upload failed",
		slog.String("job_id", job.ID),
		slog.String("error", cause.Error()),
	)

	job.Fail(cause, d.now())
	if err := d.store.Put(context.WithoutCancel(ctx), job); err != nil {
		d.logger.Error("Failed to update job status to FAILED",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
	return cause
}

// StorageKey names the blob holding one uploaded file
func StorageKey(jobID string, index int, filename string) string {
	base := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	return fmt.Sprintf("%s_%d_%s", jobID, index, base)
}

func supportedTypes() string {
	return strings.Join(lo.Map(domain.AllowedExtensions, func(ext string, _ int) string {
		return "." + ext
	}), ", ")
}
