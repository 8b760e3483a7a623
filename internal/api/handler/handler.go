package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/sof-extractor/internal/domain"
	"github.com/cuongbtq/sof-extractor/internal/export"
	"github.com/cuongbtq/sof-extractor/internal/store"
	"github.com/cuongbtq/sof-extractor/internal/upload"
	"github.com/gin-gonic/gin"
)

// Submitter accepts validated uploads
type Submitter interface {
	Submit(ctx context.Context, sub upload.Submission) (*upload.Receipt, error)
}

// Exporter renders completed jobs for download
type Exporter interface {
	Export(ctx context.Context, jobID, format string, override []domain.Event) (*export.Artifact, error)
}

// HealthChecker reports backing service health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Dispatcher  Submitter
	Store       store.Store
	Exporter    Exporter
	Laytime     export.LaytimeCalculator
	MaxFileSize int64
	Health      HealthChecker // optional
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger      *slog.Logger
	dispatcher  Submitter
	store       store.Store
	exporter    Exporter
	laytime     export.LaytimeCalculator
	maxFileSize int64
	health      HealthChecker
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:      deps.Logger,
		dispatcher:  deps.Dispatcher,
		store:       deps.Store,
		exporter:    deps.Exporter,
		laytime:     deps.Laytime,
		maxFileSize: deps.MaxFileSize,
		health:      deps.Health,
	}
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrNoExportEvents):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrJobNotCompleted):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// respondError writes err as {"error": ...}. Server errors hide the cause
// behind fallback.
func (h *JobHandler) respondError(c *gin.Context, err error, fallback string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(fallback,
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
		c.JSON(status, gin.H{"error": fallback})
		return
	}

	msg := err.Error()
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		msg = "Job not found"
	case errors.Is(err, domain.ErrJobNotCompleted):
		msg = "Job not completed yet"
	case errors.Is(err, domain.ErrNoExportEvents):
		msg = "No events found"
	}
	c.JSON(status, gin.H{"error": msg})
}
