// Package notify announces job state changes to interested consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/sof-extractor/internal/domain"
)

// JobEvent is published whenever a job reaches a terminal state
type JobEvent struct {
	JobID           string        `json:"job_id"`
	Status          domain.Status `json:"status"`
	TotalFiles      int           `json:"total_files"`
	SuccessfulFiles int           `json:"successful_files"`
	Error           string        `json:"error,omitempty"`
	At              time.Time     `json:"at"`
}

// NewJobEvent snapshots a job for publishing
func NewJobEvent(job *domain.Job, at time.Time) JobEvent {
	return JobEvent{
		JobID:           job.ID,
		Status:          job.Status,
		TotalFiles:      job.TotalFiles,
		SuccessfulFiles: job.SuccessfulFiles,
		Error:           job.Error,
		At:              at,
	}
}

// Notifier publishes job events
type Notifier interface {
	Notify(ctx context.Context, event JobEvent) error
}

// Nop drops every event
type Nop struct{}

func (Nop) Notify(context.Context, JobEvent) error { return nil }

// Publisher is the subset of the broker client used for notifications
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// AMQP publishes job events as JSON messages
type AMQP struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewAMQP creates a notifier on top of a broker publisher
func NewAMQP(publisher Publisher, logger *slog.Logger) *AMQP {
	return &AMQP{publisher: publisher, logger: logger}
}

func (a *AMQP) Notify(ctx context.Context, event JobEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode job event: %w", err)
	}

	if err := a.publisher.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish job event for %s: %w", event.JobID, err)
	}

	a.logger.Debug("Job event published",
		slog.String("job_id", event.JobID),
		slog.String("status", string(event.Status)),
	)
	return nil
}
