// Package store keeps job records queryable for the life of the service.
package store

import (
	"context"

	"github.com/cuongbtq/sof-extractor/internal/domain"
)

// Store is the job store abstraction. Put replaces the whole record
// atomically; Get and List hand out copies.
type Store interface {
	Put(ctx context.Context, job *domain.Job) error
	Get(ctx context.Context, jobID string) (*domain.Job, error)
	List(ctx context.Context) ([]*domain.Job, error)
}

// checkTransition enforces the job state machine on a replace
func checkTransition(current *domain.Job) error {
	if current == nil {
		return nil
	}
	if current.Status.Normalize().IsTerminal() {
		return domain.ErrTerminalState
	}
	return nil
}
