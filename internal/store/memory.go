package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/cuongbtq/sof-extractor/internal/domain"
)

// Memory is a process-wide in-memory job store with no eviction
type Memory struct {
	mu     sync.RWMutex
	jobs   map[string]*domain.Job
	logger *slog.Logger
}

// NewMemory creates an empty in-memory store
func NewMemory(logger *slog.Logger) *Memory {
	return &Memory{
		jobs:   make(map[string]*domain.Job),
		logger: logger,
	}
}

func (m *Memory) Put(_ context.Context, job *domain.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	next := job.Clone()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkTransition(m.jobs[job.ID]); err != nil {
		return fmt.Errorf("failed to put job %s: %w", job.ID, err)
	}
	m.jobs[job.ID] = next

	m.logger.Debug("Job stored",
		slog.String("job_id", job.ID),
		slog.String("status", string(job.Status)),
	)

	return nil
}

func (m *Memory) Get(_ context.Context, jobID string) (*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return job.Clone(), nil
}

// List returns every known job ordered by creation time
func (m *Memory) List(_ context.Context) ([]*domain.Job, error) {
	m.mu.RLock()
	out := make([]*domain.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, job.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
