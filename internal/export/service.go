// Package export renders a completed job's events as downloadable tables.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/sof-extractor/internal/domain"
	"github.com/cuongbtq/sof-extractor/internal/store"
	"github.com/cuongbtq/sof-extractor/shared/blobstore"
)

// Format is a supported export encoding
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts a format name in any letter case
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSON, FormatXLSX:
		return f, nil
	}
	return "", domain.NewValidationError(domain.ErrUnsupportedFormat,
		"Invalid export format. Use 'csv', 'json' or 'xlsx'")
}

// ContentType returns the media type served for the format
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatJSON:
		return "application/json"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "application/octet-stream"
}

// LaytimeCalculator recomputes laytime columns for export
type LaytimeCalculator interface {
	CalculateLaytime(ctx context.Context, summary domain.Summary, events []domain.Event) (*domain.LaytimeResult, error)
}

// Artifact is an encoded export ready for download
type Artifact struct {
	Filename    string
	ContentType string
	Key         string
	Body        []byte
}

// Service builds export artifacts
type Service struct {
	store   store.Store
	results blobstore.Store
	laytime LaytimeCalculator
	logger  *slog.Logger
}

// NewService creates the export transformer
func NewService(st store.Store, results blobstore.Store, laytime LaytimeCalculator, logger *slog.Logger) *Service {
	return &Service{store: st, results: results, laytime: laytime, logger: logger}
}

// Export encodes the job's events, or the override events when given, in the
// requested format. The stored job is never modified.
func (s *Service) Export(ctx context.Context, jobID, format string, override []domain.Event) (*Artifact, error) {
	f, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}

	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.StatusCompleted {
		return nil, domain.ErrJobNotCompleted
	}

	events := job.Events
	source := "job"
	if len(override) > 0 {
		events = override
		source = "request"
	}
	if len(events) == 0 {
		return nil, domain.ErrNoExportEvents
	}
	events = domain.CloneEvents(events)

	s.logger.Info("Exporting events",
		slog.String("job_id", jobID),
		slog.String("format", string(f)),
		slog.String("source", source),
		slog.Int("events", len(events)),
	)

	if len(job.Summary) > 0 && s.laytime != nil {
		events = s.withLaytime(ctx, jobID, job.Summary, events)
	}

	table := buildTable(events)
	s.logger.Debug("Final export columns",
		slog.String("job_id", jobID),
		slog.Any("columns", table.columns),
	)

	body, err := encode(f, table)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s export: %w", f, err)
	}

	key := fmt.Sprintf("%s_export.%s", jobID, f)
	if err := s.results.Put(ctx, key, body); err != nil {
		return nil, fmt.Errorf("failed to save export: %w", err)
	}

	return &Artifact{
		Filename:    fmt.Sprintf("sof_events_%s.%s", shortID(jobID), f),
		ContentType: f.ContentType(),
		Key:         key,
		Body:        body,
	}, nil
}

// withLaytime swaps in recalculated events, keeping the input on failure
func (s *Service) withLaytime(ctx context.Context, jobID string, summary domain.Summary, events []domain.Event) []domain.Event {
	res, err := s.laytime.CalculateLaytime(ctx, summary, events)
	if err != nil {
		s.logger.Warn("Could not calculate laytime for export",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return events
	}
	if len(res.Events) == 0 {
		return events
	}

	s.logger.Info("Laytime calculated for export",
		slog.String("job_id", jobID),
		slog.Float64("consumed_days", res.ConsumedDays),
	)
	return res.Events
}

func encode(f Format, t *table) ([]byte, error) {
	switch f {
	case FormatCSV:
		return encodeCSV(t)
	case FormatJSON:
		return encodeJSON(t)
	case FormatXLSX:
		return encodeXLSX(t)
	}
	return nil, domain.ErrUnsupportedFormat
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
