package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/sof-extractor/internal/domain"
	"github.com/cuongbtq/sof-extractor/internal/notify"
	"github.com/cuongbtq/sof-extractor/internal/store"
	"github.com/cuongbtq/sof-extractor/shared/blobstore"
)

// Extractor is the document-understanding collaborator
type Extractor interface {
	Extract(ctx context.Context, docs []domain.Document) ([]domain.Event, domain.Summary, error)
	ExtractEnhanced(ctx context.Context, doc domain.Document, apiKey string) ([]domain.Event, domain.Summary, error)
}

// ProcessorConfig holds the orchestrator's collaborators
type ProcessorConfig struct {
	Logger    *slog.Logger
	Store     store.Store
	Uploads   blobstore.Store
	Results   blobstore.Store
	Extractor Extractor
	Notifier  notify.Notifier
	APIKey    string
	Now       func() time.Time
}

// Processor turns one task into exactly one terminal job transition
type Processor struct {
	logger    *slog.Logger
	store     store.Store
	uploads   blobstore.Store
	results   blobstore.Store
	extractor Extractor
	notifier  notify.Notifier
	apiKey    string
	now       func() time.Time
}

// NewProcessor creates the batch orchestrator
func NewProcessor(cfg *ProcessorConfig) *Processor {
	p := &Processor{
		logger:    cfg.Logger,
		store:     cfg.Store,
		uploads:   cfg.Uploads,
		results:   cfg.Results,
		extractor: cfg.Extractor,
		notifier:  cfg.Notifier,
		apiKey:    cfg.APIKey,
		now:       cfg.Now,
	}
	if p.notifier == nil {
		p.notifier = notify.Nop{}
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// ResultKey names the result artifact of a job
func ResultKey(jobID string) string {
	return jobID + "_results.json"
}

// Process dispatches every file of the task, merges what succeeded and
// finalizes the job. Per-file and batch extraction errors only skip files;
// anything else that goes wrong fails the whole job.
func (p *Processor) Process(ctx context.Context, task domain.Task) (err error) {
	start := p.now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing job %s: %v", task.JobID, r)
			p.fail(ctx, task.JobID, err)
		}
	}()

	job, err := p.store.Get(ctx, task.JobID)
	if err != nil {
		err = fmt.Errorf("failed to load job %s: %w", task.JobID, err)
		if !errors.Is(err, domain.ErrJobNotFound) {
			p.fail(ctx, task.JobID, err)
		}
		return err
	}
	if job.Status.IsTerminal() {
		p.logger.Warn("Job already finalized, skipping",
			slog.String("job_id", job.ID),
			slog.String("status", string(job.Status)),
		)
		return nil
	}

	res := p.run(ctx, task)

	// A canceled or expired context turns skipped files into a failure
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("processing interrupted: %w", ctxErr)
		p.fail(ctx, job.ID, err)
		return err
	}

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		err = fmt.Errorf("failed to encode results: %w", err)
		p.fail(ctx, job.ID, err)
		return err
	}

	key := ResultKey(job.ID)
	if err := p.results.Put(ctx, key, data); err != nil {
		err = fmt.Errorf("failed to save results: %w", err)
		p.fail(ctx, job.ID, err)
		return err
	}

	job.Complete(res, key, p.now())
	if err := p.store.Put(ctx, job); err != nil {
		err = fmt.Errorf("failed to complete job %s: %w", job.ID, err)
		if !errors.Is(err, domain.ErrTerminalState) {
			p.fail(ctx, job.ID, err)
		}
		return err
	}

	p.logger.Info("Batch processing completed",
		slog.String("job_id", job.ID),
		slog.Int("successful_files", res.SuccessfulFiles),
		slog.Int("total_files", res.TotalFiles),
		slog.Int("events", len(res.Events)),
		slog.Duration("elapsed", p.now().Sub(start)),
	)
	if res.SuccessfulFiles == 0 {
		p.logger.Warn("No events extracted from any document",
			slog.String("job_id", job.ID),
		)
	}

	p.notify(ctx, job)
	return nil
}

// run performs dispatch and aggregation for one task
func (p *Processor) run(ctx context.Context, task domain.Task) *domain.Result {
	// Enhanced extraction only applies to a lone pdf
	enhancedEligible := task.Enhanced && len(task.Files) == 1

	agg := newAggregator(len(task.Files))
	var batchDocs []domain.Document
	var batchOutcomes []int

	for _, f := range task.Files {
		path := domain.PathBatch
		if enhancedEligible && domain.Extension(f.Filename) == "pdf" {
			path = domain.PathEnhanced
		}

		data, err := p.uploads.Get(ctx, f.Key)
		if err != nil {
			p.logger.Error("Failed to read uploaded file",
				slog.String("job_id", task.JobID),
				slog.String("filename", f.Filename),
				slog.String("error", err.Error()),
			)
			agg.skip(f.Filename, path, fmt.Sprintf("read failed: %v", err))
			continue
		}
		doc := domain.Document{Filename: f.Filename, Content: data}

		if path == domain.PathEnhanced {
			events, summary, err := p.extractor.ExtractEnhanced(ctx, doc, p.apiKey)
			if err != nil {
				p.logger.Error("Enhanced extraction failed",
					slog.String("job_id", task.JobID),
					slog.String("filename", f.Filename),
					slog.String("error", err.Error()),
				)
				agg.skip(f.Filename, path, err.Error())
				continue
			}
			agg.add(f.Filename, path, events, summary)
			continue
		}

		batchDocs = append(batchDocs, doc)
		batchOutcomes = append(batchOutcomes, agg.pending(f.Filename, path))
	}

	if len(batchDocs) > 0 {
		p.logger.Info("Processing batch",
			slog.String("job_id", task.JobID),
			slog.Int("documents", len(batchDocs)),
		)

		events, summary, err := p.extractor.Extract(ctx, batchDocs)
		if err != nil {
			p.logger.Error("Batch processing failed",
				slog.String("job_id", task.JobID),
				slog.String("error", err.Error()),
			)
			agg.skipPending(batchOutcomes, err.Error())
		} else {
			agg.addBatch(batchOutcomes, events, summary)
		}
	}

	return agg.result(len(task.Files))
}

func (p *Processor) fail(ctx context.Context, jobID string, cause error) {
	// The failure must be recorded even when the task context is done
	ctx = context.WithoutCancel(ctx)

	job, err := p.store.Get(ctx, jobID)
	if err != nil {
		p.logger.Error("Failed to load job for failure update",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	job.Fail(cause, p.now())
	if err := p.store.Put(ctx, job); err != nil {
		p.logger.Error("Failed to update job status to FAILED",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	p.logger.Error("Batch document processing failed",
		slog.String("job_id", jobID),
		slog.String("error", cause.Error()),
	)
	p.notify(ctx, job)
}

func (p *Processor) notify(ctx context.Context, job *domain.Job) {
	if err := p.notifier.Notify(context.WithoutCancel(ctx), notify.NewJobEvent(job, p.now())); err != nil {
		p.logger.Warn("Failed to publish job event",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

// aggregator merges per-file outputs in processing order
type aggregator struct {
	events    []domain.Event
	summary   domain.Summary
	outcomes  []domain.FileOutcome
	processed []string
}

func newAggregator(n int) *aggregator {
	return &aggregator{outcomes: make([]domain.FileOutcome, 0, n)}
}

func (a *aggregator) skip(filename, path, reason string) {
	a.outcomes = append(a.outcomes, domain.FileOutcome{
		Filename: filename,
		Path:     path,
		Reason:   reason,
	})
}

func (a *aggregator) pending(filename, path string) int {
	a.outcomes = append(a.outcomes, domain.FileOutcome{Filename: filename, Path: path})
	return len(a.outcomes) - 1
}

func (a *aggregator) skipPending(idx []int, reason string) {
	for _, i := range idx {
		a.outcomes[i].Reason = reason
	}
}

func (a *aggregator) add(filename, path string, events []domain.Event, summary domain.Summary) {
	a.merge(events, summary)
	a.outcomes = append(a.outcomes, domain.FileOutcome{
		Filename:   filename,
		Path:       path,
		Processed:  true,
		EventCount: len(events),
	})
	a.processed = append(a.processed, filename)
}

func (a *aggregator) addBatch(idx []int, events []domain.Event, summary domain.Summary) {
	a.merge(events, summary)
	for _, i := range idx {
		o := &a.outcomes[i]
		o.Processed = true
		o.EventCount = countEventsFor(o.Filename, events)
		a.processed = append(a.processed, o.Filename)
	}
}

func (a *aggregator) merge(events []domain.Event, summary domain.Summary) {
	for _, e := range events {
		a.events = append(a.events, normalizeEvent(e))
	}
	if len(a.summary) == 0 && len(summary) > 0 {
		a.summary = summary.Clone()
	}
}

func (a *aggregator) result(total int) *domain.Result {
	events := a.events
	if events == nil {
		events = []domain.Event{}
	}
	summary := a.summary
	if summary == nil {
		summary = domain.Summary{}
	}
	processed := a.processed
	if processed == nil {
		processed = []string{}
	}

	return &domain.Result{
		Events:          events,
		Summary:         summary,
		HasLaytimeData:  hasLaytimeData(events),
		ProcessedFiles:  processed,
		TotalFiles:      total,
		SuccessfulFiles: len(processed),
		Outcomes:        a.outcomes,
	}
}

// normalizeEvent renders every value as null or a string
func normalizeEvent(e domain.Event) domain.Event {
	out := make(domain.Event, len(e))
	for k, v := range e {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v domain.Value) domain.Value {
	if v.IsNull() {
		return domain.NullValue()
	}
	if t, ok := v.Time(); ok {
		return domain.StringValue(domain.FormatISO(t))
	}
	return domain.StringValue(v.String())
}

func hasLaytimeData(events []domain.Event) bool {
	for _, e := range events {
		if !e.Get(domain.LaytimeCountsField).IsEmpty() {
			return true
		}
	}
	return false
}

// countEventsFor attributes batch events to a file through their filename column
func countEventsFor(filename string, events []domain.Event) int {
	n := 0
	for _, e := range events {
		for _, key := range []string{"Filename", "filename", "source_file"} {
			if v := e.Get(key); !v.IsNull() && strings.EqualFold(v.String(), filename) {
				n++
				break
			}
		}
	}
	return n
}
