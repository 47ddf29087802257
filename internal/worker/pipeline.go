// Package worker drains the job queue and runs each document through
// segmentation, extraction, and structuring.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/endrilickollari/ldp/internal/docstore"
	"github.com/endrilickollari/ldp/internal/extract"
	"github.com/endrilickollari/ldp/internal/models"
	"github.com/endrilickollari/ldp/internal/segment"
	"github.com/endrilickollari/ldp/internal/store"
	"github.com/endrilickollari/ldp/internal/structuring"
	"github.com/endrilickollari/ldp/internal/telemetry"
	"github.com/endrilickollari/ldp/internal/usage"
)

// Pipeline processes one job end to end: load the document, split it into
// pages, extract text per page, structure it, and persist the terminal state.
type Pipeline struct {
	store      store.JobStore
	docs       docstore.Store
	segmenter  segment.Segmenter
	extractor  extract.Extractor
	structurer structuring.Structurer
	usage      usage.Recorder
	log        *slog.Logger
}

func NewPipeline(
	jobs store.JobStore,
	docs docstore.Store,
	segmenter segment.Segmenter,
	extractor extract.Extractor,
	structurer structuring.Structurer,
	recorder usage.Recorder,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:      jobs,
		docs:       docs,
		segmenter:  segmenter,
		extractor:  extractor,
		structurer: structurer,
		usage:      recorder,
		log:        logger,
	}
}

// Progress checkpoints across the job's stages.
const (
	progressPreprocess  = 10
	progressExtracted   = 60
	progressStructuring = 70
	progressFinalizing  = 90
)

// Process runs one dequeued job. Errors are terminal for the job, not for the
// worker; the method never returns an error.
func (p *Pipeline) Process(ctx context.Context, jobID string) {
	job, err := p.store.Get(ctx, jobID)
	if err != nil {
		p.log.Error("job lookup failed", "job_id", jobID, "error", err)
		return
	}

	if err := p.store.Begin(ctx, jobID); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			// Another worker got there first, or the job was already terminal.
			p.log.Warn("job not claimable", "job_id", jobID, "status", job.Status)
			return
		}
		p.log.Error("job claim failed", "job_id", jobID, "error", err)
		return
	}

	telemetry.JobsInFlight.Inc()
	defer telemetry.JobsInFlight.Dec()
	start := time.Now()

	result, runErr := p.run(ctx, job)

	duration := time.Since(start)
	telemetry.JobDuration.Observe(duration.Seconds())

	rec := models.UsageRecord{
		UserID:   job.UserID,
		JobID:    job.ID,
		Filename: job.Filename,
		FileSize: job.FileSize,
		Duration: duration,
	}

	if runErr != nil {
		jobErr := models.JobError{Kind: models.FaultKind(runErr), Message: models.FaultMessage(runErr)}
		if err := p.store.Fail(ctx, jobID, jobErr); err != nil {
			p.log.Error("job fail write failed", "job_id", jobID, "error", err)
		}
		telemetry.JobsFailed.Inc()
		rec.Success = false
		rec.Error = jobErr.Kind
		p.log.Warn("job failed",
			"job_id", jobID,
			"user_id", job.UserID,
			"fault", jobErr.Kind,
			"duration_ms", duration.Milliseconds(),
		)
	} else {
		if err := p.store.Complete(ctx, jobID, result); err != nil {
			p.log.Error("job complete write failed", "job_id", jobID, "error", err)
		}
		telemetry.JobsSucceeded.Inc()
		rec.Success = true
		p.log.Info("job succeeded",
			"job_id", jobID,
			"user_id", job.UserID,
			"duration_ms", duration.Milliseconds(),
		)
	}

	if err := p.usage.Record(ctx, rec); err != nil {
		p.log.Error("usage record failed", "job_id", jobID, "error", err)
	}

	if err := p.docs.Delete(ctx, jobID); err != nil {
		p.log.Warn("document cleanup failed", "job_id", jobID, "error", err)
	}
}

func (p *Pipeline) run(ctx context.Context, job models.Job) (json.RawMessage, error) {
	p.progress(ctx, job.ID, "preprocessing", progressPreprocess)

	data, err := p.docs.Get(ctx, job.ID)
	if err != nil {
		return nil, err
	}

	seq, err := p.segmenter.Segment(job.Filename, job.Kind, data, job.PageStart, job.PageEnd)
	if err != nil {
		return nil, err
	}

	outcomes, err := p.extractPages(ctx, job.ID, seq)
	if err != nil {
		return nil, err
	}

	meta := buildMetadata(job.Kind, seq.TotalPages(), seq.Start(), seq.End(), outcomes)

	if job.OutputFormat == models.OutputPerPage {
		return p.structurePerPage(ctx, job.ID, outcomes, meta)
	}
	return p.structureCombined(ctx, job.ID, outcomes, meta)
}

// extractPages walks the sequence and extracts text for each page. A page
// that fails extraction is carried as a failed outcome rather than sinking
// the whole job here; the output format decides what a partial result means.
func (p *Pipeline) extractPages(ctx context.Context, jobID string, seq *segment.Sequence) ([]pageOutcome, error) {
	total := seq.Len()
	outcomes := make([]pageOutcome, 0, total)

	for {
		unit, ok, err := seq.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}

		o := pageOutcome{pageNumber: unit.PageNumber}
		text, err := p.extractor.PageText(ctx, unit)
		if err != nil {
			o.err = err
			p.log.Warn("page extraction failed",
				"job_id", jobID,
				"page", unit.PageNumber,
				"fault", models.FaultKind(err),
			)
		} else {
			o.method = text.Method
			o.text = text.Text
		}
		outcomes = append(outcomes, o)

		done := len(outcomes)
		progress := progressPreprocess + (progressExtracted-progressPreprocess)*done/total
		p.progress(ctx, jobID, "extracting", progress)
	}
	return outcomes, nil
}

func (p *Pipeline) structureCombined(ctx context.Context, jobID string, outcomes []pageOutcome, meta preprocessMetadata) (json.RawMessage, error) {
	// Pages that failed extraction are left out of the combined text. The job
	// only fails when every page came up empty and at least one faulted.
	text := combinedText(outcomes)
	if text == "" {
		for _, o := range outcomes {
			if o.err != nil {
				return nil, o.err
			}
		}
		return emptyResult(meta)
	}

	p.progress(ctx, jobID, "structuring", progressStructuring)
	structured, err := p.structurer.Structure(ctx, text)
	if err != nil {
		return nil, err
	}

	p.progress(ctx, jobID, "finalizing", progressFinalizing)
	return mergeCombined(structured, meta)
}

func (p *Pipeline) structurePerPage(ctx context.Context, jobID string, outcomes []pageOutcome, meta preprocessMetadata) (json.RawMessage, error) {
	p.progress(ctx, jobID, "structuring", progressStructuring)

	succeeded := 0
	var firstErr error
	for i := range outcomes {
		o := &outcomes[i]
		if o.err != nil {
			if firstErr == nil {
				firstErr = o.err
			}
			continue
		}
		if o.text == "" {
			o.err = models.Faultf(models.FaultEmptyDocument, "page %d contains no extractable text", o.pageNumber)
			if firstErr == nil {
				firstErr = o.err
			}
			continue
		}
		structured, err := p.structurer.Structure(ctx, o.text)
		if err != nil {
			o.err = err
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		o.structured = structured
		succeeded++
	}

	// The job succeeds if any page made it through; an all-failure run takes
	// the first page's fault as the job fault.
	if succeeded == 0 && firstErr != nil {
		return nil, firstErr
	}

	p.progress(ctx, jobID, "finalizing", progressFinalizing)
	return perPageResult(outcomes, meta)
}

func (p *Pipeline) progress(ctx context.Context, jobID, stage string, progress int) {
	if err := p.store.UpdateProgress(ctx, jobID, stage, progress); err != nil {
		p.log.Warn("progress update failed", "job_id", jobID, "stage", stage, "error", err)
	}
}
