package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ozonereg/declpipe/internal/catalog"
	"github.com/ozonereg/declpipe/internal/config"
	"github.com/ozonereg/declpipe/internal/pdf"
	"github.com/ozonereg/declpipe/internal/providers"
	"github.com/ozonereg/declpipe/internal/store"
)

// cleanupTimeout bounds best-effort deletion of uploaded artifacts.
const cleanupTimeout = 30 * time.Second

// Pipeline executes extraction jobs. Stages run strictly sequentially
// within a job; distinct jobs may run on separate goroutines since the
// only shared state is the read-only catalog.
type Pipeline struct {
	store   store.Store
	ocr     providers.OCRProvider
	chat    providers.ChatProvider
	cat     *catalog.Catalog
	cfg     config.Pipeline
	logger  *slog.Logger
	extract ExtractFunc
}

// New creates a pipeline with its collaborators.
func New(st store.Store, ocr providers.OCRProvider, chat providers.ChatProvider, cat *catalog.Catalog, cfg config.Pipeline, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		store:   st,
		ocr:     ocr,
		chat:    chat,
		cat:     cat,
		cfg:     cfg,
		logger:  logger,
		extract: pdf.ExtractPages,
	}
}

// Execute runs a job from its resume point to completion. A job already
// processing with no retry requested is rejected with ErrJobBusy and its
// state is left untouched. Stage failures persist the error state and
// are returned so the hosting scheduler observes them too.
func (p *Pipeline) Execute(ctx context.Context, job *Job) error {
	if job.Status == StatusProcessing && job.RetryFromStep == "" {
		return ErrJobBusy
	}

	start := p.startStep(job)
	logger := p.logger.With("job_id", job.ID, "retry_count", job.RetryCount)

	job.Status = StatusProcessing
	job.ErrorMessage = ""
	job.RetryFromStep = ""
	if err := p.saveProgress(ctx, job, start); err != nil {
		return err
	}

	// The classifier's uploaded file is removed whatever happens below.
	defer p.cleanupSessionFile(job, logger)

	for step := start; step != StepCompleted; step = nextStep(step) {
		if err := p.saveProgress(ctx, job, step); err != nil {
			return p.fail(ctx, job, logger, err)
		}

		logger.Info("running step", "step", step)
		if err := p.runStep(ctx, job, step, logger); err != nil {
			return p.fail(ctx, job, logger, fmt.Errorf("step %s: %w", step, err))
		}

		job.LastCompletedStep = step
		if err := p.save(ctx, job, map[string]any{
			"last_completed_step": string(step),
		}); err != nil {
			return p.fail(ctx, job, logger, err)
		}
	}

	if err := p.finish(ctx, job, logger); err != nil {
		return p.fail(ctx, job, logger, err)
	}

	logger.Info("job done", "file", job.FileName)
	return nil
}

// startStep picks where this attempt begins: an explicit retry target
// wins, otherwise the step after the last completed checkpoint.
func (p *Pipeline) startStep(job *Job) Step {
	if job.RetryFromStep.Valid() && job.RetryFromStep.Retryable() {
		return job.RetryFromStep
	}
	if job.LastCompletedStep.Valid() && job.LastCompletedStep != StepQueuePending {
		return nextStep(job.LastCompletedStep)
	}
	return StepUploadValidate
}

func (p *Pipeline) runStep(ctx context.Context, job *Job, step Step, logger *slog.Logger) error {
	switch step {
	case StepUploadValidate:
		return p.stepValidate(ctx, job)
	case StepCategoryMap:
		return p.stepClassify(ctx, job, logger)
	case StepOCR:
		return p.stepOCR(ctx, job, logger)
	case StepStructuring:
		return p.stepStructure(ctx, job, logger)
	case StepMergeValidate:
		return p.stepMerge(ctx, job)
	default:
		return fmt.Errorf("unexpected step %s", step)
	}
}

func (p *Pipeline) stepValidate(ctx context.Context, job *Job) error {
	if err := pdf.Validate(job.SourcePath, p.cfg.MaxFileSizeBytes()); err != nil {
		return err
	}
	count, err := pdf.PageCount(job.SourcePath)
	if err != nil {
		return err
	}
	job.PageCount = count
	return p.save(ctx, job, map[string]any{"page_count": count})
}

func (p *Pipeline) stepClassify(ctx context.Context, job *Job, logger *slog.Logger) error {
	cm, handle, err := Classify(ctx, p.chat, job.SourcePath, job.DocType, p.cfg, logger)
	if handle != "" {
		job.SessionFileID = handle
		// Persist the handle first so cleanup survives a crash between
		// classification and checkpoint save.
		if saveErr := p.save(ctx, job, map[string]any{"session_file_id": handle}); saveErr != nil {
			return saveErr
		}
	}
	if err != nil {
		return err
	}

	blob, err := json.Marshal(cm)
	if err != nil {
		return fmt.Errorf("failed to encode category map: %w", err)
	}
	job.CategoryMappingJSON = string(blob)
	return p.save(ctx, job, map[string]any{"category_mapping_json": job.CategoryMappingJSON})
}

func (p *Pipeline) stepOCR(ctx context.Context, job *Job, logger *slog.Logger) error {
	var cm CategoryMap
	if err := json.Unmarshal([]byte(job.CategoryMappingJSON), &cm); err != nil {
		return fmt.Errorf("corrupt category mapping checkpoint: %w", err)
	}

	results, err := RunOCR(ctx, p.ocr, p.extract, job.SourcePath, cm, job.DocType, p.cfg, logger)
	if err != nil {
		return err
	}
	if !results.Succeeded() {
		return fmt.Errorf("ocr produced no usable output for any category")
	}

	blob, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to encode ocr results: %w", err)
	}
	job.OCRResultsJSON = string(blob)
	return p.save(ctx, job, map[string]any{"ocr_results_json": job.OCRResultsJSON})
}

func (p *Pipeline) stepStructure(ctx context.Context, job *Job, logger *slog.Logger) error {
	var results OCRResults
	if err := json.Unmarshal([]byte(job.OCRResultsJSON), &results); err != nil {
		return fmt.Errorf("corrupt ocr checkpoint: %w", err)
	}

	data, err := Structure(ctx, p.chat, results, job.DocType, p.cat, p.cfg, logger)
	if err != nil {
		return err
	}

	blob, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode structured data: %w", err)
	}
	job.BatchResultsJSON = string(blob)
	return p.save(ctx, job, map[string]any{"batch_results_json": job.BatchResultsJSON})
}

func (p *Pipeline) stepMerge(ctx context.Context, job *Job) error {
	var data StructuredData
	if err := json.Unmarshal([]byte(job.BatchResultsJSON), &data); err != nil {
		return fmt.Errorf("corrupt structuring checkpoint: %w", err)
	}

	merged := ValidateFlags(Merge(&data), job.DocType)

	blob, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to encode merged record: %w", err)
	}
	job.MergedResultJSON = string(blob)
	return p.save(ctx, job, map[string]any{"merged_result_json": job.MergedResultJSON})
}

// finish builds the next-action payload and marks the job done.
func (p *Pipeline) finish(ctx context.Context, job *Job, logger *slog.Logger) error {
	job.Progress = 90
	job.ProgressMessage = "Building extraction record"
	if err := p.save(ctx, job, map[string]any{
		"progress":         90,
		"progress_message": job.ProgressMessage,
	}); err != nil {
		return err
	}

	var merged map[string]any
	if err := json.Unmarshal([]byte(job.MergedResultJSON), &merged); err != nil {
		return fmt.Errorf("corrupt merged checkpoint: %w", err)
	}

	action := BuildActions(merged, job.DocType, p.cat, job.FileName, logger)
	blob, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("failed to encode action: %w", err)
	}

	job.ActionsJSON = string(blob)
	job.Status = StatusDone
	job.CurrentStep = StepCompleted
	job.LastCompletedStep = StepCompleted
	job.Progress = 100
	job.ProgressMessage = "Completed"
	job.CompletedAt = NowRFC3339()

	return p.save(ctx, job, map[string]any{
		"actions_json":        job.ActionsJSON,
		"status":              string(StatusDone),
		"current_step":        string(StepCompleted),
		"last_completed_step": string(StepCompleted),
		"progress":            100,
		"progress_message":    job.ProgressMessage,
		"completed_at":        job.CompletedAt,
	})
}

// saveProgress records the step about to run and its client-facing
// progress milestone.
func (p *Pipeline) saveProgress(ctx context.Context, job *Job, step Step) error {
	progress, msg := progressFor(step)
	job.CurrentStep = step
	job.Progress = progress
	job.ProgressMessage = msg
	return p.save(ctx, job, map[string]any{
		"status":           string(job.Status),
		"current_step":     string(step),
		"progress":         progress,
		"progress_message": msg,
		"error_message":    job.ErrorMessage,
		"retry_from_step":  string(job.RetryFromStep),
	})
}

// save persists job fields, wrapping failures in ErrSaveFailed so they
// stay distinguishable from extraction errors.
func (p *Pipeline) save(ctx context.Context, job *Job, fields map[string]any) error {
	job.UpdatedAt = NowRFC3339()
	fields["updated_at"] = job.UpdatedAt
	if err := p.store.Update(ctx, store.CollectionExtractionJob, job.ID, fields); err != nil {
		return saveErr(err)
	}
	return nil
}

// fail persists the error state and returns the original error so the
// hosting scheduler also observes the failure.
func (p *Pipeline) fail(ctx context.Context, job *Job, logger *slog.Logger, cause error) error {
	logger.Error("job failed", "step", job.CurrentStep, "error", cause)

	job.Status = StatusError
	job.ErrorMessage = cause.Error()
	if err := p.save(ctx, job, map[string]any{
		"status":        string(StatusError),
		"error_message": job.ErrorMessage,
	}); err != nil {
		logger.Error("failed to persist error state", "error", err)
	}
	return cause
}

// cleanupSessionFile deletes the classifier's uploaded file best-effort.
func (p *Pipeline) cleanupSessionFile(job *Job, logger *slog.Logger) {
	if job.SessionFileID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := p.chat.DeleteFile(ctx, job.SessionFileID); err != nil {
		logger.Warn("failed to delete session file",
			"file_id", job.SessionFileID,
			"error", err)
	}
}
