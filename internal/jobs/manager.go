package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ozonereg/declpipe/internal/doctype"
	"github.com/ozonereg/declpipe/internal/pipeline"
	"github.com/ozonereg/declpipe/internal/store"
)

// Manager owns ExtractionJob lifecycle outside the pipeline itself:
// creating jobs, looking them up for the status API, and validating
// user retry requests. Low-priority audit mirrors go through the sink;
// state transitions that matter go straight to the store.
type Manager struct {
	store  store.Store
	sink   *store.Sink
	logger *slog.Logger
}

// NewManager creates a job manager. The sink may be nil; audit mirror
// writes are then skipped.
func NewManager(st store.Store, sink *store.Sink, logger *slog.Logger) *Manager {
	return &Manager{
		store:  st,
		sink:   sink,
		logger: logger.With("component", "jobs"),
	}
}

// SubmitRequest describes a new extraction job.
type SubmitRequest struct {
	FileName   string
	FileHash   string
	SourcePath string
	DocType    doctype.DocType
}

// Submit creates a pending job and returns it with its correlation
// token. The job is not executed here; the caller enqueues it on a
// Runner.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*pipeline.Job, error) {
	if _, err := doctype.Parse(string(req.DocType)); err != nil {
		return nil, err
	}

	job := &pipeline.Job{
		Token:             uuid.NewString(),
		FileName:          req.FileName,
		FileHash:          req.FileHash,
		SourcePath:        req.SourcePath,
		DocType:           req.DocType,
		Status:            pipeline.StatusPending,
		CurrentStep:       pipeline.StepQueuePending,
		LastCompletedStep: pipeline.StepQueuePending,
		ProgressMessage:   "Queued",
		CreatedAt:         pipeline.NowRFC3339(),
	}
	job.UpdatedAt = job.CreatedAt

	id, err := m.store.Create(ctx, store.CollectionExtractionJob, job.ToDoc())
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	job.ID = id

	m.logger.Info("job submitted",
		"job_id", id,
		"file", req.FileName,
		"doc_type", req.DocType)
	return job, nil
}

// Get loads a job by store document ID.
func (m *Manager) Get(ctx context.Context, id string) (*pipeline.Job, error) {
	doc, err := m.store.Get(ctx, store.CollectionExtractionJob, id, pipeline.JobFields)
	if err != nil {
		return nil, err
	}
	return pipeline.JobFromDoc(doc), nil
}

// GetByToken loads a job by its client correlation token.
func (m *Manager) GetByToken(ctx context.Context, token string) (*pipeline.Job, error) {
	docs, err := m.store.List(ctx, store.CollectionExtractionJob,
		map[string]any{"token": token}, pipeline.JobFields, 1)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: token %s", store.ErrNotFound, token)
	}
	return pipeline.JobFromDoc(docs[0]), nil
}

// List returns jobs, optionally filtered by status.
func (m *Manager) List(ctx context.Context, status string, limit int) ([]*pipeline.Job, error) {
	filter := map[string]any{}
	if status != "" {
		filter["status"] = status
	}
	docs, err := m.store.List(ctx, store.CollectionExtractionJob, filter, pipeline.JobFields, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*pipeline.Job, 0, len(docs))
	for _, doc := range docs {
		out = append(out, pipeline.JobFromDoc(doc))
	}
	return out, nil
}

// RequestRetry validates and records a user retry from the given step.
// The returned job carries the bumped retry count, which changes its
// single-flight attempt key.
func (m *Manager) RequestRetry(ctx context.Context, id string, step pipeline.Step) (*pipeline.Job, error) {
	job, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := job.CanRetryFrom(step); err != nil {
		return nil, err
	}

	job.RetryCount++
	job.RetryFromStep = step
	job.UpdatedAt = pipeline.NowRFC3339()

	if err := m.store.Update(ctx, store.CollectionExtractionJob, id, map[string]any{
		"retry_count":     job.RetryCount,
		"retry_from_step": string(step),
		"updated_at":      job.UpdatedAt,
	}); err != nil {
		return nil, fmt.Errorf("failed to record retry: %w", err)
	}

	m.logger.Info("retry requested",
		"job_id", id,
		"from_step", step,
		"retry_count", job.RetryCount)
	return job, nil
}

// Audit mirrors a low-priority field update through the sink.
// Lost writes here never block or corrupt a run.
func (m *Manager) Audit(jobID string, fields map[string]any) {
	if m.sink == nil {
		return
	}
	err := m.sink.Write(store.WriteOp{
		Type:       store.OpUpdate,
		Collection: store.CollectionExtractionJob,
		DocID:      jobID,
		Input:      fields,
	})
	if err != nil {
		m.logger.Warn("audit write dropped", "job_id", jobID, "error", err)
	}
}
