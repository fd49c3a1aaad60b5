// Package pipeline implements the checkpointed extraction state machine:
// classification, per-category OCR, conversational batch structuring,
// merge and validation, and the final record payload build. Each stage
// persists its output before the next stage starts, so a failed job can
// resume from the last good checkpoint.
package pipeline

import (
	"errors"
	"fmt"
)

// Step identifies one stage of the pipeline.
type Step string

const (
	StepQueuePending   Step = "queue_pending"
	StepUploadValidate Step = "upload_validate"
	StepCategoryMap    Step = "category_mapping"
	StepOCR            Step = "llama_ocr"
	StepStructuring    Step = "ai_batch_processing"
	StepMergeValidate  Step = "merge_validate"
	StepCompleted      Step = "completed"
)

// stepOrder is the fixed execution order. last_completed_step only ever
// advances forward through this sequence.
var stepOrder = []Step{
	StepQueuePending,
	StepUploadValidate,
	StepCategoryMap,
	StepOCR,
	StepStructuring,
	StepMergeValidate,
	StepCompleted,
}

// Index returns the position of a step in the pipeline order, or -1.
func (s Step) Index() int {
	for i, step := range stepOrder {
		if step == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s names a known step.
func (s Step) Valid() bool {
	return s.Index() >= 0
}

// Before reports whether s comes before other in pipeline order.
func (s Step) Before(other Step) bool {
	return s.Index() < other.Index()
}

// retryableSteps are the steps a user may re-queue a failed job from.
var retryableSteps = map[Step]bool{
	StepCategoryMap: true,
	StepOCR:         true,
	StepStructuring: true,
}

// Retryable reports whether a user retry may target this step.
func (s Step) Retryable() bool {
	return retryableSteps[s]
}

// Status is the job lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// Sentinel errors for job control flow.
var (
	// ErrStepNotResumable is returned when a retry targets a step whose
	// checkpoint is missing or that is not user-retryable.
	ErrStepNotResumable = errors.New("step cannot be resumed")

	// ErrJobBusy is returned when a run is requested for a job already
	// processing with the same attempt identity.
	ErrJobBusy = errors.New("job already processing")

	// ErrSaveFailed wraps checkpoint or result persistence failures so
	// they stay distinguishable from extraction failures.
	ErrSaveFailed = errors.New("failed to save job state")
)

// progressFor maps a step about to run to the coarse progress shown to a
// polling client. Progress within one attempt is monotonically
// non-decreasing; it only resets when a retry targets an earlier step.
func progressFor(step Step) (int, string) {
	switch step {
	case StepQueuePending:
		return 0, "Queued"
	case StepUploadValidate:
		return 5, "Validating document"
	case StepCategoryMap:
		return 10, "Mapping document categories"
	case StepOCR:
		return 25, "Running OCR"
	case StepStructuring:
		return 45, "Extracting structured data"
	case StepMergeValidate:
		return 70, "Merging and validating"
	case StepCompleted:
		return 100, "Completed"
	default:
		return 0, string(step)
	}
}

// nextStep returns the step after s, or StepCompleted at the end.
func nextStep(s Step) Step {
	i := s.Index()
	if i < 0 || i+1 >= len(stepOrder) {
		return StepCompleted
	}
	return stepOrder[i+1]
}

// saveErr wraps err in ErrSaveFailed.
func saveErr(err error) error {
	return fmt.Errorf("%w: %v", ErrSaveFailed, err)
}
