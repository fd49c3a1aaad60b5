package pipeline

import (
	"errors"
	"testing"
)

func TestStepOrder(t *testing.T) {
	if !StepCategoryMap.Before(StepOCR) {
		t.Error("category_mapping must precede llama_ocr")
	}
	if !StepOCR.Before(StepStructuring) {
		t.Error("llama_ocr must precede ai_batch_processing")
	}
	if StepCompleted.Before(StepQueuePending) {
		t.Error("completed is the final step")
	}
	if Step("bogus").Valid() {
		t.Error("unknown step must not validate")
	}
}

func TestRetryableSteps(t *testing.T) {
	for _, s := range []Step{StepCategoryMap, StepOCR, StepStructuring} {
		if !s.Retryable() {
			t.Errorf("%s should be retryable", s)
		}
	}
	for _, s := range []Step{StepQueuePending, StepUploadValidate, StepMergeValidate, StepCompleted} {
		if s.Retryable() {
			t.Errorf("%s should not be retryable", s)
		}
	}
}

func TestCanRetryFrom(t *testing.T) {
	t.Run("structuring retry with ocr checkpoint", func(t *testing.T) {
		j := &Job{
			LastCompletedStep: StepOCR,
			OCRResultsJSON:    `{"metadata":{"category":"metadata"}}`,
		}
		if err := j.CanRetryFrom(StepStructuring); err != nil {
			t.Errorf("expected retry allowed, got %v", err)
		}
	})

	t.Run("ocr retry without mapping checkpoint", func(t *testing.T) {
		j := &Job{LastCompletedStep: StepCategoryMap}
		err := j.CanRetryFrom(StepOCR)
		if !errors.Is(err, ErrStepNotResumable) {
			t.Errorf("expected ErrStepNotResumable, got %v", err)
		}
	})

	t.Run("ocr retry with mapping checkpoint", func(t *testing.T) {
		j := &Job{
			LastCompletedStep:   StepCategoryMap,
			CategoryMappingJSON: `{"metadata":[1]}`,
		}
		if err := j.CanRetryFrom(StepOCR); err != nil {
			t.Errorf("expected retry allowed, got %v", err)
		}
	})

	t.Run("retry past last completed step", func(t *testing.T) {
		j := &Job{LastCompletedStep: StepUploadValidate}
		err := j.CanRetryFrom(StepStructuring)
		if !errors.Is(err, ErrStepNotResumable) {
			t.Errorf("expected ErrStepNotResumable, got %v", err)
		}
	})

	t.Run("non-retryable step rejected", func(t *testing.T) {
		j := &Job{LastCompletedStep: StepCompleted}
		err := j.CanRetryFrom(StepMergeValidate)
		if !errors.Is(err, ErrStepNotResumable) {
			t.Errorf("expected ErrStepNotResumable, got %v", err)
		}
	})

	t.Run("category mapping retry needs only validation", func(t *testing.T) {
		j := &Job{LastCompletedStep: StepUploadValidate}
		if err := j.CanRetryFrom(StepCategoryMap); err != nil {
			t.Errorf("expected retry allowed, got %v", err)
		}
	})
}

func TestAttemptKeyChangesWithRetryCount(t *testing.T) {
	j := &Job{ID: "bae-1", RetryCount: 0}
	first := j.AttemptKey()
	j.RetryCount++
	if j.AttemptKey() == first {
		t.Error("attempt key must change when retry count increments")
	}
}

func TestProgressMonotonicAcrossSteps(t *testing.T) {
	prev := -1
	for _, s := range stepOrder {
		p, msg := progressFor(s)
		if p < prev {
			t.Errorf("progress decreased at %s: %d < %d", s, p, prev)
		}
		if msg == "" {
			t.Errorf("no progress message for %s", s)
		}
		prev = p
	}
}
