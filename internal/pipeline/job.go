package pipeline

import (
	"strconv"
	"time"

	"github.com/ozonereg/declpipe/internal/doctype"
)

// Job is the persisted state of one extraction run. Checkpoint blobs are
// opaque JSON strings; each stage reads its predecessor's blob and writes
// its own. Jobs are never deleted, only advanced.
type Job struct {
	ID    string // store document ID
	Token string // opaque correlation token for client polling

	FileName   string
	FileHash   string
	SourcePath string
	DocType    doctype.DocType
	PageCount  int

	Status            Status
	CurrentStep       Step
	LastCompletedStep Step
	Progress          int
	ProgressMessage   string
	ErrorMessage      string

	RetryCount    int
	RetryFromStep Step

	// SessionFileID is the classifier's uploaded file handle, kept so
	// cleanup can run even when a later stage fails.
	SessionFileID string

	CategoryMappingJSON string
	OCRResultsJSON      string
	BatchResultsJSON    string
	MergedResultJSON    string
	ActionsJSON         string

	CreatedAt   string
	UpdatedAt   string
	CompletedAt string
}

// checkpointFor returns the persisted blob for a step, or "" when absent.
func (j *Job) checkpointFor(step Step) string {
	switch step {
	case StepCategoryMap:
		return j.CategoryMappingJSON
	case StepOCR:
		return j.OCRResultsJSON
	case StepStructuring:
		return j.BatchResultsJSON
	case StepMergeValidate:
		return j.MergedResultJSON
	}
	return ""
}

// CanRetryFrom checks whether a user retry may target the given step: the
// step must be user-retryable, at or before the last completed step, and
// the checkpoint feeding it must exist.
func (j *Job) CanRetryFrom(step Step) error {
	if !step.Retryable() {
		return ErrStepNotResumable
	}
	if j.LastCompletedStep.Index() < step.Index()-1 {
		return ErrStepNotResumable
	}
	// The retried step re-reads its input, which is the checkpoint of the
	// step before it. category_mapping re-reads the validated upload, which
	// is always present once upload_validate completed.
	prev := stepOrder[step.Index()-1]
	if prev != StepUploadValidate && j.checkpointFor(prev) == "" {
		return ErrStepNotResumable
	}
	return nil
}

// AttemptKey is the single-flight identity for one execution attempt.
// Re-queuing after a retry changes the key so a stale in-flight attempt
// cannot collide with the new one.
func (j *Job) AttemptKey() string {
	return j.ID + ":" + strconv.Itoa(j.RetryCount)
}

// ToDoc converts the job to a store document.
func (j *Job) ToDoc() map[string]any {
	return map[string]any{
		"token":                 j.Token,
		"file_name":             j.FileName,
		"file_hash":             j.FileHash,
		"source_path":           j.SourcePath,
		"doc_type":              string(j.DocType),
		"page_count":            j.PageCount,
		"status":                string(j.Status),
		"current_step":          string(j.CurrentStep),
		"last_completed_step":   string(j.LastCompletedStep),
		"progress":              j.Progress,
		"progress_message":      j.ProgressMessage,
		"error_message":         j.ErrorMessage,
		"retry_count":           j.RetryCount,
		"retry_from_step":       string(j.RetryFromStep),
		"session_file_id":       j.SessionFileID,
		"category_mapping_json": j.CategoryMappingJSON,
		"ocr_results_json":      j.OCRResultsJSON,
		"batch_results_json":    j.BatchResultsJSON,
		"merged_result_json":    j.MergedResultJSON,
		"actions_json":          j.ActionsJSON,
		"created_at":            j.CreatedAt,
		"updated_at":            j.UpdatedAt,
		"completed_at":          j.CompletedAt,
	}
}

// JobFromDoc converts a store document back into a Job.
func JobFromDoc(doc map[string]any) *Job {
	return &Job{
		ID:                  docStr(doc, "_docID"),
		Token:               docStr(doc, "token"),
		FileName:            docStr(doc, "file_name"),
		FileHash:            docStr(doc, "file_hash"),
		SourcePath:          docStr(doc, "source_path"),
		DocType:             doctype.DocType(docStr(doc, "doc_type")),
		PageCount:           docInt(doc, "page_count"),
		Status:              Status(docStr(doc, "status")),
		CurrentStep:         Step(docStr(doc, "current_step")),
		LastCompletedStep:   Step(docStr(doc, "last_completed_step")),
		Progress:            docInt(doc, "progress"),
		ProgressMessage:     docStr(doc, "progress_message"),
		ErrorMessage:        docStr(doc, "error_message"),
		RetryCount:          docInt(doc, "retry_count"),
		RetryFromStep:       Step(docStr(doc, "retry_from_step")),
		SessionFileID:       docStr(doc, "session_file_id"),
		CategoryMappingJSON: docStr(doc, "category_mapping_json"),
		OCRResultsJSON:      docStr(doc, "ocr_results_json"),
		BatchResultsJSON:    docStr(doc, "batch_results_json"),
		MergedResultJSON:    docStr(doc, "merged_result_json"),
		ActionsJSON:         docStr(doc, "actions_json"),
		CreatedAt:           docStr(doc, "created_at"),
		UpdatedAt:           docStr(doc, "updated_at"),
		CompletedAt:         docStr(doc, "completed_at"),
	}
}

// JobFields lists the store fields fetched when loading jobs.
var JobFields = []string{
	"token", "file_name", "file_hash", "source_path", "doc_type",
	"page_count", "status", "current_step", "last_completed_step",
	"progress", "progress_message", "error_message", "retry_count",
	"retry_from_step", "session_file_id", "category_mapping_json",
	"ocr_results_json", "batch_results_json", "merged_result_json",
	"actions_json", "created_at", "updated_at", "completed_at",
}

// NowRFC3339 is the timestamp format used on every persisted job field.
func NowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func docStr(doc map[string]any, key string) string {
	s, _ := doc[key].(string)
	return s
}

func docInt(doc map[string]any, key string) int {
	switch n := doc[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

