package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ozonereg/declpipe/internal/doctype"
	"github.com/ozonereg/declpipe/internal/providers"
	"github.com/ozonereg/declpipe/internal/store"
)

func TestExecuteRejectsBusyJob(t *testing.T) {
	mem := store.NewMemory()
	job := &Job{
		Token:       "tok-1",
		FileName:    "decl.pdf",
		DocType:     doctype.Form01,
		Status:      StatusProcessing,
		CurrentStep: StepOCR,
		Progress:    25,
	}
	id, err := mem.Create(context.Background(), store.CollectionExtractionJob, job.ToDoc())
	if err != nil {
		t.Fatal(err)
	}
	job.ID = id

	p := New(mem, providers.NewMockOCR(), providers.NewMockChat(), testCatalog(), testPipelineCfg(), testLogger())

	if err := p.Execute(context.Background(), job); !errors.Is(err, ErrJobBusy) {
		t.Fatalf("expected ErrJobBusy, got %v", err)
	}

	doc, err := mem.Get(context.Background(), store.CollectionExtractionJob, id, JobFields)
	if err != nil {
		t.Fatal(err)
	}
	if doc["status"] != "processing" || doc["current_step"] != "llama_ocr" {
		t.Errorf("busy rejection must leave the job untouched: %+v", doc)
	}
}

func TestExecuteBusyJobWithRetryProceeds(t *testing.T) {
	mem := store.NewMemory()

	chat := providers.NewMockChat()
	chat.Replies = []string{
		`{"ack": true}`,
		`[{"substance_name":"HFC-134a"}]`,
		`{"organization_name":"ACME"}`,
	}

	ocrOut, _ := json.Marshal(OCRResults{
		"substance_usage": {
			Category: "substance_usage",
			Pages:    []providers.OCRPage{{Index: 1, Markdown: longMarkdown("bảng")}},
		},
		doctype.MetadataCategory: {
			Category: doctype.MetadataCategory,
			Pages:    []providers.OCRPage{{Index: 2, Markdown: longMarkdown("Tên tổ chức")}},
		},
	})

	job := &Job{
		Token:               "tok-2",
		FileName:            "decl.pdf",
		DocType:             doctype.Form01,
		Status:              StatusProcessing,
		LastCompletedStep:   StepOCR,
		RetryFromStep:       StepStructuring,
		RetryCount:          1,
		CategoryMappingJSON: `{"metadata":[2],"substance_usage":[1]}`,
		OCRResultsJSON:      string(ocrOut),
	}
	id, err := mem.Create(context.Background(), store.CollectionExtractionJob, job.ToDoc())
	if err != nil {
		t.Fatal(err)
	}
	job.ID = id

	p := New(mem, providers.NewMockOCR(), chat, testCatalog(), testPipelineCfg(), testLogger())

	if err := p.Execute(context.Background(), job); err != nil {
		t.Fatalf("retry of a processing job must proceed, got %v", err)
	}
	if job.Status != StatusDone {
		t.Errorf("job should finish, got %s", job.Status)
	}
	if job.RetryFromStep != "" {
		t.Errorf("retry target must be cleared, got %q", job.RetryFromStep)
	}
}

func TestExecuteEndToEndFromValidatedUpload(t *testing.T) {
	mem := store.NewMemory()

	chat := providers.NewMockChat()
	chat.FileReplies = []string{`{"metadata":[1],"substance_usage":[2,3]}`}
	chat.Replies = []string{
		`{"ack": true}`,
		`[{"substance_name":"HFC-134a","hs_code":"2903.45.00","quantity":"12,5"}]`,
		`{"organization_name":"ACME","tax_code":"0101234567","has_table_1_1":false}`,
	}

	ocr := providers.NewMockOCR()
	ocr.SetResult("metadata.pdf", &providers.OCROutput{
		Pages: []providers.OCRPage{{Index: 1, Markdown: longMarkdown("Tên tổ chức: ACME")}},
	})
	ocr.SetResult("substance_usage.pdf", &providers.OCROutput{
		Pages: []providers.OCRPage{{Index: 1, Markdown: longMarkdown("<table>HFC-134a</table>")}},
	})

	job := &Job{
		Token:             "tok-3",
		FileName:          "decl.pdf",
		SourcePath:        "/uploads/decl.pdf",
		DocType:           doctype.Form01,
		Status:            StatusPending,
		LastCompletedStep: StepUploadValidate,
		PageCount:         3,
	}
	id, err := mem.Create(context.Background(), store.CollectionExtractionJob, job.ToDoc())
	if err != nil {
		t.Fatal(err)
	}
	job.ID = id

	p := New(mem, ocr, chat, testCatalog(), testPipelineCfg(), testLogger())
	p.extract = stubExtract(nil)

	if err := p.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	doc, err := mem.Get(context.Background(), store.CollectionExtractionJob, id, JobFields)
	if err != nil {
		t.Fatal(err)
	}

	if doc["status"] != "done" {
		t.Errorf("expected done, got %v (error: %v)", doc["status"], doc["error_message"])
	}
	if doc["progress"] != 100 {
		t.Errorf("expected progress 100, got %v", doc["progress"])
	}
	if doc["last_completed_step"] != "completed" {
		t.Errorf("expected completed, got %v", doc["last_completed_step"])
	}
	if doc["completed_at"] == "" {
		t.Error("completed_at not stamped")
	}

	merged, _ := doc["merged_result_json"].(string)
	var record map[string]any
	if err := json.Unmarshal([]byte(merged), &record); err != nil {
		t.Fatalf("merged checkpoint unreadable: %v", err)
	}
	if record["has_table_1_1"] != true {
		t.Errorf("flag must be recomputed from actual rows, got %v", record["has_table_1_1"])
	}
	if record["organization_name"] != "ACME" {
		t.Errorf("metadata lost in merge: %+v", record)
	}

	actions, _ := doc["actions_json"].(string)
	if !strings.Contains(actions, `"substance_id":"s1"`) {
		t.Errorf("action payload must carry the resolved substance id: %s", actions)
	}
	if !strings.Contains(actions, `"organization_id":"o1"`) {
		t.Errorf("action payload must carry the matched organization: %s", actions)
	}

	// The classifier's uploaded file is deleted once the job finishes.
	if len(chat.DeletedFiles) != 1 {
		t.Errorf("session file not cleaned up: %+v", chat.DeletedFiles)
	}
}

func TestExecutePersistsFailureState(t *testing.T) {
	mem := store.NewMemory()

	chat := providers.NewMockChat()
	chat.FileReplies = []string{`not json, not even close`}

	job := &Job{
		Token:             "tok-4",
		FileName:          "decl.pdf",
		SourcePath:        "/uploads/decl.pdf",
		DocType:           doctype.Form01,
		Status:            StatusPending,
		LastCompletedStep: StepUploadValidate,
	}
	id, err := mem.Create(context.Background(), store.CollectionExtractionJob, job.ToDoc())
	if err != nil {
		t.Fatal(err)
	}
	job.ID = id

	p := New(mem, providers.NewMockOCR(), chat, testCatalog(), testPipelineCfg(), testLogger())
	p.extract = stubExtract(nil)

	if err := p.Execute(context.Background(), job); err == nil {
		t.Fatal("expected the classifier failure to surface")
	}

	doc, err := mem.Get(context.Background(), store.CollectionExtractionJob, id, JobFields)
	if err != nil {
		t.Fatal(err)
	}
	if doc["status"] != "error" {
		t.Errorf("expected error status, got %v", doc["status"])
	}
	if msg, _ := doc["error_message"].(string); msg == "" {
		t.Error("error message not persisted")
	}
	// The file was uploaded before classification failed; cleanup still ran.
	if len(chat.DeletedFiles) != 1 {
		t.Errorf("session file must be cleaned up on failure too: %+v", chat.DeletedFiles)
	}
}
