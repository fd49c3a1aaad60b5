package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ozonereg/declpipe/internal/doctype"
	"github.com/ozonereg/declpipe/internal/jobs"
	"github.com/ozonereg/declpipe/internal/pipeline"
	"github.com/ozonereg/declpipe/internal/store"
	"github.com/ozonereg/declpipe/internal/svcctx"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// noopExec accepts every job without running the pipeline.
type noopExec struct{}

func (noopExec) Execute(_ context.Context, _ *pipeline.Job) error { return nil }

func testServer(t *testing.T) (*httptest.Server, *store.Memory, *jobs.Manager) {
	t.Helper()
	mem := store.NewMemory()
	mgr := jobs.NewManager(mem, nil, testLogger())
	runner := jobs.NewRunner(noopExec{}, 1, 8, testLogger())

	services := &svcctx.Services{
		Store:      mem,
		JobManager: mgr,
		Runner:     runner,
		Logger:     testLogger(),
		DataDir:    t.TempDir(),
	}

	mux := http.NewServeMux()
	for _, ep := range All() {
		method, path, handler := ep.Route()
		mux.HandleFunc(method+" "+path, handler)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r.WithContext(svcctx.WithServices(r.Context(), services)))
	}))
	t.Cleanup(srv.Close)
	return srv, mem, mgr
}

func multipartPDF(t *testing.T, docType string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "decl.pdf")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("%PDF-1.7 test payload"))
	mw.WriteField("doc_type", docType)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestSubmitEndpoint(t *testing.T) {
	srv, mem, _ := testServer(t)

	body, contentType := multipartPDF(t, "form01")
	resp, err := http.Post(srv.URL+"/api/extractions", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 202, got %d: %s", resp.StatusCode, raw)
	}

	var out SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.JobID == "" || out.Token == "" {
		t.Fatalf("incomplete response: %+v", out)
	}

	doc, err := mem.Get(context.Background(), store.CollectionExtractionJob, out.JobID, nil)
	if err != nil {
		t.Fatalf("job not persisted: %v", err)
	}
	if doc["status"] != "pending" {
		t.Errorf("expected pending job, got %v", doc["status"])
	}
}

func TestSubmitEndpointRejectsBadDocType(t *testing.T) {
	srv, _, _ := testServer(t)

	body, contentType := multipartPDF(t, "form99")
	resp, err := http.Post(srv.URL+"/api/extractions", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, mem, _ := testServer(t)

	job := &pipeline.Job{
		Token:           "tok",
		FileName:        "decl.pdf",
		DocType:         doctype.Form01,
		Status:          pipeline.StatusDone,
		Progress:        100,
		ProgressMessage: "Completed",
		ActionsJSON:     `{"type":"create_extraction_record"}`,
	}
	id, err := mem.Create(context.Background(), store.CollectionExtractionJob, job.ToDoc())
	if err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(srv.URL + "/api/extractions/" + id + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.State != "done" || out.Progress != 100 {
		t.Errorf("unexpected status: %+v", out)
	}
	if !strings.Contains(string(out.Action), "create_extraction_record") {
		t.Errorf("done job must expose its action, got %s", out.Action)
	}
}

func TestStatusEndpointHidesActionUntilDone(t *testing.T) {
	srv, mem, _ := testServer(t)

	job := &pipeline.Job{
		Token:       "tok2",
		DocType:     doctype.Form01,
		Status:      pipeline.StatusProcessing,
		Progress:    45,
		ActionsJSON: `{"type":"stale"}`,
	}
	id, _ := mem.Create(context.Background(), store.CollectionExtractionJob, job.ToDoc())

	resp, err := http.Get(srv.URL + "/api/extractions/" + id + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out StatusResponse
	json.NewDecoder(resp.Body).Decode(&out)
	if len(out.Action) != 0 {
		t.Errorf("action must be absent before completion, got %s", out.Action)
	}
}

func TestStatusEndpointNotFound(t *testing.T) {
	srv, _, _ := testServer(t)

	resp, err := http.Get(srv.URL + "/api/extractions/nope/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRetryEndpoint(t *testing.T) {
	srv, mem, _ := testServer(t)

	job := &pipeline.Job{
		Token:               "tok3",
		DocType:             doctype.Form01,
		Status:              pipeline.StatusError,
		LastCompletedStep:   pipeline.StepOCR,
		CategoryMappingJSON: `{"metadata":[1]}`,
		OCRResultsJSON:      `{"metadata":{"category":"metadata"}}`,
	}
	id, _ := mem.Create(context.Background(), store.CollectionExtractionJob, job.ToDoc())

	body := bytes.NewBufferString(`{"from_step":"ai_batch_processing"}`)
	resp, err := http.Post(srv.URL+"/api/extractions/"+id+"/retry", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 202, got %d: %s", resp.StatusCode, raw)
	}
	var out RetryResponse
	json.NewDecoder(resp.Body).Decode(&out)
	if out.RetryCount != 1 || out.FromStep != "ai_batch_processing" {
		t.Errorf("unexpected retry response: %+v", out)
	}
}

func TestRetryEndpointRejectsMissingCheckpoint(t *testing.T) {
	srv, mem, _ := testServer(t)

	job := &pipeline.Job{
		Token:             "tok4",
		DocType:           doctype.Form01,
		Status:            pipeline.StatusError,
		LastCompletedStep: pipeline.StepCategoryMap,
	}
	id, _ := mem.Create(context.Background(), store.CollectionExtractionJob, job.ToDoc())

	body := bytes.NewBufferString(`{"from_step":"llama_ocr"}`)
	resp, err := http.Post(srv.URL+"/api/extractions/"+id+"/retry", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing checkpoint, got %d", resp.StatusCode)
	}
	var out ErrorResponse
	json.NewDecoder(resp.Body).Decode(&out)
	if out.Error == "" {
		t.Error("rejection must carry a user-facing message")
	}
}

func TestListEndpointFiltersByStatus(t *testing.T) {
	srv, mem, _ := testServer(t)

	for _, st := range []pipeline.Status{pipeline.StatusDone, pipeline.StatusError, pipeline.StatusDone} {
		job := &pipeline.Job{Token: string(st), DocType: doctype.Form01, Status: st}
		if _, err := mem.Create(context.Background(), store.CollectionExtractionJob, job.ToDoc()); err != nil {
			t.Fatal(err)
		}
	}

	resp, err := http.Get(srv.URL + "/api/extractions?status=done")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out ListResponse
	json.NewDecoder(resp.Body).Decode(&out)
	if len(out.Jobs) != 2 {
		t.Fatalf("expected 2 done jobs, got %d", len(out.Jobs))
	}
	for _, j := range out.Jobs {
		if j.State != "done" {
			t.Errorf("filter leaked state %s", j.State)
		}
	}
}
