package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestPDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.7 test"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLlamaParseUpload(t *testing.T) {
	var gotLanguage, gotInstruction string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/parsing/upload" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Fatalf("bad multipart form: %v", err)
		}
		gotLanguage = r.FormValue("language")
		gotInstruction = r.FormValue("parsing_instruction")
		json.NewEncoder(w).Encode(map[string]string{"id": "job-123", "status": "PENDING"})
	}))
	defer srv.Close()

	c := NewLlamaParseClient(LlamaParseConfig{APIKey: "k", BaseURL: srv.URL, RateLimit: 1000})
	handle, err := c.Upload(context.Background(), writeTestPDF(t), "extract the substance table")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if handle != "job-123" {
		t.Errorf("expected job-123, got %s", handle)
	}
	if gotLanguage != "vi" {
		t.Errorf("expected Vietnamese language hint, got %q", gotLanguage)
	}
	if !strings.Contains(gotInstruction, "substance table") {
		t.Errorf("instruction not forwarded: %q", gotInstruction)
	}
}

func TestLlamaParsePoll(t *testing.T) {
	status := "PENDING"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "job-123", "status": status})
	}))
	defer srv.Close()

	c := NewLlamaParseClient(LlamaParseConfig{APIKey: "k", BaseURL: srv.URL, RateLimit: 1000})
	ctx := context.Background()

	got, err := c.Poll(ctx, "job-123")
	if err != nil || got != OCRStatusProcessing {
		t.Errorf("expected processing, got %s err=%v", got, err)
	}

	status = "SUCCESS"
	got, err = c.Poll(ctx, "job-123")
	if err != nil || got != OCRStatusReady {
		t.Errorf("expected ready, got %s err=%v", got, err)
	}

	status = "ERROR"
	got, err = c.Poll(ctx, "job-123")
	if got != OCRStatusFailed || !errors.Is(err, ErrOCRFailed) {
		t.Errorf("expected failed with ErrOCRFailed, got %s err=%v", got, err)
	}
}

func TestLlamaParseResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/result/json") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"pages": []map[string]any{
				{"page": 1, "md": "# Bảng 1.1", "width": 612.0, "height": 792.0},
				{"page": 2, "md": "<table><tr><td>HFC-134a</td></tr></table>"},
			},
		})
	}))
	defer srv.Close()

	c := NewLlamaParseClient(LlamaParseConfig{APIKey: "k", BaseURL: srv.URL, RateLimit: 1000})
	out, err := c.Result(context.Background(), "job-123")
	if err != nil {
		t.Fatalf("Result failed: %v", err)
	}
	if len(out.Pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(out.Pages))
	}
	if out.Pages[0].Markdown != "# Bảng 1.1" {
		t.Errorf("unexpected markdown: %q", out.Pages[0].Markdown)
	}
	if out.Handle != "job-123" {
		t.Errorf("handle not carried through: %q", out.Handle)
	}
}
