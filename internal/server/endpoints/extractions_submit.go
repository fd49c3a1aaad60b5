package endpoints

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ozonereg/declpipe/internal/api"
	"github.com/ozonereg/declpipe/internal/doctype"
	"github.com/ozonereg/declpipe/internal/jobs"
	"github.com/ozonereg/declpipe/internal/svcctx"
)

// SubmitResponse is returned when a PDF is accepted for extraction.
type SubmitResponse struct {
	JobID string `json:"job_id"`
	Token string `json:"token"`
}

// SubmitEndpoint handles POST /api/extractions with a multipart PDF
// upload. The job is enqueued and the client polls the status endpoint.
type SubmitEndpoint struct{}

var _ api.Endpoint = (*SubmitEndpoint)(nil)

func (e *SubmitEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/extractions", e.handler
}

func (e *SubmitEndpoint) RequiresInit() bool { return true }

func (e *SubmitEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	const maxMemory = 64 << 20
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	dt, err := doctype.Parse(r.FormValue("doc_type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	files := r.MultipartForm.File["file"]
	if len(files) != 1 {
		writeError(w, http.StatusBadRequest, "exactly one file is required")
		return
	}
	fh := files[0]
	if !strings.HasSuffix(strings.ToLower(fh.Filename), ".pdf") {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("file %s is not a PDF", fh.Filename))
		return
	}

	mgr := svcctx.JobManagerFrom(r.Context())
	runner := svcctx.RunnerFrom(r.Context())
	if mgr == nil || runner == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	dataDir := svcctx.DataDirFrom(r.Context())
	if dataDir == "" {
		dataDir = os.TempDir()
	}

	src, err := fh.Open()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to open upload: %v", err))
		return
	}
	defer src.Close()

	destPath := filepath.Join(dataDir, uuid.NewString()+".pdf")
	dst, err := os.Create(destPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to stage upload: %v", err))
		return
	}

	hasher := sha256.New()
	_, err = io.Copy(io.MultiWriter(dst, hasher), src)
	dst.Close()
	if err != nil {
		os.Remove(destPath)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to save upload: %v", err))
		return
	}

	job, err := mgr.Submit(r.Context(), jobs.SubmitRequest{
		FileName:   fh.Filename,
		FileHash:   hex.EncodeToString(hasher.Sum(nil)),
		SourcePath: destPath,
		DocType:    dt,
	})
	if err != nil {
		os.Remove(destPath)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to create job: %v", err))
		return
	}

	if err := runner.Enqueue(job); err != nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("failed to enqueue job: %v", err))
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitResponse{JobID: job.ID, Token: job.Token})
}

func (e *SubmitEndpoint) Command(getServerURL func() string) *cobra.Command {
	var docType string
	cmd := &cobra.Command{
		Use:   "submit <file.pdf>",
		Short: "Submit a PDF for extraction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp SubmitResponse
			err := client.PostFile(cmd.Context(), "/api/extractions", "file", args[0],
				map[string]string{"doc_type": docType}, &resp)
			if err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&docType, "doc-type", "form01", "document type (form01 or form02)")
	return cmd
}
