package endpoints

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ozonereg/declpipe/internal/api"
	"github.com/ozonereg/declpipe/internal/svcctx"
)

// JobSummary is one row in the extraction job listing.
type JobSummary struct {
	JobID     string `json:"job_id"`
	FileName  string `json:"file_name"`
	DocType   string `json:"doc_type"`
	State     string `json:"state"`
	Progress  int    `json:"progress"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// ListResponse wraps the job listing.
type ListResponse struct {
	Jobs []JobSummary `json:"jobs"`
}

// ListEndpoint handles GET /api/extractions with an optional status
// filter.
type ListEndpoint struct{}

var _ api.Endpoint = (*ListEndpoint)(nil)

func (e *ListEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/extractions", e.handler
}

func (e *ListEndpoint) RequiresInit() bool { return true }

func (e *ListEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	mgr := svcctx.JobManagerFrom(r.Context())
	if mgr == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw))
			return
		}
		limit = n
	}

	jobList, err := mgr.List(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := ListResponse{Jobs: make([]JobSummary, 0, len(jobList))}
	for _, j := range jobList {
		resp.Jobs = append(resp.Jobs, JobSummary{
			JobID:     j.ID,
			FileName:  j.FileName,
			DocType:   string(j.DocType),
			State:     string(j.Status),
			Progress:  j.Progress,
			CreatedAt: j.CreatedAt,
			UpdatedAt: j.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *ListEndpoint) Command(getServerURL func() string) *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List extraction jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			q := url.Values{}
			if status != "" {
				q.Set("status", status)
			}
			q.Set("limit", strconv.Itoa(limit))

			var resp ListResponse
			if err := client.Get(cmd.Context(), "/api/extractions?"+q.Encode(), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by state (pending, processing, done, error)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum jobs to return")
	return cmd
}
