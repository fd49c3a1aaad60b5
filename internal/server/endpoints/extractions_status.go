package endpoints

import (
	"encoding/json"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/ozonereg/declpipe/internal/api"
	"github.com/ozonereg/declpipe/internal/pipeline"
	"github.com/ozonereg/declpipe/internal/svcctx"
)

// StatusResponse reports job progress to a polling client. Action is
// only populated once the job reaches the done state.
type StatusResponse struct {
	JobID           string          `json:"job_id"`
	State           string          `json:"state"`
	Progress        int             `json:"progress"`
	ProgressMessage string          `json:"progress_message"`
	CurrentStep     string          `json:"current_step,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	RetryCount      int             `json:"retry_count,omitempty"`
	Action          json.RawMessage `json:"action,omitempty"`
}

// StatusEndpoint handles GET /api/extractions/{id}/status.
type StatusEndpoint struct{}

var _ api.Endpoint = (*StatusEndpoint)(nil)

func (e *StatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/extractions/{id}/status", e.handler
}

func (e *StatusEndpoint) RequiresInit() bool { return true }

func (e *StatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	mgr := svcctx.JobManagerFrom(r.Context())
	if mgr == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	job, err := mgr.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "extraction job not found")
		return
	}

	writeJSON(w, http.StatusOK, statusOf(job))
}

func statusOf(job *pipeline.Job) StatusResponse {
	resp := StatusResponse{
		JobID:           job.ID,
		State:           string(job.Status),
		Progress:        job.Progress,
		ProgressMessage: job.ProgressMessage,
		CurrentStep:     string(job.CurrentStep),
		ErrorMessage:    job.ErrorMessage,
		RetryCount:      job.RetryCount,
	}
	if job.Status == pipeline.StatusDone && job.ActionsJSON != "" {
		resp.Action = json.RawMessage(job.ActionsJSON)
	}
	return resp
}

func (e *StatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Poll an extraction job's progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp StatusResponse
			if err := client.Get(cmd.Context(), "/api/extractions/"+args[0]+"/status", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
