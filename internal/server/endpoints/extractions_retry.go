package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/ozonereg/declpipe/internal/api"
	"github.com/ozonereg/declpipe/internal/pipeline"
	"github.com/ozonereg/declpipe/internal/store"
	"github.com/ozonereg/declpipe/internal/svcctx"
)

// RetryRequest asks for a job re-run from a specific step.
type RetryRequest struct {
	FromStep string `json:"from_step"`
}

// RetryResponse confirms an accepted retry.
type RetryResponse struct {
	JobID      string `json:"job_id"`
	FromStep   string `json:"from_step"`
	RetryCount int    `json:"retry_count"`
}

// RetryEndpoint handles POST /api/extractions/{id}/retry. Only steps
// with a persisted input checkpoint may be retried.
type RetryEndpoint struct{}

var _ api.Endpoint = (*RetryEndpoint)(nil)

func (e *RetryEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/extractions/{id}/retry", e.handler
}

func (e *RetryEndpoint) RequiresInit() bool { return true }

func (e *RetryEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	mgr := svcctx.JobManagerFrom(r.Context())
	runner := svcctx.RunnerFrom(r.Context())
	if mgr == nil || runner == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	var req RetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	step := pipeline.Step(req.FromStep)
	if !step.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown step %q", req.FromStep))
		return
	}

	job, err := mgr.RequestRetry(r.Context(), r.PathValue("id"), step)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "extraction job not found")
		return
	case errors.Is(err, pipeline.ErrStepNotResumable):
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("step %s cannot be retried: its input checkpoint is missing or the step is not user-retryable", step))
		return
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := runner.Enqueue(job); err != nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("failed to enqueue retry: %v", err))
		return
	}

	writeJSON(w, http.StatusAccepted, RetryResponse{
		JobID:      job.ID,
		FromStep:   string(step),
		RetryCount: job.RetryCount,
	})
}

func (e *RetryEndpoint) Command(getServerURL func() string) *cobra.Command {
	var fromStep string
	cmd := &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Retry a failed extraction from a checkpointed step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp RetryResponse
			err := client.Post(cmd.Context(), "/api/extractions/"+args[0]+"/retry",
				RetryRequest{FromStep: fromStep}, &resp)
			if err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&fromStep, "from-step", "",
		"step to re-run (category_mapping, llama_ocr or ai_batch_processing)")
	cmd.MarkFlagRequired("from-step")
	return cmd
}
