package cmd

import (
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentbrain/agentbrain/internal/errors"
	"github.com/agentbrain/agentbrain/internal/jobs"
	"github.com/agentbrain/agentbrain/internal/ui"
)

// watchPollInterval paces job progress polling.
const watchPollInterval = 250 * time.Millisecond

// jobDetail mirrors the daemon's job payload.
type jobDetail struct {
	jobs.Job
	Detail *jobs.ProgressSnapshot `json:"progress_detail,omitempty"`
}

func newJobsCmd(flags *rootFlags) *cobra.Command {
	var watch bool
	var cancel bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "jobs [job_id]",
		Short: "List jobs, inspect one, or cancel it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := flags.paths()
			if err != nil {
				return err
			}
			rt, err := discover(paths)
			if err != nil {
				return err
			}

			if len(args) == 0 {
				if cancel || watch {
					return errors.InvalidArgument("--cancel and --watch need a job id")
				}
				return listJobs(cmd, rt.BaseURL, asJSON)
			}

			id := args[0]
			if cancel {
				var resp map[string]string
				if err := callJSON(cmd.Context(), http.MethodPost, rt.BaseURL+"/jobs/"+id+"/cancel", nil, &resp); err != nil {
					return err
				}
				fmt.Printf("job %s %s\n", id, resp["status"])
				return nil
			}
			if watch {
				return watchJob(cmd, rt.BaseURL, id)
			}

			var detail jobDetail
			if err := callJSON(cmd.Context(), http.MethodGet, rt.BaseURL+"/jobs/"+id, nil, &detail); err != nil {
				return err
			}
			return printJSON(detail)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "follow the job until it finishes")
	cmd.Flags().BoolVar(&cancel, "cancel", false, "cancel the job")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print jobs as JSON")
	return cmd
}

func listJobs(cmd *cobra.Command, baseURL string, asJSON bool) error {
	var resp struct {
		Jobs []jobs.Job `json:"jobs"`
	}
	if err := callJSON(cmd.Context(), http.MethodGet, baseURL+"/jobs", nil, &resp); err != nil {
		return err
	}
	if asJSON {
		return printJSON(resp.Jobs)
	}
	if len(resp.Jobs) == 0 {
		fmt.Println("no jobs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tSTATUS\tPROGRESS\tFOLDER\tCREATED")
	for _, job := range resp.Jobs {
		fmt.Fprintf(w, "%s\t%s\t%3.0f%%\t%s\t%s\n",
			job.ID, job.Status, job.Progress*100,
			job.Request.Folder,
			job.CreatedAt.Local().Format("15:04:05"))
	}
	return w.Flush()
}

// watchJob polls the job until it reaches a terminal state, rendering
// progress through the terminal-aware renderer.
func watchJob(cmd *cobra.Command, baseURL, id string) error {
	renderer := ui.NewRenderer(os.Stdout)
	defer renderer.Close()

	for {
		var detail jobDetail
		if err := callJSON(cmd.Context(), http.MethodGet, baseURL+"/jobs/"+id, nil, &detail); err != nil {
			return err
		}

		view := ui.JobView{
			JobID:    detail.ID,
			Status:   string(detail.Status),
			Fraction: detail.Progress,
			Err:      detail.Error,
		}
		if detail.Detail != nil {
			view.Stage = detail.Detail.Stage
			view.Fraction = detail.Detail.Fraction
			view.FilesProcessed = detail.Detail.FilesProcessed
			view.FilesTotal = detail.Detail.FilesTotal
			view.ChunksIndexed = detail.Detail.ChunksIndexed
			view.ChunksTotal = detail.Detail.ChunksTotal
			view.Dropped = detail.Detail.Dropped
			view.Elapsed = time.Duration(detail.Detail.ElapsedSeconds) * time.Second
		}
		if !detail.FinishedAt.IsZero() {
			view.Elapsed = detail.FinishedAt.Sub(detail.StartedAt)
		}
		renderer.Render(view)

		if detail.Status.Terminal() {
			if detail.Status == jobs.StatusFailed {
				return errors.New(errors.KindInternal, "job failed: "+detail.Error)
			}
			return nil
		}

		select {
		case <-cmd.Context().Done():
			return errors.FromContext(cmd.Context(), "watch job")
		case <-time.After(watchPollInterval):
		}
	}
}
