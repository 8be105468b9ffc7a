package cmd

import (
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/agentbrain/agentbrain/internal/errors"
)

type indexRequest struct {
	Folder          string   `json:"folder"`
	IncludeCode     bool     `json:"include_code"`
	Languages       []string `json:"languages,omitempty"`
	ExcludePatterns []string `json:"exclude_patterns,omitempty"`
	Rebuild         bool     `json:"rebuild"`
	RebuildGraph    bool     `json:"rebuild_graph"`
}

type indexResponse struct {
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
	Deduplicated bool   `json:"deduplicated"`
}

func newIndexCmd(flags *rootFlags) *cobra.Command {
	var includeCode bool
	var languages []string
	var excludes []string
	var rebuild bool
	var rebuildGraph bool
	var watch bool

	cmd := &cobra.Command{
		Use:   "index <path>",
		Short: "Submit an indexing job to the running instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder, err := filepath.Abs(args[0])
			if err != nil {
				return errors.Internal("resolve folder", err)
			}
			paths, err := flags.paths()
			if err != nil {
				return err
			}
			rt, err := discover(paths)
			if err != nil {
				return err
			}

			var resp indexResponse
			err = callJSON(cmd.Context(), http.MethodPost, rt.BaseURL+"/index", indexRequest{
				Folder:          folder,
				IncludeCode:     includeCode,
				Languages:       languages,
				ExcludePatterns: excludes,
				Rebuild:         rebuild,
				RebuildGraph:    rebuildGraph,
			}, &resp)
			if err != nil {
				return err
			}

			if resp.Deduplicated {
				fmt.Printf("job %s already %s (identical request)\n", resp.JobID, resp.Status)
			} else {
				fmt.Printf("job %s submitted\n", resp.JobID)
			}
			if watch {
				return watchJob(cmd, rt.BaseURL, resp.JobID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&includeCode, "include-code", false, "index source code in addition to documentation")
	cmd.Flags().StringSliceVar(&languages, "languages", nil, "restrict code indexing to these languages")
	cmd.Flags().StringSliceVar(&excludes, "exclude", nil, "additional glob patterns to exclude")
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "reset the indexes before ingesting")
	cmd.Flags().BoolVar(&rebuildGraph, "rebuild-graph", false, "clear and rebuild only the graph index")
	cmd.Flags().BoolVar(&watch, "watch", false, "follow job progress until it finishes")
	return cmd
}
