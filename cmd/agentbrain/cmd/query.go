package cmd

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentbrain/agentbrain/internal/search"
)

type queryRequest struct {
	Query          string   `json:"query"`
	Mode           string   `json:"mode,omitempty"`
	TopK           int      `json:"top_k,omitempty"`
	Threshold      *float64 `json:"threshold,omitempty"`
	Alpha          *float64 `json:"alpha,omitempty"`
	SourceTypes    []string `json:"source_types,omitempty"`
	Languages      []string `json:"languages,omitempty"`
	TraversalDepth int      `json:"traversal_depth,omitempty"`
}

type queryResponse struct {
	Results   []search.Result `json:"results"`
	Mode      string          `json:"mode"`
	Total     int             `json:"total"`
	ElapsedMS float64         `json:"elapsed_ms"`
}

func newQueryCmd(flags *rootFlags) *cobra.Command {
	var mode string
	var topK int
	var threshold float64
	var alpha float64
	var sourceTypes []string
	var languages []string
	var depth int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Run a retrieval query against the running instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := flags.paths()
			if err != nil {
				return err
			}
			rt, err := discover(paths)
			if err != nil {
				return err
			}

			req := queryRequest{
				Query:          args[0],
				Mode:           mode,
				TopK:           topK,
				SourceTypes:    sourceTypes,
				Languages:      languages,
				TraversalDepth: depth,
			}
			if cmd.Flags().Changed("threshold") {
				req.Threshold = &threshold
			}
			if cmd.Flags().Changed("alpha") {
				req.Alpha = &alpha
			}

			var resp queryResponse
			if err := callJSON(cmd.Context(), http.MethodPost, rt.BaseURL+"/query", req, &resp); err != nil {
				return err
			}
			if asJSON {
				return printJSON(resp)
			}

			if resp.Total == 0 {
				fmt.Printf("no results (%s mode, %.1fms)\n", resp.Mode, resp.ElapsedMS)
				return nil
			}
			fmt.Printf("%d result(s) in %.1fms (%s mode)\n\n", resp.Total, resp.ElapsedMS, resp.Mode)
			for i, result := range resp.Results {
				location := result.Source
				if result.Language != "" {
					location += " [" + result.Language + "]"
				}
				fmt.Printf("%2d. %.4f  %s\n", i+1, result.Score, location)
				fmt.Printf("    %s\n\n", snippet(result.Text, 200))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "retrieval mode (vector, bm25, hybrid, graph, multi)")
	cmd.Flags().IntVar(&topK, "top-k", 0, "maximum number of results")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "minimum vector similarity score")
	cmd.Flags().Float64Var(&alpha, "alpha", 0, "hybrid vector weight in [0,1]")
	cmd.Flags().StringSliceVar(&sourceTypes, "source-types", nil, "filter by source type (doc, code, test)")
	cmd.Flags().StringSliceVar(&languages, "languages", nil, "filter by language")
	cmd.Flags().IntVar(&depth, "depth", 0, "graph traversal depth")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw response")
	return cmd
}

// snippet flattens and truncates text for one-line display.
func snippet(text string, max int) string {
	flat := strings.Join(strings.Fields(text), " ")
	if len(flat) <= max {
		return flat
	}
	return flat[:max] + "..."
}
