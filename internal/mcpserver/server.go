// Package mcpserver exposes the running instance to editor agents over
// the Model Context Protocol. Tools proxy the instance's HTTP API, so
// MCP clients and the CLI see identical semantics.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agentbrain/agentbrain/internal/errors"
	"github.com/agentbrain/agentbrain/pkg/version"
)

// Server bridges MCP stdio to the instance behind baseURL.
type Server struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
	mcp     *mcp.Server
}

func New(baseURL string, logger *slog.Logger) (*Server, error) {
	if baseURL == "" {
		return nil, errors.InvalidArgument("base URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 65 * time.Second},
		logger:  logger.With("component", "mcp"),
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "agentbrain",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "query",
		Description: "Retrieve project knowledge by meaning. Searches the project's " +
			"vector, keyword, and graph indexes and returns ranked chunks of " +
			"documentation and code with per-mode scores.",
	}, s.handleQuery)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "index",
		Description: "Submit an indexing job for a folder. Returns the job id; " +
			"identical requests are deduplicated while one is still in flight.",
	}, s.handleIndex)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "status",
		Description: "Report instance health: document counts, backend pool, " +
			"graph summary, and the active ingestion job.",
	}, s.handleStatus)
}

// Run serves MCP over stdio until the context ends.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server starting", "base_url", s.baseURL)
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// QueryInput mirrors the HTTP query payload.
type QueryInput struct {
	Query          string   `json:"query" jsonschema:"the search text"`
	Mode           string   `json:"mode,omitempty" jsonschema:"retrieval mode: vector, bm25, hybrid, graph, or multi"`
	TopK           int      `json:"top_k,omitempty" jsonschema:"maximum number of results"`
	SourceTypes    []string `json:"source_types,omitempty" jsonschema:"filter by source type: doc, code, test"`
	Languages      []string `json:"languages,omitempty" jsonschema:"filter by programming language"`
	TraversalDepth int      `json:"traversal_depth,omitempty" jsonschema:"graph traversal depth"`
}

// QueryOutput carries the instance's response verbatim.
type QueryOutput struct {
	Results   json.RawMessage `json:"results"`
	Mode      string          `json:"mode"`
	Total     int             `json:"total"`
	ElapsedMS float64         `json:"elapsed_ms"`
}

func (s *Server) handleQuery(ctx context.Context, req *mcp.CallToolRequest, input QueryInput) (*mcp.CallToolResult, QueryOutput, error) {
	var out QueryOutput
	if err := s.call(ctx, http.MethodPost, "/query", input, &out); err != nil {
		return nil, QueryOutput{}, err
	}
	return nil, out, nil
}

type IndexInput struct {
	Folder          string   `json:"folder" jsonschema:"absolute path of the folder to index"`
	IncludeCode     bool     `json:"include_code,omitempty" jsonschema:"index source code in addition to documentation"`
	Languages       []string `json:"languages,omitempty" jsonschema:"restrict code indexing to these languages"`
	ExcludePatterns []string `json:"exclude_patterns,omitempty" jsonschema:"additional glob patterns to exclude"`
	Rebuild         bool     `json:"rebuild,omitempty" jsonschema:"reset the indexes before ingesting"`
	RebuildGraph    bool     `json:"rebuild_graph,omitempty" jsonschema:"clear and rebuild only the graph index"`
}

type IndexOutput struct {
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
	Deduplicated bool   `json:"deduplicated"`
}

func (s *Server) handleIndex(ctx context.Context, req *mcp.CallToolRequest, input IndexInput) (*mcp.CallToolResult, IndexOutput, error) {
	var out IndexOutput
	if err := s.call(ctx, http.MethodPost, "/index", input, &out); err != nil {
		return nil, IndexOutput{}, err
	}
	return nil, out, nil
}

type StatusInput struct{}

// StatusOutput relays the aggregate health document.
type StatusOutput struct {
	Status json.RawMessage `json:"status"`
}

func (s *Server) handleStatus(ctx context.Context, req *mcp.CallToolRequest, input StatusInput) (*mcp.CallToolResult, StatusOutput, error) {
	var raw json.RawMessage
	if err := s.call(ctx, http.MethodGet, "/health/status", nil, &raw); err != nil {
		return nil, StatusOutput{}, err
	}
	return nil, StatusOutput{Status: raw}, nil
}

// call proxies one request to the instance, mapping the error envelope
// back to a structured error.
func (s *Server) call(ctx context.Context, method, path string, payload, dst any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return errors.Internal("encode request", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return errors.Internal("build request", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.New(errors.KindNotFound, "instance unreachable: "+err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var envelope struct {
			Error struct {
				Kind    string `json:"kind"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil || envelope.Error.Message == "" {
			return errors.New(errors.KindInternal,
				fmt.Sprintf("request failed with status %d", resp.StatusCode))
		}
		return errors.New(errors.Kind(envelope.Error.Kind), envelope.Error.Message)
	}
	if dst == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return errors.Internal("decode response", err)
	}
	return nil
}
