package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agentbrain/agentbrain/internal/errors"
	"github.com/agentbrain/agentbrain/internal/lockfile"
	"github.com/agentbrain/agentbrain/internal/state"
)

// clientTimeout bounds CLI calls against the daemon; queries are the
// slowest path and stay well under this.
const clientTimeout = 65 * time.Second

// discover finds the running instance for the project, verifying the
// rendezvous with a health probe.
func discover(paths state.Paths) (*lockfile.RuntimeState, error) {
	rt, err := lockfile.ReadRuntime(paths.RuntimeFile)
	if err != nil {
		if errors.KindOf(err) == errors.KindNotFound {
			return nil, errors.New(errors.KindNotFound,
				"no running instance for this project").
				WithSuggestion("run 'agentbrain start' first")
		}
		return nil, err
	}
	if !lockfile.ProbeHealth(rt.BaseURL, lockfile.DefaultProbeTimeout) {
		return nil, errors.New(errors.KindNotFound,
			"instance recorded at "+rt.BaseURL+" is not responding").
			WithSuggestion("run 'agentbrain start' to recover it")
	}
	return rt, nil
}

// callJSON issues one request against the daemon and decodes the
// response, converting the error envelope back into a structured
// error.
func callJSON(ctx context.Context, method, url string, payload, dst any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return errors.Internal("encode request", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return errors.Internal("build request", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: clientTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return errors.New(errors.KindNotFound, "instance unreachable: "+err.Error()).
			WithSuggestion("run 'agentbrain start' first")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return decodeErrorEnvelope(resp)
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

func decodeErrorEnvelope(resp *http.Response) error {
	var envelope struct {
		Error struct {
			Kind       string `json:"kind"`
			Message    string `json:"message"`
			Suggestion string `json:"suggestion"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil || envelope.Error.Message == "" {
		return errors.New(errors.KindInternal,
			fmt.Sprintf("request failed with status %d", resp.StatusCode))
	}
	e := errors.New(errors.Kind(envelope.Error.Kind), envelope.Error.Message)
	if envelope.Error.Suggestion != "" {
		e = e.WithSuggestion(envelope.Error.Suggestion)
	}
	return e
}

// printJSON renders a value as indented JSON on stdout.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Internal("encode output", err)
	}
	fmt.Println(string(data))
	return nil
}
