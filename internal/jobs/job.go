// Package jobs is the durable ingestion queue: deterministic job ids,
// an append-only JSONL transition log, and a single worker draining
// pending jobs in FIFO order.
package jobs

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Status is a job lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Request describes one ingestion run. Identical requests map to the
// same job id.
type Request struct {
	Folder       string   `json:"folder"`
	IncludeCode  bool     `json:"include_code"`
	Languages    []string `json:"languages,omitempty"`
	Excludes     []string `json:"excludes,omitempty"`
	Rebuild      bool     `json:"rebuild"`
	RebuildGraph bool     `json:"rebuild_graph"`
}

// ID hashes the request content. Ordering of languages and excludes
// does not matter; the lists are sorted before hashing.
func (r Request) ID() string {
	languages := append([]string(nil), r.Languages...)
	sort.Strings(languages)
	excludes := append([]string(nil), r.Excludes...)
	sort.Strings(excludes)

	parts := []string{
		r.Folder,
		strconv.FormatBool(r.IncludeCode),
		strings.Join(languages, ","),
		strings.Join(excludes, ","),
		strconv.FormatBool(r.Rebuild),
		strconv.FormatBool(r.RebuildGraph),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:16]
}

// Job is the queue's view of one ingestion run.
type Job struct {
	ID         string    `json:"id"`
	Request    Request   `json:"request"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Progress   float64   `json:"progress"`
	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}
