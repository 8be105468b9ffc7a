// Package ui renders job progress for the CLI: a bubbletea view on
// interactive terminals, plain line output everywhere else.
package ui

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// JobView is one observation of a job, shaped for display.
type JobView struct {
	JobID          string
	Status         string
	Stage          string
	Fraction       float64
	FilesProcessed int
	FilesTotal     int
	ChunksIndexed  int
	ChunksTotal    int
	Dropped        int
	Elapsed        time.Duration
	Err            string
}

// Terminal reports whether the job reached a final state.
func (v JobView) Terminal() bool {
	switch v.Status {
	case "done", "failed", "cancelled":
		return true
	}
	return false
}

// Renderer displays successive job views. Close must be called once
// watching ends.
type Renderer interface {
	Render(v JobView)
	Close()
}

// NewRenderer picks the TUI when out is an interactive terminal and
// falls back to plain lines otherwise.
func NewRenderer(out io.Writer) Renderer {
	if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return newTUIRenderer(f)
	}
	return NewPlainRenderer(out)
}
