package ui

import (
	"fmt"
	"io"
	"time"
)

// PlainRenderer prints one line per meaningful change, suitable for
// pipes and CI logs.
type PlainRenderer struct {
	out       io.Writer
	lastStage string
	lastStep  int
}

func NewPlainRenderer(out io.Writer) *PlainRenderer {
	return &PlainRenderer{out: out, lastStep: -1}
}

func (r *PlainRenderer) Render(v JobView) {
	if v.Terminal() {
		r.renderFinal(v)
		return
	}

	// Emit on stage changes and every 10% within a stage.
	step := int(v.Fraction * 10)
	if v.Stage == r.lastStage && step == r.lastStep {
		return
	}
	r.lastStage = v.Stage
	r.lastStep = step

	fmt.Fprintf(r.out, "[%3.0f%%] %-9s", v.Fraction*100, v.Stage)
	if v.FilesTotal > 0 {
		fmt.Fprintf(r.out, " files %d/%d", v.FilesProcessed, v.FilesTotal)
	}
	if v.ChunksTotal > 0 {
		fmt.Fprintf(r.out, " chunks %d/%d", v.ChunksIndexed, v.ChunksTotal)
	}
	if v.Dropped > 0 {
		fmt.Fprintf(r.out, " dropped %d", v.Dropped)
	}
	fmt.Fprintln(r.out)
}

func (r *PlainRenderer) renderFinal(v JobView) {
	switch v.Status {
	case "done":
		fmt.Fprintf(r.out, "job %s done in %s", v.JobID, v.Elapsed.Round(shownPrecision(v.Elapsed)))
		if v.ChunksIndexed > 0 {
			fmt.Fprintf(r.out, " (%d chunks indexed", v.ChunksIndexed)
			if v.Dropped > 0 {
				fmt.Fprintf(r.out, ", %d dropped", v.Dropped)
			}
			fmt.Fprint(r.out, ")")
		}
		fmt.Fprintln(r.out)
	case "failed":
		fmt.Fprintf(r.out, "job %s failed: %s\n", v.JobID, v.Err)
	case "cancelled":
		fmt.Fprintf(r.out, "job %s cancelled\n", v.JobID)
	}
}

func (r *PlainRenderer) Close() {}

func shownPrecision(d time.Duration) time.Duration {
	if d < time.Minute {
		return 100 * time.Millisecond
	}
	return time.Second
}
