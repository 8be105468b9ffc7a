package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/stretchr/testify/assert"
)

func TestPlainRenderer_EmitsStageChanges(t *testing.T) {
	var buf bytes.Buffer
	r := NewPlainRenderer(&buf)

	r.Render(JobView{JobID: "j1", Status: "running", Stage: "discover", Fraction: 0})
	r.Render(JobView{JobID: "j1", Status: "running", Stage: "chunk", Fraction: 0.1, FilesProcessed: 2, FilesTotal: 4})
	r.Render(JobView{JobID: "j1", Status: "running", Stage: "embed", Fraction: 0.3, ChunksIndexed: 0, ChunksTotal: 12})
	r.Close()

	out := buf.String()
	assert.Contains(t, out, "discover")
	assert.Contains(t, out, "chunk")
	assert.Contains(t, out, "files 2/4")
	assert.Contains(t, out, "embed")
}

func TestPlainRenderer_SuppressesNoise(t *testing.T) {
	var buf bytes.Buffer
	r := NewPlainRenderer(&buf)

	// Same stage, same 10% bucket: only the first line prints.
	r.Render(JobView{JobID: "j1", Status: "running", Stage: "embed", Fraction: 0.30})
	r.Render(JobView{JobID: "j1", Status: "running", Stage: "embed", Fraction: 0.31})
	r.Render(JobView{JobID: "j1", Status: "running", Stage: "embed", Fraction: 0.33})

	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
}

func TestPlainRenderer_FinalStates(t *testing.T) {
	cases := []struct {
		view JobView
		want string
	}{
		{JobView{JobID: "j1", Status: "done", Elapsed: 3 * time.Second, ChunksIndexed: 10}, "done"},
		{JobView{JobID: "j2", Status: "failed", Err: "backend unavailable"}, "backend unavailable"},
		{JobView{JobID: "j3", Status: "cancelled"}, "cancelled"},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		r := NewPlainRenderer(&buf)
		r.Render(tc.view)
		assert.Contains(t, buf.String(), tc.want)
	}
}

func TestJobView_Terminal(t *testing.T) {
	assert.False(t, JobView{Status: "pending"}.Terminal())
	assert.False(t, JobView{Status: "running"}.Terminal())
	assert.True(t, JobView{Status: "done"}.Terminal())
	assert.True(t, JobView{Status: "failed"}.Terminal())
	assert.True(t, JobView{Status: "cancelled"}.Terminal())
}

func TestNewRenderer_PlainForNonTTY(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf)
	_, ok := r.(*PlainRenderer)
	assert.True(t, ok)
}

func TestWatchModel_View(t *testing.T) {
	m := watchModel{bar: progress.New(progress.WithDefaultGradient()), styles: DefaultStyles()}
	m.view = JobView{
		JobID: "abc123", Status: "running", Stage: "embed",
		Fraction: 0.4, FilesProcessed: 3, FilesTotal: 5,
	}

	out := m.View()
	assert.Contains(t, out, "abc123")
	assert.Contains(t, out, "embed")
	assert.Contains(t, out, "files 3/5")
}
