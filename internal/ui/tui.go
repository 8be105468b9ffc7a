package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
)

// TUIRenderer drives a bubbletea program showing a live progress bar.
type TUIRenderer struct {
	program *tea.Program
	done    chan struct{}
}

func newTUIRenderer(out *os.File) *TUIRenderer {
	m := watchModel{
		bar:    progress.New(progress.WithDefaultGradient()),
		styles: DefaultStyles(),
	}
	r := &TUIRenderer{done: make(chan struct{})}
	r.program = tea.NewProgram(m, tea.WithOutput(out), tea.WithInput(nil))
	go func() {
		_, _ = r.program.Run()
		close(r.done)
	}()
	return r
}

func (r *TUIRenderer) Render(v JobView) {
	r.program.Send(viewMsg(v))
}

func (r *TUIRenderer) Close() {
	r.program.Send(quitMsg{})
	<-r.done
}

type viewMsg JobView
type quitMsg struct{}

type watchModel struct {
	view    JobView
	bar     progress.Model
	styles  Styles
	width   int
	closing bool
}

func (m watchModel) Init() tea.Cmd { return nil }

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case viewMsg:
		m.view = JobView(msg)
		if m.view.Terminal() {
			m.closing = true
			return m, tea.Quit
		}
		return m, nil
	case quitMsg:
		m.closing = true
		return m, tea.Quit
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = msg.Width - 10
		return m, nil
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.closing = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m watchModel) View() string {
	v := m.view
	if v.JobID == "" {
		return m.styles.Label.Render("waiting for job...") + "\n"
	}

	var b strings.Builder
	b.WriteString(m.styles.Title.Render("indexing "+v.JobID) + "\n")

	if v.Terminal() {
		switch v.Status {
		case "done":
			b.WriteString(m.styles.Done.Render(fmt.Sprintf("done in %s", v.Elapsed.Round(shownPrecision(v.Elapsed)))))
		case "failed":
			b.WriteString(m.styles.Error.Render("failed: " + v.Err))
		case "cancelled":
			b.WriteString(m.styles.Warning.Render("cancelled"))
		}
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(m.styles.Stage.Render(v.Stage) + " " + m.bar.ViewAs(v.Fraction) + "\n")

	var counts []string
	if v.FilesTotal > 0 {
		counts = append(counts, fmt.Sprintf("files %d/%d", v.FilesProcessed, v.FilesTotal))
	}
	if v.ChunksTotal > 0 {
		counts = append(counts, fmt.Sprintf("chunks %d/%d", v.ChunksIndexed, v.ChunksTotal))
	}
	if v.Dropped > 0 {
		counts = append(counts, m.styles.Warning.Render(fmt.Sprintf("dropped %d", v.Dropped)))
	}
	if len(counts) > 0 {
		b.WriteString(m.styles.Counts.Render(strings.Join(counts, "  ")) + "\n")
	}
	return b.String()
}
