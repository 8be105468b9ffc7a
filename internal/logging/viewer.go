package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogEntry represents a parsed JSON log line.
type LogEntry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Msg     string         `json:"msg"`
	Attrs   map[string]any `json:"-"`
	Raw     string         `json:"-"`
	IsValid bool           `json:"-"`
}

// Viewer reads back the structured log file for the logs subcommand.
type Viewer struct {
	minLevel slog.Level
	out      io.Writer
}

// NewViewer creates a viewer filtering at the given minimum level.
func NewViewer(level string, out io.Writer) *Viewer {
	return &Viewer{minLevel: LevelFromString(level), out: out}
}

// Tail writes the last n matching entries from path to the output.
func (v *Viewer) Tail(path string, n int) error {
	entries, err := v.read(path)
	if err != nil {
		return err
	}
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	for _, e := range entries {
		v.print(e)
	}
	return nil
}

// Follow tails the file and streams new matching entries until the
// context is cancelled. Rotation is handled by reopening when the
// file shrinks.
func (v *Viewer) Follow(ctx context.Context, path string, n int) error {
	if err := v.Tail(path, n); err != nil {
		return err
	}

	offset := int64(0)
	if info, err := os.Stat(path); err == nil {
		offset = info.Size()
	}

	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.Size() < offset {
			offset = 0 // rotated
		}
		if info.Size() == offset {
			continue
		}

		f, err := os.Open(path)
		if err != nil {
			continue
		}
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			_ = f.Close()
			continue
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
		for scanner.Scan() {
			entry := parseLine(scanner.Text())
			if v.matches(entry) {
				v.print(entry)
			}
		}
		offset, _ = f.Seek(0, io.SeekCurrent)
		_ = f.Close()
	}
}

func (v *Viewer) read(path string) ([]LogEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	var entries []LogEntry
	for scanner.Scan() {
		entry := parseLine(scanner.Text())
		if v.matches(entry) {
			entries = append(entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}
	return entries, nil
}

func (v *Viewer) matches(e LogEntry) bool {
	if !e.IsValid {
		return true // surface malformed lines rather than hiding them
	}
	return LevelFromString(e.Level) >= v.minLevel
}

func (v *Viewer) print(e LogEntry) {
	if !e.IsValid {
		_, _ = fmt.Fprintln(v.out, e.Raw)
		return
	}
	var attrs strings.Builder
	for k, val := range e.Attrs {
		attrs.WriteString(fmt.Sprintf(" %s=%v", k, val))
	}
	_, _ = fmt.Fprintf(v.out, "%s %-5s %s%s\n",
		e.Time.Format("15:04:05.000"), e.Level, e.Msg, attrs.String())
}

// parseLine decodes one JSON log line, keeping unknown fields as attrs.
func parseLine(line string) LogEntry {
	entry := LogEntry{Raw: line}

	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return entry
	}
	entry.IsValid = true

	if ts, ok := raw["time"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			entry.Time = t
		}
	}
	if lvl, ok := raw["level"].(string); ok {
		entry.Level = lvl
	}
	if msg, ok := raw["msg"].(string); ok {
		entry.Msg = msg
	}
	delete(raw, "time")
	delete(raw, "level")
	delete(raw, "msg")
	entry.Attrs = raw
	return entry
}
