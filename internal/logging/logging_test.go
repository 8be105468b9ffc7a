package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWritesJSONToFile(t *testing.T) {
	// Given a log file path in a fresh state dir
	dir := t.TempDir()
	logPath := filepath.Join(dir, "logs", "agent-brain.log")

	// When setting up and logging
	logger, cleanup, err := Setup(DefaultConfig(logPath))
	require.NoError(t, err)
	logger.Info("server started", slog.Int("port", 43211))
	cleanup()

	// Then the file contains a parseable JSON record
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)

	line := strings.TrimSpace(strings.Split(string(data), "\n")[0])
	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &record))
	assert.Equal(t, "server started", record["msg"])
	assert.Equal(t, float64(43211), record["port"])
}

func TestSetupLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "agent-brain.log")

	cfg := DefaultConfig(logPath)
	cfg.Level = "warn"

	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)
	logger.Info("should be filtered")
	logger.Warn("should appear")
	cleanup()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "should be filtered")
	assert.Contains(t, string(data), "should appear")
}

func TestComponentLoggerTagsRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	Component(logger, "store").Info("reset complete")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "store", record["component"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LevelFromString("debug"))
	assert.Equal(t, slog.LevelWarn, LevelFromString("WARNING"))
	assert.Equal(t, slog.LevelInfo, LevelFromString("unknown"))
}

func TestRotatingWriterRotatesAtSizeLimit(t *testing.T) {
	// Given a writer with a 1MB limit
	dir := t.TempDir()
	logPath := filepath.Join(dir, "agent-brain.log")

	w, err := NewRotatingWriter(logPath, 1, 3)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	// When writing past the limit
	chunk := bytes.Repeat([]byte("x"), 64*1024)
	for i := 0; i < 20; i++ {
		_, err := w.Write(chunk)
		require.NoError(t, err)
	}

	// Then a rotated generation exists and the live file restarted
	_, err = os.Stat(logPath + ".1")
	assert.NoError(t, err, "expected rotated file")

	info, err := os.Stat(logPath)
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(1024*1024))
}

func TestRotatingWriterCapsGenerations(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "agent-brain.log")

	w, err := NewRotatingWriter(logPath, 1, 2)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	chunk := bytes.Repeat([]byte("y"), 64*1024)
	for i := 0; i < 60; i++ {
		_, err := w.Write(chunk)
		require.NoError(t, err)
	}

	matches, err := filepath.Glob(logPath + ".*")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(matches), 2)
}

func TestViewerTailFiltersByLevel(t *testing.T) {
	// Given a log file with mixed levels
	dir := t.TempDir()
	logPath := filepath.Join(dir, "agent-brain.log")
	logger, cleanup, err := Setup(Config{Level: "debug", FilePath: logPath, MaxSizeMB: 10, MaxFiles: 1})
	require.NoError(t, err)
	logger.Debug("noise")
	logger.Error("index corrupted")
	cleanup()

	// When tailing at error level
	var out bytes.Buffer
	v := NewViewer("error", &out)
	require.NoError(t, v.Tail(logPath, 100))

	// Then only the error line is rendered
	assert.Contains(t, out.String(), "index corrupted")
	assert.NotContains(t, out.String(), "noise")
}
