package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCmd_RegistersSubcommands(t *testing.T) {
	root := NewRootCmd()

	names := map[string]bool{}
	for _, sub := range root.Commands() {
		names[strings.Fields(sub.Use)[0]] = true
	}
	for _, want := range []string{
		"init", "start", "stop", "status", "list",
		"index", "query", "reset", "jobs", "logs", "mcp", "version",
	} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestRootFlags_PathsUnderResolvedRoot(t *testing.T) {
	dir := t.TempDir()
	flags := &rootFlags{projectRoot: dir}

	paths, err := flags.paths()
	require.NoError(t, err)

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, resolved, paths.ProjectRoot)
	assert.Equal(t, filepath.Join(resolved, ".claude", "agent-brain"), paths.Dir)
}

func TestRootFlags_ResolveClimbsToMarker(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".claude"), 0o755))
	nested := filepath.Join(dir, "sub", "pkg")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	flags := &rootFlags{projectRoot: nested}
	root, err := flags.resolveRoot()
	require.NoError(t, err)

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, resolved, root)
}

func TestSnippet(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short text untouched", "hello world", 80, "hello world"},
		{"newlines flattened", "line one\n\tline two", 80, "line one line two"},
		{"long text truncated", strings.Repeat("ab ", 50), 10, "ab ab ab a..."},
		{"empty", "", 10, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, snippet(tt.in, tt.max))
		})
	}
}
