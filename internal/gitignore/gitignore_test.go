package gitignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcher_BasicPatterns(t *testing.T) {
	cases := []struct {
		pattern string
		path    string
		isDir   bool
		ignored bool
	}{
		{"*.log", "debug.log", false, true},
		{"*.log", "logs/debug.log", false, true},
		{"*.log", "debug.txt", false, false},
		{"build/", "build", true, true},
		{"build/", "build/out.bin", false, true},
		{"build/", "build", false, false},
		{"/root.txt", "root.txt", false, true},
		{"/root.txt", "sub/root.txt", false, false},
		{"doc/frotz", "doc/frotz", false, true},
		{"doc/frotz", "other/doc/frotz", false, false},
		{"**/temp", "a/b/temp", false, true},
		{"a/**/b", "a/x/y/b", false, true},
		{"file?.txt", "file1.txt", false, true},
		{"file?.txt", "file10.txt", false, false},
	}

	for _, tc := range cases {
		m := New()
		m.AddPattern(tc.pattern)
		assert.Equal(t, tc.ignored, m.Match(tc.path, tc.isDir),
			"pattern %q path %q", tc.pattern, tc.path)
	}
}

func TestMatcher_NegationOverrides(t *testing.T) {
	m := New()
	m.AddPattern("*.log")
	m.AddPattern("!keep.log")

	assert.True(t, m.Match("debug.log", false))
	assert.False(t, m.Match("keep.log", false))
}

func TestMatcher_CommentsAndBlanksSkipped(t *testing.T) {
	m := New()
	m.AddPattern("# a comment")
	m.AddPattern("   ")
	m.AddPattern("")

	assert.False(t, m.Match("anything", false))
}

func TestMatcher_NestedBase(t *testing.T) {
	m := New()
	m.AddPatternWithBase("*.tmp", "sub")

	assert.True(t, m.Match("sub/cache.tmp", false))
	assert.False(t, m.Match("cache.tmp", false), "rule is scoped to sub/")
	assert.False(t, m.Match("other/cache.tmp", false))
}

func TestMatcher_AddFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".gitignore")
	require.NoError(t, os.WriteFile(path, []byte("# deps\nnode_modules/\n*.bak\n!important.bak\n"), 0o644))

	m := New()
	require.NoError(t, m.AddFromFile(path, ""))

	assert.True(t, m.Match("node_modules/react/index.js", false))
	assert.True(t, m.Match("old.bak", false))
	assert.False(t, m.Match("important.bak", false))
	assert.False(t, m.Match("src/main.go", false))
}
