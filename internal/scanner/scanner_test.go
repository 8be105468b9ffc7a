package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func scanPaths(t *testing.T, root string, opts Options) []string {
	t.Helper()
	opts.Root = root
	files, err := New(nil).Scan(context.Background(), opts)
	require.NoError(t, err)
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	return paths
}

func TestScan_DocsOnlyByDefault(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "README.md", "# readme")
	writeFile(t, root, "docs/guide.rst", "guide")
	writeFile(t, root, "main.go", "package main")
	writeFile(t, root, "data.csv", "a,b")

	paths := scanPaths(t, root, Options{IncludeCode: false})
	assert.ElementsMatch(t, []string{"README.md", "docs/guide.rst"}, paths)
}

func TestScan_IncludeCodeAndClassification(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main")
	writeFile(t, root, "main_test.go", "package main")
	writeFile(t, root, "src/app.test.ts", "it()")
	writeFile(t, root, "tests/helper.py", "x = 1")
	writeFile(t, root, "README.md", "# hi")

	opts := Options{IncludeCode: true}
	opts.Root = root
	files, err := New(nil).Scan(context.Background(), opts)
	require.NoError(t, err)

	byPath := map[string]File{}
	for _, f := range files {
		byPath[f.Path] = f
	}
	require.Len(t, byPath, 5)
	assert.Equal(t, SourceTypeCode, byPath["main.go"].SourceType)
	assert.Equal(t, "go", byPath["main.go"].Language)
	assert.Equal(t, SourceTypeTest, byPath["main_test.go"].SourceType)
	assert.Equal(t, SourceTypeTest, byPath["src/app.test.ts"].SourceType)
	assert.Equal(t, SourceTypeTest, byPath["tests/helper.py"].SourceType, "tests directory marks tests")
	assert.Equal(t, SourceTypeDoc, byPath["README.md"].SourceType)
}

func TestScan_LanguageFilter(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a")
	writeFile(t, root, "b.py", "x = 1")
	writeFile(t, root, "c.rs", "fn main() {}")

	paths := scanPaths(t, root, Options{IncludeCode: true, Languages: []string{"go", "rust"}})
	assert.ElementsMatch(t, []string{"a.go", "c.rs"}, paths)
}

func TestScan_DefaultExcludes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "ok.md", "x")
	writeFile(t, root, "node_modules/pkg/readme.md", "x")
	writeFile(t, root, "vendor/lib/doc.md", "x")
	writeFile(t, root, ".claude/agent-brain/logs/service.log", "x")
	writeFile(t, root, ".claude/agent-brain/data/notes.md", "x")

	paths := scanPaths(t, root, Options{})
	assert.Equal(t, []string{"ok.md"}, paths, "state dir and dependency dirs stay out")
}

func TestScan_SensitiveFilesNeverIndexed(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "notes.md", "x")
	writeFile(t, root, ".env", "TOKEN=x")
	writeFile(t, root, "aws_credentials.txt", "x")
	writeFile(t, root, "server.key", "x")

	paths := scanPaths(t, root, Options{})
	assert.Equal(t, []string{"notes.md"}, paths)
}

func TestScan_CustomExcludes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "keep.md", "x")
	writeFile(t, root, "archive/old.md", "x")
	writeFile(t, root, "draft.md", "x")

	paths := scanPaths(t, root, Options{Excludes: []string{"archive/**", "draft.md"}})
	assert.Equal(t, []string{"keep.md"}, paths)
}

func TestScan_GitignoreRespected(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "generated/\n*.tmp.md\n")
	writeFile(t, root, "keep.md", "x")
	writeFile(t, root, "scratch.tmp.md", "x")
	writeFile(t, root, "generated/api.md", "x")
	writeFile(t, root, "sub/.gitignore", "local.md\n")
	writeFile(t, root, "sub/local.md", "x")
	writeFile(t, root, "sub/kept.md", "x")

	paths := scanPaths(t, root, Options{RespectGitignore: true})
	assert.ElementsMatch(t, []string{"keep.md", "sub/kept.md"}, paths)

	// Without the flag, gitignore has no effect.
	all := scanPaths(t, root, Options{RespectGitignore: false})
	assert.Contains(t, all, "generated/api.md")
}

func TestScan_SkipsBinariesAndOversized(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "text.md", "hello")
	writeFile(t, root, "blob.md", "bin\x00ary")

	big := make([]byte, 200)
	for i := range big {
		big[i] = 'a'
	}
	writeFile(t, root, "big.md", string(big))

	paths := scanPaths(t, root, Options{MaxFileSize: 100})
	assert.Equal(t, []string{"text.md"}, paths)
}

func TestScan_MissingFolder(t *testing.T) {
	_, err := New(nil).Scan(context.Background(), Options{Root: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}

func TestScan_DeterministicOrder(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "b.md", "x")
	writeFile(t, root, "a.md", "x")
	writeFile(t, root, "sub/c.md", "x")

	first := scanPaths(t, root, Options{})
	second := scanPaths(t, root, Options{})
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"a.md", "b.md", "sub/c.md"}, first)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		path     string
		source   SourceType
		language string
		ok       bool
	}{
		{"README.md", SourceTypeDoc, "", true},
		{"guide.rst", SourceTypeDoc, "", true},
		{"app.kt", SourceTypeCode, "kotlin", true},
		{"app.swift", SourceTypeCode, "swift", true},
		{"Service.cs", SourceTypeCode, "csharp", true},
		{"pkg/util_test.go", SourceTypeTest, "go", true},
		{"test_models.py", SourceTypeTest, "python", true},
		{"__tests__/app.jsx", SourceTypeTest, "javascript", true},
		{"image.png", "", "", false},
		{"data.json", "", "", false},
	}
	for _, tc := range cases {
		source, language, ok := Classify(tc.path)
		assert.Equal(t, tc.ok, ok, tc.path)
		assert.Equal(t, tc.source, source, tc.path)
		assert.Equal(t, tc.language, language, tc.path)
	}
}
