// Package scanner discovers indexable files under a folder: walking
// with exclusion patterns and .gitignore rules, skipping binaries and
// oversized files, and classifying what remains as documentation,
// code, or tests.
package scanner

import (
	"bytes"
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/agentbrain/agentbrain/internal/errors"
	"github.com/agentbrain/agentbrain/internal/gitignore"
	"github.com/agentbrain/agentbrain/internal/state"
)

// SourceType classifies a discovered file.
type SourceType string

const (
	SourceTypeDoc  SourceType = "doc"
	SourceTypeCode SourceType = "code"
	SourceTypeTest SourceType = "test"
)

// DefaultMaxFileSize caps individual files at 10 MB.
const DefaultMaxFileSize = 10 * 1024 * 1024

const gitignoreCacheSize = 1000

// File is one discovered, classified file.
type File struct {
	// Path is relative to the scanned root, slash-separated.
	Path       string
	AbsPath    string
	Size       int64
	ModTime    time.Time
	SourceType SourceType
	// Language is set for code and test files.
	Language string
}

// Options configures one scan.
type Options struct {
	// Root is the folder to walk.
	Root string

	// IncludeCode admits code and test files; docs are always in.
	IncludeCode bool

	// Languages restricts code files to these languages. Empty means
	// every supported language.
	Languages []string

	// Excludes are glob patterns merged with the built-in defaults.
	Excludes []string

	// MaxFileSize caps file size in bytes; 0 uses the default.
	MaxFileSize int64

	// RespectGitignore applies .gitignore rules, including nested
	// files.
	RespectGitignore bool
}

// docExtensions classify documentation files.
var docExtensions = map[string]bool{
	".md": true, ".markdown": true, ".mdx": true, ".rst": true, ".txt": true,
}

// codeLanguages maps extensions of the supported chunking languages.
var codeLanguages = map[string]string{
	".py": "python", ".pyi": "python",
	".ts": "typescript", ".tsx": "typescript",
	".js": "javascript", ".jsx": "javascript", ".mjs": "javascript",
	".java": "java",
	".kt":   "kotlin", ".kts": "kotlin",
	".go": "go",
	".rs": "rust",
	".c":  "c", ".h": "c",
	".cpp": "cpp", ".cc": "cpp", ".cxx": "cpp", ".hpp": "cpp", ".hh": "cpp",
	".swift": "swift",
	".cs":    "csharp",
}

// defaultExcludes are always applied. The service's own state
// directory must never be indexed.
var defaultExcludes = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/target/**",
	"**/.venv/**",
	state.DirName + "/**",
}

// sensitivePatterns are never indexed regardless of options.
var sensitivePatterns = []string{
	".env", ".env.*", "*.pem", "*.key", "*.p12", "*.pfx",
	"*credentials*", "*secret*", ".netrc", ".npmrc", ".pypirc",
	"id_rsa", "id_dsa", "id_ecdsa", "id_ed25519",
}

// Scanner walks project folders. The gitignore cache survives across
// scans so repeated ingestion jobs do not reparse unchanged files.
type Scanner struct {
	gitignoreCache *lru.Cache[string, *gitignore.Matcher]
	logger         *slog.Logger
}

func New(logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	cache, _ := lru.New[string, *gitignore.Matcher](gitignoreCacheSize)
	return &Scanner{gitignoreCache: cache, logger: logger}
}

// Scan walks the root and returns the admitted files in walk order,
// which is lexical and therefore deterministic.
func (s *Scanner) Scan(ctx context.Context, opts Options) ([]File, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, errors.New(errors.KindInvalidArgument, "resolve folder: "+opts.Root)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.New(errors.KindNotFound, "folder not found: "+opts.Root)
	}
	if !info.IsDir() {
		return nil, errors.New(errors.KindInvalidArgument, "not a directory: "+opts.Root)
	}

	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	languages := map[string]bool{}
	for _, lang := range opts.Languages {
		languages[strings.ToLower(lang)] = true
	}

	var files []File
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}

		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if s.excludedDir(rel, opts.Excludes) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if s.excludedFile(rel, opts.Excludes) {
			return nil
		}
		if opts.RespectGitignore && s.gitignored(rel, root) {
			return nil
		}

		sourceType, language, ok := Classify(rel)
		if !ok {
			return nil
		}
		if sourceType != SourceTypeDoc {
			if !opts.IncludeCode {
				return nil
			}
			if len(languages) > 0 && !languages[language] {
				return nil
			}
		}

		fi, err := d.Info()
		if err != nil {
			return nil
		}
		if fi.Size() > maxSize {
			s.logger.Debug("skipping oversized file", "path", rel, "size", fi.Size())
			return nil
		}
		if isBinary(path) {
			return nil
		}

		files = append(files, File{
			Path:       rel,
			AbsPath:    path,
			Size:       fi.Size(),
			ModTime:    fi.ModTime(),
			SourceType: sourceType,
			Language:   language,
		})
		return nil
	})
	if walkErr != nil {
		if ctx.Err() != nil {
			return nil, errors.FromContext(ctx, "scan")
		}
		return nil, errors.Internal("walk folder", walkErr)
	}
	return files, nil
}

// Classify maps a relative path to its source type and language.
// ok is false for unsupported file types.
func Classify(rel string) (SourceType, string, bool) {
	ext := strings.ToLower(filepath.Ext(rel))
	if docExtensions[ext] {
		return SourceTypeDoc, "", true
	}
	language, isCode := codeLanguages[ext]
	if !isCode {
		return "", "", false
	}
	if isTestPath(rel) {
		return SourceTypeTest, language, true
	}
	return SourceTypeCode, language, true
}

// isTestPath applies naming conventions across the supported
// languages: Go _test files, JS/TS .test/.spec files, Python test_
// prefixes, and test directories.
func isTestPath(rel string) bool {
	base := strings.ToLower(filepath.Base(rel))
	name := strings.TrimSuffix(base, filepath.Ext(base))

	if strings.HasSuffix(name, "_test") || strings.HasPrefix(name, "test_") {
		return true
	}
	if strings.HasSuffix(name, ".test") || strings.HasSuffix(name, ".spec") || name == "conftest" {
		return true
	}

	for _, part := range strings.Split(filepath.ToSlash(filepath.Dir(rel)), "/") {
		switch strings.ToLower(part) {
		case "test", "tests", "__tests__", "testdata", "spec":
			return true
		}
	}
	return false
}

func (s *Scanner) excludedDir(rel string, extra []string) bool {
	for _, pattern := range defaultExcludes {
		if matchDirPattern(rel, pattern) {
			return true
		}
	}
	for _, pattern := range extra {
		if matchDirPattern(rel, pattern) {
			return true
		}
	}
	return false
}

func (s *Scanner) excludedFile(rel string, extra []string) bool {
	base := filepath.Base(rel)
	for _, pattern := range sensitivePatterns {
		if matchFilePattern(base, rel, pattern) {
			return true
		}
	}
	for _, pattern := range defaultExcludes {
		if matchFilePattern(base, rel, pattern) {
			return true
		}
	}
	for _, pattern := range extra {
		if matchFilePattern(base, rel, pattern) {
			return true
		}
	}
	return false
}

// matchDirPattern handles the **/name/**, name/**, and literal-prefix
// shapes used in exclusion lists.
func matchDirPattern(rel, pattern string) bool {
	if strings.HasPrefix(pattern, "**/") {
		name := strings.TrimSuffix(strings.TrimPrefix(pattern, "**/"), "/**")
		for _, part := range strings.Split(rel, "/") {
			if part == name {
				return true
			}
		}
		return false
	}
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return rel == prefix || strings.HasPrefix(rel, prefix+"/")
	}
	return rel == pattern || strings.HasPrefix(rel, pattern+"/")
}

func matchFilePattern(base, rel, pattern string) bool {
	if strings.HasSuffix(pattern, "/**") && !strings.HasPrefix(pattern, "**/") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return strings.HasPrefix(rel, prefix+"/")
	}
	if strings.HasPrefix(pattern, "**/") {
		suffix := strings.TrimPrefix(pattern, "**/")
		if strings.HasPrefix(suffix, "*.") {
			return strings.HasSuffix(base, strings.TrimPrefix(suffix, "*"))
		}
		for _, part := range strings.Split(rel, "/") {
			if part == suffix {
				return true
			}
		}
		return false
	}
	if matched, err := filepath.Match(pattern, base); err == nil && matched {
		return true
	}
	// *word* patterns match anywhere in the name, case-insensitive;
	// that is how the sensitive-file list catches credential files.
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") && len(pattern) > 2 {
		middle := strings.Trim(pattern, "*")
		return strings.Contains(strings.ToLower(base), strings.ToLower(middle))
	}
	return false
}

func (s *Scanner) gitignored(rel, root string) bool {
	if matcher := s.matcherFor(root, ""); matcher != nil && matcher.Match(rel, false) {
		return true
	}

	// Nested .gitignore files apply below their own directory.
	dir := filepath.Dir(rel)
	if dir == "." {
		return false
	}
	current := root
	scope := ""
	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		current = filepath.Join(current, part)
		if scope == "" {
			scope = part
		} else {
			scope = scope + "/" + part
		}
		if matcher := s.matcherFor(current, scope); matcher != nil && matcher.Match(rel, false) {
			return true
		}
	}
	return false
}

func (s *Scanner) matcherFor(dir, scope string) *gitignore.Matcher {
	if matcher, ok := s.gitignoreCache.Get(dir); ok {
		return matcher
	}
	path := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	matcher := gitignore.New()
	if err := matcher.AddFromFile(path, scope); err != nil {
		return nil
	}
	s.gitignoreCache.Add(dir, matcher)
	return matcher
}

// InvalidateGitignoreCache drops cached matchers so edited .gitignore
// files take effect on the next scan.
func (s *Scanner) InvalidateGitignoreCache() {
	s.gitignoreCache.Purge()
}

// isBinary sniffs the first 512 bytes for a NUL.
func isBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil || n == 0 {
		return false
	}
	return bytes.Contains(buf[:n], []byte{0})
}
