// Package project resolves the directory an instance binds to. Every
// command run from anywhere inside a project must converge on the same
// root, so resolution is deterministic: VCS root first, then explicit
// markers, then build manifests, then the start path itself.
package project

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentbrain/agentbrain/internal/errors"
)

// gitTimeout bounds the rev-parse call; a hung git must not block
// startup.
const gitTimeout = 5 * time.Second

// manifestFiles mark a buildable project root when no VCS or .claude
// marker exists.
var manifestFiles = []string{
	"go.mod",
	"package.json",
	"pyproject.toml",
	"Cargo.toml",
	"pom.xml",
	"build.gradle",
	"CMakeLists.txt",
	"Makefile",
}

// Resolve walks from start to the project root. Order: outermost git
// working tree (submodules resolve to the superproject), nearest
// ancestor containing .claude/, nearest ancestor with a build
// manifest, else start itself. The result is absolute with symlinks
// resolved.
func Resolve(ctx context.Context, start string) (string, error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", errors.Internal("resolve start path", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", errors.InvalidArgument("project path is not a directory: " + abs)
	}

	if root := gitRoot(ctx, abs); root != "" {
		return canonical(root), nil
	}
	if root := nearestAncestor(abs, func(dir string) bool {
		return dirExists(filepath.Join(dir, ".claude"))
	}); root != "" {
		return root, nil
	}
	if root := nearestAncestor(abs, hasManifest); root != "" {
		return root, nil
	}
	return abs, nil
}

// gitRoot asks git for the working tree roots. The command reports the
// superproject working tree (empty outside a submodule) and the
// toplevel; the outermost of the two wins. Any exec failure means
// "not a git repo".
func gitRoot(ctx context.Context, dir string) string {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "rev-parse",
		"--show-superproject-working-tree", "--show-toplevel")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}

	outermost := ""
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if outermost == "" || len(line) < len(outermost) {
			outermost = line
		}
	}
	return outermost
}

// nearestAncestor walks dir upward and returns the first directory
// matching the predicate, or "" at the filesystem root.
func nearestAncestor(dir string, match func(string) bool) string {
	for {
		if match(dir) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func hasManifest(dir string) bool {
	for _, name := range manifestFiles {
		if fileExists(filepath.Join(dir, name)) {
			return true
		}
	}
	return false
}

func canonical(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
