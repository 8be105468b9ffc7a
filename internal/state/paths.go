// Package state maps a project root to its on-disk state directory
// and the fixed sub-paths inside it. The mapping is pure: the same
// root always yields the same paths.
package state

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// DirName is the state directory path relative to the project root.
const DirName = ".claude/agent-brain"

// Paths holds every on-disk location the service uses for one project.
type Paths struct {
	// ProjectRoot is the canonical project root the paths derive from.
	ProjectRoot string

	// Dir is <root>/.claude/agent-brain.
	Dir string

	// VectorDir holds the ANN graph and its metadata.
	VectorDir string

	// KeywordDir holds the keyword index.
	KeywordDir string

	// GraphDir holds the knowledge-graph persistence.
	GraphDir string

	// DocumentsDB is the embedded document store.
	DocumentsDB string

	// JobsLog is the append-only job transition log.
	JobsLog string

	// RuntimeFile is the rendezvous descriptor.
	RuntimeFile string

	// LockFile is the advisory singleton lock.
	LockFile string

	// PIDFile records the lock holder for diagnostics.
	PIDFile string

	// LogDir holds rotating service logs.
	LogDir string

	// ConfigFile is the project-level configuration.
	ConfigFile string
}

// New derives the state paths for a project root. No filesystem access.
func New(projectRoot string) Paths {
	dir := filepath.Join(projectRoot, filepath.FromSlash(DirName))
	return Paths{
		ProjectRoot: projectRoot,
		Dir:         dir,
		VectorDir:   filepath.Join(dir, "data", "vectors"),
		KeywordDir:  filepath.Join(dir, "data", "keyword"),
		GraphDir:    filepath.Join(dir, "data", "graph"),
		DocumentsDB: filepath.Join(dir, "data", "documents.db"),
		JobsLog:     filepath.Join(dir, "jobs", "queue.log"),
		RuntimeFile: filepath.Join(dir, "runtime.json"),
		LockFile:    filepath.Join(dir, "agent-brain.lock"),
		PIDFile:     filepath.Join(dir, "agent-brain.pid"),
		LogDir:      filepath.Join(dir, "logs"),
		ConfigFile:  filepath.Join(dir, "config.yaml"),
	}
}

// EnsureLayout creates every directory the service writes into.
// Idempotent: existing directories are left untouched.
func (p Paths) EnsureLayout() error {
	dirs := []string{
		p.Dir,
		p.VectorDir,
		p.KeywordDir,
		p.GraphDir,
		filepath.Dir(p.JobsLog),
		p.LogDir,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create state directory %s: %w", dir, err)
		}
	}
	return nil
}

// RegistryDir returns the user-level directory holding one pointer
// file per running instance, consumed by the list command.
func RegistryDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "agent-brain", "instances")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "agent-brain", "instances")
	}
	return filepath.Join(home, ".config", "agent-brain", "instances")
}

// RegistryEntryPath returns the registry file for a project root. The
// name is a digest so arbitrary roots map to flat, safe filenames.
func RegistryEntryPath(projectRoot string) string {
	sum := sha256.Sum256([]byte(projectRoot))
	return filepath.Join(RegistryDir(), hex.EncodeToString(sum[:8])+".json")
}
