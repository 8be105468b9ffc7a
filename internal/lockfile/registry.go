package lockfile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/agentbrain/agentbrain/internal/errors"
	"github.com/agentbrain/agentbrain/internal/state"
)

// RegistryEntry points at one running instance. Entries live in the
// user-level registry directory so `list` can find every project's
// daemon without knowing the projects.
type RegistryEntry struct {
	ProjectRoot string    `json:"project_root"`
	BaseURL     string    `json:"base_url"`
	PID         int       `json:"pid"`
	StartedAt   time.Time `json:"started_at"`
}

// RegisterInstance writes the pointer file for a project.
func RegisterInstance(entry RegistryEntry) error {
	path := state.RegistryEntryPath(entry.ProjectRoot)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Internal("create registry directory", err)
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return errors.Internal("encode registry entry", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return errors.Internal("write registry entry", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Internal("replace registry entry", err)
	}
	return nil
}

// DeregisterInstance removes the pointer file; missing is fine.
func DeregisterInstance(projectRoot string) error {
	if err := os.Remove(state.RegistryEntryPath(projectRoot)); err != nil && !os.IsNotExist(err) {
		return errors.Internal("remove registry entry", err)
	}
	return nil
}

// ListInstances returns the live entries, sorted by project root.
// Stale entries, meaning a dead pid or a failed health probe, are
// pruned from disk as they are found.
func ListInstances() ([]RegistryEntry, error) {
	dir := state.RegistryDir()
	items, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RegistryEntry{}, nil
		}
		return nil, errors.Internal("read registry directory", err)
	}

	var entries []RegistryEntry
	for _, item := range items {
		if item.IsDir() || filepath.Ext(item.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, item.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var entry RegistryEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			_ = os.Remove(path)
			continue
		}
		if !PIDAlive(entry.PID) || !ProbeHealth(entry.BaseURL, DefaultProbeTimeout) {
			_ = os.Remove(path)
			continue
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ProjectRoot < entries[j].ProjectRoot
	})
	return entries, nil
}
