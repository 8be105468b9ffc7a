package lockfile

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/agentbrain/agentbrain/internal/errors"
)

// SchemaVersion guards runtime.json against format drift. Readers
// reject descriptors from other versions.
const SchemaVersion = 1

// DefaultProbeTimeout bounds the rendezvous health probe.
const DefaultProbeTimeout = 2 * time.Second

// RuntimeState is the rendezvous descriptor: everything a client needs
// to find and trust a running instance. It is written only after the
// listener answers its own health endpoint.
type RuntimeState struct {
	SchemaVersion int       `json:"schema_version"`
	Mode          string    `json:"mode"`
	ProjectRoot   string    `json:"project_root"`
	InstanceID    string    `json:"instance_id"`
	BaseURL       string    `json:"base_url"`
	BindHost      string    `json:"bind_host"`
	Port          int       `json:"port"`
	PID           int       `json:"pid"`
	StartedAt     time.Time `json:"started_at"`
}

// WriteRuntime persists the descriptor atomically so readers never
// observe a partial file.
func WriteRuntime(path string, state RuntimeState) error {
	state.SchemaVersion = SchemaVersion
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Internal("encode runtime state", err)
	}
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Internal("create runtime directory", err)
	}
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return errors.Internal("write runtime state", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Internal("replace runtime state", err)
	}
	return nil
}

// ReadRuntime loads and validates the descriptor. A missing file is
// KindNotFound; a schema mismatch is rejected.
func ReadRuntime(path string) (*RuntimeState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.KindNotFound, "runtime state not found")
		}
		return nil, errors.Internal("read runtime state", err)
	}
	var state RuntimeState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, errors.Internal("decode runtime state", err)
	}
	if state.SchemaVersion != SchemaVersion {
		return nil, errors.New(errors.KindInternal,
			"runtime state has unsupported schema version").
			WithSuggestion("stop the instance and start it again with this binary")
	}
	return &state, nil
}

// RemoveRuntime deletes the descriptor; a missing file is not an
// error.
func RemoveRuntime(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Internal("remove runtime state", err)
	}
	return nil
}

// ProbeHealth reports whether the instance behind baseURL answers its
// health endpoint within the timeout.
func ProbeHealth(baseURL string, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}
