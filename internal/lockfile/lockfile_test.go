package lockfile

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbrain/agentbrain/internal/errors"
	"github.com/agentbrain/agentbrain/internal/state"
)

// A pid that no real process should have; kernels cap pids well below
// this without explicit configuration.
const deadPID = 4_000_000

func TestPIDRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent-brain.pid")

	require.NoError(t, WritePID(path, 12345))
	pid, err := ReadPID(path)
	require.NoError(t, err)
	assert.Equal(t, 12345, pid)

	require.NoError(t, RemovePID(path))
	_, err = ReadPID(path)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))

	// Removing again is fine.
	require.NoError(t, RemovePID(path))
}

func TestReadPID_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent-brain.pid")
	require.NoError(t, os.WriteFile(path, []byte("not a pid\n"), 0o644))

	_, err := ReadPID(path)
	require.Error(t, err)
	assert.Equal(t, errors.KindInternal, errors.KindOf(err))
}

func TestPIDAlive(t *testing.T) {
	assert.True(t, PIDAlive(os.Getpid()))
	assert.False(t, PIDAlive(deadPID))
	assert.False(t, PIDAlive(0))
	assert.False(t, PIDAlive(-7))
}

func TestRuntimeRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime.json")
	want := RuntimeState{
		Mode:        "embedded",
		ProjectRoot: "/srv/project",
		InstanceID:  "0b3f2c51",
		BaseURL:     "http://127.0.0.1:7431",
		BindHost:    "127.0.0.1",
		Port:        7431,
		PID:         os.Getpid(),
		StartedAt:   time.Now().UTC().Truncate(time.Second),
	}

	require.NoError(t, WriteRuntime(path, want))

	// No leftover temp file from the atomic write.
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	got, err := ReadRuntime(path)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, got.SchemaVersion)
	assert.Equal(t, want.BaseURL, got.BaseURL)
	assert.Equal(t, want.Port, got.Port)
	assert.Equal(t, want.PID, got.PID)
	assert.True(t, want.StartedAt.Equal(got.StartedAt))
}

func TestReadRuntime_Missing(t *testing.T) {
	_, err := ReadRuntime(filepath.Join(t.TempDir(), "runtime.json"))
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
}

func TestReadRuntime_SchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"schema_version": 99, "base_url": "http://127.0.0.1:1"}`), 0o644))

	_, err := ReadRuntime(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema version")
}

func TestProbeHealth(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer healthy.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	assert.True(t, ProbeHealth(healthy.URL, time.Second))
	assert.False(t, ProbeHealth(broken.URL, time.Second))
	assert.False(t, ProbeHealth("http://127.0.0.1:1", 200*time.Millisecond))
}

func TestLock_SecondHolderRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "agent-brain.lock")

	first := NewLock(path)
	held, err := first.TryLock()
	require.NoError(t, err)
	require.True(t, held)
	assert.True(t, first.Held())

	second := NewLock(path)
	held, err = second.TryLock()
	require.NoError(t, err)
	assert.False(t, held)

	require.NoError(t, first.Unlock())
	assert.False(t, first.Held())

	held, err = second.TryLock()
	require.NoError(t, err)
	assert.True(t, held)
	require.NoError(t, second.Unlock())

	// Unlock when not held is a no-op.
	require.NoError(t, second.Unlock())
}

func managerFixture(t *testing.T) (*Manager, state.Paths) {
	t.Helper()
	paths := state.New(t.TempDir())
	require.NoError(t, paths.EnsureLayout())
	return NewManager(paths, nil), paths
}

func TestManager_AcquireAndRelease(t *testing.T) {
	m, paths := managerFixture(t)

	held, _, err := m.Acquire()
	require.NoError(t, err)
	require.True(t, held)

	pid, err := ReadPID(paths.PIDFile)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, m.Release())
	_, err = ReadPID(paths.PIDFile)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
}

func TestManager_AcquireReturnsSurvivorRendezvous(t *testing.T) {
	holder, paths := managerFixture(t)
	held, _, err := holder.Acquire()
	require.NoError(t, err)
	require.True(t, held)
	defer func() { _ = holder.Release() }()

	require.NoError(t, WriteRuntime(paths.RuntimeFile, RuntimeState{
		BaseURL: "http://127.0.0.1:7431",
		PID:     os.Getpid(),
	}))

	loser := NewManager(paths, nil)
	held, survivor, err := loser.Acquire()
	require.NoError(t, err)
	assert.False(t, held)
	require.NotNil(t, survivor)
	assert.Equal(t, "http://127.0.0.1:7431", survivor.BaseURL)
}

func TestManager_RecoverStale_DeadPID(t *testing.T) {
	m, paths := managerFixture(t)
	require.NoError(t, WritePID(paths.PIDFile, deadPID))
	require.NoError(t, WriteRuntime(paths.RuntimeFile, RuntimeState{BaseURL: "http://127.0.0.1:1"}))
	require.NoError(t, os.WriteFile(paths.LockFile, nil, 0o644))

	require.NoError(t, m.RecoverStale(context.Background()))

	_, err := ReadPID(paths.PIDFile)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
	_, err = ReadRuntime(paths.RuntimeFile)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
	_, err = os.Stat(paths.LockFile)
	assert.True(t, os.IsNotExist(err))
}

func TestManager_RecoverStale_NothingRecorded(t *testing.T) {
	m, _ := managerFixture(t)
	require.NoError(t, m.RecoverStale(context.Background()))
}

func TestManager_RecoverStale_HealthyHolderLeftAlone(t *testing.T) {
	m, paths := managerFixture(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, WritePID(paths.PIDFile, os.Getpid()))
	require.NoError(t, WriteRuntime(paths.RuntimeFile, RuntimeState{
		BaseURL: srv.URL,
		PID:     os.Getpid(),
	}))

	require.NoError(t, m.RecoverStale(context.Background()))

	// Artifacts survive: the holder answered its probe.
	_, err := ReadPID(paths.PIDFile)
	require.NoError(t, err)
	_, err = ReadRuntime(paths.RuntimeFile)
	require.NoError(t, err)
}

func TestRegistry_RegisterListDeregister(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	live := RegistryEntry{
		ProjectRoot: "/srv/alpha",
		BaseURL:     srv.URL,
		PID:         os.Getpid(),
		StartedAt:   time.Now().UTC(),
	}
	dead := RegistryEntry{
		ProjectRoot: "/srv/beta",
		BaseURL:     "http://127.0.0.1:1",
		PID:         deadPID,
		StartedAt:   time.Now().UTC(),
	}
	require.NoError(t, RegisterInstance(live))
	require.NoError(t, RegisterInstance(dead))

	entries, err := ListInstances()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "/srv/alpha", entries[0].ProjectRoot)

	// The dead entry was pruned from disk, not just filtered.
	_, err = os.Stat(state.RegistryEntryPath("/srv/beta"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, DeregisterInstance("/srv/alpha"))
	entries, err = ListInstances()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRegistry_CorruptEntryPruned(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	dir := state.RegistryDir()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "deadbeef.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	entries, err := ListInstances()
	require.NoError(t, err)
	assert.Empty(t, entries)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestRegistry_EmptyWhenDirMissing(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(t.TempDir(), "nope"))

	entries, err := ListInstances()
	require.NoError(t, err)
	assert.Empty(t, entries)
}
