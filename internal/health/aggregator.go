// Package health aggregates the status surface: one snapshot combining
// instance identity, storage, provider, graph, and queue state. The
// aggregator only reads; it never mutates the components it watches.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agentbrain/agentbrain/internal/graph"
	"github.com/agentbrain/agentbrain/internal/jobs"
	"github.com/agentbrain/agentbrain/internal/provider"
	"github.com/agentbrain/agentbrain/internal/store"
)

// Aggregate status values, ordered from worst to best.
const (
	StatusStarting    = "starting"
	StatusUnavailable = "unavailable"
	StatusDegraded    = "degraded"
	StatusHealthy     = "healthy"
)

// snapshotTTL caps how often the backend and provider are probed so
// status stays cheap under polling.
const snapshotTTL = time.Second

// Instance identifies the running daemon for the status payload.
type Instance struct {
	Mode       string    `json:"mode"`
	InstanceID string    `json:"instance_id"`
	BaseURL    string    `json:"base_url"`
	Port       int       `json:"port"`
	StartedAt  time.Time `json:"started_at"`
}

// GraphSummary reports the graph index for status.
type GraphSummary struct {
	Enabled   bool   `json:"enabled"`
	StoreType string `json:"store_type,omitempty"`
	Entities  int    `json:"entities"`
	Triples   int    `json:"triples"`
}

// Snapshot is the full status payload.
type Snapshot struct {
	Status        string             `json:"status"`
	Mode          string             `json:"mode"`
	InstanceID    string             `json:"instance_id"`
	BaseURL       string             `json:"base_url"`
	Port          int                `json:"port"`
	UptimeSeconds float64            `json:"uptime_seconds"`
	Documents     store.Counts       `json:"documents"`
	Pool          store.PoolStatus   `json:"pool"`
	Queue         jobs.QueueSnapshot `json:"queue"`
	Graph         GraphSummary       `json:"graph"`
	Provider      string             `json:"provider"`
	ProviderError string             `json:"provider_error,omitempty"`
	BackendError  string             `json:"backend_error,omitempty"`
}

// Aggregator builds status snapshots. Components may be nil while the
// instance is still starting; the snapshot reports "starting" until
// MarkReady.
type Aggregator struct {
	backend  store.Backend
	provider provider.Provider
	graph    graph.Store
	queue    *jobs.Queue
	logger   *slog.Logger

	mu       sync.Mutex
	instance Instance
	ready    bool
	graphErr error

	cached   Snapshot
	cachedAt time.Time
}

func NewAggregator(backend store.Backend, prov provider.Provider, g graph.Store, queue *jobs.Queue, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		backend:  backend,
		provider: prov,
		graph:    g,
		queue:    queue,
		logger:   logger.With("component", "health"),
	}
}

// SetInstance records the identity published once the listener is
// bound.
func (a *Aggregator) SetInstance(inst Instance) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.instance = inst
}

// MarkReady flips the aggregator out of the starting state.
func (a *Aggregator) MarkReady() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ready = true
	a.cachedAt = time.Time{} // next snapshot probes fresh
}

// SetGraphError records a graph load failure; the instance keeps
// serving the other retrieval modes but reports degraded.
func (a *Aggregator) SetGraphError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.graphErr = err
}

// Live reports whether the process is up at all, for the liveness
// endpoint. It never touches the backend.
func (a *Aggregator) Live() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.ready {
		return StatusStarting
	}
	return StatusHealthy
}

// Status returns the aggregate snapshot, cached for one second.
func (a *Aggregator) Status(ctx context.Context) Snapshot {
	a.mu.Lock()
	if time.Since(a.cachedAt) < snapshotTTL && !a.cachedAt.IsZero() {
		snap := a.cached
		a.mu.Unlock()
		return snap
	}
	inst := a.instance
	ready := a.ready
	graphErr := a.graphErr
	a.mu.Unlock()

	snap := a.collect(ctx, inst, ready, graphErr)

	a.mu.Lock()
	a.cached = snap
	a.cachedAt = time.Now()
	a.mu.Unlock()
	return snap
}

func (a *Aggregator) collect(ctx context.Context, inst Instance, ready bool, graphErr error) Snapshot {
	snap := Snapshot{
		Mode:       inst.Mode,
		InstanceID: inst.InstanceID,
		BaseURL:    inst.BaseURL,
		Port:       inst.Port,
	}
	if !inst.StartedAt.IsZero() {
		snap.UptimeSeconds = time.Since(inst.StartedAt).Seconds()
	}

	if !ready {
		snap.Status = StatusStarting
		return snap
	}

	backendOK := true
	if a.backend == nil {
		backendOK = false
		snap.BackendError = "no backend configured"
	} else {
		counts, err := a.backend.Count(ctx)
		if err != nil {
			backendOK = false
			snap.BackendError = err.Error()
			a.logger.Warn("backend count failed", "error", err)
		} else {
			snap.Documents = counts
		}
		pool, err := a.backend.PoolStatus(ctx)
		if err != nil {
			backendOK = false
			if snap.BackendError == "" {
				snap.BackendError = err.Error()
			}
		} else {
			snap.Pool = pool
		}
	}

	providerOK := true
	if a.provider != nil {
		snap.Provider = a.provider.Name()
		if err := a.provider.Health(ctx); err != nil {
			providerOK = false
			snap.ProviderError = err.Error()
		}
	}

	if a.graph != nil {
		stats := a.graph.Stats()
		snap.Graph = GraphSummary{
			Enabled:   true,
			StoreType: stats.StoreType,
			Entities:  stats.Entities,
			Triples:   stats.Triples,
		}
	}

	if a.queue != nil {
		snap.Queue = a.queue.Snapshot()
	}

	switch {
	case !backendOK:
		snap.Status = StatusUnavailable
	case !providerOK || graphErr != nil:
		snap.Status = StatusDegraded
	default:
		snap.Status = StatusHealthy
	}
	return snap
}
