// Package lifecycle boots and tears down one project instance: state
// layout, stale recovery, the singleton lock, component wiring, the
// HTTP listener, and the rendezvous handshake.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentbrain/agentbrain/internal/config"
	"github.com/agentbrain/agentbrain/internal/errors"
	"github.com/agentbrain/agentbrain/internal/graph"
	"github.com/agentbrain/agentbrain/internal/health"
	"github.com/agentbrain/agentbrain/internal/ingest"
	"github.com/agentbrain/agentbrain/internal/jobs"
	"github.com/agentbrain/agentbrain/internal/lockfile"
	"github.com/agentbrain/agentbrain/internal/provider"
	"github.com/agentbrain/agentbrain/internal/search"
	"github.com/agentbrain/agentbrain/internal/server"
	"github.com/agentbrain/agentbrain/internal/state"
	"github.com/agentbrain/agentbrain/internal/store"
	"github.com/agentbrain/agentbrain/internal/telemetry"
)

const (
	// healthyTimeout bounds the self-probe after the listener starts.
	healthyTimeout = 10 * time.Second

	// shutdownTimeout bounds graceful teardown.
	shutdownTimeout = 10 * time.Second
)

// Controller owns a running instance.
type Controller struct {
	cfg    *config.Config
	paths  state.Paths
	logger *slog.Logger

	manager    *lockfile.Manager
	backend    store.Backend
	provider   provider.Provider
	graph      graph.Store
	pipeline   *ingest.Pipeline
	queue      *jobs.Queue
	engine     *search.Engine
	aggregator *health.Aggregator
	metrics    *telemetry.Metrics

	httpServer *http.Server
	listener   net.Listener
	runtime    lockfile.RuntimeState

	stopOnce sync.Once
	stopErr  error
	done     chan struct{}
}

// StartOptions tunes Start.
type StartOptions struct {
	ProjectRoot string
	Config      *config.Config
	Logger      *slog.Logger

	// Mode is recorded in the rendezvous descriptor: project | shared.
	Mode string
}

// Start runs the full startup sequence. When another healthy instance
// already serves the project, it returns (nil, survivor, Conflict) so
// the caller can talk to the running daemon instead.
func Start(ctx context.Context, opts StartOptions) (*Controller, *lockfile.RuntimeState, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	root, err := filepath.Abs(opts.ProjectRoot)
	if err != nil {
		return nil, nil, errors.Internal("resolve project root", err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, nil, errors.InvalidArgument("project root is not a directory: " + root)
	}

	cfg := opts.Config
	if cfg == nil {
		cfg, err = config.Load(root)
		if err != nil {
			return nil, nil, err
		}
	}

	paths := state.New(root)
	if err := paths.EnsureLayout(); err != nil {
		return nil, nil, errors.Internal("create state layout", err)
	}

	manager := lockfile.NewManager(paths, logger)
	if err := manager.RecoverStale(ctx); err != nil {
		return nil, nil, err
	}
	held, survivor, err := manager.Acquire()
	if err != nil {
		return nil, nil, err
	}
	if !held {
		return nil, survivor, errors.New(errors.KindConflict,
			"another instance is already running for this project").
			WithSuggestion("use the running instance, or stop it first")
	}

	c := &Controller{
		cfg:     cfg,
		paths:   paths,
		logger:  logger.With("component", "lifecycle"),
		manager: manager,
		metrics: telemetry.New(),
		done:    make(chan struct{}),
	}
	if err := c.boot(ctx, opts.Mode); err != nil {
		c.teardown(context.Background())
		_ = manager.Release()
		return nil, nil, err
	}
	return c, nil, nil
}

func (c *Controller) boot(ctx context.Context, mode string) error {
	if mode == "" {
		mode = "project"
	}

	backend, err := store.Open(c.cfg, c.paths, c.logger)
	if err != nil {
		return err
	}
	c.backend = backend
	if err := backend.Initialize(ctx); err != nil {
		return err
	}

	prov, err := provider.Open(c.cfg, c.logger)
	if err != nil {
		return err
	}
	c.provider = prov

	var graphErr error
	if c.cfg.Graph.Enabled {
		g, err := graph.Open(c.cfg.Graph.Store, c.paths.GraphDir, c.logger)
		if err != nil {
			return err
		}
		c.graph = g
		if err := g.Load(); err != nil {
			// Degraded, not fatal: the other retrieval modes still work.
			graphErr = err
			c.logger.Warn("graph load failed, continuing without persisted graph", "error", err)
		}
	}

	pipeline, err := ingest.New(ingest.Dependencies{
		Config:     c.cfg,
		Provider:   prov,
		Backend:    backend,
		Graph:      c.graph,
		Generator:  generatorFor(prov),
		Summarizer: prov,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.pipeline = pipeline

	queue, err := jobs.Open(c.paths.JobsLog, c.instrumentRunner(pipeline.Runner()), c.logger)
	if err != nil {
		return err
	}
	c.queue = queue

	engine, err := search.NewEngine(c.cfg, backend, prov, c.graph, c.metrics, c.logger)
	if err != nil {
		return err
	}
	c.engine = engine

	c.aggregator = health.NewAggregator(backend, prov, c.graph, queue, c.logger)
	if graphErr != nil {
		c.aggregator.SetGraphError(graphErr)
	}

	srv := server.New(server.Options{
		Engine:     engine,
		Queue:      queue,
		Aggregator: c.aggregator,
		Metrics:    c.metrics,
		Logger:     c.logger,
		Shutdown:   c.requestStop,
	})

	host := c.cfg.Server.Host
	if host == "" {
		host = "127.0.0.1"
	}
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", c.cfg.Server.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Internal("bind listener", err)
	}
	c.listener = listener

	port := listener.Addr().(*net.TCPAddr).Port
	baseURL := fmt.Sprintf("http://%s", net.JoinHostPort(host, fmt.Sprintf("%d", port)))

	c.httpServer = &http.Server{Handler: srv.Router()}
	go func() {
		if err := c.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			c.logger.Error("http server stopped", "error", err)
		}
	}()

	if !waitHealthy(ctx, baseURL) {
		return errors.New(errors.KindInternal, "instance did not become healthy within "+healthyTimeout.String())
	}

	c.runtime = lockfile.RuntimeState{
		Mode:        mode,
		ProjectRoot: c.paths.ProjectRoot,
		InstanceID:  uuid.NewString()[:8],
		BaseURL:     baseURL,
		BindHost:    host,
		Port:        port,
		PID:         os.Getpid(),
		StartedAt:   time.Now().UTC(),
	}
	if err := lockfile.WriteRuntime(c.paths.RuntimeFile, c.runtime); err != nil {
		return err
	}
	if err := lockfile.RegisterInstance(lockfile.RegistryEntry{
		ProjectRoot: c.runtime.ProjectRoot,
		BaseURL:     baseURL,
		PID:         c.runtime.PID,
		StartedAt:   c.runtime.StartedAt,
	}); err != nil {
		c.logger.Warn("failed to register instance", "error", err)
	}

	c.aggregator.SetInstance(health.Instance{
		Mode:       mode,
		InstanceID: c.runtime.InstanceID,
		BaseURL:    baseURL,
		Port:       port,
		StartedAt:  c.runtime.StartedAt,
	})
	c.aggregator.MarkReady()

	c.logger.Info("instance started",
		"base_url", baseURL,
		"instance_id", c.runtime.InstanceID,
		"backend", c.cfg.Backend,
		"graph_enabled", c.cfg.Graph.Enabled,
	)
	return nil
}

// instrumentRunner records job outcomes and corpus gauges around each
// ingestion run.
func (c *Controller) instrumentRunner(inner jobs.Runner) jobs.Runner {
	return func(ctx context.Context, job jobs.Job, progress *jobs.Progress) error {
		err := inner(ctx, job, progress)

		status := "done"
		switch {
		case err != nil && ctx.Err() != nil:
			status = "cancelled"
		case err != nil:
			status = "failed"
		}
		c.metrics.JobsTotal.WithLabelValues(status).Inc()

		snap := progress.Snapshot()
		c.metrics.IngestedChunks.Add(float64(snap.ChunksIndexed))
		c.metrics.DroppedChunks.Add(float64(snap.Dropped))

		if counts, countErr := c.backend.Count(context.Background()); countErr == nil {
			c.metrics.DocumentsTotal.Set(float64(counts.Total))
		}
		if c.graph != nil {
			c.metrics.GraphTriples.Set(float64(c.graph.Stats().Triples))
		}
		return err
	}
}

// Runtime returns the rendezvous descriptor of the running instance.
func (c *Controller) Runtime() lockfile.RuntimeState { return c.runtime }

// Done closes when the instance has fully stopped.
func (c *Controller) Done() <-chan struct{} { return c.done }

// requestStop triggers Shutdown from the HTTP surface without
// blocking the handler.
func (c *Controller) requestStop() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = c.Shutdown(ctx)
	}()
}

// Shutdown tears the instance down: stop accepting requests, drain,
// close components, remove rendezvous artifacts, release the lock.
// Safe to call more than once.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.stopOnce.Do(func() {
		c.logger.Info("shutting down")
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
		}
		c.stopErr = c.teardown(ctx)
		_ = lockfile.DeregisterInstance(c.paths.ProjectRoot)
		if err := c.manager.Release(); err != nil && c.stopErr == nil {
			c.stopErr = err
		}
		close(c.done)
		c.logger.Info("shutdown complete")
	})
	return c.stopErr
}

func (c *Controller) teardown(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if c.httpServer != nil {
		keep(c.httpServer.Shutdown(ctx))
	}
	if c.queue != nil {
		keep(c.queue.Close())
	}
	if c.pipeline != nil {
		keep(c.pipeline.Close())
	}
	if c.graph != nil {
		keep(c.graph.Close())
	}
	if c.backend != nil {
		keep(c.backend.Close())
	}
	return firstErr
}

// StopRemote asks the instance behind baseURL to stop and waits for
// its health endpoint to go dark.
func StopRemote(ctx context.Context, baseURL string) error {
	client := &http.Client{Timeout: lockfile.DefaultProbeTimeout}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/shutdown", nil)
	if err != nil {
		return errors.Internal("build shutdown request", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.New(errors.KindNotFound, "no instance reachable at "+baseURL)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return errors.New(errors.KindInternal,
			fmt.Sprintf("shutdown request rejected with status %d", resp.StatusCode))
	}

	deadline := time.Now().Add(shutdownTimeout)
	for time.Now().Before(deadline) {
		if !lockfile.ProbeHealth(baseURL, time.Second) {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.FromContext(ctx, "stop remote")
		case <-time.After(200 * time.Millisecond):
		}
	}
	return errors.New(errors.KindTimeout, "instance did not stop within "+shutdownTimeout.String())
}

// generatorFor exposes the provider's text generation when the
// underlying implementation supports it; the LLM triple extractor
// stays disabled otherwise.
func generatorFor(p provider.Provider) graph.Generator {
	inner := provider.Unwrap(p)
	if gen, ok := inner.(graph.Generator); ok {
		return gen
	}
	return nil
}

func waitHealthy(ctx context.Context, baseURL string) bool {
	deadline := time.Now().Add(healthyTimeout)
	for time.Now().Before(deadline) {
		if lockfile.ProbeHealth(baseURL, time.Second) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
	return false
}
