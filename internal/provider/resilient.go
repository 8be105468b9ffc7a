package provider

import (
	"context"
	"log/slog"

	"github.com/agentbrain/agentbrain/internal/errors"
)

// Resilient wraps a provider with retry and a circuit breaker. Failed
// embedding calls are retried with exponential backoff; a run of
// failures opens the breaker so ingestion fails fast instead of
// hammering a dead server.
type Resilient struct {
	inner   Provider
	breaker *errors.CircuitBreaker
	retry   errors.RetryConfig
	logger  *slog.Logger
}

// NewResilient creates the resilience decorator with the standard
// retry schedule.
func NewResilient(inner Provider, logger *slog.Logger) *Resilient {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := errors.DefaultRetryConfig()
	cfg.RetryIf = errors.IsRetryable
	return &Resilient{
		inner:   inner,
		breaker: errors.NewCircuitBreaker("provider:" + inner.Name()),
		retry:   cfg,
		logger:  logger,
	}
}

// Embed retries transient failures and records outcomes with the
// breaker.
func (r *Resilient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return errors.RetryWithResult(ctx, r.retry, func() ([][]float32, error) {
		vecs, err := errors.CircuitCall(r.breaker, func() ([][]float32, error) {
			return r.inner.Embed(ctx, texts)
		})
		if err != nil {
			r.logger.Debug("embed attempt failed",
				"provider", r.inner.Name(), "texts", len(texts), "error", err)
		}
		return vecs, err
	})
}

// Summarize goes through the breaker but is not retried: summaries are
// optional enrichment and the caller degrades gracefully without them.
func (r *Resilient) Summarize(ctx context.Context, text string) (string, error) {
	return errors.CircuitCall(r.breaker, func() (string, error) {
		return r.inner.Summarize(ctx, text)
	})
}

func (r *Resilient) Name() string { return r.inner.Name() }

func (r *Resilient) Dimensions() int { return r.inner.Dimensions() }

func (r *Resilient) Health(ctx context.Context) error { return r.inner.Health(ctx) }

// Inner exposes the wrapped provider.
func (r *Resilient) Inner() Provider { return r.inner }

func (r *Resilient) Close() error { return Close(r.inner) }

var _ Provider = (*Resilient)(nil)
