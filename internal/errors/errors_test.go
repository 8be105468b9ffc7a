package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessageComposition(t *testing.T) {
	// Given errors with different field combinations
	plain := New(KindInvalidArgument, "top_k must be positive")
	withOp := New(KindInternal, "write failed").WithOp("store.upsert")
	withCause := Wrap(KindBackendUnavailable, "connect failed", fmt.Errorf("dial tcp: refused"))

	// Then the rendered message includes what is present
	assert.Equal(t, "top_k must be positive", plain.Error())
	assert.Equal(t, "store.upsert: write failed", withOp.Error())
	assert.Contains(t, withCause.Error(), "connect failed")
	assert.Contains(t, withCause.Error(), "dial tcp: refused")
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(KindInternal, "anything", nil))
}

func TestKindOfUnwrapsChains(t *testing.T) {
	// Given a structured error buried under fmt.Errorf wrapping
	inner := DimensionMismatch(768, 384)
	outer := fmt.Errorf("ingest batch 3: %w", inner)

	// When classifying the chain
	kind := KindOf(outer)

	// Then the inner kind survives
	assert.Equal(t, KindDimensionMismatch, kind)
}

func TestKindOfContextErrors(t *testing.T) {
	assert.Equal(t, KindCancelled, KindOf(context.Canceled))
	assert.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindInternal, KindOf(fmt.Errorf("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Conflict("lock held"))
	assert.True(t, Is(err, New(KindConflict, "")))
	assert.False(t, Is(err, New(KindNotFound, "")))
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindInvalidArgument, http.StatusBadRequest},
		{KindNotFound, http.StatusNotFound},
		{KindConflict, http.StatusConflict},
		{KindGraphDisabled, http.StatusConflict},
		{KindBackendUnavailable, http.StatusServiceUnavailable},
		{KindProviderUnavailable, http.StatusServiceUnavailable},
		{KindTimeout, http.StatusGatewayTimeout},
		{KindDimensionMismatch, http.StatusInternalServerError},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(tc.kind), "kind %s", tc.kind)
	}
}

func TestExitCodeContract(t *testing.T) {
	// Given the CLI exit code contract
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitUserError, ExitCode(InvalidArgument("bad mode")))
	assert.Equal(t, ExitUserError, ExitCode(GraphDisabled()))
	assert.Equal(t, ExitBackendDown, ExitCode(BackendUnavailable("pg down", nil)))
	assert.Equal(t, ExitBackendDown, ExitCode(ProviderUnavailable("ollama down", nil)))
	assert.Equal(t, ExitNoInstance, ExitCode(NotFound("no running instance")))
	assert.Equal(t, ExitConfigError, ExitCode(Config("unknown backend \"duckdb\"")))
	assert.Equal(t, ExitFailure, ExitCode(Internal("boom", nil)))
}

func TestConfigSharesKindButNotExitCode(t *testing.T) {
	// Given a config error and a plain validation error
	cfgErr := Config("database_url required for postgres backend")
	argErr := InvalidArgument("database_url required for postgres backend")

	// Then both present as InvalidArgument over HTTP
	assert.Equal(t, KindInvalidArgument, KindOf(cfgErr))
	assert.Equal(t, HTTPStatus(KindOf(argErr)), HTTPStatus(KindOf(cfgErr)))

	// But exit codes diverge
	assert.Equal(t, ExitConfigError, ExitCode(cfgErr))
	assert.Equal(t, ExitUserError, ExitCode(argErr))
}

func TestGraphDisabledMessageIsContractual(t *testing.T) {
	require.Equal(t, "GraphRAG not enabled", GraphDisabled().Message)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(BackendUnavailable("conn reset", nil)))
	assert.True(t, IsRetryable(ProviderUnavailable("429", nil)))
	assert.True(t, IsRetryable(Timeout("store.search")))
	assert.False(t, IsRetryable(InvalidArgument("k must be > 0")))
	assert.False(t, IsRetryable(DimensionMismatch(8, 16)))
	assert.False(t, IsRetryable(nil))
}

func TestToEnvelope(t *testing.T) {
	env := ToEnvelope(GraphDisabled())
	assert.Equal(t, KindGraphDisabled, env.Kind)
	assert.Equal(t, "GraphRAG not enabled", env.Message)
	assert.NotEmpty(t, env.Suggestion)

	plain := ToEnvelope(fmt.Errorf("boom"))
	assert.Equal(t, KindInternal, plain.Kind)
	assert.Equal(t, "boom", plain.Message)
}

func TestFromContext(t *testing.T) {
	// Given a cancelled context
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// When converting
	err := FromContext(ctx, "query.multi")

	// Then it is a structured cancellation
	require.NotNil(t, err)
	assert.Equal(t, KindCancelled, err.Kind)
	assert.Equal(t, "query.multi", err.Op)

	// And a live context yields nil
	assert.Nil(t, FromContext(context.Background(), "x"))
}
