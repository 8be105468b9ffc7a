package errors

import "net/http"

// Kind classifies an error into the closed taxonomy used across the
// service. Every error that crosses a package boundary carries exactly
// one Kind; handlers and the CLI map kinds to status and exit codes.
type Kind string

const (
	// KindInvalidArgument marks user-surface validation failures.
	KindInvalidArgument Kind = "invalid_argument"

	// KindNotFound marks lookups of jobs, instances, or documents
	// that do not exist.
	KindNotFound Kind = "not_found"

	// KindConflict marks singleton violations: lock already held,
	// duplicate job submission, competing starter.
	KindConflict Kind = "conflict"

	// KindDimensionMismatch marks embedding writes or queries whose
	// vector dimension differs from the backend's recorded dimension.
	KindDimensionMismatch Kind = "dimension_mismatch"

	// KindBackendUnavailable marks storage backend connect or
	// availability failures.
	KindBackendUnavailable Kind = "backend_unavailable"

	// KindProviderUnavailable marks embedding/summarization provider
	// failures that survive retries.
	KindProviderUnavailable Kind = "provider_unavailable"

	// KindGraphDisabled marks graph operations requested while the
	// graph index is disabled by configuration.
	KindGraphDisabled Kind = "graph_disabled"

	// KindCancelled marks operations aborted by context cancellation.
	KindCancelled Kind = "cancelled"

	// KindTimeout marks operations that exceeded their deadline.
	KindTimeout Kind = "timeout"

	// KindInternal marks everything else.
	KindInternal Kind = "internal"
)

// Category is a coarse classification used by the CLI to choose an
// exit code. It is derived from the Kind unless a constructor
// overrides it (configuration errors share KindInvalidArgument but
// exit differently).
type Category string

const (
	CategoryUser      Category = "user"
	CategoryConfig    Category = "config"
	CategoryBackend   Category = "backend"
	CategoryProvider  Category = "provider"
	CategoryDiscovery Category = "discovery"
	CategoryRuntime   Category = "runtime"
	CategoryInternal  Category = "internal"
)

// categoryOf returns the default category for a kind.
func categoryOf(kind Kind) Category {
	switch kind {
	case KindInvalidArgument, KindGraphDisabled:
		return CategoryUser
	case KindNotFound:
		return CategoryDiscovery
	case KindBackendUnavailable, KindTimeout:
		return CategoryBackend
	case KindProviderUnavailable:
		return CategoryProvider
	case KindConflict, KindCancelled:
		return CategoryRuntime
	case KindDimensionMismatch:
		return CategoryInternal
	default:
		return CategoryInternal
	}
}

// HTTPStatus maps a kind to the HTTP status code used by the API
// error envelope.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindGraphDisabled:
		return http.StatusConflict
	case KindBackendUnavailable, KindProviderUnavailable:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindCancelled:
		// Client closed request; nginx convention.
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// Exit codes for the CLI surface.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitUserError   = 2
	ExitBackendDown = 3
	ExitNoInstance  = 4
	ExitConfigError = 5
)

// ExitCode maps an error to the CLI exit code contract. Nil returns 0.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch CategoryIn(err) {
	case CategoryUser:
		return ExitUserError
	case CategoryConfig:
		return ExitConfigError
	case CategoryBackend, CategoryProvider:
		return ExitBackendDown
	case CategoryDiscovery:
		return ExitNoInstance
	default:
		return ExitFailure
	}
}

// retryableKind reports whether operations failing with this kind are
// worth retrying locally.
func retryableKind(kind Kind) bool {
	switch kind {
	case KindBackendUnavailable, KindProviderUnavailable, KindTimeout:
		return true
	default:
		return false
	}
}
