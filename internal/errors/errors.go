// Package errors defines the structured error type shared by every
// component: a closed Kind taxonomy, category-based CLI exit codes,
// retry with exponential backoff, and a circuit breaker for provider
// calls.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Error is the structured error type for the service. It wraps an
// optional cause and carries everything the HTTP layer and the CLI
// need to present the failure.
type Error struct {
	// Kind is the taxonomy classification.
	Kind Kind

	// Message is the short, actionable description.
	Message string

	// Op names the operation that failed, e.g. "store.upsert".
	Op string

	// Category drives CLI exit codes; defaults from Kind.
	Category Category

	// Err is the wrapped cause, if any.
	Err error

	// Suggestion is an optional remediation hint shown by the CLI.
	Suggestion string
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	default:
		return e.Message
	}
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors by kind, enabling errors.Is with kind sentinels.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// WithOp records the failing operation and returns the error.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// WithSuggestion adds a remediation hint and returns the error.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Category: categoryOf(kind)}
}

// Wrap creates an Error of the given kind around a cause. Returns nil
// if err is nil.
func Wrap(kind Kind, message string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Category: categoryOf(kind), Err: err}
}

// InvalidArgument creates a user-surface validation error.
func InvalidArgument(message string) *Error {
	return New(KindInvalidArgument, message)
}

// NotFound creates a lookup-miss error.
func NotFound(message string) *Error {
	return New(KindNotFound, message)
}

// Conflict creates a singleton-violation error.
func Conflict(message string) *Error {
	return New(KindConflict, message)
}

// DimensionMismatch reports an embedding dimension violation.
func DimensionMismatch(expected, got int) *Error {
	return New(KindDimensionMismatch,
		fmt.Sprintf("embedding dimension mismatch: index expects %d, got %d", expected, got)).
		WithSuggestion("reindex after changing the embedding model")
}

// BackendUnavailable wraps a storage backend failure.
func BackendUnavailable(message string, err error) *Error {
	e := &Error{Kind: KindBackendUnavailable, Message: message, Category: CategoryBackend, Err: err}
	return e
}

// ProviderUnavailable wraps an embedding/LLM provider failure.
func ProviderUnavailable(message string, err error) *Error {
	return &Error{Kind: KindProviderUnavailable, Message: message, Category: CategoryProvider, Err: err}
}

// GraphDisabled reports a graph operation against a disabled graph
// index. The message is fixed by the API contract.
func GraphDisabled() *Error {
	return New(KindGraphDisabled, "GraphRAG not enabled").
		WithSuggestion("set graph.enabled: true and reindex")
}

// Cancelled wraps a context cancellation.
func Cancelled(op string) *Error {
	return &Error{Kind: KindCancelled, Message: "operation cancelled", Op: op, Category: CategoryRuntime}
}

// Timeout wraps a deadline expiry.
func Timeout(op string) *Error {
	return &Error{Kind: KindTimeout, Message: "operation timed out", Op: op, Category: CategoryBackend}
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Category: CategoryInternal, Err: err}
}

// Config creates a configuration error. It shares the
// invalid-argument kind but exits with the configuration code.
func Config(message string) *Error {
	return &Error{Kind: KindInvalidArgument, Message: message, Category: CategoryConfig}
}

// ConfigWrap wraps a cause as a configuration error.
func ConfigWrap(message string, err error) *Error {
	return &Error{Kind: KindInvalidArgument, Message: message, Category: CategoryConfig, Err: err}
}

// KindOf extracts the kind from an error chain. Plain errors map to
// KindInternal; context errors map to Cancelled/Timeout.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// CategoryIn extracts the category from an error chain, deriving it
// from the kind when the error is not structured.
func CategoryIn(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		if e.Category != "" {
			return e.Category
		}
		return categoryOf(e.Kind)
	}
	return categoryOf(KindOf(err))
}

// IsRetryable reports whether the error chain warrants a retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return retryableKind(KindOf(err))
}

// SuggestionOf extracts a remediation hint, if any.
func SuggestionOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Suggestion
	}
	return ""
}

// FromContext converts a context error into a structured error for
// the given operation, or returns nil when the context is still live.
func FromContext(ctx context.Context, op string) *Error {
	switch ctx.Err() {
	case context.Canceled:
		return Cancelled(op)
	case context.DeadlineExceeded:
		return Timeout(op)
	default:
		return nil
	}
}

// As is a convenience re-export so callers do not need to import both
// this package and the standard errors package.
func As(err error, target any) bool { return errors.As(err, target) }

// Is re-exports errors.Is.
func Is(err, target error) bool { return errors.Is(err, target) }
