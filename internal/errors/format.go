package errors

import (
	"errors"
	"fmt"
	"strings"
)

// FormatForCLI renders an error for terminal display: message first,
// then an optional hint, then the kind for reference.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if !errors.As(err, &e) {
		return fmt.Sprintf("Error: %s\n", err.Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", e.Message))
	if e.Err != nil {
		sb.WriteString(fmt.Sprintf("  Cause: %v\n", e.Err))
	}
	if e.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", e.Suggestion))
	}
	sb.WriteString(fmt.Sprintf("  Kind: %s\n", e.Kind))
	return sb.String()
}

// Envelope is the JSON error body returned by the HTTP surface.
type Envelope struct {
	Kind       Kind   `json:"kind"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// ToEnvelope converts any error into the wire envelope.
func ToEnvelope(err error) Envelope {
	if err == nil {
		return Envelope{}
	}
	var e *Error
	if errors.As(err, &e) {
		return Envelope{Kind: e.Kind, Message: e.Message, Suggestion: e.Suggestion}
	}
	return Envelope{Kind: KindOf(err), Message: err.Error()}
}
