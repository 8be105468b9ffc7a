package server

import (
	"encoding/json"
	"net/http"

	"github.com/agentbrain/agentbrain/internal/errors"
)

type errorEnvelope struct {
	Error errors.Envelope `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError renders the error envelope with the status mapped from
// the error kind.
func writeError(w http.ResponseWriter, err error) {
	env := errors.ToEnvelope(err)
	if env.Kind == "" {
		env.Kind = errors.KindInternal
	}
	writeJSON(w, errors.HTTPStatus(env.Kind), errorEnvelope{Error: env})
}

func writeErrorPayload(w http.ResponseWriter, status int, kind, message, suggestion string) {
	writeJSON(w, status, errorEnvelope{Error: errors.Envelope{
		Kind:       errors.Kind(kind),
		Message:    message,
		Suggestion: suggestion,
	}})
}
