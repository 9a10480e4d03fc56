package handlers

import (
	"encoding/json"
	"net/http"
)

// Gateway-origin error types carried in the uniform envelope. Vendor errors
// are passed through untouched and never use these.
const (
	errTypeAuth       = "authentication_error"
	errTypeInvalid    = "invalid_request_error"
	errTypeRateLimit  = "rate_limit_error"
	errTypeBudget     = "budget_exceeded"
	errTypeGuardrail  = "guardrail_blocked"
	errTypeUpstream   = "upstream_error"
	errTypeUpstreamTO = "upstream_timeout"
)

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// writeError emits the uniform gateway error envelope.
func writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorEnvelope{Error: errorBody{Message: message, Type: errType}})
}
