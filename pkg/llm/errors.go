package llm

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrServerUnavailable is returned when the Ollama server cannot be
	// reached. Surfaced to the UI as a connectivity indicator.
	ErrServerUnavailable = errors.New("llm: server unavailable")

	// ErrNoModel is returned when no model is selected or available.
	ErrNoModel = errors.New("llm: no model available")

	// ErrNoImage is returned when a vision request has no image.
	ErrNoImage = errors.New("llm: no image available")

	// ErrCancelled is returned when a generation was cancelled, either
	// explicitly or by a newer request replacing it.
	ErrCancelled = errors.New("llm: generation cancelled")

	// ErrDisabled is returned when the LLM feature is switched off in
	// configuration.
	ErrDisabled = errors.New("llm: disabled by configuration")
)

// APIError represents an error response from the Ollama HTTP API.
type APIError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Message is the error body from the server.
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("llm: API error %d: %s", e.StatusCode, e.Message)
}

// IsServerError returns true for server-side failures (HTTP 5xx).
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// IsNotFound returns true when the model or endpoint does not exist.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == 404
}
