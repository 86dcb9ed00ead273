// Package errors defines the error taxonomy shared by the pipeline, the CLI and the HTTP API.
package errors

// StandardError represents a standard application error
type StandardError struct {
	Type    string
	Message string
	Cause   error
}

// Error implements the error interface
func (e *StandardError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *StandardError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a StandardError of the same Type.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// WithCause adds a cause to the error
func (e *StandardError) WithCause(cause error) *StandardError {
	return &StandardError{
		Type:    e.Type,
		Message: e.Message,
		Cause:   cause,
	}
}

// WithMessage returns a copy with a more specific message.
func (e *StandardError) WithMessage(msg string) *StandardError {
	return &StandardError{
		Type:    e.Type,
		Message: msg,
		Cause:   e.Cause,
	}
}

// ErrInvalidConfiguration is returned for chunking or config values that cannot work,
// for example an overlap that is not smaller than the chunk size.
var ErrInvalidConfiguration = &StandardError{
	Type:    "INVALID_CONFIGURATION",
	Message: "Invalid configuration",
}

// ErrMissingCredential is returned at startup when the model provider needs an API key.
var ErrMissingCredential = &StandardError{
	Type:    "MISSING_CREDENTIAL",
	Message: "Missing credential",
}

// ErrTransportFailure wraps any failure of the external model call.
var ErrTransportFailure = &StandardError{
	Type:    "TRANSPORT_FAILURE",
	Message: "Model call failed",
}

// ErrMalformedModelOutput marks model output that does not satisfy the JSON contract.
var ErrMalformedModelOutput = &StandardError{
	Type:    "MALFORMED_MODEL_OUTPUT",
	Message: "Model output is not a JSON object",
}

// ErrIndexUnavailable is returned when the vector index has no queryable collection,
// typically after a reset that could not recreate it.
var ErrIndexUnavailable = &StandardError{
	Type:    "INDEX_UNAVAILABLE",
	Message: "Vector index unavailable",
}

// ErrInvalidPromptType indicates an unknown prompt variant
var ErrInvalidPromptType = &StandardError{
	Type:    "INVALID_PROMPT_TYPE",
	Message: "Invalid prompt type",
}

// ErrEmptyQuestion indicates a blank question
var ErrEmptyQuestion = &StandardError{
	Type:    "EMPTY_QUESTION",
	Message: "Question must not be empty",
}

// ErrUnauthorized indicates a missing or wrong API token
var ErrUnauthorized = &StandardError{
	Type:    "UNAUTHORIZED",
	Message: "Invalid or missing API token",
}
