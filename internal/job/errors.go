package job

import "errors"

// ErrorKind classifies a stage failure for the retry policy.
type ErrorKind string

const (
	// ErrKindTransient covers unreachable services and timeouts. Retried.
	ErrKindTransient ErrorKind = "transient_service"
	// ErrKindMalformed covers schema violations from the model. Retried up to
	// the attempt cap since a one-off generation glitch is expected.
	ErrKindMalformed ErrorKind = "malformed_output"
	// ErrKindConfiguration covers invalid classification sets, prompt
	// templates and the like. Never retried.
	ErrKindConfiguration ErrorKind = "configuration"
	// ErrKindCancelled marks a user-initiated cancellation. Never retried.
	ErrKindCancelled ErrorKind = "cancelled"
)

// StageError is the structured failure recorded on a stage result.
type StageError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`

	cause error
}

func newStageError(kind ErrorKind, err error) *StageError {
	return &StageError{Kind: kind, Message: err.Error(), cause: err}
}

// TransientError wraps an unreachable-service or timeout failure.
func TransientError(err error) *StageError { return newStageError(ErrKindTransient, err) }

// MalformedError wraps a model response that violated the expected schema.
func MalformedError(err error) *StageError { return newStageError(ErrKindMalformed, err) }

// ConfigurationError wraps a fatal misconfiguration.
func ConfigurationError(err error) *StageError { return newStageError(ErrKindConfiguration, err) }

// CancelledError marks a stage aborted by job cancellation.
func CancelledError() *StageError {
	return &StageError{Kind: ErrKindCancelled, Message: "job cancelled"}
}

func (e *StageError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func (e *StageError) Unwrap() error {
	return e.cause
}

// Retryable reports whether the scheduler may re-enqueue the stage.
func (e *StageError) Retryable() bool {
	return e.Kind == ErrKindTransient || e.Kind == ErrKindMalformed
}

// AsStageError extracts the StageError from err. Untyped errors are treated
// as transient so an unclassified outage still respects the attempt cap
// instead of failing the stage outright.
func AsStageError(err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	return TransientError(err)
}
