package vision

import "fmt"

// ModelErrorKind classifies a failed call to the vision model or detector.
type ModelErrorKind string

const (
	// ModelUnreachable means the service could not be reached or answered
	// with a server error.
	ModelUnreachable ModelErrorKind = "unreachable"
	// ModelTimeout means the per-call deadline elapsed.
	ModelTimeout ModelErrorKind = "timeout"
	// ModelMalformedResponse means the service answered but the body did not
	// match the expected schema.
	ModelMalformedResponse ModelErrorKind = "malformed_response"
)

// ModelError is the typed failure returned by the model and detector clients.
type ModelError struct {
	Kind ModelErrorKind
	Op   string
	Err  error
}

func (e *ModelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

func modelErr(op string, kind ModelErrorKind, err error) *ModelError {
	return &ModelError{Kind: kind, Op: op, Err: err}
}
