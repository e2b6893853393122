package classify

import "fmt"

// Kind classifies a classification failure.
type Kind string

const (
	// KindUpstream is a failed or rejected model call. Retryable.
	KindUpstream Kind = "upstream_error"
	// KindTimeout is a model call that exceeded its deadline. Retryable.
	KindTimeout Kind = "timeout"
	// KindEmptyResponse is a response with no usable candidates. Retryable.
	KindEmptyResponse Kind = "empty_response"
	// KindInvalidSchema is a response that parsed but failed validation
	// against the stage schema. Not retryable.
	KindInvalidSchema Kind = "invalid_schema"
	// KindExhausted is a transient failure that used up its retry budget.
	// Not retryable.
	KindExhausted Kind = "retries_exhausted"
)

// Error is a failed classification call for one unit (column or table).
type Error struct {
	Stage Stage
	Kind  Kind
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("classify %s: %s: %v", e.Stage, e.Kind, e.Err)
	}
	return fmt.Sprintf("classify %s: %s", e.Stage, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether the failure is retry-eligible.
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindUpstream, KindTimeout, KindEmptyResponse:
		return true
	}
	return false
}
