package pipeline

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidPayload marks input that cannot be decoded into a payload
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrInvalidParameter marks a step parameter that cannot be used
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrUnavailable marks a step whose backing dependency is not configured
	ErrUnavailable = errors.New("unavailable")
)

// StepError reports the failure of one step. The run that produced it
// returned no payload and no trace.
type StepError struct {
	Pipeline string
	Step     string
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: step %q failed: %v", e.Pipeline, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// InvalidParameter returns an error wrapping ErrInvalidParameter
func InvalidParameter(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidParameter, format, args...)
}

// InvalidPayload returns an error wrapping ErrInvalidPayload
func InvalidPayload(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidPayload, format, args...)
}
