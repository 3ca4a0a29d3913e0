package common

import (
	"errors"
	"fmt"

	"github.com/joshu-sajeev/resumeflow/internal/config"
)

// Failure is a classified pipeline failure. It is what ends up in a job's
// lastAttemptError.
type Failure struct {
	Type    config.ErrorType
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Type, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Type, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func (f *Failure) Permanent() bool {
	return config.IsPermanent(f.Type)
}

// Fail builds a Failure of type t wrapping err.
func Fail(t config.ErrorType, message string, err error) *Failure {
	return &Failure{Type: t, Message: message, Err: err}
}

// AsFailure extracts a Failure from err, classifying anything unknown as
// an internal transient failure.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Type: config.ErrorTypeInternal, Message: "unexpected error", Err: err}
}
