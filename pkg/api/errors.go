package api

import (
	"errors"
	"fmt"
)

// TaskError carries an explicit retry classification for a failure.
// Stages produce it via Retryable and Fatal; the scheduler only looks at the
// tag, never at the concrete type of the wrapped error.
type TaskError struct {
	Err       error
	Retryable bool
}

func (e *TaskError) Error() string {
	kind := "fatal"
	if e.Retryable {
		kind = "retryable"
	}
	if e.Err == nil {
		return kind + " task error"
	}
	return fmt.Sprintf("%s: %v", kind, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Retryable marks err as eligible for resubmission. A nil err stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &TaskError{Err: Cause(err), Retryable: true}
}

// Fatal marks err as terminal. A nil err stays nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &TaskError{Err: Cause(err), Retryable: false}
}

// IsRetryable reports whether the outermost classification of err is retryable.
func IsRetryable(err error) bool {
	var te *TaskError
	return errors.As(err, &te) && te.Retryable
}

// IsFatal reports whether the outermost classification of err is fatal.
func IsFatal(err error) bool {
	var te *TaskError
	return errors.As(err, &te) && !te.Retryable
}

// Cause strips classification layers and returns the original failure.
func Cause(err error) error {
	for {
		te, ok := err.(*TaskError)
		if !ok || te.Err == nil {
			return err
		}
		err = te.Err
	}
}
