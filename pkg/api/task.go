package api

import (
	"context"
	"errors"
	"time"
)

// RetryStrategy controls which failures of a task are retried.
type RetryStrategy int

const (
	// RetryConditional retries only when the task's RetryIf predicate accepts
	// the error. Without a predicate it retries errors marked with Retryable.
	// It is the zero value.
	RetryConditional RetryStrategy = iota

	// RetryAlways retries every failure while budget remains, except errors
	// explicitly marked with Fatal.
	RetryAlways

	// RetryNever makes every failure terminal regardless of classification.
	RetryNever
)

func (s RetryStrategy) String() string {
	switch s {
	case RetryConditional:
		return "CONDITIONAL"
	case RetryAlways:
		return "ALWAYS_RETRY"
	case RetryNever:
		return "NEVER_RETRY"
	default:
		return "UNKNOWN"
	}
}

// ShouldRetry reports whether err qualifies for another attempt under the
// strategy. Budget and expiration are checked by the scheduler, not here.
func (s RetryStrategy) ShouldRetry(err error, retryIf func(error) bool) bool {
	if err == nil || IsFatal(err) {
		return false
	}
	switch s {
	case RetryAlways:
		return true
	case RetryNever:
		return false
	default:
		if retryIf != nil {
			return retryIf(err)
		}
		return IsRetryable(err)
	}
}

// TaskResult is the outcome a callable reports. Success is the callable's
// own verdict and is independent from the future failing or not.
type TaskResult[T any] struct {
	Success bool
	Value   T
}

// OK returns a successful result carrying v.
func OK[T any](v T) TaskResult[T] {
	return TaskResult[T]{Success: true, Value: v}
}

// NotOK returns an unsuccessful result with the zero value.
func NotOK[T any]() TaskResult[T] {
	return TaskResult[T]{}
}

// Callable is the unit of work executed by a task.
type Callable[T any] func(ctx context.Context) (TaskResult[T], error)

// TaskConfig describes one logical task. It is copied on submission and is
// shared read-only by all attempts of that task.
type TaskConfig[T any] struct {
	// Name is a diagnostic label used in logs and observer callbacks.
	Name string

	Callable Callable[T]

	// Delay offsets the first execution from submission.
	Delay time.Duration

	// MaxRetries bounds resubmissions; the callable runs at most
	// MaxRetries+1 times.
	MaxRetries int

	RetryStrategy RetryStrategy

	// RetryIf is consulted by RetryConditional.
	RetryIf func(error) bool

	RetryInterval time.Duration

	// Expiration is the maximum age (measured from submission) at which a
	// retry may still be scheduled. Zero disables expiration.
	Expiration time.Duration
}

var (
	ErrNilCallable      = errors.New("task callable is nil")
	ErrNegativeRetries  = errors.New("max retries must not be negative")
	ErrNegativeDuration = errors.New("task durations must not be negative")
)

// Validate checks the static constraints of a config.
func (c TaskConfig[T]) Validate() error {
	if c.Callable == nil {
		return ErrNilCallable
	}
	if c.MaxRetries < 0 {
		return ErrNegativeRetries
	}
	if c.Delay < 0 || c.RetryInterval < 0 || c.Expiration < 0 {
		return ErrNegativeDuration
	}
	return nil
}

// StateKind identifies a task lifecycle state.
type StateKind int

const (
	StateCreated StateKind = iota
	StateSubmitted
	StateExecuted
	StateFinished
)

func (k StateKind) String() string {
	switch k {
	case StateCreated:
		return "CREATED"
	case StateSubmitted:
		return "SUBMITTED"
	case StateExecuted:
		return "EXECUTED"
	case StateFinished:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}

// TaskInfo is a read-only snapshot of a task handed to stages and observers.
type TaskInfo struct {
	ID         string
	Name       string
	State      StateKind
	RetryCount int
	MaxRetries int
	CreatedAt  time.Time

	// ScheduledAt is the execution time of the current or upcoming attempt.
	ScheduledAt time.Time
}

// Attempt returns the 1-based attempt number.
func (i TaskInfo) Attempt() int {
	return i.RetryCount + 1
}

// Age returns how long the task has been alive at now.
func (i TaskInfo) Age(now time.Time) time.Duration {
	return now.Sub(i.CreatedAt)
}
