package teaneko

import (
	"time"

	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/api"
)

// RetryBuilder provides a fluent way to describe the retry part of a task
// for use with TaskBuilder.Retry.
type RetryBuilder struct {
	maxRetries int
	strategy   api.RetryStrategy
	interval   time.Duration
	expiration time.Duration
	retryIf    func(error) bool
}

// Retry creates a RetryBuilder allowing maxRetries resubmissions. Negative
// values are treated as 0 (no retries). The strategy defaults to
// RetryConditional.
func Retry(maxRetries int) RetryBuilder {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return RetryBuilder{maxRetries: maxRetries}
}

// Always retries every failure that is not marked Fatal.
func (r RetryBuilder) Always() RetryBuilder {
	r.strategy = api.RetryAlways
	r.retryIf = nil
	return r
}

// Never makes the first failure terminal.
func (r RetryBuilder) Never() RetryBuilder {
	r.strategy = api.RetryNever
	r.retryIf = nil
	return r
}

// If retries the failures accepted by pred.
func (r RetryBuilder) If(pred func(error) bool) RetryBuilder {
	r.strategy = api.RetryConditional
	r.retryIf = pred
	return r
}

// Every waits interval between a failure and the next attempt.
func (r RetryBuilder) Every(interval time.Duration) RetryBuilder {
	r.interval = interval
	return r
}

// ExpireAfter stops retrying once the task is older than d.
func (r RetryBuilder) ExpireAfter(d time.Duration) RetryBuilder {
	r.expiration = d
	return r
}

func applyRetry[T any](r RetryBuilder, cfg *api.TaskConfig[T]) {
	cfg.MaxRetries = r.maxRetries
	cfg.RetryStrategy = r.strategy
	cfg.RetryIf = r.retryIf
	cfg.RetryInterval = r.interval
	cfg.Expiration = r.expiration
}
