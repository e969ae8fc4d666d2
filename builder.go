package teaneko

import (
	"time"

	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/internal/engine"
	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/api"
)

// TaskBuilder provides a fluent API for defining tasks:
//
//	f := teaneko.NewTask("sync-profile", syncProfile).
//	    After(time.Second).
//	    Retry(teaneko.Retry(3).Always().Every(500 * time.Millisecond)).
//	    Submit(rt)
//
//	res, err := f.Join()
type TaskBuilder[T any] struct {
	cfg api.TaskConfig[T]
}

// NewTask creates a builder for a task that runs fn once, immediately.
func NewTask[T any](name string, fn Callable[T]) *TaskBuilder[T] {
	return &TaskBuilder[T]{cfg: api.TaskConfig[T]{Name: name, Callable: fn}}
}

// TaskFor creates a builder pre-filled with the runtime's task defaults.
func TaskFor[T any](r *Runtime, name string, fn Callable[T]) *TaskBuilder[T] {
	d := r.Config.Actuator
	b := NewTask(name, fn)
	b.cfg.MaxRetries = d.DefaultMaxRetries
	b.cfg.RetryInterval = d.DefaultRetryInterval
	b.cfg.Expiration = d.DefaultExpiration
	return b
}

// Name returns the task name.
func (b *TaskBuilder[T]) Name() string {
	return b.cfg.Name
}

// After delays the first attempt by d.
func (b *TaskBuilder[T]) After(d time.Duration) *TaskBuilder[T] {
	b.cfg.Delay = d
	return b
}

// Retry replaces the whole retry configuration.
func (b *TaskBuilder[T]) Retry(r RetryBuilder) *TaskBuilder[T] {
	applyRetry(r, &b.cfg)
	return b
}

// Config returns the task configuration after validating it.
func (b *TaskBuilder[T]) Config() (TaskConfig[T], error) {
	if err := b.cfg.Validate(); err != nil {
		return TaskConfig[T]{}, err
	}
	return b.cfg, nil
}

// Submit schedules the task on the runtime.
func (b *TaskBuilder[T]) Submit(r *Runtime) *Future[TaskResult[T]] {
	return engine.Submit(r.Actuator, b.cfg)
}
