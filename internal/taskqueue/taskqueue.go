package taskqueue

import (
	"context"
	"errors"
	"time"
)

// ErrQueueClosed is returned by a closed queue.
var ErrQueueClosed = errors.New("task queue closed")

// TaskType records why an entry was queued.
type TaskType string

const (
	TaskTypeInitial TaskType = "initial"
	TaskTypeRetry   TaskType = "retry"
)

// Task is a scheduled execution of an actuator task.
type Task struct {
	ID   string
	Type TaskType

	// Payload is owned by the producer; the actuator stores its task here.
	Payload any

	EnqueuedAt time.Time

	// NotBefore is the earliest time this entry may be dequeued.
	// Zero value means "immediately".
	NotBefore time.Time
}

// Queue hands out entries once they become due.
type Queue interface {
	// Enqueue adds a task to the queue.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next due task, blocking until one is
	// due, the queue is closed or the context is cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the number of queued tasks, due or not.
	Len() int
}
