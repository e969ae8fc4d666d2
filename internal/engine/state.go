package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/api"
	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/future"
)

// ErrTaskFinished is returned when leaving the absorbing Finished state.
var ErrTaskFinished = errors.New("task already finished")

// State is one node of the task lifecycle:
//
//	Created{ExecuteAt} -> Submitted -> Executed -> Created (retry) | Finished
//
// Exit and Enter are called outside the task lock, so hooks may inspect or
// advance the task without deadlocking.
type State interface {
	Kind() api.StateKind
	Exit(t *Task)
	Enter(t *Task)
}

// Created waits for ExecuteAt before the task is handed to the pool.
type Created struct {
	ExecuteAt time.Time
}

// Submitted means the task is queued on the worker pool.
type Submitted struct{}

// Executed means the stage chain is running or has just returned.
type Executed struct{}

// Finished is terminal. Err is nil for a successful completion.
type Finished struct {
	Result api.TaskResult[any]
	Err    error
}

func (Created) Kind() api.StateKind   { return api.StateCreated }
func (Submitted) Kind() api.StateKind { return api.StateSubmitted }
func (Executed) Kind() api.StateKind  { return api.StateExecuted }
func (Finished) Kind() api.StateKind  { return api.StateFinished }

func (s Created) Enter(t *Task)  { t.hooks.created(t, s.ExecuteAt) }
func (Submitted) Enter(t *Task)  { t.hooks.submitted(t) }
func (Executed) Enter(t *Task)   { t.hooks.executed(t) }
func (s Finished) Enter(t *Task) { t.hooks.finished(t, s) }
func (Created) Exit(t *Task)     {}
func (Submitted) Exit(t *Task)   {}
func (Executed) Exit(t *Task)    {}
func (Finished) Exit(t *Task)    {}

// hooks is implemented by the actuator; states call into it on entry.
type hooks interface {
	created(t *Task, at time.Time)
	submitted(t *Task)
	executed(t *Task)
	finished(t *Task, s Finished)
}

// Task is one submitted TaskConfig tracked through the lifecycle. It is
// owned by the actuator; the state machine methods are its only mutators.
type Task struct {
	id        string
	cfg       api.TaskConfig[any]
	createdAt time.Time
	future    *future.Future[api.TaskResult[any]]
	hooks     hooks

	mu          sync.Mutex
	state       State
	retryCount  int
	scheduledAt time.Time
}

func newTask(id string, cfg api.TaskConfig[any], now time.Time, h hooks, f *future.Future[api.TaskResult[any]]) *Task {
	at := now.Add(cfg.Delay)
	return &Task{
		id:          id,
		cfg:         cfg,
		createdAt:   now,
		future:      f,
		hooks:       h,
		state:       Created{ExecuteAt: at},
		scheduledAt: at,
	}
}

// start runs the enter hook of the initial Created state.
func (t *Task) start() {
	t.State().Enter(t)
}

// ID returns the task identifier.
func (t *Task) ID() string { return t.id }

// Config returns the task's configuration.
func (t *Task) Config() api.TaskConfig[any] { return t.cfg }

// State returns the current state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// RetryCount returns the number of resubmissions so far.
func (t *Task) RetryCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.retryCount
}

// Info returns a snapshot for stages and observers.
func (t *Task) Info() api.TaskInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return api.TaskInfo{
		ID:          t.id,
		Name:        t.cfg.Name,
		State:       t.state.Kind(),
		RetryCount:  t.retryCount,
		MaxRetries:  t.cfg.MaxRetries,
		CreatedAt:   t.createdAt,
		ScheduledAt: t.scheduledAt,
	}
}

// SwitchState moves to next unconditionally. Leaving Finished is rejected
// with ErrTaskFinished.
func (t *Task) SwitchState(next State) error {
	t.mu.Lock()
	prev := t.state
	if prev.Kind() == api.StateFinished {
		t.mu.Unlock()
		return ErrTaskFinished
	}
	t.swap(next)
	t.mu.Unlock()

	prev.Exit(t)
	next.Enter(t)
	return nil
}

// SwitchStateUnderExpected moves to next only if the current state is of
// kind expected. It returns false without side effects otherwise.
func (t *Task) SwitchStateUnderExpected(expected api.StateKind, next State) bool {
	return t.transition(expected, next, nil)
}

// transition is SwitchStateUnderExpected with a mutation applied under the
// same lock as the swap.
func (t *Task) transition(expected api.StateKind, next State, mutate func()) bool {
	t.mu.Lock()
	prev := t.state
	if prev.Kind() != expected || prev.Kind() == api.StateFinished {
		t.mu.Unlock()
		return false
	}
	if mutate != nil {
		mutate()
	}
	t.swap(next)
	t.mu.Unlock()

	prev.Exit(t)
	next.Enter(t)
	return true
}

// retry re-enters Created from Executed and counts the resubmission.
func (t *Task) retry(at time.Time) bool {
	return t.transition(api.StateExecuted, Created{ExecuteAt: at}, func() {
		t.retryCount++
	})
}

// swap must be called with t.mu held.
func (t *Task) swap(next State) {
	t.state = next
	if c, ok := next.(Created); ok {
		t.scheduledAt = c.ExecuteAt
	}
}
