// Package engine implements the task actuator: the task lifecycle state
// machine, the stage chain wrapped around every attempt and the
// retry/expiration scheduler.
//
// A single timer goroutine moves due tasks from a delay queue into the worker
// pool. It never runs callables itself.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/internal/taskqueue"
	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/api"
	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/future"
	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/worker"
)

var (
	// ErrActuatorStopped fails tasks submitted to, or still pending in, a
	// stopped actuator.
	ErrActuatorStopped = errors.New("actuator stopped")

	// ErrResultType is returned by Submit when the chain produced a value
	// that is not of the requested type.
	ErrResultType = errors.New("task result has unexpected type")
)

// Config configures an Actuator.
type Config struct {
	// Pool runs task attempts. When nil the actuator creates and owns a
	// pool sized by Workers and QueueCapacity.
	Pool *worker.Pool

	Workers       int
	QueueCapacity int

	// Stages wrap every attempt, highest priority outermost.
	Stages []api.Stage

	// Observer receives lifecycle callbacks. Nil means NoopObserver.
	Observer api.Observer

	Logger *slog.Logger

	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// Actuator executes submitted tasks with retry and expiration.
type Actuator struct {
	pool     *worker.Pool
	ownsPool bool
	queue    *taskqueue.InMemoryQueue
	stages   *stageRegistry
	observer api.Observer
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	tasks   map[string]*Task
	running bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	pending atomic.Int64
}

// New creates an actuator. Call Start to begin executing tasks; tasks
// submitted before Start wait in the delay queue.
func New(cfg Config) (*Actuator, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = api.NoopObserver{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	a := &Actuator{
		pool:     cfg.Pool,
		queue:    taskqueue.NewInMemoryQueue(),
		stages:   newStageRegistry(),
		observer: observer,
		logger:   logger,
		now:      now,
		tasks:    make(map[string]*Task),
	}
	for _, s := range cfg.Stages {
		if err := a.stages.Register(s); err != nil {
			return nil, err
		}
	}
	if a.pool == nil {
		a.pool = worker.New(worker.Config{
			Workers:       cfg.Workers,
			QueueCapacity: cfg.QueueCapacity,
			Logger:        logger,
		})
		a.ownsPool = true
	}
	return a, nil
}

// Use registers an additional stage.
func (a *Actuator) Use(s api.Stage) error {
	return a.stages.Register(s)
}

// Start launches the timer goroutine. It is a no-op if already running.
func (a *Actuator) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return ErrActuatorStopped
	}
	if a.running {
		return nil
	}
	ctx, a.cancel = context.WithCancel(ctx)
	a.running = true

	a.wg.Add(1)
	go a.timerLoop(ctx)
	return nil
}

// Stop stops scheduling and fails every unfinished task with
// ErrActuatorStopped. An owned pool first runs its queued and running
// attempts to completion; with a shared pool those attempts find their
// task finished.
func (a *Actuator) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	cancel := a.cancel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.queue.Close()
	a.wg.Wait()
	a.queue.Drain()

	if a.ownsPool {
		a.pool.StopWait()
	}

	a.mu.Lock()
	left := make([]*Task, 0, len(a.tasks))
	for _, t := range a.tasks {
		left = append(left, t)
	}
	a.mu.Unlock()

	for _, t := range left {
		_ = t.SwitchState(Finished{Err: ErrActuatorStopped})
	}
}

// Pending returns the number of tasks that have not reached Finished.
func (a *Actuator) Pending() int {
	return int(a.pending.Load())
}

// Lookup returns a snapshot of an unfinished task.
func (a *Actuator) Lookup(id string) (api.TaskInfo, bool) {
	a.mu.Lock()
	t, ok := a.tasks[id]
	a.mu.Unlock()
	if !ok {
		return api.TaskInfo{}, false
	}
	return t.Info(), true
}

// Submit schedules cfg and returns a future of its typed result.
func Submit[T any](a *Actuator, cfg api.TaskConfig[T]) *future.Future[api.TaskResult[T]] {
	if cfg.Callable == nil {
		return future.Failed[api.TaskResult[T]](api.ErrNilCallable, future.WithName(cfg.Name), future.WithLogger(a.logger))
	}

	call := cfg.Callable
	erased := api.TaskConfig[any]{
		Name: cfg.Name,
		Callable: func(ctx context.Context) (api.TaskResult[any], error) {
			r, err := call(ctx)
			return api.TaskResult[any]{Success: r.Success, Value: r.Value}, err
		},
		Delay:         cfg.Delay,
		MaxRetries:    cfg.MaxRetries,
		RetryStrategy: cfg.RetryStrategy,
		RetryIf:       cfg.RetryIf,
		RetryInterval: cfg.RetryInterval,
		Expiration:    cfg.Expiration,
	}

	return future.Then(a.SubmitAny(erased), func(r api.TaskResult[any]) (api.TaskResult[T], error) {
		out := api.TaskResult[T]{Success: r.Success}
		if r.Value == nil {
			return out, nil
		}
		v, ok := r.Value.(T)
		if !ok {
			return out, fmt.Errorf("%w: %T", ErrResultType, r.Value)
		}
		out.Value = v
		return out, nil
	})
}

// SubmitAny schedules an untyped task.
func (a *Actuator) SubmitAny(cfg api.TaskConfig[any]) *future.Future[api.TaskResult[any]] {
	_, f := a.SubmitTask(cfg)
	return f
}

// SubmitTask is like SubmitAny and also returns the task id for Lookup and
// Cancel. The id is empty when the task was rejected.
func (a *Actuator) SubmitTask(cfg api.TaskConfig[any]) (string, *future.Future[api.TaskResult[any]]) {
	opts := []future.Option{future.WithName(cfg.Name), future.WithLogger(a.logger)}
	if err := cfg.Validate(); err != nil {
		return "", future.Failed[api.TaskResult[any]](err, opts...)
	}

	f := future.New[api.TaskResult[any]](opts...)
	t := newTask(uuid.NewString(), cfg, a.now(), a, f)

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		f.CompleteExceptionally(ErrActuatorStopped)
		return "", f
	}
	a.tasks[t.id] = t
	a.mu.Unlock()

	a.pending.Add(1)
	a.observer.OnTaskSubmitted(context.Background(), t.Info())
	t.start()
	return t.id, f
}

// Cancel finishes a task that waits for its next attempt with res and no
// error. It reports false when the task is unknown, finished or in the
// middle of an attempt; a running attempt decides its own outcome.
func (a *Actuator) Cancel(id string, res api.TaskResult[any]) bool {
	a.mu.Lock()
	t, ok := a.tasks[id]
	a.mu.Unlock()
	if !ok {
		return false
	}
	done := Finished{Result: res}
	return t.SwitchStateUnderExpected(api.StateCreated, done) ||
		t.SwitchStateUnderExpected(api.StateSubmitted, done)
}

func (a *Actuator) timerLoop(ctx context.Context) {
	defer a.wg.Done()

	for {
		item, err := a.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		t, ok := item.Payload.(*Task)
		if !ok {
			continue
		}
		// A task finished by Stop while waiting is skipped.
		t.SwitchStateUnderExpected(api.StateCreated, Submitted{})
	}
}

func (a *Actuator) created(t *Task, at time.Time) {
	typ := taskqueue.TaskTypeInitial
	if t.RetryCount() > 0 {
		typ = taskqueue.TaskTypeRetry
	}
	err := a.queue.Enqueue(context.Background(), taskqueue.Task{
		ID:         t.id,
		Type:       typ,
		Payload:    t,
		EnqueuedAt: a.now(),
		NotBefore:  at,
	})
	if err != nil {
		a.abort(t, api.StateCreated, ErrActuatorStopped)
	}
}

func (a *Actuator) submitted(t *Task) {
	job := func(ctx context.Context) { a.execute(ctx, t) }

	err := a.pool.TrySubmit(job)
	if errors.Is(err, worker.ErrQueueFull) {
		// Keep the timer goroutine unblocked.
		go func() {
			if err := a.pool.Submit(a.pool.Context(), job); err != nil {
				a.abort(t, api.StateSubmitted, ErrActuatorStopped)
			}
		}()
		return
	}
	if err != nil {
		a.abort(t, api.StateSubmitted, ErrActuatorStopped)
	}
}

func (a *Actuator) executed(t *Task) {}

func (a *Actuator) execute(ctx context.Context, t *Task) {
	if !t.SwitchStateUnderExpected(api.StateSubmitted, Executed{}) {
		return
	}

	info := t.Info()
	start := a.now()
	res, err := runChain(ctx, a.stages.Ordered(), 0, info, t.cfg.Callable, a.logger)
	a.observer.OnTaskAttempt(ctx, info, err, a.now().Sub(start))

	a.decide(ctx, t, res, err)
}

// decide moves an executed task to Finished or back to Created.
func (a *Actuator) decide(ctx context.Context, t *Task, res api.TaskResult[any], err error) {
	if err == nil {
		t.SwitchStateUnderExpected(api.StateExecuted, Finished{Result: res})
		return
	}

	cfg := t.cfg
	now := a.now()
	switch {
	case !cfg.RetryStrategy.ShouldRetry(err, cfg.RetryIf):
	case t.RetryCount() >= cfg.MaxRetries:
	case cfg.Expiration > 0 && now.Sub(t.createdAt) >= cfg.Expiration:
	default:
		next := now.Add(cfg.RetryInterval)
		if t.retry(next) {
			a.observer.OnTaskRetry(ctx, t.Info(), api.Cause(err), next)
		}
		return
	}
	t.SwitchStateUnderExpected(api.StateExecuted, Finished{Result: res, Err: err})
}

func (a *Actuator) abort(t *Task, expected api.StateKind, err error) {
	if t.SwitchStateUnderExpected(expected, Finished{Err: err}) {
		a.logger.Warn("task_aborted",
			slog.String("task", t.cfg.Name),
			slog.String("task_id", t.id),
			slog.Any("error", err),
		)
	}
}

func (a *Actuator) finished(t *Task, s Finished) {
	a.mu.Lock()
	delete(a.tasks, t.id)
	a.mu.Unlock()
	a.pending.Add(-1)

	cause := api.Cause(s.Err)
	a.observer.OnTaskFinished(context.Background(), t.Info(), cause)

	if cause != nil {
		t.future.CompleteExceptionally(cause)
		return
	}
	t.future.Complete(s.Result)
}
