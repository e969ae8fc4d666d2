// Package future provides Future, a single-assignment completion cell with
// composition helpers and a mandatory draining step.
//
// A Future completes exactly once, either with a value or with an error.
// Later completion attempts are no-ops and report false.
//
// Futures derived through Then, Compose, Accept, Exceptionally and
// WhenComplete form a chain. A failure that travels down a chain is wrapped
// internally; every user-facing surface (handler arguments, Join, Get, Err)
// sees the original cause.
//
// Every chain should end with Finish. Finish logs a failure nobody observed.
// A failed chain that is garbage collected without Finish and without any
// observation logs one diagnostic as well, so failures are never silent.
package future

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrPanic wraps panics recovered from composition callbacks.
var ErrPanic = errors.New("future: callback panicked")

type phase int

const (
	pending phase = iota
	succeeded
	failed
)

// chainState is shared by all futures of one composition chain.
type chainState struct {
	name   string
	logger *slog.Logger

	observed atomic.Bool
	finished atomic.Bool
	reported atomic.Bool
}

func (s *chainState) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// report logs err once per chain.
func (s *chainState) report(msg string, err error) {
	if !s.reported.CompareAndSwap(false, true) {
		return
	}
	s.log().Error(msg,
		slog.String("future", s.name),
		slog.Any("error", err),
	)
}

type cell[T any] struct {
	mu        sync.Mutex
	phase     phase
	value     T
	err       error
	done      chan struct{}
	callbacks []func()
	chain     *chainState
}

// Future is a handle to a value that becomes available later.
// The zero value is not usable; construct futures with New.
type Future[T any] struct {
	c *cell[T]
}

// Option customizes a root future.
type Option func(*chainState)

// WithName labels the chain in diagnostics.
func WithName(name string) Option {
	return func(s *chainState) { s.name = name }
}

// WithLogger sets the logger used for unobserved failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *chainState) { s.logger = l }
}

// New returns a pending future that starts a new chain.
func New[T any](opts ...Option) *Future[T] {
	s := &chainState{}
	for _, opt := range opts {
		opt(s)
	}
	return newInChain[T](s)
}

// Completed returns a future already completed with v.
func Completed[T any](v T, opts ...Option) *Future[T] {
	f := New[T](opts...)
	f.Complete(v)
	return f
}

// Failed returns a future already failed with err.
func Failed[T any](err error, opts ...Option) *Future[T] {
	f := New[T](opts...)
	f.CompleteExceptionally(err)
	return f
}

func newInChain[T any](s *chainState) *Future[T] {
	c := &cell[T]{done: make(chan struct{}), chain: s}
	runtime.SetFinalizer(c, finalizeCell[T])
	return &Future[T]{c: c}
}

func finalizeCell[T any](c *cell[T]) {
	if c.phase != failed {
		return
	}
	s := c.chain
	if s.observed.Load() || s.finished.Load() {
		return
	}
	s.report("future_unobserved_failure", cause(c.err))
}

// Complete sets the value. It returns false if the future was already done.
func (f *Future[T]) Complete(v T) bool {
	return f.settle(succeeded, v, nil)
}

// CompleteExceptionally fails the future. A nil err is replaced so that a
// failed future always carries an error.
func (f *Future[T]) CompleteExceptionally(err error) bool {
	if err == nil {
		err = errors.New("future: completed exceptionally with nil error")
	}
	var zero T
	return f.settle(failed, zero, err)
}

func (f *Future[T]) settle(p phase, v T, err error) bool {
	c := f.c
	c.mu.Lock()
	if c.phase != pending {
		c.mu.Unlock()
		return false
	}
	c.phase = p
	c.value = v
	c.err = err
	cbs := c.callbacks
	c.callbacks = nil
	close(c.done)
	c.mu.Unlock()

	for _, cb := range cbs {
		cb()
	}
	return true
}

// onDone runs cb once the future is done, immediately if it already is.
// Callbacks run on the completing goroutine.
func (f *Future[T]) onDone(cb func()) {
	c := f.c
	c.mu.Lock()
	if c.phase == pending {
		c.callbacks = append(c.callbacks, cb)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	cb()
}

// Notify runs fn once the future completes, immediately if it already has.
// Unlike the composition helpers it does not count as observing a failure.
// A panic in fn is logged.
func (f *Future[T]) Notify(fn func()) {
	f.onDone(func() {
		if _, err := call(func() (struct{}, error) {
			fn()
			return struct{}{}, nil
		}); err != nil {
			f.c.chain.log().Error("future_notify_panic",
				slog.String("future", f.c.chain.name),
				slog.Any("error", err),
			)
		}
	})
}

// snapshot returns the settled value and raw (possibly wrapped) error.
func (f *Future[T]) snapshot() (T, error) {
	c := f.c
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.err
}

// Done returns a channel closed when the future completes.
func (f *Future[T]) Done() <-chan struct{} {
	return f.c.done
}

// IsDone reports whether the future has completed.
func (f *Future[T]) IsDone() bool {
	select {
	case <-f.c.done:
		return true
	default:
		return false
	}
}

// Err returns the failure cause of a completed future, or nil while
// pending or on success. It does not count as observing the failure.
func (f *Future[T]) Err() error {
	if !f.IsDone() {
		return nil
	}
	_, err := f.snapshot()
	return cause(err)
}

// Join blocks until the future completes and returns its outcome.
// Returning an error marks the chain's failure as observed.
func (f *Future[T]) Join() (T, error) {
	<-f.c.done
	return f.result()
}

// Get is like Join but gives up when ctx is done.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.c.done:
		return f.result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (f *Future[T]) result() (T, error) {
	v, err := f.snapshot()
	if err != nil {
		f.c.chain.observed.Store(true)
		return v, cause(err)
	}
	return v, nil
}

// Finish terminates the chain. If the future fails and no handler observed
// the failure, it is logged once. The returned Handle waits for completion.
func (f *Future[T]) Finish() *Handle {
	s := f.c.chain
	s.finished.Store(true)
	f.onDone(func() {
		_, err := f.snapshot()
		if err != nil && !s.observed.Load() {
			s.report("task_failed", cause(err))
		}
	})
	return &Handle{done: f.c.done, err: func() error {
		_, err := f.snapshot()
		return cause(err)
	}}
}

// Handle is the terminal step of a chain returned by Finish.
type Handle struct {
	done <-chan struct{}
	err  func() error
}

// Join blocks until the chain completes and returns the failure cause, if any.
func (h *Handle) Join() error {
	<-h.done
	return h.err()
}

// Wait is like Join but gives up when ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// completionError marks a failure propagated from an upstream future.
type completionError struct {
	err error
}

func (e *completionError) Error() string { return e.err.Error() }
func (e *completionError) Unwrap() error { return e.err }

func wrap(err error) error {
	var ce *completionError
	if errors.As(err, &ce) {
		return err
	}
	return &completionError{err: err}
}

// cause unwraps exactly one propagation layer.
func cause(err error) error {
	if ce, ok := err.(*completionError); ok {
		return ce.err
	}
	return err
}

func recovered(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("%w: %w", ErrPanic, err)
	}
	return fmt.Errorf("%w: %v", ErrPanic, r)
}
