package future

import "errors"

// Then returns a future completed with fn applied to f's value. A failure of
// f, or an error returned by fn, fails the derived future.
func Then[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	next := newInChain[U](f.c.chain)
	f.onDone(func() {
		v, err := f.snapshot()
		if err != nil {
			next.CompleteExceptionally(wrap(err))
			return
		}
		u, ferr := call(func() (U, error) { return fn(v) })
		if ferr != nil {
			next.CompleteExceptionally(wrap(ferr))
			return
		}
		next.Complete(u)
	})
	return next
}

// Compose chains an asynchronous step: fn's future drives the result.
func Compose[T, U any](f *Future[T], fn func(T) *Future[U]) *Future[U] {
	next := newInChain[U](f.c.chain)
	f.onDone(func() {
		v, err := f.snapshot()
		if err != nil {
			next.CompleteExceptionally(wrap(err))
			return
		}
		inner, ferr := call(func() (*Future[U], error) { return fn(v), nil })
		if ferr != nil {
			next.CompleteExceptionally(wrap(ferr))
			return
		}
		if inner == nil {
			next.CompleteExceptionally(errors.New("future: compose returned nil future"))
			return
		}
		inner.onDone(func() {
			u, ierr := inner.snapshot()
			if ierr != nil {
				// The failure now belongs to this chain.
				inner.c.chain.observed.Store(true)
				next.CompleteExceptionally(wrap(ierr))
				return
			}
			next.Complete(u)
		})
	})
	return next
}

// Accept runs fn with the value on success.
func (f *Future[T]) Accept(fn func(T)) *Future[struct{}] {
	return Then(f, func(v T) (struct{}, error) {
		fn(v)
		return struct{}{}, nil
	})
}

// Exceptionally recovers from a failure. fn receives the original cause and
// may return a replacement value or a new error. Values pass through.
func (f *Future[T]) Exceptionally(fn func(error) (T, error)) *Future[T] {
	next := newInChain[T](f.c.chain)
	f.onDone(func() {
		v, err := f.snapshot()
		if err == nil {
			next.Complete(v)
			return
		}
		f.c.chain.observed.Store(true)
		r, ferr := call(func() (T, error) { return fn(cause(err)) })
		if ferr != nil {
			next.CompleteExceptionally(wrap(ferr))
			return
		}
		next.Complete(r)
	})
	return next
}

// WhenComplete runs fn with the outcome and returns a future mirroring f.
// Receiving a non-nil error counts as observing it.
func (f *Future[T]) WhenComplete(fn func(T, error)) *Future[T] {
	next := newInChain[T](f.c.chain)
	f.onDone(func() {
		v, err := f.snapshot()
		if err != nil {
			f.c.chain.observed.Store(true)
		}
		_, ferr := call(func() (struct{}, error) {
			fn(v, cause(err))
			return struct{}{}, nil
		})
		switch {
		case ferr != nil:
			next.CompleteExceptionally(wrap(ferr))
		case err != nil:
			next.CompleteExceptionally(wrap(err))
		default:
			next.Complete(v)
		}
	})
	return next
}

// call invokes fn, converting a panic into an error.
func call[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recovered(r)
		}
	}()
	return fn()
}
