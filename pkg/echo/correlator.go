// Package echo correlates outbound requests with their asynchronous
// responses through opaque echo tokens.
//
// A caller registers an echo before transmitting and receives a pending
// future. The response event carrying the same echo completes that future
// exactly once and removes the entry. Responses for unknown echoes are
// logged and dropped.
package echo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/api"
	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/event"
	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/future"
)

var (
	// ErrDuplicateEcho is returned when registering an echo that is still live.
	ErrDuplicateEcho = errors.New("echo already registered")

	// ErrEmptyEcho is returned for an empty echo token.
	ErrEmptyEcho = errors.New("echo token is empty")

	// ErrDecode wraps response deserialization failures.
	ErrDecode = errors.New("decode response")
)

// ResponseEvent is the inbound reply of a correlated request. A nil RawData
// means the reply carried no data.
type ResponseEvent struct {
	event.Base

	Success bool
	Echo    string
	RawData []byte
}

// Entry is one outstanding request.
type Entry struct {
	Echo string

	// Key is an opaque label chosen by the registrant, usually the action.
	Key any

	Descriptor Descriptor

	pending *future.Future[api.TaskResult[any]]
}

// Pending returns the future completed by the matching response.
func (e *Entry) Pending() *future.Future[api.TaskResult[any]] {
	return e.pending
}

// Correlator maps echo tokens to pending futures.
type Correlator struct {
	entries sync.Map // echo -> *Entry
	size    atomic.Int64
	dropped atomic.Int64
	logger  *slog.Logger
}

// NewCorrelator creates an empty correlator. Nil logger uses slog.Default().
func NewCorrelator(logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{logger: logger}
}

// NewToken returns a random echo token.
func NewToken() string {
	return uuid.NewString()
}

// Register records echo as outstanding and returns its pending future.
// Registering a live echo fails with ErrDuplicateEcho.
func (c *Correlator) Register(echo string, key any, d Descriptor) (*future.Future[api.TaskResult[any]], error) {
	if echo == "" {
		return nil, ErrEmptyEcho
	}
	if d == nil {
		d = Void
	}

	entry := &Entry{
		Echo:       echo,
		Key:        key,
		Descriptor: d,
		pending: future.New[api.TaskResult[any]](
			future.WithName("echo:"+echo),
			future.WithLogger(c.logger),
		),
	}
	if _, loaded := c.entries.LoadOrStore(echo, entry); loaded {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateEcho, echo)
	}
	c.size.Add(1)
	return entry.pending, nil
}

// Await registers echo with a JSON descriptor for T and returns a typed view
// of the pending future.
func Await[T any](c *Correlator, echo string, key any) (*future.Future[api.TaskResult[T]], error) {
	pending, err := c.Register(echo, key, JSON[T]())
	if err != nil {
		return nil, err
	}
	return future.Then(pending, func(r api.TaskResult[any]) (api.TaskResult[T], error) {
		out := api.TaskResult[T]{Success: r.Success}
		if v, ok := r.Value.(T); ok {
			out.Value = v
		}
		return out, nil
	}), nil
}

// Unregister removes echo. It reports whether an entry was removed and never
// completes the pending future.
func (c *Correlator) Unregister(echo string) bool {
	_, ok := c.take(echo)
	return ok
}

// Has reports whether echo is outstanding.
func (c *Correlator) Has(echo string) bool {
	_, ok := c.entries.Load(echo)
	return ok
}

// Len returns the number of outstanding echoes.
func (c *Correlator) Len() int {
	return int(c.size.Load())
}

// Dropped returns the number of responses that matched no entry.
func (c *Correlator) Dropped() int64 {
	return c.dropped.Load()
}

// OnResponse completes the pending future registered for ev.Echo. It reports
// whether a live entry matched.
func (c *Correlator) OnResponse(ctx context.Context, ev *ResponseEvent) bool {
	entry, ok := c.take(ev.Echo)
	if !ok {
		c.dropped.Add(1)
		c.logger.WarnContext(ctx, "echo_unknown",
			slog.String("echo", ev.Echo),
			slog.Bool("success", ev.Success),
		)
		return false
	}

	var value any
	if ev.RawData != nil {
		v, err := entry.Descriptor.Decode(ev.RawData)
		if err != nil {
			entry.pending.CompleteExceptionally(fmt.Errorf("%w as %s: %w", ErrDecode, entry.Descriptor.Name(), err))
			return true
		}
		value = v
	}
	entry.pending.Complete(api.TaskResult[any]{Success: ev.Success, Value: value})
	return true
}

// Attach subscribes the correlator to ResponseEvents on bus.
func (c *Correlator) Attach(bus *event.Bus, priority int) *event.Subscription {
	return event.Subscribe(bus, "echo-correlator", priority, func(ctx context.Context, ev *ResponseEvent) error {
		c.OnResponse(ctx, ev)
		return nil
	})
}

func (c *Correlator) take(echo string) (*Entry, bool) {
	v, ok := c.entries.LoadAndDelete(echo)
	if !ok {
		return nil, false
	}
	c.size.Add(-1)
	return v.(*Entry), true
}

func typeName(v any) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return "any"
	}
	return t.String()
}
