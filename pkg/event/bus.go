package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/future"
	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/worker"
)

var (
	// ErrHandlerPanic wraps panics recovered from handlers.
	ErrHandlerPanic = errors.New("event handler panicked")

	// ErrChainTooLong is returned when Next links exceed MaxChain events.
	ErrChainTooLong = errors.New("event chain too long")

	// ErrNilEvent is returned when a nil event is pushed.
	ErrNilEvent = errors.New("event is nil")
)

// MaxChain bounds the number of events published by one Push.
const MaxChain = 64

// Handler processes one concrete event type.
type Handler[E Event] func(ctx context.Context, e E) error

type handler struct {
	id       uint64
	name     string
	priority int
	fn       func(ctx context.Context, e Event) error
}

// Config configures a Bus.
type Config struct {
	// Pool runs PushAsync dispatches. Nil starts a goroutine per push.
	Pool   *worker.Pool
	Logger *slog.Logger
}

// Bus dispatches events to the handlers subscribed to their concrete type.
type Bus struct {
	pool   *worker.Pool
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[reflect.Type][]handler
	nextID   atomic.Uint64
}

// NewBus creates an empty bus.
func NewBus(cfg Config) *Bus {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		pool:     cfg.Pool,
		logger:   logger,
		handlers: make(map[reflect.Type][]handler),
	}
}

// Subscription removes its handler when Unsubscribe is called.
type Subscription struct {
	bus *Bus
	key reflect.Type
	id  uint64
}

// Unsubscribe removes the handler. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.remove(s.key, s.id)
}

// Subscribe registers h for events of type E. Lower priority numbers run
// first; equal priorities run in subscription order.
func Subscribe[E Event](b *Bus, name string, priority int, h Handler[E]) *Subscription {
	key := reflect.TypeFor[E]()
	entry := handler{
		id:       b.nextID.Add(1),
		name:     name,
		priority: priority,
		fn: func(ctx context.Context, e Event) error {
			return h(ctx, e.(E))
		},
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	list := make([]handler, 0, len(b.handlers[key])+1)
	list = append(list, b.handlers[key]...)
	list = append(list, entry)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].priority < list[j].priority
	})
	b.handlers[key] = list

	return &Subscription{bus: b, key: key, id: entry.id}
}

func (b *Bus) remove(key reflect.Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	old := b.handlers[key]
	list := make([]handler, 0, len(old))
	for _, h := range old {
		if h.id != id {
			list = append(list, h)
		}
	}
	if len(list) == 0 {
		delete(b.handlers, key)
		return
	}
	b.handlers[key] = list
}

// Handlers returns the number of handlers subscribed to e's type.
func (b *Bus) Handlers(e Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[reflect.TypeOf(e)])
}

// Push publishes e and its follow-ups on the calling goroutine. Handler
// failures are logged.
func (b *Bus) Push(ctx context.Context, e Event) {
	if err := b.dispatch(ctx, e); err != nil {
		b.logger.WarnContext(ctx, "event_push_failed",
			slog.String("event", typeName(e)),
			slog.Any("error", err),
		)
	}
}

// PushWithFuture publishes e and its follow-ups on the calling goroutine and
// returns a future failed with the first handler error, if any. Every
// handler still runs after a failure.
func (b *Bus) PushWithFuture(ctx context.Context, e Event) *future.Future[struct{}] {
	f := future.New[struct{}](future.WithName(typeName(e)), future.WithLogger(b.logger))
	b.complete(f, b.dispatch(ctx, e))
	return f
}

// PushAsync is PushWithFuture run off the calling goroutine, on the bus
// pool when one is configured.
func (b *Bus) PushAsync(ctx context.Context, e Event) *future.Future[struct{}] {
	f := future.New[struct{}](future.WithName(typeName(e)), future.WithLogger(b.logger))
	run := func(context.Context) { b.complete(f, b.dispatch(ctx, e)) }

	if b.pool == nil {
		go run(ctx)
		return f
	}
	if err := b.pool.Submit(ctx, run); err != nil {
		f.CompleteExceptionally(err)
	}
	return f
}

func (b *Bus) complete(f *future.Future[struct{}], err error) {
	if err != nil {
		f.CompleteExceptionally(err)
		return
	}
	f.Complete(struct{}{})
}

func (b *Bus) dispatch(ctx context.Context, e Event) error {
	if isNil(e) {
		return ErrNilEvent
	}

	var first error
	for n := 0; !isNil(e); n++ {
		if n == MaxChain {
			if first == nil {
				first = ErrChainTooLong
			}
			break
		}

		b.mu.RLock()
		list := b.handlers[reflect.TypeOf(e)]
		b.mu.RUnlock()

		for _, h := range list {
			if err := b.call(ctx, h, e); err != nil {
				b.logger.WarnContext(ctx, "event_handler_failed",
					slog.String("event", typeName(e)),
					slog.String("handler", h.name),
					slog.Int("priority", h.priority),
					slog.Any("error", err),
				)
				if first == nil {
					first = err
				}
			}
		}

		if !e.Complete() {
			break
		}
		e = e.Next()
	}
	return first
}

func (b *Bus) call(ctx context.Context, h handler, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrHandlerPanic, h.name, r)
		}
	}()
	return h.fn(ctx, e)
}

func isNil(e Event) bool {
	if e == nil {
		return true
	}
	v := reflect.ValueOf(e)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

func typeName(e Event) string {
	if e == nil {
		return "<nil>"
	}
	return reflect.TypeOf(e).String()
}
