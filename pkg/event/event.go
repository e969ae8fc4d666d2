// Package event provides a synchronous, priority-ordered event bus.
//
// Handlers subscribe to one concrete event type and run lowest priority
// number first. Cancellation is advisory: the bus never skips a handler
// because an earlier one cancelled the event; handlers that care check
// Cancelled themselves.
//
// An event may name a follow-up through Next. Once every handler has run,
// the bus publishes the follow-up on the same goroutine, so multi-phase
// notifications (a raw receive followed by its parsed form) complete in a
// single Push.
package event

import "sync/atomic"

// Event is implemented by everything published on a Bus. Embed Base to get
// a ready implementation.
type Event interface {
	Cancelled() bool
	SetCancelled(bool)

	// Complete reports whether the event carries everything its follow-up
	// needs. The bus only publishes Next for complete events.
	Complete() bool

	// Next returns the event to publish after this one, or nil.
	Next() Event
}

// Base implements Event. The zero value is a complete event with no
// follow-up.
type Base struct {
	cancelled  atomic.Bool
	incomplete atomic.Bool
	next       Event
}

func (b *Base) Cancelled() bool     { return b.cancelled.Load() }
func (b *Base) SetCancelled(v bool) { b.cancelled.Store(v) }
func (b *Base) Cancel()             { b.cancelled.Store(true) }
func (b *Base) Complete() bool      { return !b.incomplete.Load() }
func (b *Base) MarkIncomplete()     { b.incomplete.Store(true) }
func (b *Base) Next() Event         { return b.next }
func (b *Base) SetNext(next Event)  { b.next = next }

// Typed is a generic data event.
type Typed[T any] struct {
	Base
	Data T
}

// NewTyped returns a Typed event carrying data.
func NewTyped[T any](data T) *Typed[T] {
	return &Typed[T]{Data: data}
}
