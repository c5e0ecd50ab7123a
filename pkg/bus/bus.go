// Package bus carries inbound messages and lifecycle events from the adapters
// to the registry's dispatcher.
package bus

import (
	"context"
	"errors"
	"sync/atomic"
)

var (
	// ErrBusClosed is returned when publishing to a closed MessageBus.
	ErrBusClosed = errors.New("message bus closed")
	// ErrBusFull is returned when an event cannot be queued without blocking.
	ErrBusFull = errors.New("event queue full")
)

const DefaultCapacity = 100

// MessageBus has one queue for inbound messages and one for events. Inbound
// publishes block until there is room; event publishes never block.
type MessageBus[M, E any] struct {
	inbound chan M
	events  chan E
	done    chan struct{}
	closed  atomic.Bool
}

func NewMessageBus[M, E any](capacity int) *MessageBus[M, E] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MessageBus[M, E]{
		inbound: make(chan M, capacity),
		events:  make(chan E, capacity),
		done:    make(chan struct{}),
	}
}

func (mb *MessageBus[M, E]) PublishInbound(ctx context.Context, msg M) error {
	if mb.closed.Load() {
		return ErrBusClosed
	}
	select {
	case mb.inbound <- msg:
		return nil
	case <-mb.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (mb *MessageBus[M, E]) ConsumeInbound(ctx context.Context) (M, bool) {
	var zero M
	select {
	case msg, ok := <-mb.inbound:
		return msg, ok
	case <-mb.done:
		return zero, false
	case <-ctx.Done():
		return zero, false
	}
}

func (mb *MessageBus[M, E]) PublishEvent(ev E) error {
	if mb.closed.Load() {
		return ErrBusClosed
	}
	select {
	case mb.events <- ev:
		return nil
	case <-mb.done:
		return ErrBusClosed
	default:
		return ErrBusFull
	}
}

func (mb *MessageBus[M, E]) ConsumeEvent(ctx context.Context) (E, bool) {
	var zero E
	select {
	case ev, ok := <-mb.events:
		return ev, ok
	case <-mb.done:
		return zero, false
	case <-ctx.Done():
		return zero, false
	}
}

// DrainEvents removes and returns every queued event without blocking. It is
// meant for the owner flushing the queue after Close.
func (mb *MessageBus[M, E]) DrainEvents() []E {
	var out []E
	for {
		select {
		case ev := <-mb.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// Close stops the bus. Queued inbound messages are abandoned; queued events
// stay available to DrainEvents.
func (mb *MessageBus[M, E]) Close() {
	if mb.closed.CompareAndSwap(false, true) {
		close(mb.done)
	}
}

func (mb *MessageBus[M, E]) IsClosed() bool {
	return mb.closed.Load()
}
