package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	queueDepth     = 100
	publishTimeout = 100 * time.Millisecond
)

// queue is one direction of the bus: a bounded channel that sheds load
// instead of blocking its publisher indefinitely.
type queue[T any] struct {
	ch      chan T
	dropped atomic.Uint64
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{ch: make(chan T, queueDepth)}
}

// offer enqueues msg, waiting up to publishTimeout when the queue is
// full. A message that still does not fit is counted and discarded.
func (q *queue[T]) offer(msg T) {
	select {
	case q.ch <- msg:
		return
	default:
	}
	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case q.ch <- msg:
	case <-timer.C:
		q.dropped.Add(1)
	}
}

// take blocks until a message arrives, the queue closes, or the
// context ends.
func (q *queue[T]) take(ctx context.Context) (T, bool) {
	var zero T
	select {
	case msg, ok := <-q.ch:
		if !ok {
			return zero, false
		}
		return msg, true
	case <-ctx.Done():
		return zero, false
	}
}

// MessageBus carries garden chatter toward the agent loop and replies
// back toward the chat channels. Both directions are bounded; a stuck
// consumer costs messages, never a deadlock.
type MessageBus struct {
	inbound  *queue[InboundMessage]
	outbound *queue[OutboundMessage]

	mu     sync.RWMutex
	closed bool
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  newQueue[InboundMessage](),
		outbound: newQueue[OutboundMessage](),
	}
}

// PublishInbound hands a user message to the agent loop. Publishing to
// a closed bus is a no-op.
func (mb *MessageBus) PublishInbound(msg InboundMessage) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	mb.inbound.offer(msg)
}

// ConsumeInbound blocks for the next user message. ok is false once the
// bus closes or the context ends.
func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	return mb.inbound.take(ctx)
}

// PublishOutbound hands a reply to the channel dispatcher. Publishing
// to a closed bus is a no-op.
func (mb *MessageBus) PublishOutbound(msg OutboundMessage) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	mb.outbound.offer(msg)
}

// SubscribeOutbound blocks for the next reply. ok is false once the bus
// closes or the context ends.
func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	return mb.outbound.take(ctx)
}

func (mb *MessageBus) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.closed = true
	close(mb.inbound.ch)
	close(mb.outbound.ch)
}

// DroppedInbound reports how many user messages were shed under load.
func (mb *MessageBus) DroppedInbound() uint64 {
	return mb.inbound.dropped.Load()
}

// DroppedOutbound reports how many replies were shed under load.
func (mb *MessageBus) DroppedOutbound() uint64 {
	return mb.outbound.dropped.Load()
}
