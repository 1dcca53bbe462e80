package bus

import (
	"context"
	"sync"
)

// queueCapacity bounds how many inbound/outbound messages can sit unconsumed
// before PublishInbound/PublishOutbound start blocking the caller.
const queueCapacity = 256

// MessageBus is the in-process backbone connecting channels, the agent
// runtime, and connected WebSocket clients: channels publish inbound
// messages and consume outbound ones, the agent runtime does the reverse,
// and server-side events fan out to every subscriber.
type MessageBus struct {
	mu       sync.RWMutex
	handlers map[string]EventHandler

	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

// New creates an empty MessageBus ready for use.
func New() *MessageBus {
	return &MessageBus{
		handlers: make(map[string]EventHandler),
		inbound:  make(chan InboundMessage, queueCapacity),
		outbound: make(chan OutboundMessage, queueCapacity),
	}
}

// Subscribe registers handler to receive every future Broadcast under id.
// A second Subscribe with the same id replaces the previous handler.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[id] = handler
}

// Unsubscribe removes the handler registered under id, if any.
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, id)
}

// Broadcast delivers event to every subscribed handler. Handlers run
// synchronously on the caller's goroutine; a slow or blocking handler
// delays delivery to the rest, so subscribers should not do heavy work
// inline (e.g. gateway clients hand the event off to their own write loop).
func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// PublishInbound enqueues a message received from a channel for the agent
// runtime to consume. Blocks if the inbound queue is full.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	b.inbound <- msg
}

// ConsumeInbound blocks until an inbound message is available or ctx is
// done. The second return value is false only when ctx was cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound enqueues a message the agent runtime produced for a
// channel to deliver. Blocks if the outbound queue is full.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	b.outbound <- msg
}

// SubscribeOutbound blocks until an outbound message is available or ctx is
// done. The second return value is false only when ctx was cancelled.
func (b *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-b.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

var (
	_ EventPublisher = (*MessageBus)(nil)
	_ MessageRouter  = (*MessageBus)(nil)
)
