package channels

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/bus"
)

type scriptedChannel struct {
	name     string
	mu       sync.Mutex
	sendFunc func(msg bus.OutboundMessage) error
	calls    int
}

func (c *scriptedChannel) Name() string                  { return c.name }
func (c *scriptedChannel) Start(ctx context.Context) error { return nil }
func (c *scriptedChannel) Stop(ctx context.Context) error  { return nil }
func (c *scriptedChannel) IsRunning() bool                { return true }
func (c *scriptedChannel) IsAllowed(senderID string) bool { return true }

func (c *scriptedChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.sendFunc(msg)
}

func (c *scriptedChannel) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// S4: plugin returns {ok:false, retryable:true} three times with
// max_retries=3. Final state -> failed; plugin invoked exactly 3 times.
func TestOutboundPipelineExhaustsRetriesThenFails(t *testing.T) {
	ch := &scriptedChannel{
		name: "test",
		sendFunc: func(msg bus.OutboundMessage) error {
			return &RetryableSendError{Err: errors.New("transient upstream error")}
		},
	}

	mgr := NewManager(nil)
	mgr.RegisterChannel("test", ch)
	pipeline := NewOutboundPipeline(mgr, 3)
	mgr.pipeline = pipeline

	pipeline.Queue(bus.OutboundMessage{Channel: "test", ChatID: "c1", Content: "hi"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Drive the worker directly rather than via Run's 5s poll ticker, so the
	// test completes quickly and deterministically.
	for i := 0; i < 5; i++ {
		pipeline.drainReady(ctx)
	}

	if got := ch.callCount(); got != 3 {
		t.Fatalf("expected exactly 3 send attempts, got %d", got)
	}

	pipeline.mu.Lock()
	queue := pipeline.queues["test"]
	pipeline.mu.Unlock()
	if len(queue) != 0 {
		t.Fatalf("expected the failed message to be popped off the queue, got %d remaining", len(queue))
	}
}

func TestOutboundPipelineSucceedsOnFirstAttempt(t *testing.T) {
	ch := &scriptedChannel{
		name: "test",
		sendFunc: func(msg bus.OutboundMessage) error {
			return nil
		},
	}

	mgr := NewManager(nil)
	mgr.RegisterChannel("test", ch)
	pipeline := NewOutboundPipeline(mgr, 3)
	mgr.pipeline = pipeline

	pipeline.Queue(bus.OutboundMessage{Channel: "test", ChatID: "c1", Content: "hi"})
	pipeline.drainReady(context.Background())

	if got := ch.callCount(); got != 1 {
		t.Fatalf("expected exactly 1 send attempt, got %d", got)
	}
}

func TestOutboundPipelineSkipsDisconnectedChannel(t *testing.T) {
	ch := &scriptedChannel{name: "test", sendFunc: func(bus.OutboundMessage) error { return nil }}
	mgr := NewManager(nil)
	mgr.RegisterChannel("test", ch)
	pipeline := NewOutboundPipeline(mgr, 3)
	mgr.pipeline = pipeline

	mgr.UnregisterChannel("test")
	pipeline.Queue(bus.OutboundMessage{Channel: "test", ChatID: "c1", Content: "hi"})
	pipeline.drainReady(context.Background())

	if got := ch.callCount(); got != 0 {
		t.Fatalf("expected no send attempts against an unregistered channel, got %d", got)
	}

	pipeline.mu.Lock()
	queue := pipeline.queues["test"]
	pipeline.mu.Unlock()
	if len(queue) != 1 {
		t.Fatalf("expected the message to remain queued, got %d", len(queue))
	}
}
