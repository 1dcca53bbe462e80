package channels

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/bus"
)

// OutboundStatus is the lifecycle state of a queued outbound message.
type OutboundStatus string

const (
	StatusQueued  OutboundStatus = "queued"
	StatusSending OutboundStatus = "sending"
	StatusSent    OutboundStatus = "sent"
	StatusFailed  OutboundStatus = "failed"
)

// DefaultMaxRetries is used when a caller doesn't set one explicitly.
const DefaultMaxRetries = 3

// RetryableSendError marks a channel Send failure as transient, independent
// of any network-level timeout/temporary classification.
type RetryableSendError struct{ Err error }

func (e *RetryableSendError) Error() string { return e.Err.Error() }
func (e *RetryableSendError) Unwrap() error { return e.Err }

// QueuedMessage tracks one outbound message through its state machine.
type QueuedMessage struct {
	Msg        bus.OutboundMessage
	Status     OutboundStatus
	Attempts   int
	MaxRetries int
	LastError  string
}

// OutboundPipeline maintains one FIFO queue per channel and dispatches
// messages through a single worker loop: queued -> sending -> {sent |
// queued (retry) | failed}. Disconnected channels keep their queued
// messages untouched until the channel reports running again.
type OutboundPipeline struct {
	mu           sync.Mutex
	queues       map[string][]*QueuedMessage
	notify       chan struct{}
	manager      *Manager
	maxRetries   int
	pollInterval time.Duration
}

// NewOutboundPipeline builds a pipeline that dispatches through mgr's
// registered channels.
func NewOutboundPipeline(mgr *Manager, maxRetries int) *OutboundPipeline {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &OutboundPipeline{
		queues:       make(map[string][]*QueuedMessage),
		notify:       make(chan struct{}, 1),
		manager:      mgr,
		maxRetries:   maxRetries,
		pollInterval: 5 * time.Second,
	}
}

// Queue appends a message to its channel's FIFO and wakes the worker.
func (p *OutboundPipeline) Queue(msg bus.OutboundMessage) {
	p.mu.Lock()
	p.queues[msg.Channel] = append(p.queues[msg.Channel], &QueuedMessage{
		Msg:        msg,
		Status:     StatusQueued,
		MaxRetries: p.maxRetries,
	})
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Run drives the worker loop until ctx is cancelled. It wakes on Queue()
// or every pollInterval, whichever comes first, and attempts one message
// per channel with pending work.
func (p *OutboundPipeline) Run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	slog.Info("outbound pipeline started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("outbound pipeline stopped")
			return
		case <-p.notify:
			p.drainReady(ctx)
		case <-ticker.C:
			p.drainReady(ctx)
		}
	}
}

func (p *OutboundPipeline) drainReady(ctx context.Context) {
	p.mu.Lock()
	names := make([]string, 0, len(p.queues))
	for name, q := range p.queues {
		if len(q) > 0 {
			names = append(names, name)
		}
	}
	p.mu.Unlock()

	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		if IsInternalChannel(name) {
			continue
		}
		ch, exists := p.manager.GetChannel(name)
		if !exists || !ch.IsRunning() {
			continue // disconnected channel: leave queue untouched
		}
		p.processHead(ctx, name, ch)
	}
}

// processHead pops and attempts exactly the queue head for one channel,
// applying the queued -> sending -> {sent|queued|failed} transition.
func (p *OutboundPipeline) processHead(ctx context.Context, name string, ch Channel) {
	p.mu.Lock()
	queue := p.queues[name]
	if len(queue) == 0 || queue[0].Status != StatusQueued {
		p.mu.Unlock()
		return
	}
	qm := queue[0]
	qm.Status = StatusSending
	p.mu.Unlock()

	err := p.sendParts(ctx, ch, qm.Msg)

	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case err == nil:
		qm.Status = StatusSent
		p.popHead(name)
		cleanupMedia(qm.Msg)
	case qm.Attempts+1 < qm.MaxRetries && isRetryableSendError(err):
		qm.Attempts++
		qm.LastError = err.Error()
		qm.Status = StatusQueued
	default:
		qm.Attempts++
		qm.LastError = err.Error()
		qm.Status = StatusFailed
		slog.Error("outbound message failed permanently", "channel", name, "attempts", qm.Attempts, "error", err)
		p.popHead(name)
	}
}

func (p *OutboundPipeline) popHead(name string) {
	q := p.queues[name]
	if len(q) == 0 {
		return
	}
	p.queues[name] = q[1:]
}

// sendParts sends a message's parts sequentially, stopping at the first
// failure. A message carrying more than one media attachment is treated
// as a Composite: any text content leads, then each attachment is sent as
// its own call; a single-attachment or text-only message is sent whole.
func (p *OutboundPipeline) sendParts(ctx context.Context, ch Channel, msg bus.OutboundMessage) error {
	if len(msg.Media) <= 1 {
		return ch.Send(ctx, msg)
	}

	if msg.Content != "" {
		if err := ch.Send(ctx, bus.OutboundMessage{
			Channel:  msg.Channel,
			ChatID:   msg.ChatID,
			Content:  msg.Content,
			Metadata: msg.Metadata,
		}); err != nil {
			return err
		}
	}
	for _, media := range msg.Media {
		part := bus.OutboundMessage{
			Channel:  msg.Channel,
			ChatID:   msg.ChatID,
			Media:    []bus.MediaAttachment{media},
			Metadata: msg.Metadata,
		}
		if err := ch.Send(ctx, part); err != nil {
			return err
		}
	}
	return nil
}

func cleanupMedia(msg bus.OutboundMessage) {
	for _, media := range msg.Media {
		if media.URL == "" {
			continue
		}
		if err := os.Remove(media.URL); err != nil {
			slog.Debug("failed to clean up media file", "path", media.URL, "error", err)
		}
	}
}

// isRetryableSendError reports whether a Send failure should be retried:
// either the plugin explicitly marked it retryable, or it looks like a
// transient network error (timeout, connection reset, temporary DNS
// failure).
func isRetryableSendError(err error) bool {
	var retryable *RetryableSendError
	if errors.As(err, &retryable) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout() || netErr.Temporary()
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}
	return false
}
