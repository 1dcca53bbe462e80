package providers

import "context"

// streamChannelCapacity bounds every completion's event channel so a slow
// consumer applies back-pressure to the producing goroutine instead of
// letting it buffer an unbounded amount of provider output in memory.
const streamChannelCapacity = 64

// StreamEventKind tags the variant carried by a StreamEvent.
type StreamEventKind int

const (
	StreamEventTextDelta StreamEventKind = iota
	StreamEventToolUse
	StreamEventStop
	StreamEventError
)

// StreamEvent is the tagged union emitted by a provider during a completion.
// A Complete() channel carries zero or more TextDelta/ToolUse events followed
// by exactly one terminal event (Stop or Error).
type StreamEvent struct {
	Kind StreamEventKind

	// TextDelta
	Text string

	// ToolUse
	ToolID    string
	ToolName  string
	ToolInput map[string]interface{}

	// Stop
	StopReason string // "end_turn", "tool_use", "max_tokens"
	Usage      *Usage

	// Error
	ErrMessage string
}

// Complete adapts a Provider's callback-based ChatStream into a bounded
// channel of StreamEvents, matching the producer/consumer shape every
// caller in this gateway expects instead of a raw callback. The channel is
// always closed after exactly one terminal event (Stop or Error) is sent;
// cancelling ctx stops delivery promptly and still yields a terminal event.
func Complete(ctx context.Context, p Provider, req ChatRequest) <-chan StreamEvent {
	out := make(chan StreamEvent, streamChannelCapacity)

	go func() {
		defer close(out)

		send := func(ev StreamEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		resp, err := p.ChatStream(ctx, req, func(chunk StreamChunk) {
			if ctx.Err() != nil {
				return
			}
			if chunk.Thinking != "" {
				send(StreamEvent{Kind: StreamEventTextDelta, Text: chunk.Thinking})
			}
			if chunk.Content != "" {
				send(StreamEvent{Kind: StreamEventTextDelta, Text: chunk.Content})
			}
		})

		if ctx.Err() != nil {
			send(StreamEvent{Kind: StreamEventError, ErrMessage: ctx.Err().Error()})
			return
		}
		if err != nil {
			send(StreamEvent{Kind: StreamEventError, ErrMessage: err.Error()})
			return
		}

		for _, tc := range resp.ToolCalls {
			if !send(StreamEvent{Kind: StreamEventToolUse, ToolID: tc.ID, ToolName: tc.Name, ToolInput: tc.Arguments}) {
				return
			}
		}

		stopReason := resp.FinishReason
		if stopReason == "" {
			stopReason = "end_turn"
		}
		send(StreamEvent{Kind: StreamEventStop, StopReason: stopReason, Usage: resp.Usage})
	}()

	return out
}
