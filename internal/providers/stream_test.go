package providers

import (
	"context"
	"testing"
	"time"
)

type scriptedStreamProvider struct {
	chunks   []StreamChunk
	resp     *ChatResponse
	err      error
	name     string
}

func (s *scriptedStreamProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return s.resp, s.err
}

func (s *scriptedStreamProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	for _, c := range s.chunks {
		onChunk(c)
	}
	return s.resp, s.err
}

func (s *scriptedStreamProvider) DefaultModel() string { return "scripted" }
func (s *scriptedStreamProvider) Name() string         { return s.name }

func drain(t *testing.T, ch <-chan StreamEvent, timeout time.Duration) []StreamEvent {
	t.Helper()
	var events []StreamEvent
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("timed out draining stream, got %d events so far", len(events))
		}
	}
}

func TestCompleteDeliversExactlyOneTerminalEvent(t *testing.T) {
	p := &scriptedStreamProvider{
		name:   "scripted",
		chunks: []StreamChunk{{Content: "hel"}, {Content: "lo"}},
		resp:   &ChatResponse{FinishReason: "stop", Usage: &Usage{}},
	}

	events := drain(t, Complete(context.Background(), p, ChatRequest{}), time.Second)

	terminals := 0
	for _, ev := range events {
		if ev.Kind == StreamEventStop || ev.Kind == StreamEventError {
			terminals++
		}
	}
	if terminals != 1 {
		t.Fatalf("expected exactly one terminal event, got %d across %d events", terminals, len(events))
	}
	last := events[len(events)-1]
	if last.Kind != StreamEventStop {
		t.Fatalf("expected the terminal event to be last, got kind %d", last.Kind)
	}
}

func TestCompleteEmitsErrorEventOnProviderFailure(t *testing.T) {
	p := &scriptedStreamProvider{name: "scripted", err: errBoom}

	events := drain(t, Complete(context.Background(), p, ChatRequest{}), time.Second)
	if len(events) != 1 || events[0].Kind != StreamEventError {
		t.Fatalf("expected a single Error event, got %+v", events)
	}
}

func TestCompleteEmitsToolUseBeforeStop(t *testing.T) {
	p := &scriptedStreamProvider{
		name: "scripted",
		resp: &ChatResponse{
			FinishReason: "tool_calls",
			ToolCalls:    []ToolCall{{ID: "1", Name: "search", Arguments: map[string]interface{}{"q": "x"}}},
		},
	}

	events := drain(t, Complete(context.Background(), p, ChatRequest{}), time.Second)
	if len(events) != 2 {
		t.Fatalf("expected tool_use + stop, got %d events", len(events))
	}
	if events[0].Kind != StreamEventToolUse || events[0].ToolName != "search" {
		t.Fatalf("expected first event to be tool_use for search, got %+v", events[0])
	}
	if events[1].Kind != StreamEventStop {
		t.Fatalf("expected second event to be stop, got %+v", events[1])
	}
}

type boomErr struct{}

func (boomErr) Error() string { return "boom" }

var errBoom = boomErr{}
