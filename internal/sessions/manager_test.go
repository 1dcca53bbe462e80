package sessions

import (
	"strconv"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/goclaw/internal/providers"
)

func TestCompactSessionInsertsSyntheticSummaryAtHead(t *testing.T) {
	m := NewManager("")
	key := "agent:a:test"

	for i := 0; i < 6; i++ {
		m.AddMessage(key, providers.Message{Role: "user", Content: "msg"})
	}

	compacted := m.CompactSession(key, 2, func(removed []providers.Message) string {
		return "summary of " + strconv.Itoa(len(removed)) + " messages"
	})

	if compacted != 4 {
		t.Fatalf("expected 4 messages removed, got %d", compacted)
	}

	history := m.GetHistory(key)
	if len(history) != 3 {
		t.Fatalf("expected 1 summary + 2 kept messages, got %d", len(history))
	}
	if history[0].Role != "system" || !strings.Contains(history[0].Content, "summary of 4 messages") {
		t.Fatalf("expected synthetic system summary at head, got %+v", history[0])
	}
}

func TestCompactSessionNoOpWhenUnderThreshold(t *testing.T) {
	m := NewManager("")
	key := "agent:a:test"

	m.AddMessage(key, providers.Message{Role: "user", Content: "one"})

	compacted := m.CompactSession(key, 5, func(removed []providers.Message) string {
		t.Fatalf("summarizeFn should not be called when under threshold")
		return ""
	})
	if compacted != 0 {
		t.Fatalf("expected no-op, got %d removed", compacted)
	}
	if len(m.GetHistory(key)) != 1 {
		t.Fatalf("expected history untouched")
	}
}
