package provider

import (
	"context"
	"testing"
)

func TestMockAdapterEmitsResponseAfterCommit(t *testing.T) {
	m := NewMockAdapter()
	var kinds []EventKind
	m.OnEvent(func(ev Event) { kinds = append(kinds, ev.Kind) })

	if err := m.Connect(context.Background(), SessionConfig{Voice: "alloy"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := m.CommitUserTurn(); err != nil {
		t.Fatalf("CommitUserTurn: %v", err)
	}

	want := []EventKind{EventAssistantTextDelta, EventAssistantAudio, EventAssistantDone}
	if len(kinds) != len(want) {
		t.Fatalf("got %d events, want %d: %v", len(kinds), len(want), kinds)
	}
	for i, k := range want {
		if kinds[i] != k {
			t.Fatalf("event %d: got %v, want %v", i, kinds[i], k)
		}
	}
}

func TestMockAdapterCloseIsIdempotent(t *testing.T) {
	m := NewMockAdapter()
	if err := m.Close("test"); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := m.Close("test"); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestMockAdapterSilentAfterClose(t *testing.T) {
	m := NewMockAdapter()
	var calls int
	m.OnEvent(func(Event) { calls++ })
	_ = m.Close("done")
	_ = m.CommitUserTurn()
	if calls != 0 {
		t.Fatalf("expected no events after close, got %d", calls)
	}
}
