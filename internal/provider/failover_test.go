package provider

import (
	"context"
	"errors"
	"testing"
)

type failingAdapter struct{ *MockAdapter }

func (f *failingAdapter) Connect(context.Context, SessionConfig) error {
	return errors.New("primary down")
}

func TestFailoverAdapterFallsBackWhenPrimaryFails(t *testing.T) {
	primary := &failingAdapter{MockAdapter: NewMockAdapter()}
	fallback := NewMockAdapter()
	fo := NewFailoverAdapter(primary, fallback)

	if err := fo.Connect(context.Background(), SessionConfig{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if fo.active != fallback {
		t.Fatal("expected fallback to become active")
	}
}

func TestFailoverAdapterStaysOnPrimaryWhenHealthy(t *testing.T) {
	primary := NewMockAdapter()
	fallback := NewMockAdapter()
	fo := NewFailoverAdapter(primary, fallback)

	if err := fo.Connect(context.Background(), SessionConfig{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if fo.active != primary {
		t.Fatal("expected primary to stay active")
	}
}
