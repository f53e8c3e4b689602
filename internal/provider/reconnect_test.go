package provider

import (
	"context"
	"errors"
	"testing"
)

func TestWithReconnectSucceedsOnFirstAttempt(t *testing.T) {
	w := NewWithReconnect("test")
	calls := 0
	err := w.Dial(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestWithReconnectRetriesOnceThenSucceeds(t *testing.T) {
	w := NewWithReconnect("test")
	calls := 0
	err := w.Dial(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestWithReconnectReturnsProviderDeadAfterTwoFailures(t *testing.T) {
	w := NewWithReconnect("test")
	calls := 0
	err := w.Dial(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("down")
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	var dead *ErrProviderDead
	if !errors.As(err, &dead) {
		t.Fatalf("expected ErrProviderDead, got %T: %v", err, err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2 (one retry)", calls)
	}
}
