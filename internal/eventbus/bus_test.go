package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/voicebridge/corebridge/internal/model"
)

func TestSubscribeReceivesEmittedEvent(t *testing.T) {
	b := New()
	defer b.Close()

	got := make(chan model.VoiceEvent, 1)
	unsub := b.Subscribe(model.EventBargeIn, func(ev model.VoiceEvent) {
		got <- ev
	})
	defer unsub()

	ev := model.VoiceEvent{Kind: model.EventBargeIn, CallID: "call-1", TenantID: "tenant-a"}
	b.Emit(ev)

	select {
	case received := <-got:
		if received.CallID != "call-1" {
			t.Fatalf("CallID = %q, want call-1", received.CallID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event delivery")
	}
}

func TestEmitOnlyReachesMatchingKind(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	var count int
	unsub := b.Subscribe(model.EventUserSpeechStart, func(model.VoiceEvent) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	defer unsub()

	b.Emit(model.VoiceEvent{Kind: model.EventUserSpeechEnd})
	b.Emit(model.VoiceEvent{Kind: model.EventUserSpeechStart})

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		mu.Lock()
		c := count
		mu.Unlock()
		if c == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("count = %d, want 1", count)
}

func TestEmitDropsOldestWhenSubscriberSaturated(t *testing.T) {
	b := New()
	defer b.Close()

	var drops int
	var mu sync.Mutex
	b.WithDropObserver(func(model.VoiceEventKind) {
		mu.Lock()
		drops++
		mu.Unlock()
	})

	block := make(chan struct{})
	release := make(chan struct{})
	unsub := b.Subscribe(model.EventCallEnded, func(model.VoiceEvent) {
		close(block)
		<-release
	})
	defer unsub()

	for i := 0; i < defaultSubscriberBuffer+10; i++ {
		b.Emit(model.VoiceEvent{Kind: model.EventCallEnded})
	}
	<-block
	close(release)

	mu.Lock()
	d := drops
	mu.Unlock()
	if d == 0 {
		t.Fatal("expected at least one dropped event under saturation")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	var count int
	unsub := b.Subscribe(model.EventCallStarted, func(model.VoiceEvent) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	unsub()

	b.Emit(model.VoiceEvent{Kind: model.EventCallStarted})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	c := count
	mu.Unlock()
	if c != 0 {
		t.Fatalf("count = %d, want 0 after unsubscribe", c)
	}
}
