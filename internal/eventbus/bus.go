// Package eventbus implements the per-call typed publish/subscribe bus:
// bounded per-subscriber delivery, non-blocking emit,
// drop-oldest-on-overflow, and panic-safe handler dispatch.
package eventbus

import (
	"sync"

	"github.com/voicebridge/corebridge/internal/model"
)

const defaultSubscriberBuffer = 256

// Handler receives events of the kinds it subscribed to, in emission order.
type Handler func(model.VoiceEvent)

// DropObserver is notified whenever an event is dropped for a saturated
// subscriber. It is optional and set via WithDropObserver.
type DropObserver func(kind model.VoiceEventKind)

// Bus is a single call's event bus. It is safe for concurrent use and
// must be closed when the call ends.
type Bus struct {
	mu          sync.Mutex
	nextID      int
	subscribers map[model.VoiceEventKind]map[int]*subscriber
	dropObserve DropObserver
	closed      bool
}

type subscriber struct {
	ch chan model.VoiceEvent
}

// New constructs an empty bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[model.VoiceEventKind]map[int]*subscriber),
	}
}

// WithDropObserver installs a callback invoked whenever Emit drops an
// event for a saturated subscriber. It is not safe to call concurrently
// with Subscribe/Emit.
func (b *Bus) WithDropObserver(fn DropObserver) *Bus {
	b.dropObserve = fn
	return b
}

// Subscribe registers handler for events of kind and starts a goroutine
// that delivers them in arrival order. The returned func unsubscribes and
// stops that goroutine; it is safe to call more than once.
func (b *Bus) Subscribe(kind model.VoiceEventKind, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	id := b.nextID
	b.nextID++
	sub := &subscriber{ch: make(chan model.VoiceEvent, defaultSubscriberBuffer)}
	byID, ok := b.subscribers[kind]
	if !ok {
		byID = make(map[int]*subscriber)
		b.subscribers[kind] = byID
	}
	byID[id] = sub
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub.ch {
			dispatch(handler, ev)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if byID, ok := b.subscribers[kind]; ok {
				if s, ok := byID[id]; ok {
					delete(byID, id)
					close(s.ch)
				}
				if len(byID) == 0 {
					delete(b.subscribers, kind)
				}
			}
			b.mu.Unlock()
			<-done
		})
	}
}

// Emit publishes ev to every subscriber of ev.Kind. Delivery is
// non-blocking: a subscriber whose channel is full has its oldest queued
// event dropped to make room, so Emit itself never blocks the caller.
func (b *Bus) Emit(ev model.VoiceEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subscribers[ev.Kind] {
		select {
		case sub.ch <- ev:
		default:
			// Drop the oldest queued event, then retry once. If the
			// consumer race means the channel drained in between, the
			// retry is what actually delivers ev.
			select {
			case <-sub.ch:
				if b.dropObserve != nil {
					b.dropObserve(ev.Kind)
				}
			default:
			}
			select {
			case sub.ch <- ev:
			default:
			}
		}
	}
}

// Close stops all subscriber goroutines and marks the bus unusable.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, byID := range b.subscribers {
		for _, sub := range byID {
			close(sub.ch)
		}
	}
	b.subscribers = nil
}

func dispatch(handler Handler, ev model.VoiceEvent) {
	defer func() {
		_ = recover()
	}()
	handler(ev)
}
