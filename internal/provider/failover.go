package provider

import (
	"context"
	"fmt"
	"sync/atomic"
)

// FailoverAdapter wraps a primary and fallback Adapter, switching to the
// fallback when the primary fails to connect. Once the fallback is
// active, later Connect calls stay on it and switch back to the primary
// only when the fallback itself fails to connect. Grounded on
// failoverSTTProvider/failoverTTSProvider in internal/voice/failover.go:
// an atomic-bool "fallback active" flag, try-primary-then-fallback on
// the way in, try-fallback-then-primary once fallback is already active.
type FailoverAdapter struct {
	primary  Adapter
	fallback Adapter

	fallbackActive atomic.Bool
	active         Adapter
}

// NewFailoverAdapter builds a wrapper that prefers primary.
func NewFailoverAdapter(primary, fallback Adapter) *FailoverAdapter {
	return &FailoverAdapter{primary: primary, fallback: fallback}
}

func (f *FailoverAdapter) Connect(ctx context.Context, cfg SessionConfig) error {
	if f.fallbackActive.Load() {
		if err := f.fallback.Connect(ctx, cfg); err == nil {
			f.active = f.fallback
			return nil
		}
		if err := f.primary.Connect(ctx, cfg); err == nil {
			f.fallbackActive.Store(false)
			f.active = f.primary
			return nil
		}
		return fmt.Errorf("both fallback and primary failed to connect")
	}

	if err := f.primary.Connect(ctx, cfg); err == nil {
		f.active = f.primary
		return nil
	}
	if err := f.fallback.Connect(ctx, cfg); err != nil {
		return fmt.Errorf("primary failed and fallback failed to connect: %w", err)
	}
	f.fallbackActive.Store(true)
	f.active = f.fallback
	return nil
}

func (f *FailoverAdapter) SendAudio(samples []int16) error { return f.active.SendAudio(samples) }
func (f *FailoverAdapter) CommitUserTurn() error           { return f.active.CommitUserTurn() }
func (f *FailoverAdapter) Interrupt() error                { return f.active.Interrupt() }
func (f *FailoverAdapter) OnEvent(cb func(Event)) {
	f.primary.OnEvent(cb)
	f.fallback.OnEvent(cb)
}
func (f *FailoverAdapter) Close(reason string) error {
	if f.active != nil {
		return f.active.Close(reason)
	}
	return nil
}
