// Package session implements RealtimeSession: the per-call orchestrator
// that wires the event bus, state machine, timeout manager, heartbeat
// monitor, audio pipeline, provider adapter and transfer manager
// together and drives one call from connect to teardown. Grounded on
// internal/voice.Orchestrator (constructor-injected collaborators, a
// RunConnection-style per-call driver, closure-captured turn state) —
// generalized from a browser chat turn loop to a telephony call loop.
// Orchestrator's response-speculation machinery (brain prefetch, memory
// prefetch) has no telephony analogue and is deliberately not ported.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/voicebridge/corebridge/internal/audio"
	"github.com/voicebridge/corebridge/internal/eventbus"
	"github.com/voicebridge/corebridge/internal/heartbeat"
	"github.com/voicebridge/corebridge/internal/model"
	"github.com/voicebridge/corebridge/internal/observability"
	"github.com/voicebridge/corebridge/internal/provider"
	"github.com/voicebridge/corebridge/internal/statemachine"
	"github.com/voicebridge/corebridge/internal/store"
	"github.com/voicebridge/corebridge/internal/timeoutmgr"
	"github.com/voicebridge/corebridge/internal/transfer"
)

// Transport is the session's one channel back to the switch: outbound
// audio frames and one-shot JSON control frames (the bridge->switch
// streamAudio/hangup text frames). serverctl supplies the real
// implementation over the call's WebSocket; tests substitute a fake.
type Transport interface {
	SendAudio(frame []byte) error
	SendControl(v any) error
	Close() error
}

// hangupControlFrame is the bridge->switch text frame sent as teardown
// begins: {type: "hangup", reason?}.
type hangupControlFrame struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// Params bundles everything RealtimeSession needs at construction. Every
// field is owned by the session once passed in except Config, which is
// already an immutable per-call snapshot (model.SecretaryConfig.Snapshot).
type Params struct {
	CallID   model.CallId
	TenantID model.TenantId
	Config   model.SecretaryConfig
	ALegID   string

	Adapter   provider.Adapter
	Transport Transport

	Dialer        transfer.Dialer
	Prober        transfer.PresenceProber
	PresenceCache transfer.PresenceCache
	Tickets       *transfer.TicketClient

	Store   store.Store
	Metrics *observability.Metrics

	// Functions adds to or overrides the built-in transfer_call,
	// create_ticket and lookup_customer handlers, e.g. a lookup_customer
	// backed by a tenant's CRM. Nil entries are ignored.
	Functions map[string]FunctionHandler

	Clock func() time.Time
}

// RealtimeSession owns one call's entire lifetime.
type RealtimeSession struct {
	callID   model.CallId
	tenantID model.TenantId
	cfg      model.SecretaryConfig
	aLegID   string
	clock    func() time.Time

	bus       *eventbus.Bus
	sm        *statemachine.Machine
	timeouts  *timeoutmgr.Manager
	hb        *heartbeat.Monitor
	pipeline  *audio.Pipeline
	adapter   provider.Adapter
	transport Transport

	transferMgr *transfer.Manager
	tickets     *transfer.TicketClient
	store       store.Store
	metrics     *observability.Metrics
	functions   map[string]FunctionHandler

	unsubs []func()

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	turns       []model.Turn
	currentTurn *model.Turn
	startedAt   time.Time
	endReason   string

	closeOnce sync.Once
	done      chan struct{}
}

// New wires every collaborator for one call. It does not start the
// call — call Start for that.
func New(p Params) *RealtimeSession {
	clock := p.Clock
	if clock == nil {
		clock = time.Now
	}

	s := &RealtimeSession{
		callID:    p.CallID,
		tenantID:  p.TenantID,
		cfg:       p.Config.Snapshot(),
		aLegID:    p.ALegID,
		clock:     clock,
		adapter:   p.Adapter,
		transport: p.Transport,
		tickets:   p.Tickets,
		store:     p.Store,
		metrics:   p.Metrics,
		done:      make(chan struct{}),
	}

	s.bus = eventbus.New().WithDropObserver(func(kind model.VoiceEventKind) {
		if s.metrics != nil {
			s.metrics.ObserveBusDrop(string(kind))
		}
	})

	s.sm = statemachine.New(func(from, to model.CallState, trigger string) {
		if s.metrics != nil {
			s.metrics.ObserveStateTransition(string(from), string(to))
		}
		s.bus.Emit(model.VoiceEvent{
			Kind: model.EventStateChanged, CallID: s.callID, TenantID: s.tenantID, At: clock(),
			Data: model.StateChangedPayload{From: from, To: to, Trigger: trigger},
		})
		if to == model.StateEnded {
			s.bus.Emit(model.VoiceEvent{Kind: model.EventCallEnded, CallID: s.callID, TenantID: s.tenantID, At: clock()})
		}
	})

	s.timeouts = timeoutmgr.New()
	s.hb = heartbeat.New(
		func() { s.bus.Emit(model.VoiceEvent{Kind: model.EventProviderDegraded, CallID: s.callID, TenantID: s.tenantID, At: clock()}) },
		func() { s.bus.Emit(model.VoiceEvent{Kind: model.EventHeartbeatTimeout, CallID: s.callID, TenantID: s.tenantID, At: clock()}) },
	)

	s.pipeline = audio.New(audio.Config{
		SwitchFormat:    switchFormatString(s.cfg.AudioFormat),
		SwitchRate:      switchRate(s.cfg.AudioFormat),
		ProviderRate:    provider.NativeRate(s.cfg.Provider),
		VADThreshold:    s.cfg.VADThreshold,
		SilenceDuration: s.cfg.SilenceDuration,
		OnSpeechStart:   s.onPipelineSpeechStart,
		OnSpeechEnd:     s.onPipelineSpeechEnd,
		OnBargeIn:       s.onPipelineBargeIn,
	})

	s.transferMgr = transfer.NewManager(p.Dialer, p.Prober, p.PresenceCache, p.Tickets).
		WithClock(transfer.Clock(clock))

	s.functions = buildFunctionRegistry(p.Functions)

	if s.adapter != nil {
		s.adapter.OnEvent(s.onProviderEvent)
	}

	s.subscribeHandlers()
	return s
}

func switchFormatString(f model.AudioFormat) string {
	if f == model.AudioFormatG711 {
		return "g711"
	}
	return "pcm16"
}

func switchRate(f model.AudioFormat) int {
	if f == model.AudioFormatG711 {
		return audio.RateSwitchULaw
	}
	return audio.RateSwitchPCM16
}

// Start triggers the call's start, connects the provider, triggers
// connected then greet, and begins the heartbeat and outbound pacing
// loop.
func (s *RealtimeSession) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.startedAt = s.clock()

	if s.cfg.MaxDuration > 0 {
		s.timeouts.Set(timeoutmgr.TimerMaxDuration, s.cfg.MaxDuration, s.onMaxDuration)
		if half := s.cfg.MaxDuration / 2; half > 0 {
			s.timeouts.Set(timeoutmgr.TimerMaxDurationWarning, half, s.onMaxDurationWarning)
		}
	}

	if err := s.sm.Trigger(statemachine.TriggerStart, nil); err != nil {
		return fmt.Errorf("session: start: %w", err)
	}

	s.timeouts.Set(timeoutmgr.TimerProviderInitialResponse, timeoutmgr.ProviderInitialResponseTimeout, s.onProviderInitialResponseTimeout)

	sc := provider.SessionConfig{
		Voice:             s.cfg.VoiceID,
		SystemPrompt:      s.cfg.SystemPrompt,
		Greeting:          s.cfg.Greeting,
		AudioFormat:       s.cfg.AudioFormat,
		VADThreshold:      s.cfg.VADThreshold,
		SilenceDurationMS: int(s.cfg.SilenceDuration / time.Millisecond),
		Language:          s.cfg.Language,
	}
	if err := s.adapter.Connect(s.ctx, sc); err != nil {
		return fmt.Errorf("session: connect provider: %w", err)
	}

	if err := s.sm.Trigger(statemachine.TriggerConnected, nil); err != nil {
		return fmt.Errorf("session: connected: %w", err)
	}

	s.hb.Start()

	if err := s.sm.Trigger(statemachine.TriggerGreet, nil); err != nil {
		return fmt.Errorf("session: greet: %w", err)
	}
	s.pipeline.StartPlayback(s.clock())

	s.bus.Emit(model.VoiceEvent{Kind: model.EventCallStarted, CallID: s.callID, TenantID: s.tenantID, At: s.clock()})

	go s.runOutboundLoop()
	return nil
}

// runOutboundLoop paces outbound audio to the switch's real-time
// cadence.
func (s *RealtimeSession) runOutboundLoop() {
	for {
		if err := s.pipeline.Pace(s.ctx); err != nil {
			return
		}
		frame, ok := s.pipeline.PullOutbound(s.clock())
		if !ok {
			continue
		}
		if err := s.transport.SendAudio(frame); err != nil {
			return
		}
	}
}

// HandleInboundAudio processes one frame of switch audio and forwards
// the result to the provider.
func (s *RealtimeSession) HandleInboundAudio(raw []byte) {
	now := s.clock()
	linear := s.pipeline.ProcessInbound(now, raw)
	s.hb.Touch()
	if len(linear) == 0 {
		return
	}
	_ = s.adapter.SendAudio(linear)
}

// HandleDTMF records a caller keypress on the bus.
func (s *RealtimeSession) HandleDTMF(digit string) {
	s.bus.Emit(model.VoiceEvent{
		Kind: model.EventDTMF, CallID: s.callID, TenantID: s.tenantID, At: s.clock(),
		Data: model.DTMFPayload{Digit: digit},
	})
}

// State returns the call's current state.
func (s *RealtimeSession) State() model.CallState { return s.sm.State() }

// End triggers a graceful hangup with reason, which cascades through the
// state machine to CALL_ENDED and teardown. Safe to call more than once
// or from any state; subsequent calls are no-ops once the call is ENDED.
func (s *RealtimeSession) End(reason string) {
	s.mu.Lock()
	if s.endReason == "" {
		s.endReason = reason
	}
	s.mu.Unlock()
	_ = s.sm.Trigger(statemachine.TriggerHangup, nil)
}

// Done is closed once teardown has fully completed.
func (s *RealtimeSession) Done() <-chan struct{} { return s.done }

// teardown releases every owned resource (bus subscriptions, heartbeat,
// timers, provider, transport, and the bus itself last) and persists the
// call's transcript. It runs at most once.
func (s *RealtimeSession) teardown() {
	s.closeOnce.Do(func() {
		defer close(s.done)

		if s.cancel != nil {
			s.cancel()
		}
		for _, unsub := range s.unsubs {
			unsub()
		}
		s.hb.Stop()
		s.timeouts.ClearAll()

		s.finalizeCurrentTurn(true)

		if s.adapter != nil {
			_ = s.adapter.Close(s.endReasonLocked())
		}
		if s.transport != nil {
			_ = s.transport.SendControl(hangupControlFrame{Type: "hangup", Reason: s.endReasonLocked()})
			_ = s.transport.Close()
		}

		if s.store != nil {
			rec := store.CallRecord{
				CallID:    s.callID,
				TenantID:  s.tenantID,
				Provider:  s.cfg.Provider,
				Language:  s.cfg.Language,
				StartedAt: s.startedAt,
				EndedAt:   s.clock(),
				EndState:  s.sm.State(),
				Outcome:   s.endReasonLocked(),
				Turns:     s.turnsSnapshot(),
			}
			_ = s.store.SaveCall(context.Background(), rec)
		}

		if s.metrics != nil {
			s.metrics.ObserveCallEvent("ended")
		}
		s.bus.Close()
	})
}

func (s *RealtimeSession) endReasonLocked() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endReason == "" {
		return "unknown"
	}
	return s.endReason
}

func (s *RealtimeSession) turnsSnapshot() []model.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}
