package session

import (
	"context"
	"log"
	"time"

	"github.com/voicebridge/corebridge/internal/model"
	"github.com/voicebridge/corebridge/internal/provider"
	"github.com/voicebridge/corebridge/internal/statemachine"
	"github.com/voicebridge/corebridge/internal/timeoutmgr"
	"github.com/voicebridge/corebridge/internal/transfer"
)

const defaultTransferRingTimeout = 20 * time.Second

// subscribeHandlers wires the session's bus-event handler set.
func (s *RealtimeSession) subscribeHandlers() {
	s.unsubs = append(s.unsubs,
		s.bus.Subscribe(model.EventUserSpeechStart, s.handleUserSpeechStart),
		s.bus.Subscribe(model.EventFunctionCall, s.handleFunctionCall),
		s.bus.Subscribe(model.EventTransferRequested, s.handleTransferRequested),
		s.bus.Subscribe(model.EventHeartbeatTimeout, s.handleHeartbeatTimeout),
		s.bus.Subscribe(model.EventCallEnded, s.handleCallEnded),
	)
}

// handleUserSpeechStart is the safety-net interrupt: if the assistant is
// presently speaking, interrupt it. The actual barge_in state transition
// and jitter-buffer flush are driven separately by the pipeline's own
// stricter arbitration (onPipelineBargeIn below), which additionally
// requires a minimum elapsed playback time.
func (s *RealtimeSession) handleUserSpeechStart(model.VoiceEvent) {
	if s.sm.State() == model.StateSpeaking {
		_ = s.adapter.Interrupt()
	}
}

func (s *RealtimeSession) handleFunctionCall(ev model.VoiceEvent) {
	payload, ok := ev.Data.(model.FunctionCallPayload)
	if !ok {
		return
	}
	if state := s.sm.State(); state.IsTransferState() {
		err := &statemachine.InvalidTransition{Current: state, Trigger: "function_call:" + payload.Name}
		log.Printf("session %s: rejecting function call: %v", s.callID, err)
		return
	}
	handler, ok := s.functions[payload.Name]
	if !ok {
		return
	}
	// Dispatched off the bus's own per-kind goroutine: one slow function
	// handler only delays further FUNCTION_CALL events, never other kinds.
	_, _ = handler(s.ctx, s, payload.Args)
}

// handleTransferRequested runs the announced-transfer algorithm and
// projects its outcome onto the state machine's TRANSFER_* substates.
// transfer.Manager.Execute already performs the dial, announce, bridge
// and single-retry internally as one call, so the intermediate FSM
// triggers are driven in sequence from its Outcome rather than one at a
// time from separate switch callbacks — an explicit scope decision
// recorded in the grounding ledger.
func (s *RealtimeSession) handleTransferRequested(ev model.VoiceEvent) {
	payload, ok := ev.Data.(model.TransferRequestedPayload)
	if !ok {
		return
	}

	if err := s.sm.Trigger(statemachine.TriggerRequestTransfer, nil); err != nil {
		return
	}
	s.hb.Pause()
	defer s.hb.Resume()

	rule, found := s.resolveTransferRule(payload)
	if !found {
		s.failTransfer(transfer.ReasonDialFailed, "")
		return
	}

	req := transfer.Request{
		CallID:   s.callID,
		TenantID: s.tenantID,
		ALegID:   s.aLegID,
		Rule:     rule,
		Message:  payload.Message,
		Summary:  s.buildTicketSummary(),
	}

	// Bounds the whole dial/announce/bridge track with one deadline rather
	// than a separate named timeoutmgr timer per leg: Execute's blocking
	// Originate call already carries the switch-side ring deadline, so a
	// second independent timer here would just race the same clock twice.
	ringBudget := rule.RingTimeout
	if ringBudget <= 0 {
		ringBudget = defaultTransferRingTimeout
	}
	transferCtx, cancel := context.WithTimeout(s.ctx, ringBudget+timeoutmgr.TransferAnnounceTimeout)
	defer cancel()

	outcome, err := s.transferMgr.Execute(transferCtx, req)
	if err != nil {
		s.failTransfer(transfer.ReasonDialFailed, "")
		return
	}

	if outcome.Bridged {
		_ = s.sm.Trigger(statemachine.TriggerDestinationValid, nil)
		_ = s.sm.Trigger(statemachine.TriggerBLegAnswered, nil)
		_ = s.sm.Trigger(statemachine.TriggerAnnounceComplete, nil)
		_ = s.sm.Trigger(statemachine.TriggerCallerOK, nil)
		_ = s.sm.Trigger(statemachine.TriggerBridgeComplete, nil)
		s.bus.Emit(model.VoiceEvent{Kind: model.EventBridgeComplete, CallID: s.callID, TenantID: s.tenantID, At: s.clock()})
		// The B-leg is now bridged directly to the caller; the provider is
		// no longer in the audio path.
		s.End("transferred")
		return
	}

	s.failTransfer(outcome.Reason, outcome.TicketID)
}

func (s *RealtimeSession) failTransfer(reason transfer.FailureReason, ticketID string) {
	// Set before the trigger that may land on ENDED: onStateChanged emits
	// CALL_ENDED synchronously from within Trigger, and its subscriber
	// goroutine may run teardown before this function returns.
	s.mu.Lock()
	if s.endReason == "" {
		s.endReason = "transfer_failed"
	}
	s.mu.Unlock()

	switch reason {
	case transfer.ReasonDialFailed, transfer.ReasonBridgeFailed:
		_ = s.sm.Trigger(statemachine.TriggerDestinationValid, nil)
	}
	_ = s.sm.Trigger(statemachine.TriggerTransferFailed, nil)
	s.bus.Emit(model.VoiceEvent{
		Kind: model.EventTransferFailed, CallID: s.callID, TenantID: s.tenantID, At: s.clock(),
		Data: model.TransferFailedPayload{Reason: string(reason)},
	})
	if ticketID != "" {
		s.bus.Emit(model.VoiceEvent{Kind: model.EventTicketFiled, CallID: s.callID, TenantID: s.tenantID, At: s.clock(), Data: ticketID})
	}
	// transfer.Manager.Execute already exhausted its own internal
	// dial/bridge retry before returning this terminal Outcome, so the
	// call ends here regardless of which state the FSM's own
	// transfer_failed trigger (with its separately pinned budget) landed
	// on, LISTENING included.
	s.End("transfer_failed")
}

func (s *RealtimeSession) handleHeartbeatTimeout(model.VoiceEvent) {
	s.End("heartbeat_timeout")
}

// handleCallEnded runs on the bus's own CALL_ENDED dispatch goroutine.
// teardown() unsubscribes every handler, including this one, and that
// unsubscribe blocks until the dispatch goroutine it targets has exited,
// which for this handler is the very goroutine running this call.
// Tearing down from a separate goroutine avoids that self-wait.
func (s *RealtimeSession) handleCallEnded(model.VoiceEvent) {
	go s.teardown()
}

// onMaxDurationWarning fires at half of max_duration_s: it enqueues the
// warning utterance event but does not end the call.
func (s *RealtimeSession) onMaxDurationWarning() {
	s.bus.Emit(model.VoiceEvent{Kind: model.EventMaxDurationWarning, CallID: s.callID, TenantID: s.tenantID, At: s.clock()})
}

func (s *RealtimeSession) onMaxDuration() {
	s.End("max_duration_exceeded")
}

func (s *RealtimeSession) onProviderInitialResponseTimeout() {
	s.bus.Emit(model.VoiceEvent{Kind: model.EventProviderDegraded, CallID: s.callID, TenantID: s.tenantID, At: s.clock()})
	s.End("provider_unresponsive")
}

// onPipelineSpeechStart relays VAD onset to the bus and keeps the
// heartbeat fed; it does not itself touch the state machine.
func (s *RealtimeSession) onPipelineSpeechStart() {
	s.hb.Touch()
	s.bus.Emit(model.VoiceEvent{Kind: model.EventUserSpeechStart, CallID: s.callID, TenantID: s.tenantID, At: s.clock()})
}

func (s *RealtimeSession) onPipelineSpeechEnd() {
	s.bus.Emit(model.VoiceEvent{Kind: model.EventUserSpeechEnd, CallID: s.callID, TenantID: s.tenantID, At: s.clock()})
	if err := s.sm.Trigger(statemachine.TriggerUserDone, nil); err == nil {
		_ = s.adapter.CommitUserTurn()
	}
}

// onPipelineBargeIn is the pipeline's arbitrated decision (playback
// active, minimum elapsed duration, VAD onset on the cleaned signal). It
// owns the actual barge_in state transition, the interrupted turn's
// finalization, and flushing queued outbound audio.
func (s *RealtimeSession) onPipelineBargeIn() {
	if err := s.sm.Trigger(statemachine.TriggerBargeIn, true); err != nil {
		return
	}
	s.finalizeCurrentTurn(true)
	_ = s.adapter.Interrupt()
	s.pipeline.OnBargeIn()
	s.bus.Emit(model.VoiceEvent{Kind: model.EventBargeIn, CallID: s.callID, TenantID: s.tenantID, At: s.clock()})
}

// onProviderEvent translates provider.Event into bus emissions, turn
// accounting and state-machine triggers.
func (s *RealtimeSession) onProviderEvent(ev provider.Event) {
	s.hb.Touch()
	s.timeouts.Clear(timeoutmgr.TimerProviderInitialResponse)

	switch ev.Kind {
	case provider.EventAssistantAudio:
		if s.sm.State() != model.StateSpeaking {
			if err := s.sm.Trigger(statemachine.TriggerAgentSpeech, nil); err == nil {
				s.pipeline.StartPlayback(s.clock())
				s.bus.Emit(model.VoiceEvent{Kind: model.EventAgentSpeechStart, CallID: s.callID, TenantID: s.tenantID, At: s.clock()})
			}
		}
		s.ensureCurrentTurn()
		s.pipeline.PushOutbound(ev.AudioPCM16)

	case provider.EventAssistantTextDelta:
		s.ensureCurrentTurn()
		s.appendAssistantText(ev.TextDelta)

	case provider.EventFunctionCall:
		s.bus.Emit(model.VoiceEvent{
			Kind: model.EventFunctionCall, CallID: s.callID, TenantID: s.tenantID, At: s.clock(),
			Data: model.FunctionCallPayload{Name: ev.FuncName, Args: ev.FuncArgs},
		})

	case provider.EventAssistantDone:
		if err := s.sm.Trigger(statemachine.TriggerAgentDone, nil); err == nil {
			s.pipeline.StopPlayback()
			s.bus.Emit(model.VoiceEvent{Kind: model.EventAgentSpeechEnd, CallID: s.callID, TenantID: s.tenantID, At: s.clock()})
		}
		s.finalizeCurrentTurn(false)

	case provider.EventError:
		s.bus.Emit(model.VoiceEvent{Kind: model.EventProviderDegraded, CallID: s.callID, TenantID: s.tenantID, At: s.clock()})
		s.End("provider_error")
	}
}

func (s *RealtimeSession) ensureCurrentTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentTurn == nil {
		s.currentTurn = &model.Turn{Index: len(s.turns), StartedAt: s.clock()}
	}
}

func (s *RealtimeSession) appendAssistantText(delta string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentTurn.AssistantText += delta
}

func (s *RealtimeSession) finalizeCurrentTurn(interrupted bool) {
	s.mu.Lock()
	if s.currentTurn == nil {
		s.mu.Unlock()
		return
	}
	turn := *s.currentTurn
	turn.EndedAt = s.clock()
	turn.Interrupted = interrupted
	s.turns = append(s.turns, turn)
	s.currentTurn = nil
	count := len(s.turns)
	s.mu.Unlock()

	if s.cfg.MaxTurns > 0 && count >= s.cfg.MaxTurns {
		s.bus.Emit(model.VoiceEvent{Kind: model.EventMaxTurnsReached, CallID: s.callID, TenantID: s.tenantID, At: s.clock()})
		s.End("max_turns_reached")
	}
}
