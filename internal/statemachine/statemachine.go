// Package statemachine implements the call state machine: an enumerated
// CallState with guarded transitions triggered by named inputs, emitting
// STATE_CHANGED on every successful move. The guard pattern mirrors
// tasks.Manager's task-status transition guards
// (Approve/Complete/Fail/Cancel), generalized from task lifecycle to
// call lifecycle.
package statemachine

import (
	"fmt"
	"sync"

	"github.com/voicebridge/corebridge/internal/model"
)

// InvalidTransition is returned synchronously by Trigger and never routed
// through the event bus.
type InvalidTransition struct {
	Current model.CallState
	Trigger string
}

func (e *InvalidTransition) Error() string {
	return fmt.Sprintf("invalid transition: trigger %q not legal from state %q", e.Trigger, e.Current)
}

// Guard inspects ctx and the current state and decides whether a
// transition may proceed. Guards must not panic.
type Guard func(current model.CallState, ctx any) bool

// OnEnter runs after a transition commits; it cannot veto.
type OnEnter func(from, to model.CallState, ctx any)

type edge struct {
	to      model.CallState
	guard   Guard
	onEnter OnEnter
}

// Machine is a guarded finite-state machine over model.CallState.
// Concurrent Trigger calls are serialized on an internal mutex: all
// transitions run on a single logical thread.
type Machine struct {
	mu             sync.Mutex
	current        model.CallState
	transitions    map[model.CallState]map[string]edge
	wildcard       map[string]edge // triggers legal from any non-terminal state
	onStateChanged func(from, to model.CallState, trigger string)

	transferRetryBudget int // remaining retries on the transfer track, pinned to 1
}

// New constructs a machine in IDLE with the standard call transition
// table wired in. onStateChanged is invoked synchronously
// after every committed transition, before Trigger returns — callers
// typically use it to emit STATE_CHANGED on the event bus.
func New(onStateChanged func(from, to model.CallState, trigger string)) *Machine {
	m := &Machine{
		current:             model.StateIdle,
		transitions:         make(map[model.CallState]map[string]edge),
		wildcard:            make(map[string]edge),
		onStateChanged:      onStateChanged,
		transferRetryBudget: 1,
	}
	m.buildTable()
	return m
}

func (m *Machine) add(from model.CallState, trigger string, to model.CallState, guard Guard) {
	byTrigger, ok := m.transitions[from]
	if !ok {
		byTrigger = make(map[string]edge)
		m.transitions[from] = byTrigger
	}
	byTrigger[trigger] = edge{to: to, guard: guard}
}

func (m *Machine) addWildcard(trigger string, to model.CallState, guard Guard) {
	m.wildcard[trigger] = edge{to: to, guard: guard}
}

const (
	TriggerStart               = "start"
	TriggerConnected           = "connected"
	TriggerGreet               = "greet"
	TriggerAgentDone           = "agent_done"
	TriggerUserSpeech          = "user_speech"
	TriggerUserDone            = "user_done"
	TriggerAgentSpeech         = "agent_speech"
	TriggerBargeIn             = "barge_in"
	TriggerRequestTransfer     = "request_transfer"
	TriggerDestinationValid    = "destination_validated"
	TriggerBLegAnswered        = "b_leg_answered"
	TriggerAnnounceComplete    = "announce_complete"
	TriggerCallerOK            = "caller_ok"
	TriggerBridgeComplete      = "bridge_complete"
	TriggerTransferFailed      = "transfer_failed"
	TriggerHangup              = "hangup"
)

func (m *Machine) buildTable() {
	m.add(model.StateIdle, TriggerStart, model.StateConnecting, nil)
	m.add(model.StateConnecting, TriggerConnected, model.StateConnected, nil)
	m.add(model.StateConnected, TriggerGreet, model.StateSpeaking, nil)
	m.add(model.StateSpeaking, TriggerAgentDone, model.StateListening, nil)
	m.add(model.StateListening, TriggerUserSpeech, model.StateListening, nil) // self-loop, barge-in timing
	m.add(model.StateListening, TriggerUserDone, model.StateProcessing, nil)
	m.add(model.StateProcessing, TriggerAgentSpeech, model.StateSpeaking, nil)
	// barge_in guard: at least N ms into playback and inbound RMS over
	// threshold for M frames — the caller supplies ctx carrying that
	// decision, already arbitrated by the audio pipeline.
	m.add(model.StateSpeaking, TriggerBargeIn, model.StateListening, bargeInGuard)

	for _, from := range []model.CallState{model.StateListening, model.StateSpeaking, model.StateProcessing} {
		m.add(from, TriggerRequestTransfer, model.StateTransferValidating, nil)
	}

	m.add(model.StateTransferValidating, TriggerDestinationValid, model.StateTransferDialing, nil)
	m.add(model.StateTransferDialing, TriggerBLegAnswered, model.StateTransferAnnouncing, nil)
	m.add(model.StateTransferAnnouncing, TriggerAnnounceComplete, model.StateTransferWaiting, nil)
	m.add(model.StateTransferWaiting, TriggerCallerOK, model.StateTransferBridging, nil)
	m.add(model.StateTransferBridging, TriggerBridgeComplete, model.StateBridged, nil)

	for _, from := range []model.CallState{
		model.StateTransferValidating, model.StateTransferDialing,
		model.StateTransferAnnouncing, model.StateTransferWaiting, model.StateTransferBridging,
	} {
		// to is recomputed in Trigger based on the remaining retry budget.
		m.add(from, TriggerTransferFailed, model.StateListening, nil)
	}

	m.addWildcard(TriggerHangup, model.StateEnded, nil)
}

func bargeInGuard(current model.CallState, ctx any) bool {
	decided, ok := ctx.(bool)
	if !ok {
		return false
	}
	return decided
}

// Trigger attempts the named transition. On success it updates state,
// invokes onStateChanged, and returns nil. On failure it returns
// *InvalidTransition and leaves state unchanged.
func (m *Machine) Trigger(name string, ctx any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == model.StateEnded {
		return &InvalidTransition{Current: m.current, Trigger: name}
	}

	e, ok := m.lookupLocked(name)
	if !ok {
		return &InvalidTransition{Current: m.current, Trigger: name}
	}
	if e.guard != nil && !e.guard(m.current, ctx) {
		return &InvalidTransition{Current: m.current, Trigger: name}
	}

	to := e.to
	if name == TriggerTransferFailed {
		to = m.resolveTransferFailedTargetLocked()
	}

	from := m.current
	m.current = to
	if e.onEnter != nil {
		e.onEnter(from, to, ctx)
	}
	if m.onStateChanged != nil {
		m.onStateChanged(from, to, name)
	}
	return nil
}

func (m *Machine) lookupLocked(name string) (edge, bool) {
	if byTrigger, ok := m.transitions[m.current]; ok {
		if e, ok := byTrigger[name]; ok {
			return e, true
		}
	}
	if e, ok := m.wildcard[name]; ok {
		return e, true
	}
	return edge{}, false
}

// resolveTransferFailedTargetLocked implements the pinned retry budget
// of exactly 1: the first transfer_failed returns to LISTENING with the
// budget decremented; the second ends the call.
func (m *Machine) resolveTransferFailedTargetLocked() model.CallState {
	if m.transferRetryBudget > 0 {
		m.transferRetryBudget--
		return model.StateListening
	}
	return model.StateEnded
}

// ResetTransferRetryBudget restores the retry budget to 1. RealtimeSession
// does not call it: the session ends the call after any failed transfer,
// so each Machine spends its budget at most once.
func (m *Machine) ResetTransferRetryBudget() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transferRetryBudget = 1
}

// State returns the current state (thread-safe read).
func (m *Machine) State() model.CallState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Can reports whether name is presently a legal trigger, without side effects.
func (m *Machine) Can(name string, ctx any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == model.StateEnded {
		return false
	}
	e, ok := m.lookupLocked(name)
	if !ok {
		return false
	}
	if e.guard != nil {
		return e.guard(m.current, ctx)
	}
	return true
}

// IsTransferState reports whether the current state is one of the
// TRANSFER_* substates (heartbeat stays paused throughout).
func (m *Machine) IsTransferState() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.IsTransferState()
}
