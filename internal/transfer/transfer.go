// Package transfer implements the announced-transfer algorithm: presence
// check, working-hours check, B-leg dial, whispered announcement, bridge,
// and the ticket-fallback path when either check fails or the dial/bridge
// track exhausts its retry budget. Grounded on the shape of
// internal/tasks/manager.go's task lifecycle, generalized from a task's
// approve/run/complete/fail track to a call's dial/announce/bridge track.
package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/voicebridge/corebridge/internal/model"
)

// FailureReason is the closed set of reasons a transfer attempt can fail,
// carried on model.TransferFailedPayload and the ticket-fallback body.
type FailureReason string

const (
	ReasonOffline     FailureReason = "offline"
	ReasonAfterHours  FailureReason = "after_hours"
	ReasonHoliday     FailureReason = "holiday"
	ReasonDialFailed  FailureReason = "dial_failed"
	ReasonBridgeFailed FailureReason = "bridge_failed"
)

// Dialer issues the outbound commands against the switch control socket
// that drive one announced-transfer attempt. internal/switchctl implements
// this against a real ESL-style control connection; tests substitute a
// fake. Originate blocks until the B-leg answers or the ring timeout
// elapses, matching FreeSWITCH's own blocking originate semantics.
type Dialer interface {
	Originate(ctx context.Context, destination string, ringTimeout time.Duration) (legID string, err error)
	Announce(ctx context.Context, legID, text string) error
	Bridge(ctx context.Context, aLegID, bLegID string) error
	Hangup(ctx context.Context, legID, cause string) error
}

// PresenceProber answers whether destination is presently reachable in
// tenant's domain. internal/switchctl implements this via sofia_contact
// on the destination as given; ring groups and queues are not expanded
// into their members.
type PresenceProber interface {
	Probe(ctx context.Context, tenant model.TenantId, destination string) (online bool, err error)
}

// Clock abstracts "now" so working-hours evaluation is deterministic in
// tests.
type Clock func() time.Time

// Outcome is the terminal result of one Execute call.
type Outcome struct {
	Bridged   bool
	Reason    FailureReason // zero value if Bridged
	BLegID    string
	TicketID  string // set if ticket fallback fired and succeeded
}

// Request carries everything one transfer attempt needs that isn't
// already owned by the Manager.
type Request struct {
	CallID      model.CallId
	TenantID    model.TenantId
	ALegID      string
	Rule        model.TransferRule
	Message     string // caller-supplied override of Rule.WhisperText, may be empty
	Summary     TicketSummary
}

// Manager drives one call's transfer attempts. It owns no concurrency of
// its own beyond what Dialer/PresenceProber/TicketClient already provide;
// RealtimeSession calls Execute synchronously from its own goroutine and
// reacts to the Outcome.
type Manager struct {
	dialer  Dialer
	prober  PresenceProber
	cache   PresenceCache
	tickets *TicketClient
	clock   Clock

	retriesRemaining int // starts at 1 per Manager and is never reset, mirroring statemachine's budget
}

// NewManager constructs a Manager. cache may be nil to disable presence
// caching (every check hits the prober). tickets may be nil if no backend
// webhook is configured, in which case ticket fallback skips the POST and
// returns an empty Outcome.TicketID.
func NewManager(dialer Dialer, prober PresenceProber, cache PresenceCache, tickets *TicketClient) *Manager {
	return &Manager{
		dialer:           dialer,
		prober:           prober,
		cache:            cache,
		tickets:          tickets,
		clock:            time.Now,
		retriesRemaining: 1,
	}
}

// WithClock overrides the time source; used by tests.
func (m *Manager) WithClock(c Clock) *Manager {
	m.clock = c
	return m
}

// Execute runs the full announced-transfer algorithm for req and returns
// its terminal Outcome. It never returns an error for an expected
// transfer failure — those are reported via Outcome.Reason — only for
// conditions the caller cannot recover from (e.g. a cancelled context).
func (m *Manager) Execute(ctx context.Context, req Request) (Outcome, error) {
	online, err := m.checkPresence(ctx, req.TenantID, req.Rule.Destination)
	if err != nil {
		return Outcome{}, fmt.Errorf("transfer: presence check: %w", err)
	}
	if !online {
		return m.fail(ctx, req, ReasonOffline)
	}

	if !m.withinWorkingHours(req.Rule.BusinessHours) {
		reason := ReasonAfterHours
		return m.fail(ctx, req, reason)
	}

	return m.dialAnnounceBridge(ctx, req)
}

func (m *Manager) checkPresence(ctx context.Context, tenant model.TenantId, destination string) (bool, error) {
	if m.cache != nil {
		if online, ok := m.cache.Get(tenant, destination); ok {
			return online, nil
		}
	}
	online, err := m.prober.Probe(ctx, tenant, destination)
	if err != nil {
		return false, err
	}
	if m.cache != nil {
		m.cache.Set(tenant, destination, online, presenceCacheTTL)
	}
	return online, nil
}

func (m *Manager) withinWorkingHours(window *model.HoursWindow) bool {
	if window == nil {
		return true
	}
	return inWindow(window, m.clock())
}

func (m *Manager) dialAnnounceBridge(ctx context.Context, req Request) (Outcome, error) {
	legID, err := m.dialer.Originate(ctx, req.Rule.Destination, req.Rule.RingTimeout)
	if err != nil {
		return m.onTrackFailure(ctx, req, ReasonDialFailed)
	}

	whisper := req.Message
	if whisper == "" {
		whisper = req.Rule.WhisperText
	}
	if whisper != "" {
		if err := m.dialer.Announce(ctx, legID, whisper); err != nil {
			_ = m.dialer.Hangup(ctx, legID, "NORMAL_CLEARING")
			return m.onTrackFailure(ctx, req, ReasonBridgeFailed)
		}
	}

	if err := m.dialer.Bridge(ctx, req.ALegID, legID); err != nil {
		_ = m.dialer.Hangup(ctx, legID, "NORMAL_CLEARING")
		return m.onTrackFailure(ctx, req, ReasonBridgeFailed)
	}

	return Outcome{Bridged: true, BLegID: legID}, nil
}

// onTrackFailure implements step 8: one retry on the same destination,
// then ticket fallback.
func (m *Manager) onTrackFailure(ctx context.Context, req Request, reason FailureReason) (Outcome, error) {
	if m.retriesRemaining > 0 {
		m.retriesRemaining--
		return m.dialAnnounceBridge(ctx, req)
	}
	return m.fail(ctx, req, reason)
}

func (m *Manager) fail(ctx context.Context, req Request, reason FailureReason) (Outcome, error) {
	ticketID := ""
	if m.tickets != nil {
		id, err := m.tickets.FileTicket(ctx, req, reason)
		if err == nil {
			ticketID = id
		}
		// A failed ticket POST does not escalate the transfer failure into
		// an Execute error: the call still ends gracefully, just without a
		// ticket on file. The caller logs this separately.
	}
	return Outcome{Bridged: false, Reason: reason, TicketID: ticketID}, nil
}
