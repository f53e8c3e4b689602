// Package store persists a completed call's transcript and outcome once
// RealtimeSession tears down. Grounded on internal/memory: the same
// Store interface shape and NewStore(ctx, databaseURL) postgres-or-in-
// memory factory, repurposed from per-user chat memory to per-call
// transcript archival.
package store

import (
	"context"
	"time"

	"github.com/voicebridge/corebridge/internal/model"
)

// CallRecord is one completed call's archival record.
type CallRecord struct {
	CallID      model.CallId
	TenantID    model.TenantId
	Provider    model.ProviderKind
	Language    string
	StartedAt   time.Time
	EndedAt     time.Time
	EndState    model.CallState
	Outcome     string // the session's end reason: "transferred", "transfer_failed", "caller_hangup", "heartbeat_timeout", ...
	Turns       []model.Turn
}

// Store persists call records. RealtimeSession calls SaveCall exactly
// once, on teardown.
type Store interface {
	SaveCall(ctx context.Context, record CallRecord) error
	Close() error
}
