package session

import (
	"context"
	"fmt"
	"time"

	"github.com/voicebridge/corebridge/internal/model"
	"github.com/voicebridge/corebridge/internal/transfer"
)

// FunctionHandler implements one entry of the call's function registry
// (currently transfer_call, create_ticket, lookup_customer).
// Its result is not currently relayed back into the provider's
// conversation: none of the three vendor wire protocols' function-result
// framing is part of provider.Adapter's unified Event envelope, and the
// two built-in handlers both end the call's interaction with the
// provider anyway (transfer bridges the caller away; a ticket is a
// side-channel record). lookup_customer is the one built-in gap this
// would affect, which is why it is left as an injection point rather
// than implemented here.
type FunctionHandler func(ctx context.Context, s *RealtimeSession, args map[string]any) (map[string]any, error)

func buildFunctionRegistry(extra map[string]FunctionHandler) map[string]FunctionHandler {
	reg := map[string]FunctionHandler{
		"transfer_call":   transferCallFunction,
		"create_ticket":   createTicketFunction,
		"lookup_customer": lookupCustomerFunction,
	}
	for name, fn := range extra {
		if fn != nil {
			reg[name] = fn
		}
	}
	return reg
}

// transferCallFunction turns a provider function call into a
// TRANSFER_REQUESTED event; handleTransferRequested does the actual work.
func transferCallFunction(_ context.Context, s *RealtimeSession, args map[string]any) (map[string]any, error) {
	payload := model.TransferRequestedPayload{
		Destination: stringArg(args, "destination"),
		Department:  stringArg(args, "department"),
		Message:     stringArg(args, "message"),
	}
	s.bus.Emit(model.VoiceEvent{
		Kind: model.EventTransferRequested, CallID: s.callID, TenantID: s.tenantID, At: s.clock(),
		Data: payload,
	})
	return map[string]any{"status": "requested"}, nil
}

// createTicketFunction files a ticket directly, without attempting a
// transfer — the same ticket-fallback path as a failed dial, invoked
// here on the assistant's own initiative rather than after one.
func createTicketFunction(ctx context.Context, s *RealtimeSession, args map[string]any) (map[string]any, error) {
	if s.tickets == nil {
		return nil, fmt.Errorf("session: create_ticket: no ticket backend configured")
	}
	req := transfer.Request{
		CallID:   s.callID,
		TenantID: s.tenantID,
		ALegID:   s.aLegID,
		Summary:  s.buildTicketSummary(),
	}
	reason := transfer.FailureReason(stringArg(args, "reason"))
	if reason == "" {
		reason = "agent_requested"
	}
	ticketID, err := s.tickets.FileTicket(ctx, req, reason)
	if err != nil {
		return nil, fmt.Errorf("session: create_ticket: %w", err)
	}
	s.bus.Emit(model.VoiceEvent{Kind: model.EventTicketFiled, CallID: s.callID, TenantID: s.tenantID, At: s.clock(), Data: ticketID})
	return map[string]any{"ticket_id": ticketID}, nil
}

// lookupCustomerFunction is the default handler for lookup_customer: no
// CRM integration is defined, so it reports itself unconfigured rather
// than silently returning nothing. Tenants that need it supply a real
// implementation via Params.Functions.
func lookupCustomerFunction(context.Context, *RealtimeSession, map[string]any) (map[string]any, error) {
	return nil, fmt.Errorf("session: lookup_customer: not configured for this tenant")
}

func stringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// resolveTransferRule matches a TRANSFER_REQUESTED payload against the
// call's configured rules: by department name first, falling back to an
// exact destination match.
func (s *RealtimeSession) resolveTransferRule(payload model.TransferRequestedPayload) (model.TransferRule, bool) {
	for _, rule := range s.cfg.TransferRules {
		if payload.Department != "" && rule.Name == payload.Department {
			return rule, true
		}
	}
	for _, rule := range s.cfg.TransferRules {
		if payload.Destination != "" && rule.Destination == payload.Destination {
			return rule, true
		}
	}
	return model.TransferRule{}, false
}

// buildTicketSummary snapshots the call so far for the ticket-fallback
// webhook body.
func (s *RealtimeSession) buildTicketSummary() transfer.TicketSummary {
	s.mu.Lock()
	turns := make([]model.Turn, len(s.turns))
	copy(turns, s.turns)
	s.mu.Unlock()

	entries := make([]transfer.TranscriptEntry, 0, len(turns)*2)
	for _, t := range turns {
		if t.UserText != "" {
			entries = append(entries, transfer.TranscriptEntry{Role: "user", Text: t.UserText, TimestampMS: t.StartedAt.UnixMilli()})
		}
		if t.AssistantText != "" {
			entries = append(entries, transfer.TranscriptEntry{Role: "assistant", Text: t.AssistantText, TimestampMS: t.EndedAt.UnixMilli()})
		}
	}

	duration := s.clock().Sub(s.startedAt)
	return transfer.TicketSummary{
		Transcript:      entries,
		Provider:        s.cfg.Provider,
		Language:        s.cfg.Language,
		DurationSeconds: int(duration / time.Second),
		Turns:           len(turns),
		SecretaryUUID:   string(s.tenantID),
		RecordingURL:    s.cfg.RecordingURL,
		AttachRecording: s.cfg.RecordingEnabled,
	}
}
