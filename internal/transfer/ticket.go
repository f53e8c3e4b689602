package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"github.com/voicebridge/corebridge/internal/model"
)

const ticketWebhookPath = "/api/tickets/realtime-handoff"

// TranscriptEntry is one line of the transcript carried in a ticket POST.
type TranscriptEntry struct {
	Role        string `json:"role"`
	Text        string `json:"text"`
	TimestampMS int64  `json:"timestamp_ms"`
}

// TicketSummary carries everything about the call that the ticket body
// needs beyond the failure reason, which Manager supplies separately.
type TicketSummary struct {
	CallerID        string
	Transcript      []TranscriptEntry
	Provider        model.ProviderKind
	Language        string
	DurationSeconds int
	Turns           int
	SecretaryUUID   string
	Domain          string
	RecordingURL    string
	AttachRecording bool
}

type ticketRequestBody struct {
	CallUUID        string            `json:"call_uuid"`
	CallerID        string            `json:"caller_id"`
	Transcript      []TranscriptEntry `json:"transcript"`
	Summary         string            `json:"summary"`
	Provider        string            `json:"provider"`
	Language        string            `json:"language"`
	DurationSeconds int               `json:"duration_seconds"`
	Turns           int               `json:"turns"`
	HandoffReason   string            `json:"handoff_reason"`
	SecretaryUUID   string            `json:"secretary_uuid"`
	Domain          string            `json:"domain"`
	RecordingURL    string            `json:"recording_url,omitempty"`
	AttachRecording bool              `json:"attach_recording"`
}

type ticketResponseBody struct {
	TicketID string `json:"ticket_id"`
}

// TicketClient POSTs the ticket-fallback webhook used when a transfer
// cannot complete, grounded on openclaw.HTTPAdapter.StreamResponse's
// request construction
// and status-range validation, wrapped in the same gobreaker used for
// provider reconnects so a down backend fails fast instead of
// retry-storming every failed transfer.
type TicketClient struct {
	baseURL string
	token   string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*ticketResponseBody]
}

// NewTicketClient constructs a client against backendURL, authenticating
// with token as a bearer token. backendURL is the bare origin, e.g.
// "https://backend.example.com" — ticketWebhookPath is appended.
func NewTicketClient(backendURL, token string) *TicketClient {
	settings := gobreaker.Settings{
		Name:        "ticket-webhook",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &TicketClient{
		baseURL: strings.TrimSuffix(backendURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: gobreaker.NewCircuitBreaker[*ticketResponseBody](settings),
	}
}

// handoffReasonString renders reason in the backend's category:subreason
// convention. Presence failure is the one case spec.md's scenario 4 spells
// out literally ("extension_offline:not_registered" — the only subreason
// PresenceProber currently distinguishes); the other FailureReason values
// are themselves already the specific reason token spec.md §4.7 names, so
// they pass through bare.
func handoffReasonString(reason FailureReason) string {
	if reason == ReasonOffline {
		return "extension_offline:not_registered"
	}
	return string(reason)
}

// FileTicket POSTs a ticket for req, tagged with reason as the
// handoff_reason, and returns the backend-assigned ticket ID.
func (c *TicketClient) FileTicket(ctx context.Context, req Request, reason FailureReason) (string, error) {
	resp, err := c.breaker.Execute(func() (*ticketResponseBody, error) {
		return c.post(ctx, req, reason)
	})
	if err != nil {
		return "", err
	}
	return resp.TicketID, nil
}

func (c *TicketClient) post(ctx context.Context, req Request, reason FailureReason) (*ticketResponseBody, error) {
	body := ticketRequestBody{
		CallUUID:        string(req.CallID),
		CallerID:        req.Summary.CallerID,
		Transcript:      req.Summary.Transcript,
		Summary:         summarize(req.Summary.Transcript),
		Provider:        string(req.Summary.Provider),
		Language:        req.Summary.Language,
		DurationSeconds: req.Summary.DurationSeconds,
		Turns:           req.Summary.Turns,
		HandoffReason:   handoffReasonString(reason),
		SecretaryUUID:   req.Summary.SecretaryUUID,
		Domain:          req.Summary.Domain,
		RecordingURL:    req.Summary.RecordingURL,
		AttachRecording: req.Summary.AttachRecording,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("transfer: marshal ticket body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ticketWebhookPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("transfer: build ticket request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	// A fresh key is generated for every POST; neither FileTicket nor the
	// breaker re-sends a request, so no two POSTs share a key.
	httpReq.Header.Set("Idempotency-Key", uuid.NewString())

	res, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("transfer: ticket webhook request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, fmt.Errorf("transfer: ticket webhook status %d: %s", res.StatusCode, string(respBody))
	}

	var out ticketResponseBody
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("transfer: decode ticket response: %w", err)
	}
	return &out, nil
}

// summarize builds the ticket's short description: the tail 100
// characters of the last user turn, prefixed with the turn count.
func summarize(transcript []TranscriptEntry) string {
	lastUser := ""
	turnCount := 0
	for _, e := range transcript {
		if e.Role == "user" {
			turnCount++
			lastUser = e.Text
		}
	}
	tail := lastUser
	if len(tail) > 100 {
		tail = tail[len(tail)-100:]
	}
	return fmt.Sprintf("%d turns: %s", turnCount, tail)
}
