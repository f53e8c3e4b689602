package transfer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/voicebridge/corebridge/internal/model"
)

type fakeProber struct {
	online bool
	err    error
	calls  int
}

func (f *fakeProber) Probe(ctx context.Context, tenant model.TenantId, destination string) (bool, error) {
	f.calls++
	return f.online, f.err
}

type fakeDialer struct {
	originateErr error
	announceErr  error
	bridgeErr    error
	originateN   int
}

func (f *fakeDialer) Originate(ctx context.Context, destination string, ringTimeout time.Duration) (string, error) {
	f.originateN++
	if f.originateErr != nil {
		return "", f.originateErr
	}
	return "b-leg-1", nil
}
func (f *fakeDialer) Announce(ctx context.Context, legID, text string) error { return f.announceErr }
func (f *fakeDialer) Bridge(ctx context.Context, aLegID, bLegID string) error { return f.bridgeErr }
func (f *fakeDialer) Hangup(ctx context.Context, legID, cause string) error   { return nil }

func baseRequest() Request {
	return Request{
		CallID:   "call-1",
		TenantID: "tenant-a",
		ALegID:   "a-leg-1",
		Rule: model.TransferRule{
			Destination: "1004",
			WhisperText: "transferindo chamada",
			RingTimeout: 25 * time.Second,
		},
	}
}

func TestExecuteTransferSucceeds(t *testing.T) {
	prober := &fakeProber{online: true}
	dialer := &fakeDialer{}
	m := NewManager(dialer, prober, NewInProcessPresenceCache(), nil)

	out, err := m.Execute(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.Bridged {
		t.Fatalf("expected Bridged=true, got reason %q", out.Reason)
	}
	if out.BLegID != "b-leg-1" {
		t.Fatalf("BLegID = %q, want b-leg-1", out.BLegID)
	}
}

func TestExecuteOfflineDestinationFilesTicket(t *testing.T) {
	var posts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts++
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ticket_id":"tk-1"}`))
	}))
	defer srv.Close()

	prober := &fakeProber{online: false}
	dialer := &fakeDialer{}
	tickets := NewTicketClient(srv.URL, "tok")
	m := NewManager(dialer, prober, NewInProcessPresenceCache(), tickets)

	out, err := m.Execute(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Bridged {
		t.Fatal("expected Bridged=false for an offline destination")
	}
	if out.Reason != ReasonOffline {
		t.Fatalf("Reason = %q, want offline", out.Reason)
	}
	if out.TicketID != "tk-1" {
		t.Fatalf("TicketID = %q, want tk-1", out.TicketID)
	}
	if dialer.originateN != 0 {
		t.Fatal("expected no dial attempt for an offline destination")
	}
	if posts != 1 {
		t.Fatalf("expected exactly one ticket POST, got %d", posts)
	}
}

func TestExecuteAfterHoursSkipsDial(t *testing.T) {
	prober := &fakeProber{online: true}
	dialer := &fakeDialer{}
	m := NewManager(dialer, prober, NewInProcessPresenceCache(), nil).
		WithClock(func() time.Time { return time.Date(2026, 7, 31, 22, 0, 0, 0, time.UTC) })

	req := baseRequest()
	req.Rule.BusinessHours = &model.HoursWindow{StartMinute: 9 * 60, EndMinute: 18 * 60}

	out, err := m.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Reason != ReasonAfterHours {
		t.Fatalf("Reason = %q, want after_hours", out.Reason)
	}
	if dialer.originateN != 0 {
		t.Fatal("expected no dial attempt after hours")
	}
}

func TestExecuteRetriesOnceThenTicketFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ticket_id":"tk-2"}`))
	}))
	defer srv.Close()

	prober := &fakeProber{online: true}
	dialer := &fakeDialer{originateErr: errors.New("no answer")}
	tickets := NewTicketClient(srv.URL, "tok")
	m := NewManager(dialer, prober, NewInProcessPresenceCache(), tickets)

	out, err := m.Execute(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Bridged {
		t.Fatal("expected failure after exhausting the retry budget")
	}
	if out.Reason != ReasonDialFailed {
		t.Fatalf("Reason = %q, want dial_failed", out.Reason)
	}
	if dialer.originateN != 2 {
		t.Fatalf("originateN = %d, want 2 (one retry)", dialer.originateN)
	}
	if out.TicketID != "tk-2" {
		t.Fatalf("TicketID = %q, want tk-2", out.TicketID)
	}
}

func TestExecutePresenceCacheAvoidsSecondProbe(t *testing.T) {
	prober := &fakeProber{online: true}
	dialer := &fakeDialer{}
	cache := NewInProcessPresenceCache()
	m := NewManager(dialer, prober, cache, nil)

	if _, err := m.Execute(context.Background(), baseRequest()); err != nil {
		t.Fatalf("Execute 1: %v", err)
	}
	if _, err := m.Execute(context.Background(), baseRequest()); err != nil {
		t.Fatalf("Execute 2: %v", err)
	}
	if prober.calls != 1 {
		t.Fatalf("prober.calls = %d, want 1 (second hit cache)", prober.calls)
	}
}
