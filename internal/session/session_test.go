package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/voicebridge/corebridge/internal/model"
	"github.com/voicebridge/corebridge/internal/provider"
	"github.com/voicebridge/corebridge/internal/store"
	"github.com/voicebridge/corebridge/internal/transfer"
)

type fakeTransport struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (t *fakeTransport) SendAudio(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames = append(t.frames, frame)
	return nil
}

func (t *fakeTransport) SendControl(any) error { return nil }

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

type fakeDialer struct {
	originateErr error
	bridgeErr    error
}

func (d *fakeDialer) Originate(context.Context, string, time.Duration) (string, error) {
	if d.originateErr != nil {
		return "", d.originateErr
	}
	return "b-leg-1", nil
}
func (d *fakeDialer) Announce(context.Context, string, string) error { return nil }
func (d *fakeDialer) Bridge(context.Context, string, string) error   { return d.bridgeErr }
func (d *fakeDialer) Hangup(context.Context, string, string) error   { return nil }

type fakeProber struct{ online bool }

func (p *fakeProber) Probe(context.Context, model.TenantId, string) (bool, error) {
	return p.online, nil
}

func testConfig() model.SecretaryConfig {
	return model.SecretaryConfig{
		TenantID:        "tenant-a",
		Greeting:        "hello there",
		SystemPrompt:    "be helpful",
		VoiceID:         "alloy",
		Provider:        model.ProviderMock,
		AudioFormat:     model.AudioFormatPCM16,
		VADThreshold:    0.5,
		SilenceDuration: 700 * time.Millisecond,
		MaxDuration:     time.Minute,
		Language:        "en",
	}
}

func newTestSession(t *testing.T, mutate func(*Params)) (*RealtimeSession, *provider.MockAdapter, *fakeTransport, *store.InMemoryStore) {
	t.Helper()
	adapter := provider.NewMockAdapter()
	transport := &fakeTransport{}
	st := store.NewInMemoryStore()

	p := Params{
		CallID:    "call-1",
		TenantID:  "tenant-a",
		Config:    testConfig(),
		ALegID:    "a-leg-1",
		Adapter:   adapter,
		Transport: transport,
		Store:     st,
	}
	if mutate != nil {
		mutate(&p)
	}
	s := New(p)
	return s, adapter, transport, st
}

func TestStartReachesSpeakingAfterGreet(t *testing.T) {
	s, _, _, _ := newTestSession(t, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.State() != model.StateSpeaking {
		t.Fatalf("state = %v, want SPEAKING", s.State())
	}
}

func TestCommitUserTurnProducesAndPersistsATurn(t *testing.T) {
	s, adapter, _, st := newTestSession(t, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	_ = adapter.CommitUserTurn() // mock synthesizes text+audio+done synchronously

	if s.State() != model.StateListening {
		t.Fatalf("state = %v, want LISTENING", s.State())
	}

	s.End("test_done")
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("teardown did not complete")
	}

	rec, ok := st.Get("call-1")
	if !ok {
		t.Fatal("expected a persisted call record")
	}
	if len(rec.Turns) != 1 || rec.Turns[0].AssistantText != "mock response" {
		t.Fatalf("turns = %+v", rec.Turns)
	}
}

func TestMaxTurnsEndsTheCall(t *testing.T) {
	s, adapter, _, st := newTestSession(t, func(p *Params) {
		p.Config.MaxTurns = 1
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	_ = adapter.CommitUserTurn()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("expected max-turns to end the call")
	}

	rec, _ := st.Get("call-1")
	if rec.Outcome != "max_turns_reached" {
		t.Fatalf("outcome = %q", rec.Outcome)
	}
}

func TestTransferRequestedBridgesAndEndsTheCall(t *testing.T) {
	s, _, _, st := newTestSession(t, func(p *Params) {
		p.Config.TransferRules = []model.TransferRule{{Name: "sales", Destination: "2000", RingTimeout: time.Second}}
		p.Dialer = &fakeDialer{}
		p.Prober = &fakeProber{online: true}
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	s.handleTransferRequested(model.VoiceEvent{
		Data: model.TransferRequestedPayload{Department: "sales"},
	})

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected transfer completion to end the call")
	}

	rec, _ := st.Get("call-1")
	if rec.Outcome != "transferred" {
		t.Fatalf("outcome = %q", rec.Outcome)
	}
}

func TestTransferRequestedOfflineFallsBackToTicket(t *testing.T) {
	var posted bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posted = true
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"ticket_id": "tk-9"})
	}))
	defer srv.Close()

	tickets := transfer.NewTicketClient(srv.URL, "secret")
	s, _, _, _ := newTestSession(t, func(p *Params) {
		p.Config.TransferRules = []model.TransferRule{{Name: "sales", Destination: "2000"}}
		p.Dialer = &fakeDialer{}
		p.Prober = &fakeProber{online: false}
		p.Tickets = tickets
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	s.handleTransferRequested(model.VoiceEvent{
		Data: model.TransferRequestedPayload{Department: "sales"},
	})

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected ticket fallback to end the call")
	}

	if !posted {
		t.Fatal("expected ticket webhook to be called")
	}
	if s.State() != model.StateEnded {
		t.Fatalf("state = %v, want ENDED (transfer.Manager already exhausted its retry)", s.State())
	}
}

func TestCreateTicketFunction(t *testing.T) {
	var decoded map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&decoded)
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"ticket_id": "tk-1"})
	}))
	defer srv.Close()

	s, _, _, _ := newTestSession(t, func(p *Params) {
		p.Tickets = transfer.NewTicketClient(srv.URL, "secret")
	})

	result, err := createTicketFunction(context.Background(), s, map[string]any{"reason": "caller asked"})
	if err != nil {
		t.Fatalf("createTicketFunction: %v", err)
	}
	if result["ticket_id"] != "tk-1" {
		t.Fatalf("result = %+v", result)
	}
	if decoded["handoff_reason"] != "caller asked" {
		t.Fatalf("handoff_reason = %v", decoded["handoff_reason"])
	}
}

func TestLookupCustomerUnconfiguredByDefault(t *testing.T) {
	s, _, _, _ := newTestSession(t, nil)
	if _, err := s.functions["lookup_customer"](context.Background(), s, nil); err == nil {
		t.Fatal("expected an error for an unconfigured lookup_customer")
	}
}

func TestOutboundLoopDeliversFramesToTransport(t *testing.T) {
	s, adapter, transport, _ := newTestSession(t, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = adapter.CommitUserTurn()

	deadline := time.After(2 * time.Second)
	for {
		transport.mu.Lock()
		n := len(transport.frames)
		transport.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected at least one outbound frame to reach the transport")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
