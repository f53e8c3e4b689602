package serverctl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicebridge/corebridge/internal/config"
	"github.com/voicebridge/corebridge/internal/model"
	"github.com/voicebridge/corebridge/internal/observability"
	"github.com/voicebridge/corebridge/internal/store"
	"github.com/voicebridge/corebridge/internal/transfer"
)

type fakeCache struct{}

func (fakeCache) Get(model.TenantId, string) (bool, bool)         { return false, false }
func (fakeCache) Set(model.TenantId, string, bool, time.Duration) {}

type fakeProber struct{ online bool }

func (p fakeProber) Probe(context.Context, model.TenantId, string) (bool, error) {
	return p.online, nil
}

func newTestServer(t *testing.T) (*Server, *CallRegistry) {
	t.Helper()
	registry := NewCallRegistry()
	tenants := NewStaticTenantResolver(map[model.TenantId]model.SecretaryConfig{
		"tenant-a": {
			TenantID:        "tenant-a",
			Greeting:        "hello",
			Provider:        model.ProviderMock,
			AudioFormat:     model.AudioFormatPCM16,
			VADThreshold:    0.5,
			SilenceDuration: 700 * time.Millisecond,
			MaxDuration:     10 * time.Second,
			Language:        "en",
		},
	})
	metrics := observability.NewMetrics("test_serverctl_" + time.Now().Format("150405.000000000"))
	s := New(config.Config{}, tenants, registry, nil, fakeProber{online: true}, fakeCache{}, nil, store.NewInMemoryStore(), metrics)
	return s, registry
}

func TestHealthAndReadyEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
}

func TestListCallsEmpty(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/v1/calls")
	if err != nil {
		t.Fatalf("GET /v1/calls: %v", err)
	}
	defer res.Body.Close()
	var out []callSummary
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no calls, got %+v", out)
	}
}

func TestPresenceEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/v1/presence/tenant-a/2000")
	if err != nil {
		t.Fatalf("GET presence: %v", err)
	}
	defer res.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["online"] != true {
		t.Fatalf("online = %v, want true", out["online"])
	}
}

func TestAudioStreamBridgesAudioAndRegistersCall(t *testing.T) {
	s, registry := newTestServer(t)
	ts := httptest.NewServer(s.AudioRouter())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stream/tenant-a/call-1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := registry.Get("call-1"); ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, ok := registry.Get("call-1"); !ok {
		t.Fatal("expected call-1 to be registered")
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 320)); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	if err := conn.WriteJSON(controlFrame{Type: "dtmf", Digit: "5"}); err != nil {
		t.Fatalf("write control frame: %v", err)
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := registry.Get("call-1"); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected call-1 to be unregistered after disconnect")
}

var _ transfer.PresenceCache = fakeCache{}
