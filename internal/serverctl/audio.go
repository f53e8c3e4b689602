package serverctl

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/voicebridge/corebridge/internal/model"
	"github.com/voicebridge/corebridge/internal/provider"
	"github.com/voicebridge/corebridge/internal/session"
)

const wsReadDeadline = 2 * time.Minute

// controlFrame is the inbound switch->bridge text-frame shape: metadata
// on connect, dtmf on keypress, hangup on caller drop.
type controlFrame struct {
	Type        string `json:"type"`
	CallerID    string `json:"caller_id"`
	Destination string `json:"destination"`
	TenantID    string `json:"tenant_id"`
	CallID      string `json:"call_id"`
	Digit       string `json:"digit"`
	Reason      string `json:"reason"`
}

// handleAudioStream implements the A-leg switch<->bridge audio socket:
// ws://host:8085/stream/{tenant_id}/{call_id}. Grounded on
// httpapi.handleSessionWS (upgrade, read loop driving the orchestrator,
// cancellation on disconnect), adapted from one JSON-framed duplex
// channel to a mixed binary-audio/text-control protocol.
func (s *Server) handleAudioStream(w http.ResponseWriter, r *http.Request) {
	tenantID := model.TenantId(chi.URLParam(r, "tenant_id"))
	callID := model.CallId(chi.URLParam(r, "call_id"))

	cfg, err := s.tenants.Resolve(tenantID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	adapter, err := provider.New(cfg.Provider, &s.appConfig)
	if err != nil {
		log.Printf("serverctl: provider init for tenant %s: %v", tenantID, err)
		_ = conn.WriteJSON(controlFrame{Type: "hangup", Reason: "provider_unavailable"})
		return
	}

	transport := newWSTransport(conn)
	sess := session.New(session.Params{
		CallID:        callID,
		TenantID:      tenantID,
		Config:        cfg,
		ALegID:        string(callID),
		Adapter:       adapter,
		Transport:     transport,
		Dialer:        s.dialer,
		Prober:        s.prober,
		PresenceCache: s.cache,
		Tickets:       s.tickets,
		Store:         s.store,
		Metrics:       s.metrics,
	})

	s.registry.Register(callID, sess)
	defer s.registry.Unregister(callID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := sess.Start(ctx); err != nil {
		log.Printf("serverctl: session start for call %s: %v", callID, err)
		return
	}
	if s.metrics != nil {
		s.metrics.ActiveCalls.Inc()
		defer s.metrics.ActiveCalls.Dec()
	}

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		switch msgType {
		case websocket.BinaryMessage:
			sess.HandleInboundAudio(data)
		case websocket.TextMessage:
			s.handleControlFrame(sess, data)
		}
	}

	sess.End("switch_disconnected")
	<-sess.Done()
}

func (s *Server) handleControlFrame(sess *session.RealtimeSession, data []byte) {
	var frame controlFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return
	}
	switch strings.ToLower(frame.Type) {
	case "dtmf":
		sess.HandleDTMF(frame.Digit)
	case "hangup":
		sess.End("caller_hangup")
	}
}

// handleTransferAudioStream accepts the announced-transfer B-leg socket
// (:8086). The whisper announcement itself is played
// switch-side via uuid_broadcast tts:// (internal/switchctl.Announce),
// so this connection carries no audio this implementation needs to act
// on; it is accepted and held open for the switch module's own bridging
// needs. It is closed when the peer disconnects or, since the read
// deadline is set once and never extended, wsReadDeadline after accept.
func (s *Server) handleTransferAudioStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
