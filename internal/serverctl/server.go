// Package serverctl is the process's external surface: the switch-facing
// audio WebSocket listeners and the chi-routed admin/health HTTP API.
// Grounded on internal/httpapi.Server (constructor-injected
// collaborators, a chi.Router built in one method, a same-origin
// WebSocket upgrader), generalized from one browser-facing session
// socket to the two switch-facing call sockets this bridge exposes.
package serverctl

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/voicebridge/corebridge/internal/config"
	"github.com/voicebridge/corebridge/internal/observability"
	"github.com/voicebridge/corebridge/internal/store"
	"github.com/voicebridge/corebridge/internal/transfer"
)

// Server bundles every collaborator a per-call RealtimeSession needs and
// hands them out as connections arrive.
type Server struct {
	appConfig config.Config
	tenants   TenantResolver
	registry  *CallRegistry

	dialer  transfer.Dialer
	prober  transfer.PresenceProber
	cache   transfer.PresenceCache
	tickets *transfer.TicketClient
	store   store.Store
	metrics *observability.Metrics

	upgrader websocket.Upgrader
}

// New constructs a Server. dialer/prober may be the same *switchctl.Client
// value, since that type implements both roles over one control-socket
// connection.
func New(
	appConfig config.Config,
	tenants TenantResolver,
	registry *CallRegistry,
	dialer transfer.Dialer,
	prober transfer.PresenceProber,
	cache transfer.PresenceCache,
	tickets *transfer.TicketClient,
	st store.Store,
	metrics *observability.Metrics,
) *Server {
	return &Server{
		appConfig: appConfig,
		tenants:   tenants,
		registry:  registry,
		dialer:    dialer,
		prober:    prober,
		cache:     cache,
		tickets:   tickets,
		store:     st,
		metrics:   metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// The switch connects as a backend peer, not a browser;
				// Origin is normally absent. Mirrors httpapi's same-origin
				// check for the one case it is present.
				if appConfig.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				return origin == ""
			},
		},
	}
}

// AudioRouter serves the A-leg audio socket, bound to
// Config.SwitchAudioPort.
func (s *Server) AudioRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/stream/{tenant_id}/{call_id}", s.handleAudioStream)
	return r
}

// TransferAudioRouter serves the announced-transfer B-leg socket, bound
// to Config.SwitchTransferPort.
func (s *Server) TransferAudioRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/stream/{tenant_id}/{call_id}", s.handleTransferAudioStream)
	return r
}

// Router serves the admin/health HTTP API (bound to Config.BindAddr).
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/calls", s.handleListCalls)
	r.Get("/v1/calls/{id}", s.handleGetCall)
	r.Get("/v1/calls/{id}/stage-latency", s.handleCallStageLatency)
	r.Get("/v1/presence/{tenant}/{destination}", s.handlePresence)

	return r
}
