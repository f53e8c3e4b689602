package serverctl

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/voicebridge/corebridge/internal/model"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"active_calls": s.registry.Count(),
	})
}

type callSummary struct {
	CallID model.CallId    `json:"call_id"`
	State  model.CallState `json:"state"`
}

func (s *Server) handleListCalls(w http.ResponseWriter, _ *http.Request) {
	ids := s.registry.List()
	out := make([]callSummary, 0, len(ids))
	for _, id := range ids {
		sess, ok := s.registry.Get(id)
		if !ok {
			continue
		}
		out = append(out, callSummary{CallID: id, State: sess.State()})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	id := model.CallId(chi.URLParam(r, "id"))
	sess, ok := s.registry.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "call not found")
		return
	}
	respondJSON(w, http.StatusOK, callSummary{CallID: id, State: sess.State()})
}

func (s *Server) handleCallStageLatency(w http.ResponseWriter, r *http.Request) {
	id := model.CallId(chi.URLParam(r, "id"))
	if _, ok := s.registry.Get(id); !ok {
		respondError(w, http.StatusNotFound, "call not found")
		return
	}
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.SnapshotCallStages())
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	tenant := model.TenantId(chi.URLParam(r, "tenant"))
	destination := chi.URLParam(r, "destination")

	if online, ok := s.cache.Get(tenant, destination); ok {
		respondJSON(w, http.StatusOK, map[string]any{"destination": destination, "online": online, "cached": true})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	online, err := s.prober.Probe(ctx, tenant, destination)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"destination": destination, "online": online, "cached": false})
}
