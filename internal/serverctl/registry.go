package serverctl

import (
	"sync"

	"github.com/voicebridge/corebridge/internal/model"
	"github.com/voicebridge/corebridge/internal/session"
)

// CallRegistry tracks every RealtimeSession presently bridged on this
// process, for the admin/listing endpoints and graceful shutdown.
// Grounded on internal/session/manager.go's Manager (a mutex-guarded
// map keyed by ID with Create/Get/End), narrowed here to a registry
// over sessions this process doesn't itself construct.
type CallRegistry struct {
	mu    sync.RWMutex
	calls map[model.CallId]*session.RealtimeSession
}

func NewCallRegistry() *CallRegistry {
	return &CallRegistry{calls: make(map[model.CallId]*session.RealtimeSession)}
}

func (r *CallRegistry) Register(id model.CallId, s *session.RealtimeSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[id] = s
}

func (r *CallRegistry) Unregister(id model.CallId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calls, id)
}

func (r *CallRegistry) Get(id model.CallId) (*session.RealtimeSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.calls[id]
	return s, ok
}

func (r *CallRegistry) List() []model.CallId {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.CallId, 0, len(r.calls))
	for id := range r.calls {
		out = append(out, id)
	}
	return out
}

func (r *CallRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}
