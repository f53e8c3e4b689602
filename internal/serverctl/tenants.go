package serverctl

import (
	"fmt"

	"github.com/voicebridge/corebridge/internal/model"
)

// TenantResolver resolves a tenant_id path segment to the SecretaryConfig
// governing that call. Multi-tenant config storage (database-backed,
// hot-reloadable) is outside this package's scope — the per-call config
// shape is well defined but where it lives in a real deployment is not,
// so the only implementation here is a static, in-process map, populated
// at startup from whatever source cmd/voicebridged chooses to read.
type TenantResolver interface {
	Resolve(tenantID model.TenantId) (model.SecretaryConfig, error)
}

// StaticTenantResolver serves a fixed set of configs loaded once at
// startup. Safe for concurrent reads (the map is never mutated after
// construction).
type StaticTenantResolver struct {
	configs map[model.TenantId]model.SecretaryConfig
}

func NewStaticTenantResolver(configs map[model.TenantId]model.SecretaryConfig) *StaticTenantResolver {
	cp := make(map[model.TenantId]model.SecretaryConfig, len(configs))
	for k, v := range configs {
		cp[k] = v.Snapshot()
	}
	return &StaticTenantResolver{configs: cp}
}

func (r *StaticTenantResolver) Resolve(tenantID model.TenantId) (model.SecretaryConfig, error) {
	cfg, ok := r.configs[tenantID]
	if !ok {
		return model.SecretaryConfig{}, fmt.Errorf("serverctl: no secretary configured for tenant %q", tenantID)
	}
	return cfg, nil
}

var _ TenantResolver = (*StaticTenantResolver)(nil)
