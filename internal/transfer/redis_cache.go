package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/voicebridge/corebridge/internal/model"
)

// RedisPresenceCache backs the same PresenceCache interface with a shared
// Redis instance, for deployments running more than one voicebridged
// process against the same tenant domain — the one piece of
// cross-instance shared state the transfer flow needs. Grounded on
// memory/stores/redis.MessageStore's Config{Client *redis.Client}
// injection and its context-bound client calls; presence needs none of
// that store's sorted-set ordering, only SetEx/Get keyed by string.
type RedisPresenceCache struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisPresenceCache wraps an already-constructed client. Callers are
// responsible for the client's lifecycle (Close on shutdown).
func NewRedisPresenceCache(client *redis.Client) *RedisPresenceCache {
	return &RedisPresenceCache{client: client, keyPrefix: "voicebridge:presence:"}
}

func (c *RedisPresenceCache) redisKey(tenant model.TenantId, destination string) string {
	return fmt.Sprintf("%s%s:%s", c.keyPrefix, tenant, destination)
}

// Get satisfies PresenceCache. Redis I/O errors are treated as a cache
// miss rather than surfaced — a transient Redis outage must never block
// a transfer, it only means the prober is consulted more often.
func (c *RedisPresenceCache) Get(tenant model.TenantId, destination string) (bool, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	v, err := c.client.Get(ctx, c.redisKey(tenant, destination)).Result()
	if err != nil {
		return false, false
	}
	return v == "1", true
}

func (c *RedisPresenceCache) Set(tenant model.TenantId, destination string, online bool, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	v := "0"
	if online {
		v = "1"
	}
	_ = c.client.Set(ctx, c.redisKey(tenant, destination), v, ttl).Err()
}
