package store

import (
	"context"
	"strings"
)

// NewStore builds a postgres-backed store when databaseURL is set,
// otherwise an in-memory one suitable for tests and single-node
// deployments without a database.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
