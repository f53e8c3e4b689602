package provider

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Dialer opens a fresh underlying connection for an adapter; adapters
// pass their own connect closures through WithReconnect.Dial so the
// one-retry-then-dead policy is shared across all three vendors instead
// of reimplemented per provider.
type Dialer func(ctx context.Context) error

// WithReconnect runs dial once; on failure it waits reconnectBackoff and
// tries exactly once more. The circuit breaker sits
// around the whole sequence so that once a provider has gone dead
// repeatedly within a short window, a subsequent call doesn't spend the
// full backoff again before failing fast — grounded on
// gobreaker.CircuitBreaker as wired for other reliability-sensitive
// outbound HTTP calls in this codebase.
type WithReconnect struct {
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewWithReconnect builds a reconnect wrapper named for the provider it
// guards, used in breaker state metrics and logs.
func NewWithReconnect(name string) *WithReconnect {
	st := gobreaker.Settings{
		Name:        "provider:" + name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &WithReconnect{breaker: gobreaker.NewCircuitBreaker[struct{}](st)}
}

// Dial attempts the connection, retrying once after reconnectBackoff on
// failure, and returns ErrProviderDead if both attempts fail or the
// breaker is open.
func (w *WithReconnect) Dial(ctx context.Context, dial Dialer) error {
	_, err := w.breaker.Execute(func() (struct{}, error) {
		if err := dial(ctx); err == nil {
			return struct{}{}, nil
		} else if ctx.Err() != nil {
			return struct{}{}, err
		} else {
			select {
			case <-time.After(reconnectBackoff):
			case <-ctx.Done():
				return struct{}{}, ctx.Err()
			}
			if retryErr := dial(ctx); retryErr != nil {
				return struct{}{}, &ErrProviderDead{Cause: retryErr}
			}
			return struct{}{}, nil
		}
	})
	if err != nil {
		var dead *ErrProviderDead
		if errors.As(err, &dead) {
			return dead
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &ErrProviderDead{Cause: err}
		}
		return err
	}
	return nil
}
