// Package idempotency records which deliveries a consumer has already
// applied. Pub/Sub subscribers and provider webhooks both redeliver, so each
// handler claims the event id before touching the database and releases the
// claim when the side effect fails.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/bookswap-backend/pkg/redis"
)

// ConsumerScope namespaces outbox events handled by one subscriber.
func ConsumerScope(consumer string) string {
	return "evt:processed:" + consumer
}

// WebhookScope namespaces provider callbacks.
func WebhookScope(provider string) string {
	return "webhook:" + provider
}

// Manager claims ids within a single scope. Claims expire after ttl; a zero
// ttl keeps them until released.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
	now   func() time.Time
}

func NewManager(store redis.IdempotencyStore, ttl time.Duration, scope string) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if strings.TrimSpace(scope) == "" {
		return nil, errors.New("idempotency scope is required")
	}
	return &Manager{store: store, ttl: ttl, scope: scope, now: time.Now}, nil
}

// Claim marks id as handled. It returns false when an earlier delivery
// already holds the claim. The stored value is the claim time.
func (m *Manager) Claim(ctx context.Context, id string) (bool, error) {
	key, err := m.key(id)
	if err != nil {
		return false, err
	}
	claimed, err := m.store.SetNX(ctx, key, m.now().UTC().Format(time.RFC3339Nano), m.ttl)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return claimed, nil
}

// Release drops the claim so the next delivery is applied.
func (m *Manager) Release(ctx context.Context, id string) error {
	key, err := m.key(id)
	if err != nil {
		return err
	}
	if err := m.store.Del(ctx, key); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

// ClaimedAt returns when id was claimed, or ok=false when it is unclaimed.
func (m *Manager) ClaimedAt(ctx context.Context, id string) (time.Time, bool, error) {
	key, err := m.key(id)
	if err != nil {
		return time.Time{}, false, err
	}
	raw, err := m.store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read %s: %w", key, err)
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, true, nil
	}
	return at, true, nil
}

func (m *Manager) key(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("idempotency id is required")
	}
	return m.store.IdempotencyKey(m.scope, id), nil
}
