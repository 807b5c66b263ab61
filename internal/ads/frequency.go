package ads

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/menulink/ad-engine/internal/config"
	"github.com/redis/go-redis/v9"
)

// FrequencyTracker maintains per-(ad, identity) shown counts and the
// per-session "has seen any ad" flag. Counts only increase; increments
// are atomic at the backend so concurrent renders never lose updates.
//
// The tracker is a best-effort control: when it is unavailable the
// evaluator fails open and serves without caps rather than blocking
// delivery.
type FrequencyTracker interface {
	// RecordShown increments the shown count for the pair and flags the
	// session. Called exactly once per actual render. expireAt bounds
	// the count's lifetime, aligned to the ad's window end.
	RecordShown(ctx context.Context, adID, identity, sessionID string, expireAt time.Time) error

	// ShownCount returns how many times the identity has seen the ad.
	ShownCount(ctx context.Context, adID, identity string) (int64, error)

	// HasSeenAnyAd reports whether any ad was shown in the session.
	HasSeenAnyAd(ctx context.Context, sessionID string) (bool, error)
}

// RedisFrequencyTracker keeps counts in Redis using atomic INCR, so
// many engine instances share one view of the caps.
type RedisFrequencyTracker struct {
	client *redis.Client
	cfg    config.FrequencyConfig
}

// NewRedisFrequencyTracker creates a Redis-backed tracker.
func NewRedisFrequencyTracker(client *redis.Client, cfg config.FrequencyConfig) *RedisFrequencyTracker {
	return &RedisFrequencyTracker{client: client, cfg: cfg}
}

func shownKey(adID, identity string) string {
	return fmt.Sprintf("freq:shown:%s:%s", adID, identity)
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("freq:session:%s", sessionID)
}

func (t *RedisFrequencyTracker) RecordShown(ctx context.Context, adID, identity, sessionID string, expireAt time.Time) error {
	pipe := t.client.Pipeline()
	if identity != "" {
		pipe.Incr(ctx, shownKey(adID, identity))
		pipe.ExpireAt(ctx, shownKey(adID, identity), expireAt.Add(t.cfg.ExpiryMargin))
	}
	if sessionID != "" {
		pipe.Set(ctx, sessionKey(sessionID), "1", t.cfg.SessionTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (t *RedisFrequencyTracker) ShownCount(ctx context.Context, adID, identity string) (int64, error) {
	count, err := t.client.Get(ctx, shownKey(adID, identity)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return count, err
}

func (t *RedisFrequencyTracker) HasSeenAnyAd(ctx context.Context, sessionID string) (bool, error) {
	_, err := t.client.Get(ctx, sessionKey(sessionID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InMemoryFrequencyTracker is a single-process tracker used by tests
// and degraded deployments without Redis.
type InMemoryFrequencyTracker struct {
	mu       sync.Mutex
	counts   map[string]int64
	expiry   map[string]time.Time
	sessions map[string]time.Time
	ttl      time.Duration
	now      func() time.Time
}

// NewInMemoryFrequencyTracker creates an empty in-process tracker.
func NewInMemoryFrequencyTracker(sessionTTL time.Duration) *InMemoryFrequencyTracker {
	return &InMemoryFrequencyTracker{
		counts:   make(map[string]int64),
		expiry:   make(map[string]time.Time),
		sessions: make(map[string]time.Time),
		ttl:      sessionTTL,
		now:      time.Now,
	}
}

func (t *InMemoryFrequencyTracker) RecordShown(ctx context.Context, adID, identity, sessionID string, expireAt time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if identity != "" {
		key := shownKey(adID, identity)
		t.counts[key]++
		t.expiry[key] = expireAt
	}
	if sessionID != "" {
		t.sessions[sessionID] = t.now().Add(t.ttl)
	}
	return nil
}

func (t *InMemoryFrequencyTracker) ShownCount(ctx context.Context, adID, identity string) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := shownKey(adID, identity)
	if exp, ok := t.expiry[key]; ok && t.now().After(exp) {
		delete(t.counts, key)
		delete(t.expiry, key)
		return 0, nil
	}
	return t.counts[key], nil
}

func (t *InMemoryFrequencyTracker) HasSeenAnyAd(ctx context.Context, sessionID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	exp, ok := t.sessions[sessionID]
	if !ok {
		return false, nil
	}
	if t.now().After(exp) {
		delete(t.sessions, sessionID)
		return false, nil
	}
	return true, nil
}
