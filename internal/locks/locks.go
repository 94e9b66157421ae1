// Package locks provides best-effort distributed locks over Redis with an
// in-process fallback. Locks here reduce contention and duplicate work; the
// database's row locks and uniqueness constraints remain the arbiter of
// correctness, so every path proceeds without the lock rather than failing.
package locks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Lock TTLs per resource class. The TTL bounds how long a crashed holder can
// shadow a resource.
const (
	StockTTL       = 30 * time.Second
	JournalTTL     = 30 * time.Second
	PeriodCloseTTL = 60 * time.Second
)

const (
	defaultAcquireTimeout = 3 * time.Second
	defaultRetryInterval  = 50 * time.Millisecond
)

// ── Keys ──────────────────────────────────────────────────────────────────────

// StockKey serializes inventory arithmetic for one item at one location.
func StockKey(companyID, locationID, itemID int) string {
	return fmt.Sprintf("lock:stock:%d:%d:%d", companyID, locationID, itemID)
}

// StockDefaultKey is the alias taken when a caller posts to the company's
// default location before its id is known. Explicit callers take the alias
// alongside the concrete key so implicit and explicit writers of the same
// item still contend.
func StockDefaultKey(companyID, itemID int) string {
	return fmt.Sprintf("lock:stock:%d:default:%d", companyID, itemID)
}

// JournalEntryKey serializes corrections (reverse, void, adjust) of one entry.
func JournalEntryKey(companyID, entryID int) string {
	return fmt.Sprintf("lock:je:%d:%d", companyID, entryID)
}

// PeriodCloseKey serializes period closes per tenant.
func PeriodCloseKey(companyID int) string {
	return fmt.Sprintf("lock:period-close:%d", companyID)
}

// ── Manager ───────────────────────────────────────────────────────────────────

// Manager hands out short-lived TTL locks.
type Manager interface {
	// WithLocks acquires keys in sorted order, runs fn, and releases whatever
	// was acquired on the way out, error paths included. Keys that stay
	// contended past the acquire timeout, or a lock store that is down, do
	// not block fn. fn's error is returned unchanged.
	WithLocks(ctx context.Context, keys []string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// sortedUnique normalizes a key set. Sorted acquisition order keeps two
// commands over overlapping key sets from waiting on each other forever.
func sortedUnique(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ── Redis manager ─────────────────────────────────────────────────────────────

// releaseScript deletes a key only while it still holds the caller's token.
// A holder that outlived its TTL must not delete the next holder's lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type redisManager struct {
	client         *redis.Client
	log            *logrus.Logger
	acquireTimeout time.Duration
	retryInterval  time.Duration
}

// NewRedisManager returns a Manager backed by a shared Redis instance. Each
// acquired key stores a fresh token; release is compare-and-delete on that
// token.
func NewRedisManager(client *redis.Client, log *logrus.Logger) Manager {
	return &redisManager{
		client:         client,
		log:            log,
		acquireTimeout: defaultAcquireTimeout,
		retryInterval:  defaultRetryInterval,
	}
}

func (m *redisManager) WithLocks(ctx context.Context, keys []string, ttl time.Duration, fn func(ctx context.Context) error) error {
	held := make(map[string]string)
	for _, key := range sortedUnique(keys) {
		if token, ok := m.acquire(ctx, key, ttl); ok {
			held[key] = token
		}
	}
	defer m.releaseAll(held)
	return fn(ctx)
}

func (m *redisManager) acquire(ctx context.Context, key string, ttl time.Duration) (string, bool) {
	token := uuid.NewString()
	deadline := time.Now().Add(m.acquireTimeout)
	for {
		ok, err := m.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			m.log.WithError(err).WithField("key", key).Warn("lock store unavailable, proceeding without lock")
			return "", false
		}
		if ok {
			return token, true
		}
		if time.Now().After(deadline) {
			m.log.WithField("key", key).Warn("lock contended past acquire timeout, proceeding without lock")
			return "", false
		}
		select {
		case <-ctx.Done():
			return "", false
		case <-time.After(m.retryInterval):
		}
	}
}

func (m *redisManager) releaseAll(held map[string]string) {
	if len(held) == 0 {
		return
	}
	// Release must run even when the caller's context is already cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for key, token := range held {
		if err := releaseScript.Run(ctx, m.client, []string{key}, token).Err(); err != nil {
			m.log.WithError(err).WithField("key", key).Warn("failed to release lock")
		}
	}
}

// ── Memory manager ────────────────────────────────────────────────────────────

// memoryManager keeps the same contract within a single process. It backs
// tests and deployments that run without a lock store.
type memoryManager struct {
	mu             sync.Mutex
	locks          map[string]memoryLock
	acquireTimeout time.Duration
	retryInterval  time.Duration
}

type memoryLock struct {
	token  string
	expiry time.Time
}

func NewMemoryManager() Manager {
	return &memoryManager{
		locks:          make(map[string]memoryLock),
		acquireTimeout: defaultAcquireTimeout,
		retryInterval:  defaultRetryInterval,
	}
}

func (m *memoryManager) WithLocks(ctx context.Context, keys []string, ttl time.Duration, fn func(ctx context.Context) error) error {
	held := make(map[string]string)
	for _, key := range sortedUnique(keys) {
		if token, ok := m.acquire(ctx, key, ttl); ok {
			held[key] = token
		}
	}
	defer m.releaseAll(held)
	return fn(ctx)
}

func (m *memoryManager) acquire(ctx context.Context, key string, ttl time.Duration) (string, bool) {
	token := uuid.NewString()
	deadline := time.Now().Add(m.acquireTimeout)
	for {
		if m.tryAcquire(key, token, ttl) {
			return token, true
		}
		if time.Now().After(deadline) {
			return "", false
		}
		select {
		case <-ctx.Done():
			return "", false
		case <-time.After(m.retryInterval):
		}
	}
}

func (m *memoryManager) tryAcquire(key, token string, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if held, ok := m.locks[key]; ok && time.Now().Before(held.expiry) {
		return false
	}
	m.locks[key] = memoryLock{token: token, expiry: time.Now().Add(ttl)}
	return true
}

func (m *memoryManager) releaseAll(held map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, token := range held {
		if current, ok := m.locks[key]; ok && current.token == token {
			delete(m.locks, key)
		}
	}
}

// ── Disabled manager ──────────────────────────────────────────────────────────

type disabledManager struct{}

// Disabled returns a Manager that runs fn without taking any locks.
// Correctness then rests entirely on the database.
func Disabled() Manager { return disabledManager{} }

func (disabledManager) WithLocks(ctx context.Context, _ []string, _ time.Duration, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
