package otp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var errEntryNotFound = errors.New("otp: entry not found")

// Entry is the server-side state of an issued code. Only the hash is kept.
type Entry struct {
	Hash      []byte    `json:"hash"`
	SentAt    time.Time `json:"sent_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store keeps one pending entry per email address.
//
// Put replaces the entry and resets its attempt counter. Attempt atomically
// increments the counter and returns the new value, or errEntryNotFound when
// no entry is pending.
type Store interface {
	Get(ctx context.Context, email string) (Entry, error)
	Put(ctx context.Context, email string, e Entry, ttl time.Duration) error
	Attempt(ctx context.Context, email string) (int, error)
	Delete(ctx context.Context, email string) error
}

type memoryEntry struct {
	Entry
	attempts int
}

// MemoryStore is a map-backed Store; expiry is enforced by the Service.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

func (m *MemoryStore) Get(_ context.Context, email string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[email]
	if !ok {
		return Entry{}, errEntryNotFound
	}
	return e.Entry, nil
}

func (m *MemoryStore) Put(_ context.Context, email string, e Entry, _ time.Duration) error {
	m.mu.Lock()
	m.entries[email] = &memoryEntry{Entry: e}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Attempt(_ context.Context, email string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[email]
	if !ok {
		return 0, errEntryNotFound
	}
	e.attempts++
	return e.attempts, nil
}

func (m *MemoryStore) Delete(_ context.Context, email string) error {
	m.mu.Lock()
	delete(m.entries, email)
	m.mu.Unlock()
	return nil
}

// RedisStore keeps entries as JSON strings that Redis expires on its own.
// Attempts live in a separate counter key driven by INCR.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "qrattend:otp:"}
}

func (r *RedisStore) entryKey(email string) string    { return r.prefix + email }
func (r *RedisStore) attemptsKey(email string) string { return r.prefix + "attempts:" + email }

func (r *RedisStore) Get(ctx context.Context, email string) (Entry, error) {
	raw, err := r.client.Get(ctx, r.entryKey(email)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, errEntryNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (r *RedisStore) Put(ctx context.Context, email string, e Entry, ttl time.Duration) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.entryKey(email), raw, ttl)
		pipe.Del(ctx, r.attemptsKey(email))
		return nil
	})
	return err
}

func (r *RedisStore) Attempt(ctx context.Context, email string) (int, error) {
	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, r.attemptsKey(email))
		ttl = pipe.PTTL(ctx, r.entryKey(email))
		return nil
	})
	if err != nil {
		return 0, err
	}
	// PTTL is negative when the entry is gone or has no expiry.
	if ttl.Val() <= 0 {
		_ = r.client.Del(ctx, r.attemptsKey(email)).Err()
		return 0, errEntryNotFound
	}
	if err := r.client.PExpire(ctx, r.attemptsKey(email), ttl.Val()).Err(); err != nil {
		return 0, err
	}
	return int(incr.Val()), nil
}

func (r *RedisStore) Delete(ctx context.Context, email string) error {
	return r.client.Del(ctx, r.entryKey(email), r.attemptsKey(email)).Err()
}
