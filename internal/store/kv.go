package store

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ErrKeyNotFound is returned by Get when the key holds no value.
var ErrKeyNotFound = errors.New("store: key not found")

// ErrConflict is returned when an optimistic update keeps losing to concurrent writers.
var ErrConflict = errors.New("store: concurrent update conflict")

const maxTxRetries = 8

// UpdateFunc receives the current values of the watched keys (missing keys are
// absent from the map) and returns the values to write. A nil value deletes the key.
// It may run more than once, so it must not have side effects.
type UpdateFunc func(current map[string][]byte) (map[string][]byte, error)

// KV is the small key-value contract the repositories are built on.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte) error
	Delete(ctx context.Context, key string) error
	// Update reads keys, applies fn and writes the result atomically.
	Update(ctx context.Context, keys []string, fn UpdateFunc) error
}

// MemoryKV is a process-local KV for dev and tests.
type MemoryKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemoryKV creates an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

// Get returns a copy of the value stored under key.
func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return clone(v), nil
}

// Set stores val under key.
func (m *MemoryKV) Set(_ context.Context, key string, val []byte) error {
	m.mu.Lock()
	m.data[key] = clone(val)
	m.mu.Unlock()
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// Update runs fn while holding the store lock.
func (m *MemoryKV) Update(ctx context.Context, keys []string, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			current[k] = clone(v)
		}
	}
	writes, err := fn(current)
	if err != nil {
		return err
	}
	for k, v := range writes {
		if v == nil {
			delete(m.data, k)
			continue
		}
		m.data[k] = clone(v)
	}
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// RedisKV stores values as plain Redis strings under a common prefix.
type RedisKV struct {
	client *redis.Client
	prefix string
}

// NewRedisKV builds a KV on top of an existing client.
func NewRedisKV(client *redis.Client, prefix string) *RedisKV {
	if prefix == "" {
		prefix = "qrattend:"
	}
	return &RedisKV{client: client, prefix: prefix}
}

// Get returns the value under key.
func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	return b, err
}

// Set stores val under key without expiry.
func (r *RedisKV) Set(ctx context.Context, key string, val []byte) error {
	return r.client.Set(ctx, r.prefix+key, val, 0).Err()
}

// Delete removes key.
func (r *RedisKV) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

// Update uses WATCH/MULTI/EXEC and retries when a watched key changed underneath.
func (r *RedisKV) Update(ctx context.Context, keys []string, fn UpdateFunc) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.prefix + k
	}

	txf := func(tx *redis.Tx) error {
		current := make(map[string][]byte, len(keys))
		for i, k := range full {
			b, err := tx.Get(ctx, k).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return err
			}
			current[keys[i]] = b
		}
		writes, err := fn(current)
		if err != nil {
			return err
		}
		if len(writes) == 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for k, v := range writes {
				if v == nil {
					pipe.Del(ctx, r.prefix+k)
					continue
				}
				pipe.Set(ctx, r.prefix+k, v, 0)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, full...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConflict
}
