package store

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func backends(t *testing.T) map[string]KV {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]KV{
		"memory": NewMemoryKV(),
		"redis":  NewRedisKV(client, "test:"),
	}
}

func TestKVGetSetDelete(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := kv.Get(ctx, "missing"); !errors.Is(err, ErrKeyNotFound) {
				t.Fatalf("Get(missing) err = %v, want ErrKeyNotFound", err)
			}
			if err := kv.Set(ctx, "k", []byte("v1")); err != nil {
				t.Fatalf("Set: %v", err)
			}
			got, err := kv.Get(ctx, "k")
			if err != nil || string(got) != "v1" {
				t.Fatalf("Get = %q, %v; want v1", got, err)
			}
			if err := kv.Delete(ctx, "k"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := kv.Get(ctx, "k"); !errors.Is(err, ErrKeyNotFound) {
				t.Fatalf("Get after Delete err = %v", err)
			}
		})
	}
}

func TestKVUpdateWritesAllOrNothing(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_ = kv.Set(ctx, "a", []byte("1"))
			_ = kv.Set(ctx, "b", []byte("1"))

			err := kv.Update(ctx, []string{"a", "b"}, func(cur map[string][]byte) (map[string][]byte, error) {
				return nil, boom
			})
			if !errors.Is(err, boom) {
				t.Fatalf("Update err = %v, want boom", err)
			}

			err = kv.Update(ctx, []string{"a", "b", "c"}, func(cur map[string][]byte) (map[string][]byte, error) {
				if _, ok := cur["c"]; ok {
					t.Fatal("missing key c should be absent from current values")
				}
				return map[string][]byte{"a": []byte("2"), "b": nil}, nil
			})
			if err != nil {
				t.Fatalf("Update: %v", err)
			}
			if got, _ := kv.Get(ctx, "a"); string(got) != "2" {
				t.Fatalf("a = %q, want 2", got)
			}
			if _, err := kv.Get(ctx, "b"); !errors.Is(err, ErrKeyNotFound) {
				t.Fatalf("b should be deleted, err = %v", err)
			}
		})
	}
}

func TestKVUpdateConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := kv.Update(ctx, []string{"n"}, func(cur map[string][]byte) (map[string][]byte, error) {
				n, _ := strconv.Atoi(string(cur["n"]))
				return map[string][]byte{"n": []byte(strconv.Itoa(n + 1))}, nil
			})
			if err != nil {
				t.Errorf("Update: %v", err)
			}
		}()
	}
	wg.Wait()
	got, _ := kv.Get(ctx, "n")
	if string(got) != "50" {
		t.Fatalf("n = %q, want 50", got)
	}
}
