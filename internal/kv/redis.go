package kv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// maxWatchRetries bounds optimistic retries of Update under contention
const maxWatchRetries = 16

// Redis is a KeyValueStore over a Redis database. Every key is stored under
// "<namespace>:" so several deployments can share one database.
type Redis struct {
	rdb       *redis.Client
	namespace string
}

// NewRedis connects to Redis and verifies the connection
func NewRedis(addr, password string, db int, namespace string) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisFromClient(rdb, namespace), nil
}

// NewRedisFromClient wraps an existing client
func NewRedisFromClient(rdb *redis.Client, namespace string) *Redis {
	return &Redis{rdb: rdb, namespace: namespace}
}

// GetClient returns the underlying Redis client
func (r *Redis) GetClient() *redis.Client {
	return r.rdb
}

// Close closes the Redis connection
func (r *Redis) Close() error {
	return r.rdb.Close()
}

func (r *Redis) key(k string) string {
	if r.namespace == "" {
		return k
	}
	return r.namespace + ":" + k
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	defer observe("redis", "get")()

	value, err := r.rdb.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, unavailable("redis", "get", err)
	}
	return value, nil
}

func (r *Redis) Put(ctx context.Context, key string, value []byte, opts ...PutOption) error {
	defer observe("redis", "put")()
	o := applyPutOptions(opts)

	ttl := time.Duration(0)
	if o.TTL > 0 {
		ttl = o.TTL
	}
	if err := r.rdb.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return unavailable("redis", "put", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	defer observe("redis", "delete")()

	if err := r.rdb.Del(ctx, r.key(key)).Err(); err != nil {
		return unavailable("redis", "delete", err)
	}
	return nil
}

func (r *Redis) ListKeysByPrefix(ctx context.Context, prefix string) ([]string, error) {
	defer observe("redis", "list")()

	full := r.key("")
	match := escapeGlob(r.key(prefix)) + "*"

	var keys []string
	iter := r.rdb.Scan(ctx, 0, match, 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), full))
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable("redis", "list", err)
	}

	// SCAN may return a key more than once
	sort.Strings(keys)
	return dedupeSorted(keys), nil
}

// Update runs fn inside WATCH/MULTI and retries when another client
// modified the key in between
func (r *Redis) Update(ctx context.Context, key string, fn UpdateFunc) error {
	defer observe("redis", "update")()
	k := r.key(key)

	var fnErr error
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, k).Bytes()
		found := true
		if errors.Is(err, redis.Nil) {
			found = false
			current = nil
		} else if err != nil {
			return err
		}

		next, err := fn(current, found)
		if err != nil {
			fnErr = err
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, next, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := r.rdb.Watch(ctx, txf, k)
		if err == nil {
			return nil
		}
		if fnErr != nil {
			return fnErr
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return unavailable("redis", "update", err)
	}

	return unavailable("redis", "update", fmt.Errorf("key %q still contended after %d attempts", key, maxWatchRetries))
}

// escapeGlob quotes the characters SCAN MATCH treats as patterns
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func dedupeSorted(keys []string) []string {
	if len(keys) < 2 {
		return keys
	}
	out := keys[:1]
	for _, k := range keys[1:] {
		if k != out[len(out)-1] {
			out = append(out, k)
		}
	}
	return out
}
