package kv

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"market-service/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runContract exercises the behaviour every backend must share
func runContract(t *testing.T, newStore func(t *testing.T) KeyValueStore) {
	ctx := context.Background()

	t.Run("get missing key", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("put then get", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "user:a", []byte(`{"id":"a"}`)))

		value, err := s.Get(ctx, "user:a")
		require.NoError(t, err)
		assert.Equal(t, `{"id":"a"}`, string(value))
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "k", []byte("v")))
		require.NoError(t, s.Delete(ctx, "k"))
		require.NoError(t, s.Delete(ctx, "k"))

		_, err := s.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("list by prefix is sorted and scoped", func(t *testing.T) {
		s := newStore(t)
		for _, k := range []string{"order:b", "order:a", "orders:__index__", "listing:a"} {
			require.NoError(t, s.Put(ctx, k, []byte("x")))
		}

		keys, err := s.ListKeysByPrefix(ctx, "order:")
		require.NoError(t, err)
		assert.Equal(t, []string{"order:a", "order:b"}, keys)
	})

	t.Run("prefix with pattern characters is literal", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "a*b:1", []byte("x")))
		require.NoError(t, s.Put(ctx, "axb:1", []byte("x")))
		require.NoError(t, s.Put(ctx, "a_b:1", []byte("x")))

		keys, err := s.ListKeysByPrefix(ctx, "a*b:")
		require.NoError(t, err)
		assert.Equal(t, []string{"a*b:1"}, keys)

		keys, err = s.ListKeysByPrefix(ctx, "a_b:")
		require.NoError(t, err)
		assert.Equal(t, []string{"a_b:1"}, keys)
	})

	t.Run("update creates and modifies", func(t *testing.T) {
		s := newStore(t)
		err := s.Update(ctx, "counter", func(current []byte, found bool) ([]byte, error) {
			assert.False(t, found)
			return []byte("1"), nil
		})
		require.NoError(t, err)

		err = s.Update(ctx, "counter", func(current []byte, found bool) ([]byte, error) {
			assert.True(t, found)
			assert.Equal(t, "1", string(current))
			return []byte("2"), nil
		})
		require.NoError(t, err)

		value, err := s.Get(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, "2", string(value))
	})

	t.Run("update error aborts write", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "k", []byte("v")))

		boom := errors.New("boom")
		err := s.Update(ctx, "k", func([]byte, bool) ([]byte, error) {
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)

		value, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v", string(value))
	})

	t.Run("concurrent updates do not lose writes", func(t *testing.T) {
		s := newStore(t)
		const writers = 8

		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.Update(ctx, "tally", func(current []byte, found bool) ([]byte, error) {
					return append(current, 'x'), nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		value, err := s.Get(ctx, "tally")
		require.NoError(t, err)
		assert.Len(t, value, writers)
	})
}

func TestMemoryContract(t *testing.T) {
	runContract(t, func(t *testing.T) KeyValueStore { return NewMemory() })
}

func TestMemoryTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	m := NewMemory()
	m.SetClock(func() time.Time { return now })

	require.NoError(t, m.Put(ctx, "session:abc", []byte("user"), WithTTL(time.Minute)))
	require.NoError(t, m.Put(ctx, "durable", []byte("x")))

	_, err := m.Get(ctx, "session:abc")
	require.NoError(t, err)

	now = now.Add(time.Minute)

	_, err = m.Get(ctx, "session:abc")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.Equal(t, 1, m.Len())

	keys, err := m.ListKeysByPrefix(ctx, "session:")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMemoryCancelledContextIsUnavailable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemory().Get(ctx, "k")
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, models.Retryable(err))
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	value := []byte("abc")
	require.NoError(t, m.Put(ctx, "k", value))
	value[0] = 'z'

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	got[1] = 'z'

	again, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}

func newMiniredisStore(t *testing.T) (*Redis, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisFromClient(rdb, "test"), mr
}

func TestRedisContract(t *testing.T) {
	runContract(t, func(t *testing.T) KeyValueStore {
		s, _ := newMiniredisStore(t)
		return s
	})
}

func TestRedisNamespaceAndTTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newMiniredisStore(t)

	require.NoError(t, s.Put(ctx, "idempotency:k1", []byte("order-1"), WithTTL(time.Hour)))

	assert.True(t, mr.Exists("test:idempotency:k1"))
	assert.Equal(t, time.Hour, mr.TTL("test:idempotency:k1"))

	mr.FastForward(time.Hour + time.Second)

	_, err := s.Get(ctx, "idempotency:k1")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestRedisUnavailable(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	s := NewRedisFromClient(rdb, "test")
	mr.Close()

	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
}

func TestPostgresContract(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Integration test - requires database (set TEST_DATABASE_URL)")
	}

	runContract(t, func(t *testing.T) KeyValueStore {
		p, err := NewPostgres(url)
		require.NoError(t, err)
		_, err = p.GetDB().Exec("TRUNCATE kv_entries")
		require.NoError(t, err)
		t.Cleanup(func() { _ = p.Close() })
		return p
	})
}

func TestEscapeHelpers(t *testing.T) {
	assert.Equal(t, `a\*b\?\[c\]`, escapeGlob("a*b?[c]"))
	assert.Equal(t, `100\%\_x\\`, escapeLike(`100%_x\`))
	assert.Equal(t, []string{"a", "b"}, dedupeSorted([]string{"a", "a", "b", "b"}))
}
