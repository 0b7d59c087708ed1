// Package kv defines the flat key-value primitive the entity layer is built
// on, plus its memory, Redis and Postgres backends.
//
// A store guarantees atomicity for a single key only. There are no
// multi-key transactions and no query language beyond prefix listing.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"market-service/internal/models"
	"market-service/internal/util"
)

// ErrKeyNotFound is returned by Get for absent or expired keys
var ErrKeyNotFound = errors.New("key not found")

// UpdateFunc receives the current value of a key (found is false when the
// key is absent) and returns the value to store. Returning an error aborts
// the update without writing.
type UpdateFunc func(current []byte, found bool) ([]byte, error)

// KeyValueStore is a namespace of byte-string keys
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, opts ...PutOption) error
	Delete(ctx context.Context, key string) error
	// ListKeysByPrefix returns matching keys in lexicographic order
	ListKeysByPrefix(ctx context.Context, prefix string) ([]string, error)
	// Update is an atomic read-modify-write of one key. The written value
	// carries no TTL.
	Update(ctx context.Context, key string, fn UpdateFunc) error
}

// PutOptions holds optional put parameters
type PutOptions struct {
	TTL time.Duration
}

// PutOption configures a Put
type PutOption func(*PutOptions)

// WithTTL expires the key after d. Zero or negative d means no expiry.
func WithTTL(d time.Duration) PutOption {
	return func(o *PutOptions) {
		o.TTL = d
	}
}

func applyPutOptions(opts []PutOption) PutOptions {
	var o PutOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// unavailable tags a backend I/O failure
func unavailable(backend, op string, err error) error {
	util.KVOperationErrors.WithLabelValues(backend, op).Inc()
	return fmt.Errorf("%w: %s %s: %w", models.ErrStoreUnavailable, backend, op, err)
}

// observe records the latency of one backend operation
func observe(backend, op string) func() {
	start := time.Now()
	return func() {
		util.KVOperationLatency.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
	}
}
