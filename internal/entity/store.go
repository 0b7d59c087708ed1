// Package entity layers typed CRUD and an ordered id index over a flat
// key-value store.
//
// Each entity kind keeps one state record per id under "<kind>:<id>" and a
// JSON array of ids under "<index>:__index__". Creating an entity writes the
// state record first and the index second; the pair is not atomic, so List
// treats the index as best-effort and skips ids whose state is missing.
package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"market-service/internal/kv"
	"market-service/internal/models"
	"market-service/internal/util"

	"go.uber.org/zap"
)

const indexSuffix = "__index__"

// Entity is any record with a stable string identifier
type Entity interface {
	EntityID() string
}

// Kind names the key namespace of one entity type
type Kind struct {
	Name      string
	IndexName string
}

var (
	UserKind        = Kind{Name: "user", IndexName: "users"}
	ListingKind     = Kind{Name: "listing", IndexName: "listings"}
	OrderKind       = Kind{Name: "order", IndexName: "orders"}
	TransactionKind = Kind{Name: "transaction", IndexName: "transactions"}
)

// Store provides CRUD and listing for one entity kind
type Store[T Entity] struct {
	kv     kv.KeyValueStore
	kind   Kind
	logger *zap.Logger
}

// NewStore creates a store for kind backed by s
func NewStore[T Entity](s kv.KeyValueStore, kind Kind) *Store[T] {
	return &Store[T]{
		kv:     s,
		kind:   kind,
		logger: util.Component("entity").With(zap.String("kind", kind.Name)),
	}
}

// Kind returns the kind this store serves
func (s *Store[T]) Kind() Kind {
	return s.kind
}

func (s *Store[T]) stateKey(id string) string {
	return s.kind.Name + ":" + id
}

func (s *Store[T]) indexKey() string {
	return s.kind.IndexName + ":" + indexSuffix
}

func validateID(id string) error {
	if id == "" || id == indexSuffix {
		return fmt.Errorf("%w: invalid id %q", models.ErrInvalidInput, id)
	}
	return nil
}

// Exists reports whether a state record is present for id
func (s *Store[T]) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.kv.Get(ctx, s.stateKey(id))
	if errors.Is(err, kv.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Create stores initial and appends its id to the index. It fails with
// models.ErrAlreadyExists when the id is taken.
func (s *Store[T]) Create(ctx context.Context, initial T) error {
	id := initial.EntityID()
	if err := validateID(id); err != nil {
		return err
	}

	data, err := json.Marshal(initial)
	if err != nil {
		return fmt.Errorf("failed to encode %s %s: %w", s.kind.Name, id, err)
	}

	err = s.kv.Update(ctx, s.stateKey(id), func(_ []byte, found bool) ([]byte, error) {
		if found {
			return nil, fmt.Errorf("%s %s: %w", s.kind.Name, id, models.ErrAlreadyExists)
		}
		return data, nil
	})
	if err != nil {
		return err
	}

	if err := s.appendIndex(ctx, id); err != nil {
		s.logger.Warn("State written but index append failed",
			zap.String("id", id),
			zap.Error(err))
		return fmt.Errorf("failed to index %s %s: %w", s.kind.Name, id, err)
	}
	return nil
}

func (s *Store[T]) appendIndex(ctx context.Context, id string) error {
	return s.kv.Update(ctx, s.indexKey(), func(current []byte, found bool) ([]byte, error) {
		ids, err := decodeIndex(current, found)
		if err != nil {
			return nil, err
		}
		for _, existing := range ids {
			if existing == id {
				return current, nil
			}
		}
		return json.Marshal(append(ids, id))
	})
}

func decodeIndex(raw []byte, found bool) ([]string, error) {
	if !found || len(raw) == 0 {
		return []string{}, nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("corrupt index: %w", err)
	}
	return ids, nil
}

// GetState returns the current state of id or models.ErrNotFound
func (s *Store[T]) GetState(ctx context.Context, id string) (T, error) {
	var zero T

	raw, err := s.kv.Get(ctx, s.stateKey(id))
	if errors.Is(err, kv.ErrKeyNotFound) {
		return zero, fmt.Errorf("%s %s: %w", s.kind.Name, id, models.ErrNotFound)
	}
	if err != nil {
		return zero, err
	}

	var state T
	if err := json.Unmarshal(raw, &state); err != nil {
		return zero, fmt.Errorf("failed to decode %s %s: %w", s.kind.Name, id, err)
	}
	return state, nil
}

// Patch reads the current state of id, applies mutate and writes the
// result. It is not compare-and-swap: concurrent patches of the same id are
// last-write-wins. When mutate returns an error nothing is written.
func (s *Store[T]) Patch(ctx context.Context, id string, mutate func(*T) error) (T, error) {
	var zero T

	state, err := s.GetState(ctx, id)
	if err != nil {
		return zero, err
	}

	if err := mutate(&state); err != nil {
		return zero, err
	}
	if state.EntityID() != id {
		return zero, fmt.Errorf("%w: %s id is immutable", models.ErrInvalidInput, s.kind.Name)
	}

	data, err := json.Marshal(state)
	if err != nil {
		return zero, fmt.Errorf("failed to encode %s %s: %w", s.kind.Name, id, err)
	}
	if err := s.kv.Put(ctx, s.stateKey(id), data); err != nil {
		return zero, err
	}
	return state, nil
}

// IDs returns the index in insertion order
func (s *Store[T]) IDs(ctx context.Context) ([]string, error) {
	raw, err := s.kv.Get(ctx, s.indexKey())
	if errors.Is(err, kv.ErrKeyNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeIndex(raw, true)
}

// Walk calls fn for each indexed entity in insertion order, fetching one
// state record at a time. Indexed ids without state are skipped. A non-nil
// error from fn stops the walk and is returned.
func (s *Store[T]) Walk(ctx context.Context, fn func(T) error) error {
	ids, err := s.IDs(ctx)
	if err != nil {
		return err
	}

	for _, id := range ids {
		state, err := s.GetState(ctx, id)
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Debug("Skipping indexed id without state", zap.String("id", id))
			continue
		}
		if err != nil {
			return err
		}
		if err := fn(state); err != nil {
			return err
		}
	}
	return nil
}

// List returns every indexed entity in insertion order
func (s *Store[T]) List(ctx context.Context) ([]T, error) {
	items := make([]T, 0)
	err := s.Walk(ctx, func(item T) error {
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}
