package entity

import (
	"context"
	"errors"

	"market-service/internal/models"
	"market-service/internal/util"

	"go.uber.org/zap"
)

// EnsureSeed populates an empty kind with fixtures and reports how many
// were written. Racing callers may both see an empty index; the loser's
// creates fail with models.ErrAlreadyExists and are ignored, so the result
// holds each fixture exactly once.
func EnsureSeed[T Entity](ctx context.Context, store *Store[T], fixtures []T) (int, error) {
	ids, err := store.IDs(ctx)
	if err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		return 0, nil
	}

	created := 0
	for _, item := range fixtures {
		err := store.Create(ctx, item)
		if errors.Is(err, models.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return created, err
		}
		created++
	}

	if created > 0 {
		util.SeededEntitiesTotal.WithLabelValues(store.kind.Name).Add(float64(created))
		store.logger.Info("Seeded fixtures", zap.Int("count", created))
	}
	return created, nil
}
