package entity

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func widgetFixtures() []widget {
	return []widget{
		{ID: "f1", Label: "one"},
		{ID: "f2", Label: "two"},
		{ID: "f3", Label: "three"},
	}
}

func TestEnsureSeedPopulatesEmptyKind(t *testing.T) {
	ctx := context.Background()
	store, _ := newWidgetStore()

	created, err := EnsureSeed(ctx, store, widgetFixtures())
	require.NoError(t, err)
	assert.Equal(t, 3, created)

	items, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, widgetFixtures(), items)
}

func TestEnsureSeedTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, _ := newWidgetStore()

	_, err := EnsureSeed(ctx, store, widgetFixtures())
	require.NoError(t, err)
	created, err := EnsureSeed(ctx, store, widgetFixtures())
	require.NoError(t, err)
	assert.Zero(t, created)

	items, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestEnsureSeedSkipsNonEmptyKind(t *testing.T) {
	ctx := context.Background()
	store, _ := newWidgetStore()
	require.NoError(t, store.Create(ctx, widget{ID: "user-made"}))

	created, err := EnsureSeed(ctx, store, widgetFixtures())
	require.NoError(t, err)
	assert.Zero(t, created)

	items, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestEnsureSeedConcurrentCallers(t *testing.T) {
	ctx := context.Background()
	store, _ := newWidgetStore()

	const callers = 8
	var wg sync.WaitGroup
	totals := make([]int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			created, err := EnsureSeed(ctx, store, widgetFixtures())
			assert.NoError(t, err)
			totals[i] = created
		}(i)
	}
	wg.Wait()

	sum := 0
	for _, n := range totals {
		sum += n
	}
	assert.Equal(t, 3, sum)

	items, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}
