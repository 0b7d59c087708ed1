package fixtures

import (
	"context"
	"testing"

	"market-service/internal/entity"
	"market-service/internal/kv"
	"market-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemory()
	stores := Stores{
		Users:    entity.NewStore[models.User](mem, entity.UserKind),
		Listings: entity.NewStore[models.Listing](mem, entity.ListingKind),
		Orders:   entity.NewStore[models.Order](mem, entity.OrderKind),
	}
	rate := decimal.RequireFromString("0.025")

	require.NoError(t, Seed(ctx, stores, rate))
	require.NoError(t, Seed(ctx, stores, rate))

	users, err := stores.Users.List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, len(Users()))

	listings, err := stores.Listings.List(ctx)
	require.NoError(t, err)
	assert.Len(t, listings, len(Listings()))

	orders, err := stores.Orders.List(ctx)
	require.NoError(t, err)
	assert.Len(t, orders, 2)
}

func TestFixtureOrdersAreConsistent(t *testing.T) {
	listings := map[string]models.Listing{}
	for _, l := range Listings() {
		listings[l.ID] = l
	}

	for _, o := range Orders(decimal.RequireFromString("0.025")) {
		listing, ok := listings[o.ListingID]
		require.True(t, ok, o.ID)
		assert.Equal(t, listing.OwnerID, o.SellerID)
		assert.Equal(t, o.Status, o.StatusHistory[len(o.StatusHistory)-1].Status)
		assert.Equal(t, models.OrderStatusPlaced, o.StatusHistory[0].Status)
		assert.True(t, o.Total.Equal(o.Subtotal.Add(o.Fees)))
	}
}
