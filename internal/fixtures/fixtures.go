// Package fixtures holds the baseline marketplace data written on first boot.
package fixtures

import (
	"context"
	"fmt"
	"time"

	"market-service/internal/entity"
	"market-service/internal/models"

	"github.com/shopspring/decimal"
)

var seededAt = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// Users returns the fixture users
func Users() []models.User {
	return []models.User{
		{ID: "amina@farm.example", Name: "Amina Bello", Role: models.RoleFarmer, KYCStatus: models.KYCVerified, Location: "Kaduna"},
		{ID: "tunde@farm.example", Name: "Tunde Okafor", Role: models.RoleFarmer, KYCStatus: models.KYCPending, Location: "Oyo"},
		{ID: "grace@distro.example", Name: "Grace Mensah", Role: models.RoleDistributor, KYCStatus: models.KYCVerified, Location: "Lagos"},
		{ID: "kofi@invest.example", Name: "Kofi Asante", Role: models.RoleInvestor, KYCStatus: models.KYCNotSubmitted, Location: "Accra"},
		{ID: "femi@haul.example", Name: "Femi Adeyemi", Role: models.RoleLogistics, KYCStatus: models.KYCVerified, Location: "Ibadan"},
		{ID: "admin@market.example", Name: "Market Admin", Role: models.RoleAdmin, KYCStatus: models.KYCVerified, Location: "Abuja"},
	}
}

// Listings returns the fixture listings
func Listings() []models.Listing {
	return []models.Listing{
		{
			ID: "lst-maize-01", OwnerID: "amina@farm.example", Name: "Yellow Maize",
			Description: "Sun-dried yellow maize, bagged", Category: "Grains",
			Price: decimal.RequireFromString("350"), Unit: "kg", Quantity: 1200,
			Grade: models.GradeA, HarvestDate: "2025-02-10", ImageURL: "/images/maize.jpg",
		},
		{
			ID: "lst-ginger-01", OwnerID: "amina@farm.example", Name: "Dried Ginger",
			Description: "Split and dried ginger", Category: "Spices",
			Price: decimal.RequireFromString("1800"), Unit: "kg", Quantity: 300,
			Grade: models.GradeB, HarvestDate: "2025-01-22", ImageURL: "/images/ginger.jpg",
		},
		{
			ID: "lst-cassava-01", OwnerID: "tunde@farm.example", Name: "Cassava Tubers",
			Description: "Fresh cassava for processing", Category: "Tubers",
			Price: decimal.RequireFromString("120"), Unit: "kg", Quantity: 5000,
			Grade: models.GradeA, HarvestDate: "2025-02-25", ImageURL: "/images/cassava.jpg",
		},
		{
			ID: "lst-avocado-01", OwnerID: "tunde@farm.example", Name: "Avocados",
			Description: "Hass avocados, crate of 40", Category: "Fruits",
			Price: decimal.RequireFromString("9500"), Unit: "crate", Quantity: 60,
			Grade: models.GradeC, HarvestDate: "2025-02-28", ImageURL: "/images/avocado.jpg",
		},
	}
}

// Orders returns the fixture orders, priced with feeRate
func Orders(feeRate decimal.Decimal) []models.Order {
	delivered := fixtureOrder("ord-0001", "lst-maize-01", "grace@distro.example", "amina@farm.example",
		decimal.RequireFromString("350"), 100, feeRate,
		models.OrderStatusPaid, models.OrderStatusLogisticsPickedUp, models.OrderStatusShipped, models.OrderStatusDelivered)

	inTransit := fixtureOrder("ord-0002", "lst-cassava-01", "grace@distro.example", "tunde@farm.example",
		decimal.RequireFromString("120"), 400, feeRate,
		models.OrderStatusPaid, models.OrderStatusLogisticsPickedUp)

	return []models.Order{delivered, inTransit}
}

func fixtureOrder(id, listingID, buyerID, sellerID string, price decimal.Decimal, qty int, feeRate decimal.Decimal, path ...models.OrderStatus) models.Order {
	subtotal := price.Mul(decimal.NewFromInt(int64(qty)))
	fees := subtotal.Mul(feeRate)

	history := []models.StatusEntry{{Status: models.OrderStatusPlaced, Timestamp: seededAt}}
	for i, status := range path {
		history = append(history, models.StatusEntry{
			Status:    status,
			Timestamp: seededAt.Add(time.Duration(i+1) * time.Hour),
		})
	}

	return models.Order{
		ID:            id,
		ListingID:     listingID,
		BuyerID:       buyerID,
		SellerID:      sellerID,
		Quantity:      qty,
		Subtotal:      subtotal,
		Fees:          fees,
		Total:         subtotal.Add(fees),
		Status:        history[len(history)-1].Status,
		CreatedAt:     seededAt,
		StatusHistory: history,
	}
}

// Stores groups the entity stores that receive fixtures
type Stores struct {
	Users    *entity.Store[models.User]
	Listings *entity.Store[models.Listing]
	Orders   *entity.Store[models.Order]
}

// Seed ensures each kind holds its baseline data
func Seed(ctx context.Context, stores Stores, feeRate decimal.Decimal) error {
	if _, err := entity.EnsureSeed(ctx, stores.Users, Users()); err != nil {
		return fmt.Errorf("failed to seed users: %w", err)
	}
	if _, err := entity.EnsureSeed(ctx, stores.Listings, Listings()); err != nil {
		return fmt.Errorf("failed to seed listings: %w", err)
	}
	if _, err := entity.EnsureSeed(ctx, stores.Orders, Orders(feeRate)); err != nil {
		return fmt.Errorf("failed to seed orders: %w", err)
	}
	return nil
}
