package service

import (
	"context"

	"market-service/internal/models"
)

// EventPublisher emits domain events after successful mutations
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishListingCreated(ctx context.Context, event *models.ListingCreatedEvent) error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishOrderPlaced(context.Context, *models.OrderPlacedEvent) error { return nil }

func (NopPublisher) PublishOrderStatusChanged(context.Context, *models.OrderStatusChangedEvent) error {
	return nil
}

func (NopPublisher) PublishListingCreated(context.Context, *models.ListingCreatedEvent) error {
	return nil
}
