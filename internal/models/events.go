package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderPlaced        = "ORDER_PLACED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypeListingCreated     = "LISTING_CREATED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPlacedEvent published after an order and its inventory debit are written
type OrderPlacedEvent struct {
	BaseEvent
	OrderID   string          `json:"order_id"`
	ListingID string          `json:"listing_id"`
	BuyerID   string          `json:"buyer_id"`
	SellerID  string          `json:"seller_id"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Fees      decimal.Decimal `json:"fees"`
	Total     decimal.Decimal `json:"total"`
}

// OrderStatusChangedEvent published on every successful transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID  string          `json:"order_id"`
	ActorID  string          `json:"actor_id"`
	From     OrderStatus     `json:"from"`
	To       OrderStatus     `json:"to"`
	BuyerID  string          `json:"buyer_id"`
	SellerID string          `json:"seller_id"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Total    decimal.Decimal `json:"total"`
}

// ListingCreatedEvent published when a farmer lists new produce
type ListingCreatedEvent struct {
	BaseEvent
	ListingID string `json:"listing_id"`
	OwnerID   string `json:"owner_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
}
