package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"market-service/internal/entity"
	"market-service/internal/kv"
	"market-service/internal/models"
	"market-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultFeeRate is the platform escrow fee applied to every subtotal
var DefaultFeeRate = decimal.RequireFromString("0.025")

// paymentSettleOffset separates the Placed and Paid audit entries of an
// order whose payment is settled at placement
const paymentSettleOffset = time.Second

var errStopWalk = errors.New("stop walk")

// WorkflowConfig holds the business parameters of the order workflow
type WorkflowConfig struct {
	// FeeRate is the escrow fee. Nil selects DefaultFeeRate; a zero rate
	// charges no fee.
	FeeRate        *decimal.Decimal
	IdempotencyTTL time.Duration
}

// OrderWorkflow runs the order lifecycle state machine over the listing and
// order stores. It keeps no state between calls; every operation reloads
// what it needs from the store.
type OrderWorkflow struct {
	orders    *entity.Store[models.Order]
	listings  *entity.Store[models.Listing]
	kv        kv.KeyValueStore
	publisher EventPublisher
	cfg       WorkflowConfig
	feeRate   decimal.Decimal
	now       func() time.Time
	newID     func() string
	logger    *zap.Logger
}

// NewOrderWorkflow creates an order workflow. store holds idempotency keys.
func NewOrderWorkflow(
	orders *entity.Store[models.Order],
	listings *entity.Store[models.Listing],
	store kv.KeyValueStore,
	publisher EventPublisher,
	cfg WorkflowConfig,
) *OrderWorkflow {
	feeRate := DefaultFeeRate
	if cfg.FeeRate != nil {
		feeRate = *cfg.FeeRate
	}
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &OrderWorkflow{
		orders:    orders,
		listings:  listings,
		kv:        store,
		publisher: publisher,
		cfg:       cfg,
		feeRate:   feeRate,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
		logger:    util.GetLogger(),
	}
}

// SetClock replaces the time source used for timestamps
func (w *OrderWorkflow) SetClock(now func() time.Time) {
	w.now = now
}

// PlaceOrderRequest represents a request to buy from a listing
type PlaceOrderRequest struct {
	ListingID      string `json:"listingId" binding:"required"`
	BuyerID        string `json:"buyerId"`
	Quantity       int    `json:"quantity" binding:"required,min=1"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// TransitionDetails carries data merged into the order by specific
// transitions. Only entering Disputed reads it.
type TransitionDetails struct {
	DisputeReason      string `json:"disputeReason,omitempty"`
	DisputeEvidenceURL string `json:"disputeEvidenceUrl,omitempty"`
}

// CreateListingRequest represents a new listing from a farmer
type CreateListingRequest struct {
	OwnerID     string          `json:"ownerId"`
	Name        string          `json:"name" binding:"required"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
	Unit        string          `json:"unit"`
	Quantity    int             `json:"quantity"`
	Grade       models.Grade    `json:"grade"`
	HarvestDate string          `json:"harvestDate"`
	ImageURL    string          `json:"imageUrl"`
}

// Price computes subtotal, fees and total for qty units at unitPrice
func (w *OrderWorkflow) Price(unitPrice decimal.Decimal, qty int) (subtotal, fees, total decimal.Decimal) {
	subtotal = unitPrice.Mul(decimal.NewFromInt(int64(qty)))
	fees = subtotal.Mul(w.feeRate)
	return subtotal, fees, subtotal.Add(fees)
}

// PlaceOrder creates a paid order against a listing and debits its
// quantity. The order is written before the listing; if the debit fails
// the order remains, OrderPlaced is still published and the error is
// returned. An idempotency key is claimed before the order is written, so
// a retry with the same key never creates a second order.
func (w *OrderWorkflow) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderWorkflow.PlaceOrder", "listing_id", req.ListingID)
	defer span.End()

	if req.ListingID == "" || req.BuyerID == "" {
		return nil, fmt.Errorf("%w: listing and buyer are required", models.ErrInvalidInput)
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", models.ErrInvalidInput)
	}

	if req.IdempotencyKey != "" {
		existing, err := w.replay(ctx, req.IdempotencyKey)
		if err != nil {
			util.RecordError(span, err)
			return nil, err
		}
		if existing != nil {
			w.logDuplicate(req.IdempotencyKey, existing.ID)
			return existing, nil
		}
	}

	listing, err := w.listings.GetState(ctx, req.ListingID)
	if err != nil {
		util.OrdersRejectedTotal.WithLabelValues("listing_unavailable").Inc()
		util.RecordError(span, err)
		return nil, err
	}

	if req.Quantity > listing.Quantity {
		util.OrdersRejectedTotal.WithLabelValues("insufficient_quantity").Inc()
		return nil, fmt.Errorf("%w: requested %d, available %d",
			models.ErrInsufficientQuantity, req.Quantity, listing.Quantity)
	}

	subtotal, fees, total := w.Price(listing.Price, req.Quantity)
	placedAt := w.now().UTC()

	order := models.Order{
		ID:        w.newID(),
		ListingID: listing.ID,
		BuyerID:   req.BuyerID,
		SellerID:  listing.OwnerID,
		Quantity:  req.Quantity,
		Subtotal:  subtotal,
		Fees:      fees,
		Total:     total,
		Status:    models.OrderStatusPaid,
		CreatedAt: placedAt,
		StatusHistory: []models.StatusEntry{
			{Status: models.OrderStatusPlaced, Timestamp: placedAt},
			{Status: models.OrderStatusPaid, Timestamp: placedAt.Add(paymentSettleOffset)},
		},
	}

	if req.IdempotencyKey != "" {
		existing, err := w.claim(ctx, req.IdempotencyKey, order.ID)
		if err != nil {
			util.RecordError(span, err)
			return nil, err
		}
		if existing != nil {
			w.logDuplicate(req.IdempotencyKey, existing.ID)
			return existing, nil
		}
	}

	if err := w.orders.Create(ctx, order); err != nil {
		if req.IdempotencyKey != "" {
			w.release(ctx, req.IdempotencyKey)
		}
		util.OrdersRejectedTotal.WithLabelValues("store_error").Inc()
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	if req.IdempotencyKey != "" {
		// The claim carries no TTL; rewrite it with one now that the order exists.
		if err := w.kv.Put(ctx, idempotencyKey(req.IdempotencyKey), []byte(order.ID), kv.WithTTL(w.cfg.IdempotencyTTL)); err != nil {
			w.logger.Warn("Failed to set idempotency key expiry",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Error(err))
		}
	}

	util.OrdersPlacedTotal.Inc()
	w.logger.Info("Order placed",
		zap.String("order_id", order.ID),
		zap.String("listing_id", listing.ID),
		zap.Int("quantity", order.Quantity),
		zap.String("total", order.Total.String()))

	remaining := listing.Quantity - req.Quantity
	_, debitErr := w.listings.Patch(ctx, listing.ID, func(l *models.Listing) error {
		l.Quantity = remaining
		return nil
	})
	if debitErr != nil {
		w.logger.Error("Order written but inventory debit failed",
			zap.String("order_id", order.ID),
			zap.String("listing_id", listing.ID),
			zap.Int("quantity", req.Quantity),
			zap.Error(debitErr))
		util.RecordError(span, debitErr)
	}

	event := &models.OrderPlacedEvent{
		BaseEvent: w.newEvent(models.EventTypeOrderPlaced),
		OrderID:   order.ID,
		ListingID: order.ListingID,
		BuyerID:   order.BuyerID,
		SellerID:  order.SellerID,
		Quantity:  order.Quantity,
		Subtotal:  order.Subtotal,
		Fees:      order.Fees,
		Total:     order.Total,
	}
	if err := w.publisher.PublishOrderPlaced(ctx, event); err != nil {
		w.logger.Error("Failed to publish OrderPlaced event", zap.Error(err))
	}

	if debitErr != nil {
		return nil, fmt.Errorf("order %s placed but inventory debit failed: %w", order.ID, debitErr)
	}
	return &order, nil
}

func idempotencyKey(key string) string {
	return "idempotency:" + key
}

func (w *OrderWorkflow) logDuplicate(key, orderID string) {
	w.logger.Info("Duplicate order request detected",
		zap.String("idempotency_key", key),
		zap.String("order_id", orderID))
}

// replay returns the order recorded under an idempotency key, or nil
func (w *OrderWorkflow) replay(ctx context.Context, key string) (*models.Order, error) {
	raw, err := w.kv.Get(ctx, idempotencyKey(key))
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}

	order, err := w.orders.GetState(ctx, string(raw))
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// claim binds key to orderID if no other request holds it. It returns the
// order of the request that already holds the key, or ErrAlreadyExists
// while that request has not written its order yet.
func (w *OrderWorkflow) claim(ctx context.Context, key, orderID string) (*models.Order, error) {
	var holder string
	err := w.kv.Update(ctx, idempotencyKey(key), func(current []byte, found bool) ([]byte, error) {
		if found && len(current) > 0 {
			holder = string(current)
			return current, nil
		}
		return []byte(orderID), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim idempotency key: %w", err)
	}
	if holder == "" || holder == orderID {
		return nil, nil
	}

	order, err := w.orders.GetState(ctx, holder)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("%w: a request with idempotency key %q is in progress",
			models.ErrAlreadyExists, key)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// release drops a claim whose order was never written
func (w *OrderWorkflow) release(ctx context.Context, key string) {
	if err := w.kv.Delete(ctx, idempotencyKey(key)); err != nil {
		w.logger.Warn("Failed to release idempotency key",
			zap.String("idempotency_key", key),
			zap.Error(err))
	}
}

// Transition moves an order to status to on behalf of actor. The guard is
// evaluated against the state read for the write, and a rejected
// transition writes nothing.
func (w *OrderWorkflow) Transition(
	ctx context.Context,
	orderID string,
	actor models.Actor,
	to models.OrderStatus,
	details *TransitionDetails,
) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderWorkflow.Transition",
		"order_id", orderID, "to", string(to), "actor_id", actor.ID)
	defer span.End()

	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrInvalidTransition, to)
	}

	var from models.OrderStatus
	updated, err := w.orders.Patch(ctx, orderID, func(o *models.Order) error {
		from = o.Status
		if err := authorizeTransition(*o, actor, to); err != nil {
			return err
		}

		if to == models.OrderStatusDisputed {
			if details == nil || strings.TrimSpace(details.DisputeReason) == "" {
				return fmt.Errorf("%w: a dispute reason is required", models.ErrInvalidInput)
			}
			o.DisputeReason = strings.TrimSpace(details.DisputeReason)
			o.DisputeEvidenceURL = strings.TrimSpace(details.DisputeEvidenceURL)
		}

		o.StatusHistory = append(o.StatusHistory, models.StatusEntry{Status: to, Timestamp: w.now().UTC()})
		o.Status = to
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			util.OrderTransitionsRejectedTotal.WithLabelValues(string(to)).Inc()
			w.logger.Info("Order transition rejected",
				zap.String("order_id", orderID),
				zap.String("actor_id", actor.ID),
				zap.String("to", string(to)),
				zap.Error(err))
		}
		util.RecordError(span, err)
		return nil, err
	}

	util.OrderTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	w.logger.Info("Order status changed",
		zap.String("order_id", orderID),
		zap.String("actor_id", actor.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	event := &models.OrderStatusChangedEvent{
		BaseEvent: w.newEvent(models.EventTypeOrderStatusChanged),
		OrderID:   updated.ID,
		ActorID:   actor.ID,
		From:      from,
		To:        to,
		BuyerID:   updated.BuyerID,
		SellerID:  updated.SellerID,
		Subtotal:  updated.Subtotal,
		Total:     updated.Total,
	}
	if err := w.publisher.PublishOrderStatusChanged(ctx, event); err != nil {
		w.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
	}

	return &updated, nil
}

// CreateListing validates and stores a new listing. It fails with
// models.ErrConflictingOpenOrder when the owner already has a same-named
// listing with an open order against it.
func (w *OrderWorkflow) CreateListing(ctx context.Context, req *CreateListingRequest) (*models.Listing, error) {
	ctx, span := util.StartSpan(ctx, "OrderWorkflow.CreateListing", "owner_id", req.OwnerID)
	defer span.End()

	listing, err := w.validateListing(req)
	if err != nil {
		return nil, err
	}

	conflict, err := w.hasOpenOrderForProduct(ctx, listing.OwnerID, listing.Name)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	if conflict {
		util.ListingConflictsTotal.Inc()
		return nil, fmt.Errorf("%w: resolve the open order for %q before listing it again",
			models.ErrConflictingOpenOrder, listing.Name)
	}

	listing.ID = w.newID()
	if err := w.listings.Create(ctx, listing); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to create listing: %w", err)
	}

	util.ListingsCreatedTotal.Inc()
	w.logger.Info("Listing created",
		zap.String("listing_id", listing.ID),
		zap.String("owner_id", listing.OwnerID))

	event := &models.ListingCreatedEvent{
		BaseEvent: w.newEvent(models.EventTypeListingCreated),
		ListingID: listing.ID,
		OwnerID:   listing.OwnerID,
		Name:      listing.Name,
		Quantity:  listing.Quantity,
	}
	if err := w.publisher.PublishListingCreated(ctx, event); err != nil {
		w.logger.Error("Failed to publish ListingCreated event", zap.Error(err))
	}

	return &listing, nil
}

func (w *OrderWorkflow) validateListing(req *CreateListingRequest) (models.Listing, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || req.OwnerID == "" {
		return models.Listing{}, fmt.Errorf("%w: name and owner are required", models.ErrInvalidInput)
	}
	if !req.Price.IsPositive() {
		return models.Listing{}, fmt.Errorf("%w: price must be positive", models.ErrInvalidInput)
	}
	if req.Quantity < 0 {
		return models.Listing{}, fmt.Errorf("%w: quantity cannot be negative", models.ErrInvalidInput)
	}

	grade := req.Grade
	if grade == "" {
		grade = models.GradeA
	}
	if !grade.Valid() {
		return models.Listing{}, fmt.Errorf("%w: unknown grade %q", models.ErrInvalidInput, req.Grade)
	}

	return models.Listing{
		OwnerID:     req.OwnerID,
		Name:        name,
		Description: req.Description,
		Category:    req.Category,
		Price:       req.Price,
		Unit:        req.Unit,
		Quantity:    req.Quantity,
		Grade:       grade,
		HarvestDate: req.HarvestDate,
		ImageURL:    req.ImageURL,
	}, nil
}

// hasOpenOrderForProduct reports whether any open order references one of
// owner's listings named name (case-insensitive)
func (w *OrderWorkflow) hasOpenOrderForProduct(ctx context.Context, ownerID, name string) (bool, error) {
	sameName := make(map[string]struct{})
	err := w.listings.Walk(ctx, func(l models.Listing) error {
		if l.OwnerID == ownerID && strings.EqualFold(strings.TrimSpace(l.Name), name) {
			sameName[l.ID] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if len(sameName) == 0 {
		return false, nil
	}

	found := false
	err = w.orders.Walk(ctx, func(o models.Order) error {
		if _, ok := sameName[o.ListingID]; ok && o.Open() {
			found = true
			return errStopWalk
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return false, err
	}
	return found, nil
}

// GetOrder retrieves an order by ID
func (w *OrderWorkflow) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	order, err := w.orders.GetState(ctx, id)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrders returns all orders in creation order
func (w *OrderWorkflow) ListOrders(ctx context.Context) ([]models.Order, error) {
	return w.orders.List(ctx)
}

// GetListing retrieves a listing by ID
func (w *OrderWorkflow) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	listing, err := w.listings.GetState(ctx, id)
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

// ListListings returns all listings in creation order
func (w *OrderWorkflow) ListListings(ctx context.Context) ([]models.Listing, error) {
	return w.listings.List(ctx)
}

func (w *OrderWorkflow) newEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: w.now().UTC(),
	}
}
