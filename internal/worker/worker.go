package worker

import (
	"context"

	"market-service/internal/broker"
	"market-service/internal/models"
	"market-service/internal/service"
	"market-service/internal/util"

	"go.uber.org/zap"
)

// MessageSource is a stream of broker messages, satisfied by *broker.Consumer
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// LedgerWorker projects order events from Kafka into the escrow ledger
type LedgerWorker struct {
	consumer     MessageSource
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewLedgerWorker creates a new ledger worker
func NewLedgerWorker(consumer MessageSource, ledger *service.LedgerService) *LedgerWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnOrderPlaced(ledger.HandleOrderPlaced)
	eventHandler.OnOrderStatusChanged(ledger.HandleOrderStatusChanged)

	return &LedgerWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.Component("ledger-worker"),
	}
}

// Start starts the worker
func (w *LedgerWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting ledger worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *LedgerWorker) Stop() error {
	w.logger.Info("Stopping ledger worker")
	return w.consumer.Close()
}

// InlineLedger applies order events to the ledger in the publishing
// goroutine. It stands in for the broker when Kafka is not configured.
type InlineLedger struct {
	ledger *service.LedgerService
	logger *zap.Logger
}

// NewInlineLedger creates an in-process ledger publisher
func NewInlineLedger(ledger *service.LedgerService) *InlineLedger {
	return &InlineLedger{ledger: ledger, logger: util.Component("ledger-inline")}
}

func (p *InlineLedger) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	return p.ledger.HandleOrderPlaced(ctx, event)
}

func (p *InlineLedger) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	return p.ledger.HandleOrderStatusChanged(ctx, event)
}

func (p *InlineLedger) PublishListingCreated(_ context.Context, event *models.ListingCreatedEvent) error {
	p.logger.Debug("Listing created", zap.String("listing_id", event.ListingID))
	return nil
}
