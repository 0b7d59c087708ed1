package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"market-service/internal/entity"
	"market-service/internal/models"
	"market-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LedgerService records escrow movements derived from order events.
// Transaction ids are derived from the order id and type, so a redelivered
// event maps onto the entry it already produced.
type LedgerService struct {
	transactions *entity.Store[models.Transaction]
	now          func() time.Time
	logger       *zap.Logger
}

// NewLedgerService creates a ledger over the transaction store
func NewLedgerService(transactions *entity.Store[models.Transaction]) *LedgerService {
	return &LedgerService{
		transactions: transactions,
		now:          time.Now,
		logger:       util.Component("ledger"),
	}
}

// HandleOrderPlaced records the buyer's payment into escrow
func (l *LedgerService) HandleOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	return l.record(ctx, event.OrderID, event.BuyerID, event.Total, models.TransactionPayment)
}

// HandleOrderStatusChanged pays the seller on delivery and refunds the
// buyer on cancellation. Other transitions move no money.
func (l *LedgerService) HandleOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	switch event.To {
	case models.OrderStatusDelivered:
		return l.record(ctx, event.OrderID, event.SellerID, event.Subtotal, models.TransactionPayout)
	case models.OrderStatusCancelled:
		return l.record(ctx, event.OrderID, event.BuyerID, event.Total, models.TransactionRefund)
	}
	return nil
}

func transactionID(orderID string, txType models.TransactionType) string {
	return orderID + "-" + string(txType)
}

func (l *LedgerService) record(ctx context.Context, orderID, partyID string, amount decimal.Decimal, txType models.TransactionType) error {
	ctx, span := util.StartSpan(ctx, "LedgerService.record", "order_id", orderID, "type", string(txType))
	defer span.End()

	tx := models.Transaction{
		ID:        transactionID(orderID, txType),
		OrderID:   orderID,
		PartyID:   partyID,
		Amount:    amount,
		Type:      txType,
		Status:    models.TransactionStatusCompleted,
		Timestamp: l.now().UTC(),
	}

	err := l.transactions.Create(ctx, tx)
	if errors.Is(err, models.ErrAlreadyExists) {
		l.logger.Debug("Ledger entry already recorded", zap.String("transaction_id", tx.ID))
		return nil
	}
	if err != nil {
		util.RecordError(span, err)
		return fmt.Errorf("failed to record %s for order %s: %w", txType, orderID, err)
	}

	util.LedgerEntriesTotal.WithLabelValues(string(txType)).Inc()
	l.logger.Info("Ledger entry recorded",
		zap.String("transaction_id", tx.ID),
		zap.String("party_id", partyID),
		zap.String("amount", amount.String()))
	return nil
}

// ListTransactions returns every ledger entry in recording order
func (l *LedgerService) ListTransactions(ctx context.Context) ([]models.Transaction, error) {
	return l.transactions.List(ctx)
}

// TransactionsForOrder returns the ledger entries of one order
func (l *LedgerService) TransactionsForOrder(ctx context.Context, orderID string) ([]models.Transaction, error) {
	var out []models.Transaction
	err := l.transactions.Walk(ctx, func(tx models.Transaction) error {
		if tx.OrderID == orderID {
			out = append(out, tx)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Balance is the escrow amount still held for an order
func Balance(transactions []models.Transaction) decimal.Decimal {
	held := decimal.Zero
	for _, tx := range transactions {
		switch tx.Type {
		case models.TransactionPayment:
			held = held.Add(tx.Amount)
		case models.TransactionPayout, models.TransactionRefund:
			held = held.Sub(tx.Amount)
		}
	}
	return held
}
