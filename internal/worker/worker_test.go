package worker

import (
	"context"
	"encoding/json"
	"testing"

	"market-service/internal/broker"
	"market-service/internal/entity"
	"market-service/internal/kv"
	"market-service/internal/models"
	"market-service/internal/service"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// replaySource feeds a fixed set of messages to the handler, twice, to
// simulate redelivery
type replaySource struct {
	msgs   []kafka.Message
	closed bool
}

func (s *replaySource) StartConsuming(ctx context.Context, handler broker.MessageHandler) error {
	for round := 0; round < 2; round++ {
		for _, msg := range s.msgs {
			if err := handler(ctx, msg); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *replaySource) Close() error {
	s.closed = true
	return nil
}

func encode(t *testing.T, v interface{}) kafka.Message {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return kafka.Message{Value: b}
}

func TestLedgerWorkerProjectsEvents(t *testing.T) {
	ctx := context.Background()
	ledger := service.NewLedgerService(entity.NewStore[models.Transaction](kv.NewMemory(), entity.TransactionKind))
	total := decimal.RequireFromString("8.2")
	subtotal := decimal.RequireFromString("8")

	source := &replaySource{msgs: []kafka.Message{
		encode(t, &models.OrderPlacedEvent{
			BaseEvent: models.BaseEvent{EventType: models.EventTypeOrderPlaced},
			OrderID:   "ord-1", BuyerID: "b", SellerID: "s", Subtotal: subtotal, Total: total,
		}),
		encode(t, &models.OrderStatusChangedEvent{
			BaseEvent: models.BaseEvent{EventType: models.EventTypeOrderStatusChanged},
			OrderID:   "ord-1", To: models.OrderStatusDelivered, BuyerID: "b", SellerID: "s", Subtotal: subtotal, Total: total,
		}),
	}}

	w := NewLedgerWorker(source, ledger)
	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.Stop())
	assert.True(t, source.closed)

	txs, err := ledger.ListTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, models.TransactionPayment, txs[0].Type)
	assert.Equal(t, models.TransactionPayout, txs[1].Type)
	assert.Equal(t, "s", txs[1].PartyID)
}

func TestInlineLedgerFollowsWorkflow(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemory()
	ledger := service.NewLedgerService(entity.NewStore[models.Transaction](mem, entity.TransactionKind))
	listings := entity.NewStore[models.Listing](mem, entity.ListingKind)
	orders := entity.NewStore[models.Order](mem, entity.OrderKind)
	workflow := service.NewOrderWorkflow(orders, listings, mem, NewInlineLedger(ledger), service.WorkflowConfig{})

	require.NoError(t, listings.Create(ctx, models.Listing{
		ID: "lst-1", OwnerID: "s", Name: "Maize", Price: decimal.RequireFromString("2"), Quantity: 5, Grade: models.GradeA,
	}))

	order, err := workflow.PlaceOrder(ctx, &service.PlaceOrderRequest{ListingID: "lst-1", BuyerID: "b", Quantity: 5})
	require.NoError(t, err)
	_, err = workflow.Transition(ctx, order.ID, models.Actor{ID: "admin", Role: models.RoleAdmin}, models.OrderStatusCancelled, nil)
	require.NoError(t, err)

	txs, err := ledger.TransactionsForOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, models.TransactionRefund, txs[1].Type)
	assert.True(t, service.Balance(txs).IsZero())
}
