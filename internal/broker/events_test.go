package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"market-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestPublisherKeysByOrder(t *testing.T) {
	writer := &recordingWriter{}
	publisher := NewEventPublisher(newProducer(writer))

	err := publisher.PublishOrderPlaced(context.Background(), &models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{EventID: "e1", EventType: models.EventTypeOrderPlaced},
		OrderID:   "ord-7",
		Total:     decimal.RequireFromString("8.2"),
	})
	require.NoError(t, err)
	err = publisher.PublishListingCreated(context.Background(), &models.ListingCreatedEvent{
		BaseEvent: models.BaseEvent{EventID: "e2", EventType: models.EventTypeListingCreated},
		ListingID: "lst-3",
	})
	require.NoError(t, err)

	require.Len(t, writer.msgs, 2)
	assert.Equal(t, "order-ord-7", string(writer.msgs[0].Key))
	assert.Equal(t, "listing-lst-3", string(writer.msgs[1].Key))

	var decoded models.OrderPlacedEvent
	require.NoError(t, json.Unmarshal(writer.msgs[0].Value, &decoded))
	assert.Equal(t, models.EventTypeOrderPlaced, decoded.EventType)
	assert.True(t, decimal.RequireFromString("8.2").Equal(decoded.Total))
}

func TestPublisherWrapsWriteError(t *testing.T) {
	writer := &recordingWriter{err: errors.New("leader not available")}
	publisher := NewEventPublisher(newProducer(writer))

	err := publisher.PublishOrderStatusChanged(context.Background(), &models.OrderStatusChangedEvent{OrderID: "ord-1"})
	assert.ErrorIs(t, err, writer.err)
}

func TestHandleMessageRoutesByType(t *testing.T) {
	handler := NewEventHandler()

	var placed *models.OrderPlacedEvent
	var changed *models.OrderStatusChangedEvent
	handler.OnOrderPlaced(func(_ context.Context, e *models.OrderPlacedEvent) error {
		placed = e
		return nil
	})
	handler.OnOrderStatusChanged(func(_ context.Context, e *models.OrderStatusChangedEvent) error {
		changed = e
		return nil
	})

	placedBytes, err := json.Marshal(&models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{EventType: models.EventTypeOrderPlaced},
		OrderID:   "ord-1",
		BuyerID:   "grace@distro.example",
	})
	require.NoError(t, err)
	changedBytes, err := json.Marshal(&models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{EventType: models.EventTypeOrderStatusChanged},
		OrderID:   "ord-1",
		From:      models.OrderStatusShipped,
		To:        models.OrderStatusDelivered,
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, handler.HandleMessage(ctx, kafka.Message{Value: placedBytes}))
	require.NoError(t, handler.HandleMessage(ctx, kafka.Message{Value: changedBytes}))

	require.NotNil(t, placed)
	assert.Equal(t, "grace@distro.example", placed.BuyerID)
	require.NotNil(t, changed)
	assert.Equal(t, models.OrderStatusDelivered, changed.To)
}

func TestHandleMessageIgnoresUnknownAndRejectsGarbage(t *testing.T) {
	handler := NewEventHandler()
	ctx := context.Background()

	listing, err := json.Marshal(&models.ListingCreatedEvent{
		BaseEvent: models.BaseEvent{EventType: models.EventTypeListingCreated},
	})
	require.NoError(t, err)

	assert.NoError(t, handler.HandleMessage(ctx, kafka.Message{Value: listing}))
	assert.Error(t, handler.HandleMessage(ctx, kafka.Message{Value: []byte("{not json")}))
}

func TestHandleMessagePropagatesHandlerError(t *testing.T) {
	handler := NewEventHandler()
	boom := errors.New("store down")
	handler.OnOrderPlaced(func(context.Context, *models.OrderPlacedEvent) error { return boom })

	value, err := json.Marshal(&models.OrderPlacedEvent{BaseEvent: models.BaseEvent{EventType: models.EventTypeOrderPlaced}})
	require.NoError(t, err)

	assert.ErrorIs(t, handler.HandleMessage(context.Background(), kafka.Message{Value: value}), boom)
}
