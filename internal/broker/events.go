package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"auction-service/internal/models"
	"auction-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NewBaseEvent stamps a fresh event id and time
func NewBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func auctionKey(auctionID int64) string {
	return fmt.Sprintf("auction-%d", auctionID)
}

// PublishAuctionCreated publishes AuctionCreated event
func (ep *EventPublisher) PublishAuctionCreated(ctx context.Context, event *models.AuctionCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, auctionKey(event.AuctionID), event)
}

// PublishBidPlaced publishes BidPlaced event
func (ep *EventPublisher) PublishBidPlaced(ctx context.Context, event *models.BidPlacedEvent) error {
	return ep.producer.PublishEvent(ctx, auctionKey(event.AuctionID), event)
}

// PublishAuctionResolved publishes AuctionCompleted or AuctionCancelled
func (ep *EventPublisher) PublishAuctionResolved(ctx context.Context, event *models.AuctionResolvedEvent) error {
	return ep.producer.PublishEvent(ctx, auctionKey(event.AuctionID), event)
}

// PublishAuctionPaid publishes AuctionPaid event
func (ep *EventPublisher) PublishAuctionPaid(ctx context.Context, event *models.AuctionPaidEvent) error {
	return ep.producer.PublishEvent(ctx, auctionKey(event.AuctionID), event)
}

// PublishShippingUpdated publishes ShippingUpdated event
func (ep *EventPublisher) PublishShippingUpdated(ctx context.Context, event *models.ShippingUpdatedEvent) error {
	return ep.producer.PublishEvent(ctx, auctionKey(event.AuctionID), event)
}

// PublishDeliveryCodeIssued publishes DeliveryCodeIssued event
func (ep *EventPublisher) PublishDeliveryCodeIssued(ctx context.Context, event *models.DeliveryCodeIssuedEvent) error {
	return ep.producer.PublishEvent(ctx, auctionKey(event.AuctionID), event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onAuctionResolved    func(context.Context, *models.AuctionResolvedEvent) error
	onAuctionPaid        func(context.Context, *models.AuctionPaidEvent) error
	onShippingUpdated    func(context.Context, *models.ShippingUpdatedEvent) error
	onDeliveryCodeIssued func(context.Context, *models.DeliveryCodeIssuedEvent) error
	logger               *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.Component("broker.handler")}
}

// OnAuctionResolved registers a handler for AuctionCompleted and AuctionCancelled
func (eh *EventHandler) OnAuctionResolved(handler func(context.Context, *models.AuctionResolvedEvent) error) {
	eh.onAuctionResolved = handler
}

// OnAuctionPaid registers a handler for AuctionPaid events
func (eh *EventHandler) OnAuctionPaid(handler func(context.Context, *models.AuctionPaidEvent) error) {
	eh.onAuctionPaid = handler
}

// OnShippingUpdated registers a handler for ShippingUpdated events
func (eh *EventHandler) OnShippingUpdated(handler func(context.Context, *models.ShippingUpdatedEvent) error) {
	eh.onShippingUpdated = handler
}

// OnDeliveryCodeIssued registers a handler for DeliveryCodeIssued events
func (eh *EventHandler) OnDeliveryCodeIssued(handler func(context.Context, *models.DeliveryCodeIssuedEvent) error) {
	eh.onDeliveryCodeIssued = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, key, value []byte) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID),
		zap.ByteString("key", key))

	switch baseEvent.EventType {
	case models.EventTypeAuctionCompleted, models.EventTypeAuctionCancelled:
		if eh.onAuctionResolved != nil {
			var event models.AuctionResolvedEvent
			if err := json.Unmarshal(value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal %s event: %w", baseEvent.EventType, err)
			}
			return eh.onAuctionResolved(ctx, &event)
		}

	case models.EventTypeAuctionPaid:
		if eh.onAuctionPaid != nil {
			var event models.AuctionPaidEvent
			if err := json.Unmarshal(value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal AuctionPaid event: %w", err)
			}
			return eh.onAuctionPaid(ctx, &event)
		}

	case models.EventTypeShippingUpdated:
		if eh.onShippingUpdated != nil {
			var event models.ShippingUpdatedEvent
			if err := json.Unmarshal(value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ShippingUpdated event: %w", err)
			}
			return eh.onShippingUpdated(ctx, &event)
		}

	case models.EventTypeDeliveryCodeIssued:
		if eh.onDeliveryCodeIssued != nil {
			var event models.DeliveryCodeIssuedEvent
			if err := json.Unmarshal(value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal DeliveryCodeIssued event: %w", err)
			}
			return eh.onDeliveryCodeIssued(ctx, &event)
		}

	case models.EventTypeAuctionCreated, models.EventTypeBidPlaced:
		// Informational; nobody is notified.

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
