package service

import (
	"context"
	"fmt"

	"auction-service/internal/models"
	"auction-service/internal/util"

	"go.uber.org/zap"
)

// Sender hands a message to a user through whatever channel they use
type Sender interface {
	Send(ctx context.Context, userID int64, subject, body string) error
}

// LogSender writes notifications to the log
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender() *LogSender {
	return &LogSender{logger: util.Component("notifications")}
}

func (s *LogSender) Send(ctx context.Context, userID int64, subject, body string) error {
	s.logger.Info("Notification sent",
		zap.Int64("user_id", userID),
		zap.String("subject", subject),
		zap.String("body", body))
	return nil
}

// Notifier turns auction events into user notifications, at most once per event
type Notifier struct {
	ledger EventLedger
	sender Sender
	logger *zap.Logger
}

// NewNotifier creates a new notifier
func NewNotifier(ledger EventLedger, sender Sender) *Notifier {
	return &Notifier{
		ledger: ledger,
		sender: sender,
		logger: util.GetLogger(),
	}
}

type notification struct {
	userID  int64
	subject string
	body    string
}

func (n *Notifier) deliver(ctx context.Context, base models.BaseEvent, msgs ...notification) error {
	ctx, span := util.StartSpan(ctx, "Notifier.deliver")
	defer span.End()

	processed, err := n.ledger.IsEventProcessed(ctx, base.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		n.logger.Info("Event already processed", zap.String("event_id", base.EventID))
		return nil
	}

	for _, m := range msgs {
		if m.userID == 0 {
			continue
		}
		if err := n.sender.Send(ctx, m.userID, m.subject, m.body); err != nil {
			util.RecordSpanError(span, err)
			return fmt.Errorf("failed to notify user %d: %w", m.userID, err)
		}
		util.NotificationsSentTotal.WithLabelValues(base.EventType).Inc()
	}

	if _, err := n.ledger.MarkEventProcessed(ctx, base.EventID, base.EventType); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

// HandleAuctionResolved tells the seller how the auction ended and the winner that they won
func (n *Notifier) HandleAuctionResolved(ctx context.Context, event *models.AuctionResolvedEvent) error {
	if event.WinnerID == nil {
		return n.deliver(ctx, event.BaseEvent, notification{
			userID:  event.SellerID,
			subject: "Auction ended without bids",
			body:    fmt.Sprintf("Your auction #%d for %s closed with no bids.", event.AuctionID, event.ProductName),
		})
	}

	amount := event.FinalAmount.StringFixed(2) + " " + event.Currency
	return n.deliver(ctx, event.BaseEvent,
		notification{
			userID:  event.SellerID,
			subject: "Auction sold",
			body:    fmt.Sprintf("Your auction #%d for %s sold for %s.", event.AuctionID, event.ProductName, amount),
		},
		notification{
			userID:  *event.WinnerID,
			subject: "You won an auction",
			body:    fmt.Sprintf("You won auction #%d for %s at %s. Please complete payment.", event.AuctionID, event.ProductName, amount),
		},
	)
}

// HandleAuctionPaid tells the seller to arrange shipping
func (n *Notifier) HandleAuctionPaid(ctx context.Context, event *models.AuctionPaidEvent) error {
	return n.deliver(ctx, event.BaseEvent, notification{
		userID:  event.SellerID,
		subject: "Auction paid",
		body: fmt.Sprintf("Auction #%d was paid (%s %s). Assign a delivery agent or ship it.",
			event.AuctionID, event.Amount.StringFixed(2), event.Currency),
	})
}

// HandleShippingUpdated keeps the buyer informed about the shipment
func (n *Notifier) HandleShippingUpdated(ctx context.Context, event *models.ShippingUpdatedEvent) error {
	body := fmt.Sprintf("Your order from auction #%d is now %s.", event.AuctionID, event.ShippingStatus)
	if event.TrackingNumber != "" {
		body += " Tracking number: " + event.TrackingNumber
	}
	msgs := []notification{{userID: event.WinnerID, subject: "Shipping update", body: body}}
	if event.DeliveryAgentID != nil && *event.DeliveryAgentID != event.ActorID &&
		event.ShippingStatus != models.ShippingStatusDelivered {
		msgs = append(msgs, notification{
			userID:  *event.DeliveryAgentID,
			subject: "Shipment assigned",
			body:    fmt.Sprintf("Auction #%d has been assigned to you.", event.AuctionID),
		})
	}
	return n.deliver(ctx, event.BaseEvent, msgs...)
}

// HandleDeliveryCodeIssued sends the one-time delivery code to the buyer
func (n *Notifier) HandleDeliveryCodeIssued(ctx context.Context, event *models.DeliveryCodeIssuedEvent) error {
	return n.deliver(ctx, event.BaseEvent, notification{
		userID:  event.WinnerID,
		subject: "Your delivery code",
		body: fmt.Sprintf("Give code %s to the delivery agent for auction #%d. It expires at %s.",
			event.Code, event.AuctionID, event.ExpiresAt.Format("15:04 MST")),
	})
}
