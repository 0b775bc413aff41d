package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeAuctionCreated     = "AUCTION_CREATED"
	EventTypeBidPlaced          = "BID_PLACED"
	EventTypeAuctionCompleted   = "AUCTION_COMPLETED"
	EventTypeAuctionCancelled   = "AUCTION_CANCELLED"
	EventTypeAuctionPaid        = "AUCTION_PAID"
	EventTypeShippingUpdated    = "SHIPPING_UPDATED"
	EventTypeDeliveryCodeIssued = "DELIVERY_CODE_ISSUED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// AuctionCreatedEvent published when a seller lists an auction
type AuctionCreatedEvent struct {
	BaseEvent
	AuctionID     int64           `json:"auction_id"`
	SellerID      int64           `json:"seller_id"`
	ProductName   string          `json:"product_name"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	Currency      string          `json:"currency"`
	Status        string          `json:"status"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       time.Time       `json:"end_time"`
}

// BidPlacedEvent published after a bid is committed
type BidPlacedEvent struct {
	BaseEvent
	AuctionID   int64           `json:"auction_id"`
	BidID       int64           `json:"bid_id"`
	CustomerID  int64           `json:"customer_id"`
	Amount      decimal.Decimal `json:"amount"`
	PreviousBid decimal.Decimal `json:"previous_bid"`
}

// AuctionResolvedEvent published by the expiry resolver. WinnerID is nil for
// cancelled auctions.
type AuctionResolvedEvent struct {
	BaseEvent
	AuctionID   int64           `json:"auction_id"`
	SellerID    int64           `json:"seller_id"`
	WinnerID    *int64          `json:"winner_id,omitempty"`
	FinalAmount decimal.Decimal `json:"final_amount"`
	Currency    string          `json:"currency"`
	ProductName string          `json:"product_name"`
}

// AuctionPaidEvent published when the winner pays
type AuctionPaidEvent struct {
	BaseEvent
	AuctionID int64           `json:"auction_id"`
	SellerID  int64           `json:"seller_id"`
	WinnerID  int64           `json:"winner_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
}

// ShippingUpdatedEvent published on every shipping-track transition
type ShippingUpdatedEvent struct {
	BaseEvent
	AuctionID       int64  `json:"auction_id"`
	SellerID        int64  `json:"seller_id"`
	WinnerID        int64  `json:"winner_id"`
	ShippingStatus  string `json:"shipping_status"`
	DeliveryAgentID *int64 `json:"delivery_agent_id,omitempty"`
	ActorID         int64  `json:"actor_id"`
	TrackingNumber  string `json:"tracking_number,omitempty"`
}

// DeliveryCodeIssuedEvent carries the one-time delivery code to the buyer.
type DeliveryCodeIssuedEvent struct {
	BaseEvent
	AuctionID int64     `json:"auction_id"`
	WinnerID  int64     `json:"winner_id"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}
