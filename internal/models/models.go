package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Auction is a time-boxed sale of one listed quantity to the highest bidder.
// All monetary fields are denominated in Currency.
type Auction struct {
	ID              int64           `db:"id" json:"id"`
	SellerID        int64           `db:"seller_id" json:"seller_id"`
	ProductName     string          `db:"product_name" json:"product_name"`
	Quantity        decimal.Decimal `db:"quantity" json:"quantity"`
	Unit            string          `db:"unit" json:"unit"`
	ImagePath       string          `db:"image_path" json:"image_path,omitempty"`
	StartingPrice   decimal.Decimal `db:"starting_price" json:"starting_price"`
	CurrentBid      decimal.Decimal `db:"current_bid" json:"current_bid"`
	Currency        string          `db:"currency" json:"currency"`
	SellerCountry   string          `db:"seller_country" json:"seller_country,omitempty"`
	StartTime       time.Time       `db:"start_time" json:"start_time"`
	EndTime         time.Time       `db:"end_time" json:"end_time"`
	Status          string          `db:"status" json:"status"`
	WinnerID        *int64          `db:"winner_id" json:"winner_id,omitempty"`
	PaymentStatus   string          `db:"payment_status" json:"payment_status"`
	PaidAt          *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	ShippingAddress string          `db:"shipping_address" json:"shipping_address,omitempty"`
	ContactPhone    string          `db:"contact_phone" json:"contact_phone,omitempty"`
	ShippingStatus  string          `db:"shipping_status" json:"shipping_status"`
	DeliveryAgentID *int64          `db:"delivery_agent_id" json:"delivery_agent_id,omitempty"`
	HubStaffID      *int64          `db:"hub_staff_id" json:"hub_staff_id,omitempty"`
	TrackingNumber  string          `db:"tracking_number" json:"tracking_number,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// IsWinner reports whether userID is the recorded winner.
func (a *Auction) IsWinner(userID int64) bool {
	return a.WinnerID != nil && *a.WinnerID == userID
}

// IsAssignedAgent reports whether agentID currently holds the shipment.
func (a *Auction) IsAssignedAgent(agentID int64) bool {
	return a.DeliveryAgentID != nil && *a.DeliveryAgentID == agentID
}

// Bid is an immutable entry in an auction's bid ledger.
type Bid struct {
	ID         int64           `db:"id" json:"id"`
	AuctionID  int64           `db:"auction_id" json:"auction_id"`
	CustomerID int64           `db:"customer_id" json:"customer_id"`
	Amount     decimal.Decimal `db:"amount" json:"amount"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// TrackingEntry is one append-only row of the post-sale ledger.
type TrackingEntry struct {
	ID        int64     `db:"id" json:"id"`
	AuctionID int64     `db:"auction_id" json:"auction_id"`
	Status    string    `db:"status" json:"status"`
	Comment   string    `db:"comment" json:"comment"`
	ActorID   *int64    `db:"actor_id" json:"actor_id,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AgentTransfer records a shipment handed from one delivery agent to another.
// FromAgentID is always the agent who performed the transfer.
type AgentTransfer struct {
	ID          int64     `db:"id" json:"id"`
	AuctionID   int64     `db:"auction_id" json:"auction_id"`
	FromAgentID int64     `db:"from_agent_id" json:"from_agent_id"`
	ToAgentID   int64     `db:"to_agent_id" json:"to_agent_id"`
	Comment     string    `db:"comment" json:"comment"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// DeliveryAgent is a fulfilment user that can hold shipments.
type DeliveryAgent struct {
	ID     int64  `db:"id" json:"id"`
	Name   string `db:"name" json:"name"`
	HubID  *int64 `db:"hub_id" json:"hub_id,omitempty"`
	Active bool   `db:"active" json:"active"`
}

// Auction statuses
const (
	AuctionStatusScheduled = "scheduled"
	AuctionStatusActive    = "active"
	AuctionStatusCompleted = "completed"
	AuctionStatusCancelled = "cancelled"
)

// Payment statuses
const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
)

// Shipping statuses
const (
	ShippingStatusPending        = "pending"
	ShippingStatusShippedPending = "shipped_pending"
	ShippingStatusShipped        = "shipped"
	ShippingStatusDelivered      = "delivered"
)

// Tracking entry statuses that are not shipping statuses.
const (
	TrackingStatusPaid        = "paid"
	TrackingStatusTransferred = "transferred"
)

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
