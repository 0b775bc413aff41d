package service

import (
	"context"
	"time"

	"auction-service/internal/models"
	"auction-service/internal/store"
)

// Repository is the persistence contract shared by the Postgres store and
// the in-memory store.
type Repository interface {
	WithTx(ctx context.Context, fn func(store.Tx) error) error
	GetAuction(ctx context.Context, id int64) (*models.Auction, error)
	ListAuctionsBySeller(ctx context.Context, sellerID int64) ([]models.Auction, error)
	ListOpenAuctions(ctx context.Context, asOf time.Time) ([]models.Auction, error)
	ListExpiredAuctionIDs(ctx context.Context, now time.Time, limit int) ([]int64, error)
	ActivateScheduled(ctx context.Context, now time.Time) (int64, error)
	ListBids(ctx context.Context, auctionID int64) ([]models.Bid, error)
	ListTracking(ctx context.Context, auctionID int64) ([]models.TrackingEntry, error)
	ListTransfers(ctx context.Context, auctionID int64) ([]models.AgentTransfer, error)
	IsActiveAgent(ctx context.Context, id int64) (bool, error)
}

// EventLedger remembers which events were already handled.
type EventLedger interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error)
}
