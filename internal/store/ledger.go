package store

import (
	"context"

	"auction-service/internal/models"
)

// ListBids returns an auction's bids, highest first
func (s *Store) ListBids(ctx context.Context, auctionID int64) ([]models.Bid, error) {
	bids := []models.Bid{}
	err := s.db.SelectContext(ctx, &bids, `
		SELECT * FROM bids WHERE auction_id = $1
		ORDER BY amount DESC, created_at ASC, id ASC`, auctionID)
	return bids, err
}

// ListTracking returns an auction's tracking ledger in insertion order
func (s *Store) ListTracking(ctx context.Context, auctionID int64) ([]models.TrackingEntry, error) {
	entries := []models.TrackingEntry{}
	err := s.db.SelectContext(ctx, &entries,
		"SELECT * FROM tracking_entries WHERE auction_id = $1 ORDER BY id ASC", auctionID)
	return entries, err
}

// ListTransfers returns an auction's agent transfers in insertion order
func (s *Store) ListTransfers(ctx context.Context, auctionID int64) ([]models.AgentTransfer, error) {
	transfers := []models.AgentTransfer{}
	err := s.db.SelectContext(ctx, &transfers,
		"SELECT * FROM agent_transfers WHERE auction_id = $1 ORDER BY id ASC", auctionID)
	return transfers, err
}

// CreateDeliveryAgent registers a fulfilment agent
func (s *Store) CreateDeliveryAgent(ctx context.Context, agent *models.DeliveryAgent) error {
	return s.db.GetContext(ctx, &agent.ID,
		"INSERT INTO delivery_agents (name, hub_id, active) VALUES ($1, $2, $3) RETURNING id",
		agent.Name, agent.HubID, agent.Active)
}

// IsActiveAgent reports whether id names an active delivery agent
func (s *Store) IsActiveAgent(ctx context.Context, id int64) (bool, error) {
	var active bool
	err := s.db.GetContext(ctx, &active,
		"SELECT EXISTS(SELECT 1 FROM delivery_agents WHERE id = $1 AND active)", id)
	return active, err
}
