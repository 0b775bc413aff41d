package store

import (
	"context"
	"time"

	"auction-service/internal/models"
)

// GetAuction retrieves an auction by ID
func (s *Store) GetAuction(ctx context.Context, id int64) (*models.Auction, error) {
	var a models.Auction
	if err := s.db.GetContext(ctx, &a, "SELECT * FROM auctions WHERE id = $1", id); err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// ListAuctionsBySeller retrieves a seller's auctions, newest first
func (s *Store) ListAuctionsBySeller(ctx context.Context, sellerID int64) ([]models.Auction, error) {
	auctions := []models.Auction{}
	err := s.db.SelectContext(ctx, &auctions,
		"SELECT * FROM auctions WHERE seller_id = $1 ORDER BY created_at DESC, id DESC", sellerID)
	return auctions, err
}

// ListOpenAuctions retrieves active and scheduled auctions that end after asOf
func (s *Store) ListOpenAuctions(ctx context.Context, asOf time.Time) ([]models.Auction, error) {
	auctions := []models.Auction{}
	err := s.db.SelectContext(ctx, &auctions, `
		SELECT * FROM auctions
		WHERE status IN ($1, $2) AND end_time > $3
		ORDER BY start_time ASC, id ASC`,
		models.AuctionStatusActive, models.AuctionStatusScheduled, asOf)
	return auctions, err
}

// ListExpiredAuctionIDs returns candidates for the resolver. The ids are not
// locked; each is re-checked under LockExpiredAuction.
func (s *Store) ListExpiredAuctionIDs(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	ids := []int64{}
	err := s.db.SelectContext(ctx, &ids, `
		SELECT id FROM auctions
		WHERE status = $1 AND end_time <= $2
		ORDER BY end_time ASC, id ASC
		LIMIT $3`,
		models.AuctionStatusActive, now, limit)
	return ids, err
}

// ActivateScheduled promotes scheduled auctions whose start time has passed.
// It runs under the transaction lock timeout and skips rows another
// transaction holds; the next sweep picks those up.
func (s *Store) ActivateScheduled(ctx context.Context, now time.Time) (int64, error) {
	var activated int64
	err := s.WithTx(ctx, func(tx Tx) error {
		n, err := tx.(*pgTx).activateDue(ctx, now)
		activated = n
		return err
	})
	return activated, err
}
