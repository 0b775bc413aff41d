package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"time"

	"auction-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// Tx is the unit of work handed to WithTx callbacks. Every Lock* method
// holds the auction row until the surrounding transaction ends.
type Tx interface {
	LockAuction(ctx context.Context, id int64) (*models.Auction, error)
	LockExpiredAuction(ctx context.Context, id int64, now time.Time) (*models.Auction, error)
	InsertAuction(ctx context.Context, a *models.Auction) error
	ActivateAuction(ctx context.Context, id int64) error
	HighestBid(ctx context.Context, auctionID int64) (*models.Bid, error)
	InsertBid(ctx context.Context, b *models.Bid) error
	UpdateCurrentBid(ctx context.Context, auctionID int64, amount decimal.Decimal) error
	ResolveAuction(ctx context.Context, id int64, status string, winnerID *int64) error
	MarkPaid(ctx context.Context, id int64, address, phone string, paidAt time.Time) error
	UpdateShipping(ctx context.Context, id int64, u ShippingUpdate) error
	AppendTracking(ctx context.Context, e *models.TrackingEntry) error
	InsertTransfer(ctx context.Context, t *models.AgentTransfer) error
	DeleteAuction(ctx context.Context, id int64) error
}

// ShippingUpdate moves the shipping track. Nil pointers leave the column as is.
type ShippingUpdate struct {
	Status          string
	DeliveryAgentID *int64
	HubStaffID      *int64
	TrackingNumber  *string
}

// WithTx runs fn in a READ COMMITTED transaction with a bounded lock wait,
// replaying it on deadlock or serialization failure.
func (s *Store) WithTx(ctx context.Context, fn func(Tx) error) error {
	var lastErr error
	backoff := 50 * time.Millisecond

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return translate(err)
		}
		if attempt == s.maxRetries {
			return fmt.Errorf("max retries (%d) exceeded: %w", s.maxRetries, err)
		}
		lastErr = err

		jitter := time.Duration(rand.Int63n(int64(backoff / 4)))
		select {
		case <-time.After(backoff + jitter):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}

	return lastErr
}

func (s *Store) runTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type pgTx struct {
	tx *sqlx.Tx
}

// LockAuction reads the auction row with FOR UPDATE
func (t *pgTx) LockAuction(ctx context.Context, id int64) (*models.Auction, error) {
	var a models.Auction
	err := t.tx.GetContext(ctx, &a, "SELECT * FROM auctions WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// LockExpiredAuction locks the row only if it is still active and past its
// end time. Rows held by another transaction are skipped and reported as
// ErrNotFound so a concurrent sweep never blocks or double-resolves.
func (t *pgTx) LockExpiredAuction(ctx context.Context, id int64, now time.Time) (*models.Auction, error) {
	var a models.Auction
	err := t.tx.GetContext(ctx, &a, `
		SELECT * FROM auctions
		WHERE id = $1 AND status = $2 AND end_time <= $3
		FOR UPDATE SKIP LOCKED`,
		id, models.AuctionStatusActive, now)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (t *pgTx) InsertAuction(ctx context.Context, a *models.Auction) error {
	query := `
		INSERT INTO auctions (seller_id, product_name, quantity, unit, image_path,
			starting_price, current_bid, currency, seller_country, start_time, end_time,
			status, payment_status, shipping_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at, updated_at`

	return t.tx.GetContext(ctx, a, query,
		a.SellerID, a.ProductName, a.Quantity, a.Unit, a.ImagePath,
		a.StartingPrice, a.CurrentBid, a.Currency, a.SellerCountry, a.StartTime, a.EndTime,
		a.Status, a.PaymentStatus, a.ShippingStatus)
}

func (t *pgTx) activateDue(ctx context.Context, now time.Time) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE auctions SET status = $1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM auctions
			WHERE status = $2 AND start_time <= $3
			FOR UPDATE SKIP LOCKED
		)`,
		models.AuctionStatusActive, models.AuctionStatusScheduled, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (t *pgTx) ActivateAuction(ctx context.Context, id int64) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE auctions SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		models.AuctionStatusActive, id, models.AuctionStatusScheduled)
	return translate(err)
}

// HighestBid returns nil when the auction has no bids. Ties go to the
// earliest bid.
func (t *pgTx) HighestBid(ctx context.Context, auctionID int64) (*models.Bid, error) {
	var b models.Bid
	err := t.tx.GetContext(ctx, &b, `
		SELECT * FROM bids WHERE auction_id = $1
		ORDER BY amount DESC, created_at ASC, id ASC
		LIMIT 1`, auctionID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

func (t *pgTx) InsertBid(ctx context.Context, b *models.Bid) error {
	return t.tx.GetContext(ctx, &b.ID, `
		INSERT INTO bids (auction_id, customer_id, amount, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		b.AuctionID, b.CustomerID, b.Amount, b.CreatedAt)
}

func (t *pgTx) UpdateCurrentBid(ctx context.Context, auctionID int64, amount decimal.Decimal) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE auctions SET current_bid = $1, updated_at = NOW() WHERE id = $2",
		amount, auctionID)
	return translate(err)
}

func (t *pgTx) ResolveAuction(ctx context.Context, id int64, status string, winnerID *int64) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE auctions SET status = $1, winner_id = $2, updated_at = NOW() WHERE id = $3",
		status, winnerID, id)
	return translate(err)
}

func (t *pgTx) MarkPaid(ctx context.Context, id int64, address, phone string, paidAt time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE auctions
		SET payment_status = $1, paid_at = $2, shipping_address = $3, contact_phone = $4, updated_at = NOW()
		WHERE id = $5`,
		models.PaymentStatusPaid, paidAt, address, phone, id)
	return translate(err)
}

func (t *pgTx) UpdateShipping(ctx context.Context, id int64, u ShippingUpdate) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE auctions
		SET shipping_status = $1,
			delivery_agent_id = COALESCE($2, delivery_agent_id),
			hub_staff_id = COALESCE($3, hub_staff_id),
			tracking_number = COALESCE($4, tracking_number),
			updated_at = NOW()
		WHERE id = $5`,
		u.Status, u.DeliveryAgentID, u.HubStaffID, u.TrackingNumber, id)
	return translate(err)
}

func (t *pgTx) AppendTracking(ctx context.Context, e *models.TrackingEntry) error {
	return t.tx.GetContext(ctx, &e.ID, `
		INSERT INTO tracking_entries (auction_id, status, comment, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		e.AuctionID, e.Status, e.Comment, e.ActorID, e.CreatedAt)
}

func (t *pgTx) InsertTransfer(ctx context.Context, tr *models.AgentTransfer) error {
	return t.tx.GetContext(ctx, &tr.ID, `
		INSERT INTO agent_transfers (auction_id, from_agent_id, to_agent_id, comment, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		tr.AuctionID, tr.FromAgentID, tr.ToAgentID, tr.Comment, tr.CreatedAt)
}

// DeleteAuction removes the auction and every row that references it.
func (t *pgTx) DeleteAuction(ctx context.Context, id int64) error {
	for _, q := range []string{
		"DELETE FROM bids WHERE auction_id = $1",
		"DELETE FROM tracking_entries WHERE auction_id = $1",
		"DELETE FROM agent_transfers WHERE auction_id = $1",
		"DELETE FROM auctions WHERE id = $1",
	} {
		if _, err := t.tx.ExecContext(ctx, q, id); err != nil {
			return translate(err)
		}
	}
	return nil
}
