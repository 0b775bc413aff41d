package service

import (
	"context"
	"errors"
	"time"

	"auction-service/internal/auth"
	"auction-service/internal/broker"
	"auction-service/internal/models"
	"auction-service/internal/store"
	"auction-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BiddingEngine accepts bids under an exclusive lock on the auction row
type BiddingEngine struct {
	repo           Repository
	eventPublisher *broker.EventPublisher
	logger         *zap.Logger
	now            func() time.Time
}

// NewBiddingEngine creates a new bidding engine
func NewBiddingEngine(repo Repository, eventPublisher *broker.EventPublisher) *BiddingEngine {
	return &BiddingEngine{
		repo:           repo,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
		now:            time.Now,
	}
}

// SetClock overrides the wall clock
func (e *BiddingEngine) SetClock(now func() time.Time) { e.now = now }

// PlaceBidResult is returned for an accepted bid
type PlaceBidResult struct {
	Bid         models.Bid      `json:"bid"`
	CurrentBid  decimal.Decimal `json:"current_bid"`
	PreviousBid decimal.Decimal `json:"previous_bid"`
}

// PlaceBid records amount as the new current bid if it beats the current one.
// The auction row stays locked from the state check until the bid and the new
// price are both written.
func (e *BiddingEngine) PlaceBid(ctx context.Context, caller auth.Caller, auctionID int64, amount decimal.Decimal) (*PlaceBidResult, error) {
	ctx, span := util.StartSpan(ctx, "BiddingEngine.PlaceBid", auctionID)
	defer span.End()

	if !caller.Is(auth.RoleCustomer) {
		return nil, ErrForbidden
	}
	if !amount.IsPositive() {
		util.BidsRejectedTotal.WithLabelValues("validation").Inc()
		return nil, validationError("amount must be greater than zero")
	}
	if !amount.Equal(amount.Round(2)) {
		util.BidsRejectedTotal.WithLabelValues("validation").Inc()
		return nil, validationError("amount must have at most two decimal places")
	}

	start := time.Now()
	var result PlaceBidResult
	err := e.repo.WithTx(ctx, func(tx store.Tx) error {
		auction, err := tx.LockAuction(ctx, auctionID)
		if err != nil {
			return err
		}

		now := e.now()
		if auction.Status == models.AuctionStatusScheduled &&
			!now.Before(auction.StartTime) && now.Before(auction.EndTime) {
			if err := tx.ActivateAuction(ctx, auction.ID); err != nil {
				return err
			}
			auction.Status = models.AuctionStatusActive
		}

		if auction.Status != models.AuctionStatusActive || !now.Before(auction.EndTime) {
			return ErrAuctionClosed
		}
		if amount.LessThanOrEqual(auction.CurrentBid) {
			return &BidTooLowError{CurrentBid: auction.CurrentBid}
		}

		bid := models.Bid{
			AuctionID:  auction.ID,
			CustomerID: caller.ID,
			Amount:     amount,
			CreatedAt:  now,
		}
		if err := tx.InsertBid(ctx, &bid); err != nil {
			return err
		}
		if err := tx.UpdateCurrentBid(ctx, auction.ID, amount); err != nil {
			return err
		}

		result = PlaceBidResult{Bid: bid, CurrentBid: amount, PreviousBid: auction.CurrentBid}
		return nil
	})
	util.BidLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		err = mapStoreError(err)
		e.recordRejection(auctionID, caller.ID, amount, err)
		if KindOf(err) == KindInternal || KindOf(err) == KindUnavailable {
			util.RecordSpanError(span, err)
		}
		return nil, err
	}

	util.BidsAcceptedTotal.Inc()
	e.logger.Info("Bid accepted",
		zap.Int64("auction_id", auctionID),
		zap.Int64("bid_id", result.Bid.ID),
		zap.Int64("customer_id", caller.ID),
		zap.String("amount", amount.String()))

	event := &models.BidPlacedEvent{
		BaseEvent:   broker.NewBaseEvent(models.EventTypeBidPlaced),
		AuctionID:   auctionID,
		BidID:       result.Bid.ID,
		CustomerID:  caller.ID,
		Amount:      amount,
		PreviousBid: result.PreviousBid,
	}
	if err := e.eventPublisher.PublishBidPlaced(ctx, event); err != nil {
		e.logger.Error("Failed to publish BidPlaced event", zap.Error(err))
	}

	return &result, nil
}

func (e *BiddingEngine) recordRejection(auctionID, customerID int64, amount decimal.Decimal, err error) {
	fields := []zap.Field{
		zap.Int64("auction_id", auctionID),
		zap.Int64("customer_id", customerID),
		zap.String("amount", amount.String()),
		zap.Error(err),
	}

	switch {
	case errors.Is(err, ErrBidTooLow):
		util.BidsRejectedTotal.WithLabelValues("too_low").Inc()
		e.logger.Debug("Bid rejected", fields...)
	case errors.Is(err, ErrAuctionClosed):
		util.BidsRejectedTotal.WithLabelValues("closed").Inc()
		e.logger.Debug("Bid rejected", fields...)
	case errors.Is(err, ErrAuctionNotFound):
		util.BidsRejectedTotal.WithLabelValues("not_found").Inc()
		e.logger.Debug("Bid rejected", fields...)
	case errors.Is(err, ErrUnavailable):
		util.BidsRejectedTotal.WithLabelValues("lock_timeout").Inc()
		e.logger.Warn("Bid lock wait timed out", fields...)
	default:
		util.BidsRejectedTotal.WithLabelValues("error").Inc()
		e.logger.Error("Failed to place bid", fields...)
	}
}
