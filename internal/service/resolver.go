package service

import (
	"context"
	"errors"
	"time"

	"auction-service/internal/broker"
	"auction-service/internal/models"
	"auction-service/internal/store"
	"auction-service/internal/util"

	"go.uber.org/zap"
)

// Resolver closes auctions whose end time has passed. It is safe to run
// from several goroutines or instances at once: each auction is re-checked
// under a skip-locked row lock, so it is resolved exactly once.
type Resolver struct {
	repo           Repository
	eventPublisher *broker.EventPublisher
	batchSize      int
	logger         *zap.Logger
}

// SweepResult counts what one ResolveExpired call did
type SweepResult struct {
	Activated int64 `json:"activated"`
	Completed int   `json:"completed"`
	Cancelled int   `json:"cancelled"`
	Failed    int   `json:"failed"`
}

// Resolved is the number of auctions moved to a terminal status
func (r SweepResult) Resolved() int { return r.Completed + r.Cancelled }

// NewResolver creates a new expiry resolver
func NewResolver(repo Repository, eventPublisher *broker.EventPublisher, batchSize int) *Resolver {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Resolver{
		repo:           repo,
		eventPublisher: eventPublisher,
		batchSize:      batchSize,
		logger:         util.GetLogger(),
	}
}

var errSkipped = errors.New("auction skipped")

// ResolveExpired promotes due scheduled auctions, then resolves every active
// auction with end time at or before now. A failure on one auction is logged
// and counted without stopping the others.
func (r *Resolver) ResolveExpired(ctx context.Context, now time.Time) (SweepResult, error) {
	ctx, span := util.StartSpan(ctx, "Resolver.ResolveExpired")
	defer span.End()

	start := time.Now()
	defer func() {
		util.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	var result SweepResult

	activated, err := r.repo.ActivateScheduled(ctx, now)
	if err != nil {
		util.RecordSpanError(span, err)
		return result, mapStoreError(err)
	}
	result.Activated = activated

	for {
		ids, err := r.repo.ListExpiredAuctionIDs(ctx, now, r.batchSize)
		if err != nil {
			util.RecordSpanError(span, err)
			return result, mapStoreError(err)
		}

		progressed := 0
		for _, id := range ids {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}

			event, err := r.resolveOne(ctx, id, now)
			switch {
			case errors.Is(err, errSkipped):
				continue
			case err != nil:
				result.Failed++
				util.AuctionsResolvedTotal.WithLabelValues("failed").Inc()
				r.logger.Error("Failed to resolve auction", zap.Int64("auction_id", id), zap.Error(err))
				continue
			}

			progressed++
			if event.WinnerID != nil {
				result.Completed++
			} else {
				result.Cancelled++
			}
			r.publish(ctx, event)
		}

		if len(ids) < r.batchSize || progressed == 0 {
			break
		}
	}

	if result.Resolved() > 0 || result.Failed > 0 {
		r.logger.Info("Expiry sweep finished",
			zap.Int64("activated", result.Activated),
			zap.Int("completed", result.Completed),
			zap.Int("cancelled", result.Cancelled),
			zap.Int("failed", result.Failed))
	}
	return result, nil
}

// ResolveAuction resolves a single auction if it is due. It returns false
// when there was nothing to do.
func (r *Resolver) ResolveAuction(ctx context.Context, auctionID int64, now time.Time) (bool, error) {
	ctx, span := util.StartSpan(ctx, "Resolver.ResolveAuction", auctionID)
	defer span.End()

	event, err := r.resolveOne(ctx, auctionID, now)
	if errors.Is(err, errSkipped) {
		return false, nil
	}
	if err != nil {
		util.RecordSpanError(span, err)
		return false, mapStoreError(err)
	}
	r.publish(ctx, event)
	return true, nil
}

func (r *Resolver) resolveOne(ctx context.Context, auctionID int64, now time.Time) (*models.AuctionResolvedEvent, error) {
	var event *models.AuctionResolvedEvent

	err := r.repo.WithTx(ctx, func(tx store.Tx) error {
		auction, err := tx.LockExpiredAuction(ctx, auctionID, now)
		if errors.Is(err, store.ErrNotFound) {
			return errSkipped
		}
		if err != nil {
			return err
		}

		highest, err := tx.HighestBid(ctx, auction.ID)
		if err != nil {
			return err
		}

		if highest == nil {
			if err := tx.ResolveAuction(ctx, auction.ID, models.AuctionStatusCancelled, nil); err != nil {
				return err
			}
			event = &models.AuctionResolvedEvent{
				BaseEvent:   broker.NewBaseEvent(models.EventTypeAuctionCancelled),
				AuctionID:   auction.ID,
				SellerID:    auction.SellerID,
				FinalAmount: auction.CurrentBid,
				Currency:    auction.Currency,
				ProductName: auction.ProductName,
			}
			return nil
		}

		winnerID := highest.CustomerID
		if err := tx.ResolveAuction(ctx, auction.ID, models.AuctionStatusCompleted, &winnerID); err != nil {
			return err
		}
		event = &models.AuctionResolvedEvent{
			BaseEvent:   broker.NewBaseEvent(models.EventTypeAuctionCompleted),
			AuctionID:   auction.ID,
			SellerID:    auction.SellerID,
			WinnerID:    &winnerID,
			FinalAmount: highest.Amount,
			Currency:    auction.Currency,
			ProductName: auction.ProductName,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

func (r *Resolver) publish(ctx context.Context, event *models.AuctionResolvedEvent) {
	outcome := "cancelled"
	if event.WinnerID != nil {
		outcome = "completed"
	}
	util.AuctionsResolvedTotal.WithLabelValues(outcome).Inc()

	r.logger.Info("Auction resolved",
		zap.Int64("auction_id", event.AuctionID),
		zap.String("outcome", outcome),
		zap.String("final_amount", event.FinalAmount.String()))

	if err := r.eventPublisher.PublishAuctionResolved(ctx, event); err != nil {
		r.logger.Error("Failed to publish AuctionResolved event",
			zap.Int64("auction_id", event.AuctionID), zap.Error(err))
	}
}
