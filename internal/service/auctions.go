package service

import (
	"context"
	"regexp"
	"strings"
	"time"

	"auction-service/internal/auth"
	"auction-service/internal/broker"
	"auction-service/internal/models"
	"auction-service/internal/store"
	"auction-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var currencyCode = regexp.MustCompile(`^[A-Z]{3}$`)

// AuctionService handles auction listing business logic
type AuctionService struct {
	repo           Repository
	resolver       *Resolver
	converter      *CurrencyConverter
	images         ImageStore
	eventPublisher *broker.EventPublisher
	baseCurrency   string
	logger         *zap.Logger
	now            func() time.Time
}

// NewAuctionService creates a new auction service
func NewAuctionService(
	repo Repository,
	resolver *Resolver,
	converter *CurrencyConverter,
	images ImageStore,
	eventPublisher *broker.EventPublisher,
	baseCurrency string,
) *AuctionService {
	return &AuctionService{
		repo:           repo,
		resolver:       resolver,
		converter:      converter,
		images:         images,
		eventPublisher: eventPublisher,
		baseCurrency:   strings.ToUpper(baseCurrency),
		logger:         util.GetLogger(),
		now:            time.Now,
	}
}

// SetClock overrides the wall clock
func (s *AuctionService) SetClock(now func() time.Time) { s.now = now }

// CreateAuctionRequest represents a request to list an auction
type CreateAuctionRequest struct {
	ProductName   string          `json:"product_name"`
	Quantity      decimal.Decimal `json:"quantity"`
	Unit          string          `json:"unit"`
	ImagePath     string          `json:"image_path"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	Currency      string          `json:"currency"`
	SellerCountry string          `json:"seller_country"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       time.Time       `json:"end_time"`
}

// DisplayPrice is an auction's pricing converted to the viewer's currency
type DisplayPrice struct {
	Currency      string          `json:"currency"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	CurrentBid    decimal.Decimal `json:"current_bid"`
}

// AuctionView is an auction as presented to a viewer
type AuctionView struct {
	models.Auction
	Display *DisplayPrice `json:"display,omitempty"`
}

// SellerAuctions is a seller's dashboard
type SellerAuctions struct {
	Auctions []models.Auction `json:"auctions"`
	Counts   map[string]int   `json:"counts"`
}

// AuctionTracking is the post-sale ledger of one auction
type AuctionTracking struct {
	AuctionID      int64                  `json:"auction_id"`
	PaymentStatus  string                 `json:"payment_status"`
	ShippingStatus string                 `json:"shipping_status"`
	Entries        []models.TrackingEntry `json:"entries"`
	Transfers      []models.AgentTransfer `json:"transfers"`
}

func (s *AuctionService) validate(req *CreateAuctionRequest, now time.Time) error {
	req.ProductName = strings.TrimSpace(req.ProductName)
	req.Unit = strings.TrimSpace(req.Unit)
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.Currency == "" {
		req.Currency = s.baseCurrency
	}
	if req.StartTime.IsZero() {
		req.StartTime = now
	}

	switch {
	case req.ProductName == "":
		return validationError("product_name is required")
	case !req.StartingPrice.IsPositive():
		return validationError("starting_price must be greater than zero")
	case !req.StartingPrice.Equal(req.StartingPrice.Round(2)):
		return validationError("starting_price must have at most two decimal places")
	case !req.Quantity.IsPositive():
		return validationError("quantity must be greater than zero")
	case !req.EndTime.After(req.StartTime):
		return validationError("end_time must be after start_time")
	case !req.EndTime.After(now):
		return validationError("end_time must be in the future")
	case !currencyCode.MatchString(req.Currency):
		return validationError("currency must be a three-letter code")
	}
	return nil
}

// CreateAuction lists a new auction for the calling farmer. It starts
// scheduled when its start time is in the future, active otherwise.
func (s *AuctionService) CreateAuction(ctx context.Context, caller auth.Caller, req CreateAuctionRequest) (*models.Auction, error) {
	ctx, span := util.StartSpan(ctx, "AuctionService.CreateAuction")
	defer span.End()

	if !caller.Is(auth.RoleFarmer) {
		return nil, ErrForbidden
	}

	now := s.now()
	if err := s.validate(&req, now); err != nil {
		return nil, err
	}

	status := models.AuctionStatusActive
	if req.StartTime.After(now) {
		status = models.AuctionStatusScheduled
	}

	auction := &models.Auction{
		SellerID:       caller.ID,
		ProductName:    req.ProductName,
		Quantity:       req.Quantity,
		Unit:           req.Unit,
		ImagePath:      req.ImagePath,
		StartingPrice:  req.StartingPrice,
		CurrentBid:     req.StartingPrice,
		Currency:       req.Currency,
		SellerCountry:  req.SellerCountry,
		StartTime:      req.StartTime.UTC(),
		EndTime:        req.EndTime.UTC(),
		Status:         status,
		PaymentStatus:  models.PaymentStatusPending,
		ShippingStatus: models.ShippingStatusPending,
	}

	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertAuction(ctx, auction)
	})
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, mapStoreError(err)
	}

	util.AuctionsCreatedTotal.WithLabelValues(status).Inc()
	s.logger.Info("Auction created",
		zap.Int64("auction_id", auction.ID),
		zap.Int64("seller_id", caller.ID),
		zap.String("status", status))

	event := &models.AuctionCreatedEvent{
		BaseEvent:     broker.NewBaseEvent(models.EventTypeAuctionCreated),
		AuctionID:     auction.ID,
		SellerID:      auction.SellerID,
		ProductName:   auction.ProductName,
		StartingPrice: auction.StartingPrice,
		Currency:      auction.Currency,
		Status:        auction.Status,
		StartTime:     auction.StartTime,
		EndTime:       auction.EndTime,
	}
	if err := s.eventPublisher.PublishAuctionCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish AuctionCreated event", zap.Error(err))
	}

	return auction, nil
}

// GetAuction returns one auction, resolving it first if it has just expired
func (s *AuctionService) GetAuction(ctx context.Context, id int64) (*models.Auction, error) {
	ctx, span := util.StartSpan(ctx, "AuctionService.GetAuction", id)
	defer span.End()

	if _, err := s.resolver.ResolveAuction(ctx, id, s.now()); err != nil {
		s.logger.Warn("Inline resolve failed", zap.Int64("auction_id", id), zap.Error(err))
	}

	auction, err := s.repo.GetAuction(ctx, id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return auction, nil
}

// ListOpen sweeps expired auctions, then returns active and scheduled ones
// ordered by start time, optionally priced in displayCurrency.
func (s *AuctionService) ListOpen(ctx context.Context, displayCurrency string) ([]AuctionView, error) {
	ctx, span := util.StartSpan(ctx, "AuctionService.ListOpen")
	defer span.End()

	displayCurrency = strings.ToUpper(strings.TrimSpace(displayCurrency))
	if displayCurrency != "" && !currencyCode.MatchString(displayCurrency) {
		return nil, validationError("currency must be a three-letter code")
	}

	now := s.now()
	s.sweep(ctx, now)

	auctions, err := s.repo.ListOpenAuctions(ctx, now)
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, mapStoreError(err)
	}

	views := make([]AuctionView, 0, len(auctions))
	for _, a := range auctions {
		view := AuctionView{Auction: a}
		if displayCurrency != "" && displayCurrency != a.Currency && s.converter != nil {
			view.Display = s.display(ctx, a, displayCurrency)
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *AuctionService) display(ctx context.Context, a models.Auction, to string) *DisplayPrice {
	starting, err := s.converter.Convert(ctx, a.StartingPrice, a.Currency, to)
	if err != nil {
		s.logger.Debug("Price conversion skipped", zap.Int64("auction_id", a.ID), zap.Error(err))
		return nil
	}
	current, err := s.converter.Convert(ctx, a.CurrentBid, a.Currency, to)
	if err != nil {
		return nil
	}
	return &DisplayPrice{Currency: to, StartingPrice: starting, CurrentBid: current}
}

// ListMine returns the calling farmer's auctions with counts per status
func (s *AuctionService) ListMine(ctx context.Context, caller auth.Caller) (*SellerAuctions, error) {
	ctx, span := util.StartSpan(ctx, "AuctionService.ListMine")
	defer span.End()

	if !caller.Is(auth.RoleFarmer) {
		return nil, ErrForbidden
	}

	s.sweep(ctx, s.now())

	auctions, err := s.repo.ListAuctionsBySeller(ctx, caller.ID)
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, mapStoreError(err)
	}

	counts := map[string]int{
		models.AuctionStatusActive:    0,
		models.AuctionStatusScheduled: 0,
		models.AuctionStatusCompleted: 0,
		models.AuctionStatusCancelled: 0,
	}
	for _, a := range auctions {
		counts[a.Status]++
	}
	return &SellerAuctions{Auctions: auctions, Counts: counts}, nil
}

// Bids returns an auction's bids, highest first
func (s *AuctionService) Bids(ctx context.Context, id int64) ([]models.Bid, error) {
	ctx, span := util.StartSpan(ctx, "AuctionService.Bids", id)
	defer span.End()

	if _, err := s.repo.GetAuction(ctx, id); err != nil {
		return nil, mapStoreError(err)
	}
	bids, err := s.repo.ListBids(ctx, id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return bids, nil
}

// Tracking returns the post-sale ledger to the parties of the sale
func (s *AuctionService) Tracking(ctx context.Context, caller auth.Caller, id int64) (*AuctionTracking, error) {
	ctx, span := util.StartSpan(ctx, "AuctionService.Tracking", id)
	defer span.End()

	a, err := s.repo.GetAuction(ctx, id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	party := caller.Is(auth.RoleAdmin) || a.SellerID == caller.ID || a.IsWinner(caller.ID) ||
		(caller.Is(auth.RoleDeliveryAgent) && a.IsAssignedAgent(caller.ID))
	if !party {
		return nil, ErrForbidden
	}

	entries, err := s.repo.ListTracking(ctx, id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	transfers, err := s.repo.ListTransfers(ctx, id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return &AuctionTracking{
		AuctionID:      a.ID,
		PaymentStatus:  a.PaymentStatus,
		ShippingStatus: a.ShippingStatus,
		Entries:        entries,
		Transfers:      transfers,
	}, nil
}

// DeleteAuction removes an active auction, its bids and its image. Only the
// seller may delete, and only while the auction is active and not yet ended.
func (s *AuctionService) DeleteAuction(ctx context.Context, caller auth.Caller, id int64) error {
	ctx, span := util.StartSpan(ctx, "AuctionService.DeleteAuction", id)
	defer span.End()

	var imagePath string
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		a, err := tx.LockAuction(ctx, id)
		if err != nil {
			return err
		}
		if a.SellerID != caller.ID {
			return ErrForbidden
		}
		if a.Status != models.AuctionStatusActive || !s.now().Before(a.EndTime) {
			return ErrInvalidState
		}
		imagePath = a.ImagePath
		return tx.DeleteAuction(ctx, a.ID)
	})
	if err != nil {
		err = mapStoreError(err)
		if KindOf(err) == KindInternal {
			util.RecordSpanError(span, err)
		}
		return err
	}

	util.AuctionsDeletedTotal.Inc()
	s.logger.Info("Auction deleted", zap.Int64("auction_id", id), zap.Int64("seller_id", caller.ID))

	if s.images != nil && imagePath != "" {
		if err := s.images.Remove(ctx, imagePath); err != nil {
			s.logger.Warn("Failed to remove auction image", zap.Int64("auction_id", id), zap.Error(err))
		}
	}
	return nil
}

func (s *AuctionService) sweep(ctx context.Context, now time.Time) {
	if _, err := s.resolver.ResolveExpired(ctx, now); err != nil {
		s.logger.Warn("Inline sweep failed", zap.Error(err))
	}
}
