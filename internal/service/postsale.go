package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"auction-service/internal/auth"
	"auction-service/internal/broker"
	"auction-service/internal/models"
	"auction-service/internal/redisclient"
	"auction-service/internal/store"
	"auction-service/internal/util"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// PostSaleConfig tunes the delivery confirmation step
type PostSaleConfig struct {
	RequireDeliveryCode bool
	DeliveryCodeTTL     time.Duration
	// MaxCodeAttempts bounds the guesses against one issued code
	MaxCodeAttempts int64
}

// PostSaleService drives the payment and shipping tracks of a completed
// auction. Every transition appends to the tracking ledger in the same
// transaction that changes the auction row.
type PostSaleService struct {
	repo           Repository
	codes          CodeStore
	eventPublisher *broker.EventPublisher
	cfg            PostSaleConfig
	logger         *zap.Logger
	now            func() time.Time
	generateCode   func() (string, error)
}

// NewPostSaleService creates a new post-sale service
func NewPostSaleService(repo Repository, codes CodeStore, eventPublisher *broker.EventPublisher, cfg PostSaleConfig) *PostSaleService {
	if cfg.DeliveryCodeTTL <= 0 {
		cfg.DeliveryCodeTTL = 15 * time.Minute
	}
	if cfg.MaxCodeAttempts <= 0 {
		cfg.MaxCodeAttempts = 5
	}
	return &PostSaleService{
		repo:           repo,
		codes:          codes,
		eventPublisher: eventPublisher,
		cfg:            cfg,
		logger:         util.GetLogger(),
		now:            time.Now,
		generateCode:   generateDeliveryCode,
	}
}

// SetClock overrides the wall clock
func (s *PostSaleService) SetClock(now func() time.Time) { s.now = now }

// PayRequest carries the winner's delivery details
type PayRequest struct {
	ShippingAddress string `json:"shipping_address"`
	ContactPhone    string `json:"contact_phone"`
}

// AssignAgentRequest hands the shipment to a delivery agent
type AssignAgentRequest struct {
	AgentID    int64  `json:"agent_id"`
	HubStaffID *int64 `json:"hub_staff_id,omitempty"`
	Comment    string `json:"comment"`
}

// TransferRequest hands the shipment to a peer agent
type TransferRequest struct {
	ToAgentID int64  `json:"to_agent_id"`
	Comment   string `json:"comment"`
}

// DeliveryCodeIssued is returned to the agent; the code itself goes to the buyer
type DeliveryCodeIssued struct {
	AuctionID int64     `json:"auction_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func requireResolved(a *models.Auction) error {
	if a.Status != models.AuctionStatusCompleted {
		return ErrAuctionNotResolved
	}
	return nil
}

func requirePaid(a *models.Auction) error {
	if err := requireResolved(a); err != nil {
		return err
	}
	if a.PaymentStatus != models.PaymentStatusPaid {
		return ErrNotPaidYet
	}
	return nil
}

func requireAssignedAgent(caller auth.Caller, a *models.Auction) error {
	if !caller.Is(auth.RoleDeliveryAgent) || !a.IsAssignedAgent(caller.ID) {
		return ErrNotAssignedAgent
	}
	return nil
}

// requireCourier admits whoever carries the goods: the assigned agent, or
// the seller when they shipped without one.
func requireCourier(caller auth.Caller, a *models.Auction) error {
	if a.DeliveryAgentID == nil {
		if a.SellerID != caller.ID {
			return ErrForbidden
		}
		return nil
	}
	return requireAssignedAgent(caller, a)
}

// requireDeliverable checks the caller may close a shipped auction
func requireDeliverable(caller auth.Caller, a *models.Auction) error {
	if err := requireCourier(caller, a); err != nil {
		return err
	}
	if a.ShippingStatus != models.ShippingStatusShipped {
		return ErrInvalidState
	}
	return nil
}

func (s *PostSaleService) track(ctx context.Context, tx store.Tx, auctionID int64, status, comment string, actorID int64) error {
	actor := actorID
	return tx.AppendTracking(ctx, &models.TrackingEntry{
		AuctionID: auctionID,
		Status:    status,
		Comment:   comment,
		ActorID:   &actor,
		CreatedAt: s.now(),
	})
}

// Pay marks a completed auction as paid by its winner
func (s *PostSaleService) Pay(ctx context.Context, caller auth.Caller, auctionID int64, req PayRequest) (*models.Auction, error) {
	ctx, span := util.StartSpan(ctx, "PostSaleService.Pay", auctionID)
	defer span.End()

	req.ShippingAddress = strings.TrimSpace(req.ShippingAddress)
	req.ContactPhone = strings.TrimSpace(req.ContactPhone)
	if req.ShippingAddress == "" {
		return nil, validationError("shipping_address is required")
	}
	if req.ContactPhone == "" {
		return nil, validationError("contact_phone is required")
	}

	var paid *models.Auction
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		a, err := tx.LockAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		if err := requireResolved(a); err != nil {
			return err
		}
		if !a.IsWinner(caller.ID) {
			return ErrNotWinner
		}
		if a.PaymentStatus == models.PaymentStatusPaid {
			return ErrAlreadyPaid
		}

		now := s.now()
		if err := tx.MarkPaid(ctx, a.ID, req.ShippingAddress, req.ContactPhone, now); err != nil {
			return err
		}
		if err := s.track(ctx, tx, a.ID, models.TrackingStatusPaid, "payment confirmed by winner", caller.ID); err != nil {
			return err
		}

		a.PaymentStatus = models.PaymentStatusPaid
		a.PaidAt = &now
		a.ShippingAddress = req.ShippingAddress
		a.ContactPhone = req.ContactPhone
		paid = a
		return nil
	})
	if err != nil {
		return nil, s.fail(span, "pay", auctionID, err)
	}

	util.PostSaleTransitionsTotal.WithLabelValues("paid").Inc()
	s.logger.Info("Auction paid", zap.Int64("auction_id", auctionID), zap.Int64("winner_id", caller.ID))

	event := &models.AuctionPaidEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypeAuctionPaid),
		AuctionID: paid.ID,
		SellerID:  paid.SellerID,
		WinnerID:  caller.ID,
		Amount:    paid.CurrentBid,
		Currency:  paid.Currency,
	}
	if err := s.eventPublisher.PublishAuctionPaid(ctx, event); err != nil {
		s.logger.Error("Failed to publish AuctionPaid event", zap.Error(err))
	}
	return paid, nil
}

// AssignAgent lets the seller hand a paid auction to a delivery agent
func (s *PostSaleService) AssignAgent(ctx context.Context, caller auth.Caller, auctionID int64, req AssignAgentRequest) (*models.Auction, error) {
	ctx, span := util.StartSpan(ctx, "PostSaleService.AssignAgent", auctionID)
	defer span.End()

	if req.AgentID <= 0 {
		return nil, validationError("agent_id is required")
	}

	var updated *models.Auction
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		a, err := tx.LockAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		if a.SellerID != caller.ID {
			return ErrForbidden
		}
		if err := requirePaid(a); err != nil {
			return err
		}
		if a.ShippingStatus != models.ShippingStatusPending {
			if a.DeliveryAgentID == nil {
				return ErrInvalidState
			}
			return ErrAlreadyAssigned
		}
		active, err := s.repo.IsActiveAgent(ctx, req.AgentID)
		if err != nil {
			return err
		}
		if !active {
			return ErrAgentUnavailable
		}

		agentID := req.AgentID
		if err := tx.UpdateShipping(ctx, a.ID, store.ShippingUpdate{
			Status:          models.ShippingStatusShippedPending,
			DeliveryAgentID: &agentID,
			HubStaffID:      req.HubStaffID,
		}); err != nil {
			return err
		}
		comment := req.Comment
		if comment == "" {
			comment = fmt.Sprintf("assigned to delivery agent %d", agentID)
		}
		if err := s.track(ctx, tx, a.ID, models.ShippingStatusShippedPending, comment, caller.ID); err != nil {
			return err
		}

		a.ShippingStatus = models.ShippingStatusShippedPending
		a.DeliveryAgentID = &agentID
		if req.HubStaffID != nil {
			a.HubStaffID = req.HubStaffID
		}
		updated = a
		return nil
	})
	if err != nil {
		return nil, s.fail(span, "assign_agent", auctionID, err)
	}

	s.shipped(ctx, "assigned", updated, caller.ID)
	return updated, nil
}

// Ship moves the shipment to shipped. The seller may ship directly from
// pending when fulfilling without an agent, and then delivers it too; the
// assigned agent may ship from shipped_pending.
func (s *PostSaleService) Ship(ctx context.Context, caller auth.Caller, auctionID int64, trackingNumber string) (*models.Auction, error) {
	ctx, span := util.StartSpan(ctx, "PostSaleService.Ship", auctionID)
	defer span.End()

	trackingNumber = strings.TrimSpace(trackingNumber)

	var updated *models.Auction
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		a, err := tx.LockAuction(ctx, auctionID)
		if err != nil {
			return err
		}

		isSeller := a.SellerID == caller.ID
		isAgent := caller.Is(auth.RoleDeliveryAgent) && a.IsAssignedAgent(caller.ID)
		if !isSeller && !isAgent {
			return ErrForbidden
		}
		if err := requirePaid(a); err != nil {
			return err
		}

		switch {
		case isSeller && a.ShippingStatus == models.ShippingStatusPending:
		case isAgent && a.ShippingStatus == models.ShippingStatusShippedPending:
		default:
			return ErrInvalidState
		}

		update := store.ShippingUpdate{Status: models.ShippingStatusShipped}
		if trackingNumber != "" {
			update.TrackingNumber = &trackingNumber
			a.TrackingNumber = trackingNumber
		}
		if err := tx.UpdateShipping(ctx, a.ID, update); err != nil {
			return err
		}
		comment := "shipped"
		if trackingNumber != "" {
			comment = "shipped, tracking number " + trackingNumber
		}
		if err := s.track(ctx, tx, a.ID, models.ShippingStatusShipped, comment, caller.ID); err != nil {
			return err
		}

		a.ShippingStatus = models.ShippingStatusShipped
		updated = a
		return nil
	})
	if err != nil {
		return nil, s.fail(span, "ship", auctionID, err)
	}

	s.shipped(ctx, "shipped", updated, caller.ID)
	return updated, nil
}

// ConfirmReceipt records that the assigned agent picked the goods up from the seller
func (s *PostSaleService) ConfirmReceipt(ctx context.Context, caller auth.Caller, auctionID int64, comment string) (*models.Auction, error) {
	ctx, span := util.StartSpan(ctx, "PostSaleService.ConfirmReceipt", auctionID)
	defer span.End()

	var updated *models.Auction
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		a, err := tx.LockAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		if err := requireAssignedAgent(caller, a); err != nil {
			return err
		}
		if a.ShippingStatus != models.ShippingStatusShippedPending {
			return ErrInvalidState
		}

		if err := tx.UpdateShipping(ctx, a.ID, store.ShippingUpdate{Status: models.ShippingStatusShipped}); err != nil {
			return err
		}
		if comment == "" {
			comment = "goods received from seller"
		}
		if err := s.track(ctx, tx, a.ID, models.ShippingStatusShipped, comment, caller.ID); err != nil {
			return err
		}

		a.ShippingStatus = models.ShippingStatusShipped
		updated = a
		return nil
	})
	if err != nil {
		return nil, s.fail(span, "confirm_receipt", auctionID, err)
	}

	s.shipped(ctx, "received", updated, caller.ID)
	return updated, nil
}

// TransferAgent reassigns the shipment to another active agent. The shipping
// phase is kept, and the transfer is attributed to the agent who made it.
func (s *PostSaleService) TransferAgent(ctx context.Context, caller auth.Caller, auctionID int64, req TransferRequest) (*models.Auction, error) {
	ctx, span := util.StartSpan(ctx, "PostSaleService.TransferAgent", auctionID)
	defer span.End()

	if req.ToAgentID <= 0 {
		return nil, validationError("to_agent_id is required")
	}
	if req.ToAgentID == caller.ID {
		return nil, validationError("cannot transfer to yourself")
	}

	var updated *models.Auction
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		a, err := tx.LockAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		if err := requireAssignedAgent(caller, a); err != nil {
			return err
		}
		if a.ShippingStatus != models.ShippingStatusShippedPending && a.ShippingStatus != models.ShippingStatusShipped {
			return ErrInvalidState
		}
		active, err := s.repo.IsActiveAgent(ctx, req.ToAgentID)
		if err != nil {
			return err
		}
		if !active {
			return ErrAgentUnavailable
		}

		now := s.now()
		toAgent := req.ToAgentID
		if err := tx.UpdateShipping(ctx, a.ID, store.ShippingUpdate{
			Status:          a.ShippingStatus,
			DeliveryAgentID: &toAgent,
		}); err != nil {
			return err
		}

		comment := req.Comment
		if comment == "" {
			comment = fmt.Sprintf("transferred from agent %d to agent %d", caller.ID, toAgent)
		}
		if err := tx.InsertTransfer(ctx, &models.AgentTransfer{
			AuctionID:   a.ID,
			FromAgentID: caller.ID,
			ToAgentID:   toAgent,
			Comment:     comment,
			CreatedAt:   now,
		}); err != nil {
			return err
		}
		if err := s.track(ctx, tx, a.ID, models.TrackingStatusTransferred, comment, caller.ID); err != nil {
			return err
		}

		a.DeliveryAgentID = &toAgent
		updated = a
		return nil
	})
	if err != nil {
		return nil, s.fail(span, "transfer", auctionID, err)
	}

	s.shipped(ctx, "transferred", updated, caller.ID)
	return updated, nil
}

// IssueDeliveryCode sends a fresh one-time code to the buyer. Any earlier
// code for the auction stops working and its attempt count is reset.
func (s *PostSaleService) IssueDeliveryCode(ctx context.Context, caller auth.Caller, auctionID int64) (*DeliveryCodeIssued, error) {
	ctx, span := util.StartSpan(ctx, "PostSaleService.IssueDeliveryCode", auctionID)
	defer span.End()

	a, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, s.fail(span, "delivery_code", auctionID, err)
	}
	if err := requireDeliverable(caller, a); err != nil {
		return nil, err
	}

	code, err := s.generateCode()
	if err != nil {
		return nil, s.fail(span, "delivery_code", auctionID, err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return nil, s.fail(span, "delivery_code", auctionID, fmt.Errorf("hash delivery code: %w", err))
	}
	if err := s.codes.SaveDeliveryCode(ctx, auctionID, string(hash), s.cfg.DeliveryCodeTTL); err != nil {
		return nil, s.fail(span, "delivery_code", auctionID, fmt.Errorf("store delivery code: %w", err))
	}

	issued := &DeliveryCodeIssued{AuctionID: auctionID, ExpiresAt: s.now().Add(s.cfg.DeliveryCodeTTL)}
	util.PostSaleTransitionsTotal.WithLabelValues("code_issued").Inc()

	event := &models.DeliveryCodeIssuedEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypeDeliveryCodeIssued),
		AuctionID: auctionID,
		WinnerID:  *a.WinnerID,
		Code:      code,
		ExpiresAt: issued.ExpiresAt,
	}
	if err := s.eventPublisher.PublishDeliveryCodeIssued(ctx, event); err != nil {
		s.logger.Error("Failed to publish DeliveryCodeIssued event", zap.Error(err))
	}
	return issued, nil
}

// ConfirmDelivery closes the shipping track. When delivery codes are
// required, code must match the one last sent to the buyer; it is consumed
// on success. The code is checked before the row is locked, and a code that
// has seen MaxCodeAttempts guesses is revoked.
func (s *PostSaleService) ConfirmDelivery(ctx context.Context, caller auth.Caller, auctionID int64, code string) (*models.Auction, error) {
	ctx, span := util.StartSpan(ctx, "PostSaleService.ConfirmDelivery", auctionID)
	defer span.End()

	code = strings.TrimSpace(code)
	if s.cfg.RequireDeliveryCode {
		if code == "" {
			return nil, validationError("code is required")
		}
		a, err := s.repo.GetAuction(ctx, auctionID)
		if err != nil {
			return nil, s.fail(span, "deliver", auctionID, err)
		}
		if err := requireDeliverable(caller, a); err != nil {
			return nil, err
		}
		if err := s.verifyDeliveryCode(ctx, auctionID, code); err != nil {
			return nil, s.fail(span, "deliver", auctionID, err)
		}
	}

	var updated *models.Auction
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		a, err := tx.LockAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		if err := requireDeliverable(caller, a); err != nil {
			return err
		}

		if err := tx.UpdateShipping(ctx, a.ID, store.ShippingUpdate{Status: models.ShippingStatusDelivered}); err != nil {
			return err
		}
		comment := "delivered to buyer"
		if s.cfg.RequireDeliveryCode {
			comment = "delivered to buyer, delivery code verified"
		}
		if err := s.track(ctx, tx, a.ID, models.ShippingStatusDelivered, comment, caller.ID); err != nil {
			return err
		}

		a.ShippingStatus = models.ShippingStatusDelivered
		updated = a
		return nil
	})
	if err != nil {
		return nil, s.fail(span, "deliver", auctionID, err)
	}

	if s.cfg.RequireDeliveryCode {
		if err := s.codes.DeleteDeliveryCode(ctx, auctionID); err != nil {
			s.logger.Warn("Failed to delete used delivery code", zap.Int64("auction_id", auctionID), zap.Error(err))
		}
	}

	s.shipped(ctx, "delivered", updated, caller.ID)
	return updated, nil
}

func (s *PostSaleService) verifyDeliveryCode(ctx context.Context, auctionID int64, code string) error {
	hash, err := s.codes.GetDeliveryCode(ctx, auctionID)
	if errors.Is(err, redisclient.ErrCodeNotFound) {
		return ErrInvalidDeliveryCode
	}
	if err != nil {
		return fmt.Errorf("load delivery code: %w", err)
	}

	attempts, err := s.codes.CountCodeAttempt(ctx, auctionID, s.cfg.DeliveryCodeTTL)
	if err != nil {
		return fmt.Errorf("count delivery code attempt: %w", err)
	}
	if attempts > s.cfg.MaxCodeAttempts {
		if err := s.codes.DeleteDeliveryCode(ctx, auctionID); err != nil {
			s.logger.Warn("Failed to revoke delivery code", zap.Int64("auction_id", auctionID), zap.Error(err))
		}
		util.PostSaleTransitionsTotal.WithLabelValues("code_revoked").Inc()
		return ErrCodeAttemptsExceeded
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) != nil {
		return ErrInvalidDeliveryCode
	}
	return nil
}

func (s *PostSaleService) shipped(ctx context.Context, kind string, a *models.Auction, actorID int64) {
	util.PostSaleTransitionsTotal.WithLabelValues(kind).Inc()
	s.logger.Info("Shipping updated",
		zap.Int64("auction_id", a.ID),
		zap.String("shipping_status", a.ShippingStatus),
		zap.Int64("actor_id", actorID))

	var winnerID int64
	if a.WinnerID != nil {
		winnerID = *a.WinnerID
	}
	event := &models.ShippingUpdatedEvent{
		BaseEvent:       broker.NewBaseEvent(models.EventTypeShippingUpdated),
		AuctionID:       a.ID,
		SellerID:        a.SellerID,
		WinnerID:        winnerID,
		ShippingStatus:  a.ShippingStatus,
		DeliveryAgentID: a.DeliveryAgentID,
		ActorID:         actorID,
		TrackingNumber:  a.TrackingNumber,
	}
	if err := s.eventPublisher.PublishShippingUpdated(ctx, event); err != nil {
		s.logger.Error("Failed to publish ShippingUpdated event", zap.Error(err))
	}
}

func (s *PostSaleService) fail(span trace.Span, op string, auctionID int64, err error) error {
	err = mapStoreError(err)
	switch KindOf(err) {
	case KindInternal, KindUnavailable:
		util.RecordSpanError(span, err)
		s.logger.Error("Post-sale operation failed",
			zap.String("op", op), zap.Int64("auction_id", auctionID), zap.Error(err))
	default:
		s.logger.Debug("Post-sale operation rejected",
			zap.String("op", op), zap.Int64("auction_id", auctionID), zap.Error(err))
	}
	return err
}
