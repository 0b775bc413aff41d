package service

import (
	"errors"
	"fmt"

	"auction-service/internal/store"

	"github.com/shopspring/decimal"
)

// Kind groups errors by how a caller should react to them.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindForbidden
	KindState
	KindRejected
	KindUnavailable
)

// Error is an expected, caller-facing failure with a stable code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	ErrValidation           = &Error{KindValidation, "validation_error", "invalid input"}
	ErrAgentUnavailable     = &Error{KindValidation, "agent_unavailable", "delivery agent is not active"}
	ErrAuctionNotFound      = &Error{KindNotFound, "auction_not_found", "auction not found"}
	ErrForbidden            = &Error{KindForbidden, "forbidden", "caller may not perform this action"}
	ErrNotWinner            = &Error{KindForbidden, "not_winner", "only the auction winner may do this"}
	ErrNotAssignedAgent     = &Error{KindForbidden, "not_assigned_agent", "only the assigned delivery agent may do this"}
	ErrInvalidState         = &Error{KindState, "invalid_state", "transition not allowed from the current state"}
	ErrAuctionClosed        = &Error{KindState, "auction_closed", "auction is not accepting bids"}
	ErrAlreadyPaid          = &Error{KindState, "already_paid", "auction is already paid"}
	ErrAlreadyAssigned      = &Error{KindState, "already_assigned", "a delivery agent is already assigned"}
	ErrAuctionNotResolved   = &Error{KindState, "auction_not_resolved", "auction has not completed"}
	ErrNotPaidYet           = &Error{KindState, "not_paid_yet", "auction has not been paid"}
	ErrBidTooLow            = &Error{KindRejected, "bid_too_low", "bid must be higher than the current bid"}
	ErrInvalidDeliveryCode  = &Error{KindRejected, "invalid_delivery_code", "delivery code is invalid or expired"}
	ErrCodeAttemptsExceeded = &Error{KindRejected, "delivery_code_revoked", "too many wrong delivery codes, request a new one"}
	ErrUnavailable          = &Error{KindUnavailable, "service_unavailable", "service temporarily unavailable, retry later"}
)

// BidTooLowError carries the price the bidder has to beat.
type BidTooLowError struct {
	CurrentBid decimal.Decimal
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid must be higher than the current bid of %s", e.CurrentBid.StringFixed(2))
}

func (e *BidTooLowError) Unwrap() error { return ErrBidTooLow }

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// KindOf classifies err; anything unrecognised is internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the stable code for err, or "internal_error".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal_error"
}

// mapStoreError turns storage sentinels into caller-facing errors and
// passes everything else through.
func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrAuctionNotFound
	case errors.Is(err, store.ErrLockTimeout):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
