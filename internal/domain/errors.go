package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrUnknownParticipant = errors.New("unknown participant wallet")
	ErrInvalidCost        = errors.New("cost must be positive")
	ErrMissingSessionID   = errors.New("channel session id missing from response")
	ErrAuthFailed         = errors.New("authentication failed")
	ErrConnectionFailed   = errors.New("connection failed")
	ErrTransportTimeout   = errors.New("transport timeout")
	ErrTransportRejected  = errors.New("message rejected by transport")
)

// DuplicateSessionError is returned when a participant already has an active
// session. It carries the existing session id so callers can reference it.
type DuplicateSessionError struct {
	Participant       string
	ExistingSessionID string
}

func (e *DuplicateSessionError) Error() string {
	return fmt.Sprintf("participant %s already has an active session %s", e.Participant, e.ExistingSessionID)
}

// InsufficientBalanceError is returned when an increment would push the total
// cost over the session's spending cap. No mutation happens when it is
// returned; the amounts let a client decide whether to retry smaller.
type InsufficientBalanceError struct {
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: requested %s, available %s",
		e.Requested.StringFixed(AmountDecimals), e.Available.StringFixed(AmountDecimals))
}

// Shortfall is the amount the request exceeds the available balance by.
func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}
