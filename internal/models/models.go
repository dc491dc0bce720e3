package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Session is a time-boxed, amount-bounded spending authorization tied to one
// payer wallet and one delegate signing key. ApprovedAmount is fixed at
// creation from the on-chain delegation; SpentAmount only ever grows.
type Session struct {
	ID                string
	PayerWallet       string
	DelegateAddress   string
	ApprovalSignature string
	ApprovedAmount    decimal.Decimal
	SpentAmount       decimal.Decimal
	Status            string
	ExpiresAt         time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

const (
	SessionStatusActive  = "active"
	SessionStatusExpired = "expired"
	SessionStatusRevoked = "revoked"
)

// RemainingAmount derives the spendable balance left on the session.
func (s Session) RemainingAmount() decimal.Decimal {
	return s.ApprovedAmount.Sub(s.SpentAmount)
}

// Usable reports whether the session can fund a payment at the given instant.
func (s Session) Usable(now time.Time) bool {
	return s.Status == SessionStatusActive &&
		now.Before(s.ExpiresAt) &&
		s.RemainingAmount().IsPositive()
}

// Payment records a single per-video charge drawn from a session. Rows are
// append-only; settle outcomes move the status forward but never delete.
type Payment struct {
	ID              string
	PayerWallet     string
	RecipientWallet string
	VideoID         string
	Amount          decimal.Decimal
	TxSignature     string
	Status          string
	FailureReason   string
	VerifiedAt      *time.Time
	CreatedAt       time.Time
}

const (
	PaymentStatusPending  = "pending"
	PaymentStatusVerified = "verified"
	PaymentStatusFailed   = "failed"
)

// Video is the catalog entry the payment authorizer prices against.
type Video struct {
	ID            string
	CreatorWallet string
	Title         string
	Price         decimal.Decimal
	CreatedAt     time.Time
}
