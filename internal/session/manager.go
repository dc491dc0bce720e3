// Package session manages delegated spending sessions: bounded-spend
// authorizations backed by an on-chain token delegation to a platform-held
// delegate key.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/runningoffcode/Payflix-sub002/internal/chain"
	"github.com/runningoffcode/Payflix-sub002/internal/models"
)

var (
	// ErrSessionNotFound indicates no usable session exists for the lookup.
	ErrSessionNotFound = errors.New("session not found")
	// ErrDuplicateActiveSession indicates the payer already has an active session.
	ErrDuplicateActiveSession = errors.New("payer already has an active session")
	// ErrInsufficientBalance indicates a debit larger than the remaining amount.
	ErrInsufficientBalance = errors.New("insufficient session balance")
	// ErrSessionInactive indicates the session exists but is expired or revoked.
	ErrSessionInactive = errors.New("session is not active")
	// ErrApprovalNotConfirmed indicates the delegation approval has not landed on-chain.
	ErrApprovalNotConfirmed = errors.New("approval transaction not confirmed")
)

// Store persists sessions. The Debit implementation must be a single
// conditional update so concurrent spends serialize at the store. Create
// must supersede a stale active session for the wallet (past expiry or
// fully drained) and reject only when a usable one remains.
type Store interface {
	Create(ctx context.Context, session models.Session) error
	FindByID(ctx context.Context, id string) (models.Session, error)
	FindActiveByWallet(ctx context.Context, wallet string, now time.Time) (models.Session, error)
	Debit(ctx context.Context, id string, amount decimal.Decimal, now time.Time) (models.Session, error)
	Revoke(ctx context.Context, id string) (bool, error)
	MarkExpired(ctx context.Context, now time.Time) (int64, error)
}

// ApprovalChecker resolves whether the delegation-approval transaction landed.
type ApprovalChecker interface {
	TransactionStatus(ctx context.Context, hash common.Hash) (chain.TxStatus, error)
}

// Manager owns the session lifecycle and the consistency contract between the
// ledger and the on-chain delegation.
type Manager struct {
	store    Store
	approval ApprovalChecker
	nowFunc  func() time.Time
}

// NewManager constructs a Manager over the provided store. The approval
// checker gates creation on a confirmed on-chain delegation.
func NewManager(store Store, approval ApprovalChecker) *Manager {
	if store == nil {
		panic("session: store must not be nil")
	}
	return &Manager{
		store:    store,
		approval: approval,
		nowFunc:  func() time.Time { return time.Now().UTC() },
	}
}

// WithNowFunc overrides the time source, used by tests.
func (m *Manager) WithNowFunc(now func() time.Time) *Manager {
	m.nowFunc = now
	return m
}

// CreateParams carries everything needed to record a session for a confirmed
// on-chain delegation.
type CreateParams struct {
	PayerWallet       string
	DelegateAddress   string
	ApprovalSignature string
	ApprovedAmount    decimal.Decimal
	ExpiresAt         time.Time
}

// CreateSession records a session bound to the payer's on-chain delegation.
// Only a usable active session blocks creation: an expired or fully drained
// one is superseded by the store, so a payer who spent a session down to zero
// can open its replacement immediately.
func (m *Manager) CreateSession(ctx context.Context, params CreateParams) (models.Session, error) {
	now := m.nowFunc()

	if !common.IsHexAddress(params.PayerWallet) {
		return models.Session{}, fmt.Errorf("payer wallet %q is not a valid address", params.PayerWallet)
	}
	if !common.IsHexAddress(params.DelegateAddress) {
		return models.Session{}, fmt.Errorf("delegate %q is not a valid address", params.DelegateAddress)
	}
	if params.ApprovalSignature == "" {
		return models.Session{}, errors.New("approval signature is required")
	}
	if !params.ApprovedAmount.IsPositive() {
		return models.Session{}, fmt.Errorf("approved amount %s must be positive", params.ApprovedAmount)
	}
	if !params.ExpiresAt.After(now) {
		return models.Session{}, fmt.Errorf("expiry %s is not in the future", params.ExpiresAt)
	}

	if m.approval != nil {
		status, err := m.approval.TransactionStatus(ctx, common.HexToHash(params.ApprovalSignature))
		if err != nil {
			return models.Session{}, fmt.Errorf("check approval transaction: %w", err)
		}
		if status != chain.StatusConfirmed {
			return models.Session{}, fmt.Errorf("%w: approval is %s", ErrApprovalNotConfirmed, status)
		}
	}

	if _, err := m.store.FindActiveByWallet(ctx, params.PayerWallet, now); err == nil {
		return models.Session{}, ErrDuplicateActiveSession
	} else if !errors.Is(err, ErrSessionNotFound) {
		return models.Session{}, err
	}

	session := models.Session{
		ID:                uuid.NewString(),
		PayerWallet:       params.PayerWallet,
		DelegateAddress:   params.DelegateAddress,
		ApprovalSignature: params.ApprovalSignature,
		ApprovedAmount:    params.ApprovedAmount,
		SpentAmount:       decimal.Zero,
		Status:            models.SessionStatusActive,
		ExpiresAt:         params.ExpiresAt.UTC(),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	// The store's partial unique index closes the race between the lookup
	// above and a concurrent create for the same wallet.
	if err := m.store.Create(ctx, session); err != nil {
		return models.Session{}, err
	}

	return session, nil
}

// GetActiveSession returns the payer's usable session: active, unexpired,
// positive remaining. Among candidates the most recently created wins.
func (m *Manager) GetActiveSession(ctx context.Context, wallet string) (models.Session, error) {
	return m.store.FindActiveByWallet(ctx, wallet, m.nowFunc())
}

// Debit atomically consumes amount from the session's remaining balance.
func (m *Manager) Debit(ctx context.Context, id string, amount decimal.Decimal) (models.Session, error) {
	if !amount.IsPositive() {
		return models.Session{}, fmt.Errorf("debit amount %s must be positive", amount)
	}
	return m.store.Debit(ctx, id, amount, m.nowFunc())
}

// Revoke marks the session revoked. Idempotent: the boolean reports whether
// this call performed the transition.
func (m *Manager) Revoke(ctx context.Context, id string) (bool, error) {
	return m.store.Revoke(ctx, id)
}
