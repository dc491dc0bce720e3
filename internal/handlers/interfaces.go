package handlers

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/runningoffcode/Payflix-sub002/internal/diagnostics"
	"github.com/runningoffcode/Payflix-sub002/internal/facilitator"
	"github.com/runningoffcode/Payflix-sub002/internal/models"
	"github.com/runningoffcode/Payflix-sub002/internal/payments"
	"github.com/runningoffcode/Payflix-sub002/internal/session"
)

// SessionService manages delegated spending sessions for payers.
type SessionService interface {
	CreateSession(ctx context.Context, params session.CreateParams) (models.Session, error)
	GetActiveSession(ctx context.Context, wallet string) (models.Session, error)
	Revoke(ctx context.Context, id string) (bool, error)
}

// PurchaseService runs the full buy flow for one video.
type PurchaseService interface {
	Purchase(ctx context.Context, payerWallet, videoID string) (payments.Receipt, error)
}

// FacilitatorService exposes the verify/settle protocol operations.
type FacilitatorService interface {
	Verify(req facilitator.Request) facilitator.VerifyResult
	Settle(ctx context.Context, req facilitator.Request) facilitator.SettleResult
	SupportedConfig() facilitator.Supported
}

// DiagnosticsService reconciles a wallet's ledger state against the chain.
type DiagnosticsService interface {
	CheckWallet(ctx context.Context, wallet string) (diagnostics.Report, error)
}

// DelegateMinter creates fresh platform-custodied session keys.
type DelegateMinter interface {
	NewSessionKey() (common.Address, error)
}
