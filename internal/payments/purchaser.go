package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/runningoffcode/Payflix-sub002/internal/chain"
	"github.com/runningoffcode/Payflix-sub002/internal/facilitator"
	"github.com/runningoffcode/Payflix-sub002/internal/models"
)

var (
	// ErrSessionRequired indicates the payer must open a spending session first.
	ErrSessionRequired = errors.New("active spending session required")
)

// TopUpRequiredError reports that the session balance cannot cover the price.
type TopUpRequiredError struct {
	Price     decimal.Decimal
	Remaining decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *TopUpRequiredError) Error() string {
	return fmt.Sprintf("session balance %s cannot cover price %s (short %s)",
		e.Remaining, e.Price, e.Shortfall)
}

// SettleError reports a definitive settlement failure. Indeterminate outcomes
// are not errors; they surface as a pending Receipt instead.
type SettleError struct {
	Code string
}

func (e *SettleError) Error() string {
	return "settlement failed: " + e.Code
}

// Receipt is the outcome of a purchase attempt that did not error.
type Receipt struct {
	PaymentID        string
	VideoID          string
	Amount           decimal.Decimal
	Signature        string
	ExplorerURL      string
	Status           string
	AlreadyPaid      bool
	RemainingBalance decimal.Decimal
}

// Settler is the settlement surface the purchaser drives.
type Settler interface {
	Settle(ctx context.Context, req facilitator.Request) facilitator.SettleResult
	Network() string
	ExplorerURL(signature string) string
}

// Ledger records purchase attempts and their terminal states.
type Ledger interface {
	Create(ctx context.Context, payment models.Payment) error
	AttachSignature(ctx context.Context, id, signature string) error
	MarkVerified(ctx context.Context, id, signature string, verifiedAt time.Time) error
	MarkFailed(ctx context.Context, id, reason string) error
}

// Debiter reduces a session's remaining balance after a settled transfer.
type Debiter interface {
	Debit(ctx context.Context, id string, amount decimal.Decimal) (models.Session, error)
}

// Purchaser runs the full purchase flow: authorize, build the delegated
// transfer, settle it on chain, then debit the session and mark the ledger.
type Purchaser struct {
	authorizer *Authorizer
	settler    Settler
	ledger     Ledger
	sessions   Debiter
	node       chain.Client
	token      chain.Token
	logger     *slog.Logger
	nowFunc    func() time.Time
}

// NewPurchaser constructs a Purchaser settling in the given token.
func NewPurchaser(authorizer *Authorizer, settler Settler, ledger Ledger, sessions Debiter, node chain.Client, token chain.Token, logger *slog.Logger) *Purchaser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Purchaser{
		authorizer: authorizer,
		settler:    settler,
		ledger:     ledger,
		sessions:   sessions,
		node:       node,
		token:      token,
		logger:     logger,
		nowFunc:    time.Now,
	}
}

// WithNowFunc overrides the clock. Intended for tests.
func (p *Purchaser) WithNowFunc(now func() time.Time) *Purchaser {
	p.nowFunc = now
	return p
}

// Purchase buys a video for the payer out of their spending session.
//
// The chain transfer is the source of truth. Once settlement succeeds the
// payment is marked verified even if the session debit or the ledger update
// fails afterwards; those failures are logged for reconciliation rather than
// surfaced as a purchase failure, because the payer's funds have moved.
func (p *Purchaser) Purchase(ctx context.Context, payerWallet, videoID string) (Receipt, error) {
	auth, err := p.authorizer.Authorize(ctx, payerWallet, videoID)
	if err != nil {
		return Receipt{}, err
	}

	switch auth.Decision {
	case DecisionAlreadyPaid:
		return Receipt{
			VideoID:     videoID,
			Amount:      auth.Video.Price,
			Signature:   auth.PriorSignature,
			ExplorerURL: p.settler.ExplorerURL(auth.PriorSignature),
			Status:      models.PaymentStatusVerified,
			AlreadyPaid: true,
		}, nil
	case DecisionSessionRequired:
		return Receipt{}, ErrSessionRequired
	case DecisionTopUpRequired:
		return Receipt{}, &TopUpRequiredError{
			Price:     auth.Video.Price,
			Remaining: auth.Session.RemainingAmount(),
			Shortfall: auth.Shortfall,
		}
	}

	payment := models.Payment{
		ID:              uuid.NewString(),
		PayerWallet:     payerWallet,
		RecipientWallet: auth.Video.CreatorWallet,
		VideoID:         videoID,
		Amount:          auth.Video.Price,
		Status:          models.PaymentStatusPending,
		CreatedAt:       p.nowFunc(),
	}
	if err := p.ledger.Create(ctx, payment); err != nil {
		return Receipt{}, fmt.Errorf("record payment: %w", err)
	}

	raw, err := p.buildTransfer(ctx, payerWallet, auth)
	if err != nil {
		p.failPayment(ctx, payment.ID, "transfer_build_failed")
		return Receipt{}, fmt.Errorf("build transfer: %w", err)
	}

	result := p.settler.Settle(ctx, facilitator.Request{
		Transaction: raw,
		Network:     p.settler.Network(),
		Token:       p.token.Symbol,
		Amount:      auth.Video.Price.String(),
		Recipient:   auth.Video.CreatorWallet,
	})

	if result.Indeterminate {
		// The transfer may still land. Keep the payment pending with the
		// signature attached so a later status check can resolve it.
		if result.Signature != "" {
			if err := p.ledger.AttachSignature(ctx, payment.ID, result.Signature); err != nil {
				p.logger.Error("attach signature to pending payment failed",
					"paymentId", payment.ID, "signature", result.Signature, "error", err)
			}
		}
		p.logger.Warn("settlement indeterminate, payment left pending",
			"paymentId", payment.ID, "signature", result.Signature)
		return Receipt{
			PaymentID: payment.ID,
			VideoID:   videoID,
			Amount:    auth.Video.Price,
			Signature: result.Signature,
			Status:    models.PaymentStatusPending,
		}, nil
	}

	if !result.Success {
		p.failPayment(ctx, payment.ID, result.Error)
		return Receipt{}, &SettleError{Code: result.Error}
	}

	remaining := decimal.Zero
	if debited, err := p.sessions.Debit(ctx, auth.Session.ID, auth.Video.Price); err != nil {
		p.logger.Error("session debit failed after settled transfer",
			"sessionId", auth.Session.ID, "paymentId", payment.ID,
			"signature", result.Signature, "error", err)
	} else {
		remaining = debited.RemainingAmount()
	}

	if err := p.ledger.MarkVerified(ctx, payment.ID, result.Signature, p.nowFunc()); err != nil {
		p.logger.Error("mark payment verified failed",
			"paymentId", payment.ID, "signature", result.Signature, "error", err)
	}

	return Receipt{
		PaymentID:        payment.ID,
		VideoID:          videoID,
		Amount:           auth.Video.Price,
		Signature:        result.Signature,
		ExplorerURL:      result.ExplorerURL,
		Status:           models.PaymentStatusVerified,
		RemainingBalance: remaining,
	}, nil
}

func (p *Purchaser) buildTransfer(ctx context.Context, payerWallet string, auth Authorization) (string, error) {
	if !common.IsHexAddress(payerWallet) {
		return "", fmt.Errorf("invalid payer wallet %q", payerWallet)
	}
	if !common.IsHexAddress(auth.Video.CreatorWallet) {
		return "", fmt.Errorf("invalid creator wallet %q", auth.Video.CreatorWallet)
	}

	units, err := chain.ToBaseUnits(auth.Video.Price, p.token.Decimals)
	if err != nil {
		return "", fmt.Errorf("price to base units: %w", err)
	}

	tx, err := chain.NewTransferTx(ctx, p.node, p.token.Address,
		common.HexToAddress(auth.Session.DelegateAddress), chain.Transfer{
			From:   common.HexToAddress(payerWallet),
			To:     common.HexToAddress(auth.Video.CreatorWallet),
			Amount: units,
		})
	if err != nil {
		return "", err
	}
	return chain.EncodeTransaction(tx)
}

func (p *Purchaser) failPayment(ctx context.Context, id, reason string) {
	if err := p.ledger.MarkFailed(ctx, id, reason); err != nil {
		p.logger.Error("mark payment failed errored", "paymentId", id, "reason", reason, "error", err)
	}
}
