// Package diagnostics reconciles the session ledger against on-chain
// delegation state and names the discrepancy when the two disagree.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/runningoffcode/Payflix-sub002/internal/chain"
	"github.com/runningoffcode/Payflix-sub002/internal/models"
	"github.com/runningoffcode/Payflix-sub002/internal/session"
)

// Findings name the ways a wallet's ledger state can disagree with the chain.
const (
	FindingConsistent          = "Consistent"
	FindingNoActiveSession     = "NoActiveSession"
	FindingApprovalNeverLanded = "ApprovalNeverLanded"
	FindingNoDelegateSet       = "NoDelegateSet"
	FindingDelegateMismatch    = "DelegateMismatch"
	FindingAmountDrift         = "AmountDrift"
)

// amountTolerance absorbs rounding at the base-unit boundary. Anything
// larger is real drift.
var amountTolerance = big.NewInt(1)

// Report is the outcome of one reconciliation pass for a wallet.
type Report struct {
	Wallet    string            `json:"wallet"`
	Findings  []string          `json:"findings"`
	Details   map[string]string `json:"details,omitempty"`
	CheckedAt time.Time         `json:"checkedAt"`
}

// Consistent reports whether the pass found no discrepancies.
func (r Report) Consistent() bool {
	return len(r.Findings) == 1 && r.Findings[0] == FindingConsistent
}

// ChainReader is the chain surface reconciliation needs.
type ChainReader interface {
	Delegation(ctx context.Context, token, holder common.Address) (common.Address, *big.Int, error)
	TransactionStatus(ctx context.Context, hash common.Hash) (chain.TxStatus, error)
}

// SessionSource resolves the wallet's active session.
type SessionSource interface {
	GetActiveSession(ctx context.Context, wallet string) (models.Session, error)
}

// Checker compares ledger sessions with on-chain delegations.
type Checker struct {
	node     ChainReader
	sessions SessionSource
	token    chain.Token
	logger   *slog.Logger
	nowFunc  func() time.Time
}

// NewChecker constructs a Checker for the given settlement token.
func NewChecker(node ChainReader, sessions SessionSource, token chain.Token, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		node:     node,
		sessions: sessions,
		token:    token,
		logger:   logger,
		nowFunc:  time.Now,
	}
}

// WithNowFunc overrides the clock. Intended for tests.
func (c *Checker) WithNowFunc(now func() time.Time) *Checker {
	c.nowFunc = now
	return c
}

// CheckWallet reconciles one wallet. Findings are cumulative: a wallet whose
// approval never landed and whose delegate also differs reports both, so an
// operator sees the whole picture in one pass.
func (c *Checker) CheckWallet(ctx context.Context, wallet string) (Report, error) {
	report := Report{
		Wallet:    wallet,
		Details:   make(map[string]string),
		CheckedAt: c.nowFunc(),
	}

	if !common.IsHexAddress(wallet) {
		return Report{}, fmt.Errorf("invalid wallet address %q", wallet)
	}

	active, err := c.sessions.GetActiveSession(ctx, wallet)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			report.Findings = []string{FindingNoActiveSession}
			return report, nil
		}
		return Report{}, fmt.Errorf("look up session: %w", err)
	}
	report.Details["sessionId"] = active.ID

	if sig := active.ApprovalSignature; sig != "" {
		status, err := c.node.TransactionStatus(ctx, common.HexToHash(sig))
		if err != nil {
			return Report{}, fmt.Errorf("check approval status: %w", err)
		}
		if status != chain.StatusConfirmed {
			report.Findings = append(report.Findings, FindingApprovalNeverLanded)
			report.Details["approvalSignature"] = sig
			report.Details["approvalStatus"] = status.String()
		}
	}

	delegate, delegated, err := c.node.Delegation(ctx, c.token.Address, common.HexToAddress(wallet))
	if err != nil {
		return Report{}, fmt.Errorf("read delegation: %w", err)
	}

	switch {
	case delegate == (common.Address{}):
		report.Findings = append(report.Findings, FindingNoDelegateSet)
	case delegate != common.HexToAddress(active.DelegateAddress):
		report.Findings = append(report.Findings, FindingDelegateMismatch)
		report.Details["ledgerDelegate"] = active.DelegateAddress
		report.Details["chainDelegate"] = delegate.Hex()
	default:
		if drift, want := c.amountDrift(active, delegated); drift != nil {
			report.Findings = append(report.Findings, FindingAmountDrift)
			report.Details["ledgerRemaining"] = want.String()
			report.Details["chainDelegated"] = delegated.String()
			report.Details["drift"] = drift.String()
			// Base units are exact for comparison; the token rendering is
			// what an operator quotes back to the payer.
			report.Details["driftTokens"] = chain.FromBaseUnits(drift, c.token.Decimals).String()
		}
	}

	if len(report.Findings) == 0 {
		report.Findings = []string{FindingConsistent}
	} else {
		c.logger.Warn("reconciliation found discrepancies",
			"wallet", wallet, "findings", report.Findings)
	}
	return report, nil
}

// amountDrift returns the absolute difference between the ledger's remaining
// balance and the on-chain delegated amount when it exceeds the tolerance,
// along with the ledger value in base units.
func (c *Checker) amountDrift(active models.Session, delegated *big.Int) (*big.Int, *big.Int) {
	want, err := chain.ToBaseUnits(active.RemainingAmount(), c.token.Decimals)
	if err != nil {
		// A remaining balance finer than the token's precision cannot match
		// any on-chain value. Report the full ledger amount as drift.
		c.logger.Warn("ledger balance does not fit token precision",
			"sessionId", active.ID, "error", err)
		return delegated, big.NewInt(0)
	}
	if delegated == nil {
		delegated = big.NewInt(0)
	}

	drift := new(big.Int).Sub(delegated, want)
	if drift.CmpAbs(amountTolerance) <= 0 {
		return nil, want
	}
	return drift.Abs(drift), want
}
