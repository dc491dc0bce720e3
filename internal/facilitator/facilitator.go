// Package facilitator implements the protocol-facing verify/settle surface:
// checking that a proposed delegated transfer matches the expected amount,
// recipient, and token, and broadcasting verified transfers on behalf of the
// platform.
package facilitator

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/runningoffcode/Payflix-sub002/internal/chain"
	"github.com/runningoffcode/Payflix-sub002/internal/models"
	"github.com/runningoffcode/Payflix-sub002/internal/session"
)

// Verify failure reasons. These are protocol values; the UI maps them to
// user-facing prompts.
const (
	ReasonMalformedTransaction = "MalformedTransaction"
	ReasonWrongRecipient       = "WrongRecipient"
	ReasonAmountMismatch       = "AmountMismatch"
	ReasonUnsupportedToken     = "UnsupportedToken"
	ReasonWrongNetwork         = "WrongNetwork"
)

// Settle error codes. confirmation_timeout is indeterminate: the transfer may
// still land, and callers must re-check the signature before any retry.
const (
	ErrCodeConfirmationTimeout = "confirmation_timeout"
	ErrCodeTransactionFailed   = "transaction_failed"
	ErrCodeBroadcastFailed     = "broadcast_failed"
	ErrCodeNoActiveSession     = "no_active_session"
	ErrCodeSessionLookupFailed = "session_lookup_failed"
	ErrCodeDelegateMismatch    = "delegate_mismatch"
	ErrCodeSigningFailed       = "signing_failed"
	ErrCodeFeePayerMissing     = "fee_payer_not_configured"
)

// Request is the verify/settle protocol body.
type Request struct {
	Transaction string
	Network     string
	Token       string
	Amount      string
	Recipient   string
}

// VerifyResult reports whether a proposed transfer is acceptable.
type VerifyResult struct {
	Valid   bool
	Reason  string
	Details map[string]string
}

// SettleResult reports the outcome of signing and broadcasting a transfer.
type SettleResult struct {
	Success       bool
	Signature     string
	ExplorerURL   string
	Error         string
	Indeterminate bool
}

// Node is the narrow chain surface settlement needs.
type Node interface {
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionStatus(ctx context.Context, hash common.Hash) (chain.TxStatus, error)
}

// TransferSigner signs transfers with the custodied key for a delegate.
type TransferSigner interface {
	SignTransfer(delegate common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// SessionSource resolves the active spending session for a payer wallet.
type SessionSource interface {
	GetActiveSession(ctx context.Context, wallet string) (models.Session, error)
}

// Options carries the facilitator's static configuration.
type Options struct {
	Network             string
	ChainID             *big.Int
	Tokens              []chain.Token
	FeePayerConfigured  bool
	ExplorerBaseURL     string
	ConfirmTimeout      time.Duration
	ConfirmPollInterval time.Duration
	Version             string
}

// Facilitator verifies and settles delegated transfers.
type Facilitator struct {
	node     Node
	signer   TransferSigner
	sessions SessionSource
	opts     Options
	logger   *slog.Logger

	bySymbol  map[string]chain.Token
	byAddress map[common.Address]chain.Token
}

// New constructs a Facilitator.
func New(node Node, signer TransferSigner, sessions SessionSource, opts Options, logger *slog.Logger) *Facilitator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 30 * time.Second
	}
	if opts.ConfirmPollInterval <= 0 {
		opts.ConfirmPollInterval = 2 * time.Second
	}

	f := &Facilitator{
		node:      node,
		signer:    signer,
		sessions:  sessions,
		opts:      opts,
		logger:    logger,
		bySymbol:  make(map[string]chain.Token, len(opts.Tokens)),
		byAddress: make(map[common.Address]chain.Token, len(opts.Tokens)),
	}
	for _, token := range opts.Tokens {
		f.bySymbol[strings.ToUpper(token.Symbol)] = token
		f.byAddress[token.Address] = token
	}
	return f
}

// Verify checks a proposed transfer without broadcasting. It is read-only and
// deterministic: no state is touched and repeated calls yield the same result.
func (f *Facilitator) Verify(req Request) VerifyResult {
	result, _, _, _ := f.verify(req)
	return result
}

func (f *Facilitator) verify(req Request) (VerifyResult, *types.Transaction, chain.Transfer, chain.Token) {
	fail := func(reason string, details map[string]string) (VerifyResult, *types.Transaction, chain.Transfer, chain.Token) {
		return VerifyResult{Valid: false, Reason: reason, Details: details}, nil, chain.Transfer{}, chain.Token{}
	}

	if req.Network != f.opts.Network {
		return fail(ReasonWrongNetwork, map[string]string{
			"expected": f.opts.Network,
			"received": req.Network,
		})
	}

	token, ok := f.resolveToken(req.Token)
	if !ok {
		return fail(ReasonUnsupportedToken, map[string]string{"token": req.Token})
	}

	if !common.IsHexAddress(req.Recipient) {
		return fail(ReasonWrongRecipient, map[string]string{"recipient": req.Recipient})
	}
	recipient := common.HexToAddress(req.Recipient)

	tx, transfer, err := chain.ParseTransfer(req.Transaction)
	if err != nil {
		return fail(ReasonMalformedTransaction, map[string]string{"error": err.Error()})
	}

	if tx.To() == nil || *tx.To() != token.Address {
		return fail(ReasonUnsupportedToken, map[string]string{
			"expectedContract": token.Address.Hex(),
		})
	}

	// A signed transaction pins its chain id; an unsigned legacy envelope
	// reports zero and is checked at signing time instead.
	if txChainID := tx.ChainId(); txChainID != nil && txChainID.Sign() != 0 && txChainID.Cmp(f.opts.ChainID) != 0 {
		return fail(ReasonWrongNetwork, map[string]string{
			"expectedChainId": f.opts.ChainID.String(),
			"txChainId":       txChainID.String(),
		})
	}

	if transfer.To != recipient {
		return fail(ReasonWrongRecipient, map[string]string{
			"expected": recipient.Hex(),
			"received": transfer.To.Hex(),
		})
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil || !amount.IsPositive() {
		return fail(ReasonAmountMismatch, map[string]string{"amount": req.Amount})
	}
	wantUnits, err := chain.ToBaseUnits(amount, token.Decimals)
	if err != nil {
		return fail(ReasonAmountMismatch, map[string]string{"amount": req.Amount, "error": err.Error()})
	}

	// Exact match only. Overpayment is rejected too: accepting it would
	// leave the refund question open.
	if transfer.Amount.Cmp(wantUnits) != 0 {
		return fail(ReasonAmountMismatch, map[string]string{
			"expected": wantUnits.String(),
			"received": transfer.Amount.String(),
		})
	}

	details := map[string]string{
		"token":     token.Symbol,
		"from":      transfer.From.Hex(),
		"to":        transfer.To.Hex(),
		"baseUnits": transfer.Amount.String(),
	}
	return VerifyResult{Valid: true, Details: details}, tx, transfer, token
}

// Settle verifies, signs with the session delegate key, broadcasts, and waits
// for confirmation up to the configured timeout. It never broadcasts a
// transaction that fails verification.
func (f *Facilitator) Settle(ctx context.Context, req Request) SettleResult {
	result, tx, transfer, _ := f.verify(req)
	if !result.Valid {
		f.logger.Warn("settle rejected by verify", "reason", result.Reason)
		return SettleResult{Success: false, Error: result.Reason}
	}

	if !f.opts.FeePayerConfigured {
		return SettleResult{Success: false, Error: ErrCodeFeePayerMissing}
	}

	active, err := f.sessions.GetActiveSession(ctx, transfer.From.Hex())
	if err != nil {
		// A missing session tells the payer to open one; anything else is
		// an infrastructure fault and must not be reported as their state.
		if errors.Is(err, session.ErrSessionNotFound) {
			return SettleResult{Success: false, Error: ErrCodeNoActiveSession}
		}
		f.logger.Error("session lookup failed", "payer", transfer.From.Hex(), "error", err)
		return SettleResult{Success: false, Error: ErrCodeSessionLookupFailed}
	}
	delegate := common.HexToAddress(active.DelegateAddress)

	if chain.IsSigned(tx) {
		sender, err := types.Sender(types.LatestSignerForChainID(f.opts.ChainID), tx)
		if err != nil || sender != delegate {
			return SettleResult{Success: false, Error: ErrCodeDelegateMismatch}
		}
	} else {
		signed, err := f.signer.SignTransfer(delegate, tx, f.opts.ChainID)
		if err != nil {
			f.logger.Error("sign transfer failed", "delegate", delegate.Hex(), "error", err)
			return SettleResult{Success: false, Error: ErrCodeSigningFailed}
		}
		tx = signed
	}

	if err := f.node.SendTransaction(ctx, tx); err != nil {
		f.logger.Error("broadcast failed", "error", err)
		return SettleResult{Success: false, Error: ErrCodeBroadcastFailed}
	}

	signature := tx.Hash().Hex()
	f.logger.Info("transfer broadcast", "signature", signature, "payer", transfer.From.Hex())

	return f.awaitConfirmation(ctx, signature)
}

func (f *Facilitator) awaitConfirmation(ctx context.Context, signature string) SettleResult {
	hash := common.HexToHash(signature)
	deadline := time.NewTimer(f.opts.ConfirmTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(f.opts.ConfirmPollInterval)
	defer ticker.Stop()

	for {
		status, err := f.node.TransactionStatus(ctx, hash)
		if err == nil {
			switch status {
			case chain.StatusConfirmed:
				f.logger.Info("transfer confirmed", "signature", signature)
				return SettleResult{
					Success:     true,
					Signature:   signature,
					ExplorerURL: f.ExplorerURL(signature),
				}
			case chain.StatusFailed:
				return SettleResult{Success: false, Signature: signature, Error: ErrCodeTransactionFailed}
			}
		} else {
			f.logger.Warn("confirmation poll failed", "signature", signature, "error", err)
		}

		select {
		case <-ctx.Done():
			return SettleResult{Success: false, Signature: signature, Error: ErrCodeConfirmationTimeout, Indeterminate: true}
		case <-deadline.C:
			f.logger.Warn("confirmation timed out", "signature", signature)
			return SettleResult{Success: false, Signature: signature, Error: ErrCodeConfirmationTimeout, Indeterminate: true}
		case <-ticker.C:
		}
	}
}

// TokenInfo describes a supported token for the capability endpoints.
type TokenInfo struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Decimals int32  `json:"decimals"`
}

// Supported is the static capability report. It carries no request state and
// is safe to cache.
type Supported struct {
	Network         string      `json:"network"`
	SupportedTokens []TokenInfo `json:"supportedTokens"`
	FeePayer        string      `json:"feePayer"`
	Version         string      `json:"version"`
}

// SupportedConfig reports the facilitator's static capabilities.
func (f *Facilitator) SupportedConfig() Supported {
	tokens := make([]TokenInfo, 0, len(f.opts.Tokens))
	for _, token := range f.opts.Tokens {
		tokens = append(tokens, TokenInfo{
			Symbol:   token.Symbol,
			Address:  token.Address.Hex(),
			Decimals: token.Decimals,
		})
	}

	feePayer := "not configured"
	if f.opts.FeePayerConfigured {
		feePayer = "configured"
	}

	return Supported{
		Network:         f.opts.Network,
		SupportedTokens: tokens,
		FeePayer:        feePayer,
		Version:         f.opts.Version,
	}
}

// Network returns the configured network name.
func (f *Facilitator) Network() string {
	return f.opts.Network
}

// ExplorerURL renders the public explorer link for a signature.
func (f *Facilitator) ExplorerURL(signature string) string {
	base := strings.TrimSuffix(f.opts.ExplorerBaseURL, "/")
	if base == "" {
		return ""
	}
	return base + "/" + signature
}

func (f *Facilitator) resolveToken(raw string) (chain.Token, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return chain.Token{}, false
	}
	if token, ok := f.bySymbol[strings.ToUpper(raw)]; ok {
		return token, true
	}
	if common.IsHexAddress(raw) {
		if token, ok := f.byAddress[common.HexToAddress(raw)]; ok {
			return token, true
		}
	}
	return chain.Token{}, false
}
