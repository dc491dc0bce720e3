package app

import (
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/runningoffcode/Payflix-sub002/internal/catalog"
	"github.com/runningoffcode/Payflix-sub002/internal/chain"
	"github.com/runningoffcode/Payflix-sub002/internal/config"
	"github.com/runningoffcode/Payflix-sub002/internal/db"
	"github.com/runningoffcode/Payflix-sub002/internal/diagnostics"
	"github.com/runningoffcode/Payflix-sub002/internal/facilitator"
	"github.com/runningoffcode/Payflix-sub002/internal/handlers"
	"github.com/runningoffcode/Payflix-sub002/internal/middleware"
	"github.com/runningoffcode/Payflix-sub002/internal/payments"
	"github.com/runningoffcode/Payflix-sub002/internal/repositories"
	"github.com/runningoffcode/Payflix-sub002/internal/session"
	"github.com/runningoffcode/Payflix-sub002/internal/signing"
)

// buildDependencies wires together concrete implementations used by the HTTP handlers.
func buildDependencies(pool db.Pool, sessionStore session.Store, node chain.Client, custodian *signing.Custodian, cfg config.Config, logger *slog.Logger) handlers.Dependencies {
	tokens := chainTokens(cfg.Tokens)
	sessions := session.NewManager(sessionStore, node)

	fac := facilitator.New(node, custodian, sessions, facilitator.Options{
		Network:             cfg.Network,
		ChainID:             big.NewInt(cfg.ChainID),
		Tokens:              tokens,
		FeePayerConfigured:  custodian.HasFeePayer(),
		ExplorerBaseURL:     cfg.ExplorerBaseURL,
		ConfirmTimeout:      cfg.ConfirmTimeout,
		ConfirmPollInterval: cfg.ConfirmPollInterval,
		Version:             cfg.Version,
	}, logger)

	paymentLedger := repositories.NewPostgresPaymentRepository(pool)
	videoSource := catalog.NewCachingSource(repositories.NewPostgresVideoRepository(pool), time.Minute)
	authorizer := payments.NewAuthorizer(videoSource, paymentLedger, sessions)
	purchaser := payments.NewPurchaser(authorizer, fac, paymentLedger, sessions, node, tokens[0], logger)

	checker := diagnostics.NewChecker(node, sessions, tokens[0], logger)

	feePayer := ""
	if addr, err := custodian.FeePayer(); err == nil {
		feePayer = addr.Hex()
	}

	return handlers.Dependencies{
		Sessions:    sessions,
		Delegates:   custodian,
		Purchases:   purchaser,
		Facilitator: fac,
		Diagnostics: checker,
		Limiter:     middleware.NewKeyedRateLimiter(30, time.Minute, 10, 10*time.Minute),
		Network:     cfg.Network,
		Version:     cfg.Version,
		FeePayer:    feePayer,
	}
}

// chainTokens converts configured tokens into their on-chain form. ParseTokens
// already validated the addresses.
func chainTokens(configured []config.TokenConfig) []chain.Token {
	tokens := make([]chain.Token, 0, len(configured))
	for _, t := range configured {
		tokens = append(tokens, chain.Token{
			Symbol:   t.Symbol,
			Address:  common.HexToAddress(t.Address),
			Decimals: t.Decimals,
		})
	}
	return tokens
}
