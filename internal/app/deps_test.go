package app

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/runningoffcode/Payflix-sub002/internal/chain"
	"github.com/runningoffcode/Payflix-sub002/internal/config"
	"github.com/runningoffcode/Payflix-sub002/internal/models"
	"github.com/runningoffcode/Payflix-sub002/internal/signing"
)

type fakePool struct{}

func (fakePool) Acquire(context.Context) (*pgxpool.Conn, error) {
	return nil, errors.New("not implemented")
}

func (fakePool) Close() {}

type fakeChain struct{}

func (fakeChain) ChainID(context.Context) (*big.Int, error) { return big.NewInt(94301), nil }
func (fakeChain) Delegation(context.Context, common.Address, common.Address) (common.Address, *big.Int, error) {
	return common.Address{}, big.NewInt(0), nil
}
func (fakeChain) SendTransaction(context.Context, *types.Transaction) error { return nil }
func (fakeChain) TransactionStatus(context.Context, common.Hash) (chain.TxStatus, error) {
	return chain.StatusConfirmed, nil
}
func (fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 0, nil }
func (fakeChain) SuggestGasPrice(context.Context) (*big.Int, error)             { return big.NewInt(1), nil }

type fakeStore struct{}

func (fakeStore) Create(context.Context, models.Session) error { return nil }
func (fakeStore) FindByID(context.Context, string) (models.Session, error) {
	return models.Session{}, errors.New("not implemented")
}
func (fakeStore) FindActiveByWallet(context.Context, string, time.Time) (models.Session, error) {
	return models.Session{}, errors.New("not implemented")
}
func (fakeStore) Debit(context.Context, string, decimal.Decimal, time.Time) (models.Session, error) {
	return models.Session{}, errors.New("not implemented")
}
func (fakeStore) Revoke(context.Context, string) (bool, error)         { return false, nil }
func (fakeStore) MarkExpired(context.Context, time.Time) (int64, error) { return 0, nil }

func TestBuildDependencies(t *testing.T) {
	custodian, err := signing.NewCustodian(t.TempDir(), "test-passphrase")
	if err != nil {
		t.Fatalf("new custodian: %v", err)
	}

	cfg := config.Config{
		Network:             "payflix-devnet",
		ChainID:             94301,
		ExplorerBaseURL:     "https://explorer.payflix.dev/tx",
		Tokens:              []config.TokenConfig{{Symbol: "PFX", Address: "0x5FbDB2315678afecb367f032d93F642f64180aa3", Decimals: 6}},
		ConfirmTimeout:      time.Second,
		ConfirmPollInterval: 100 * time.Millisecond,
		Version:             "test",
	}

	deps := buildDependencies(fakePool{}, fakeStore{}, fakeChain{}, custodian, cfg, slog.Default())

	if deps.Sessions == nil {
		t.Fatal("expected session manager to be configured")
	}
	if deps.Delegates == nil {
		t.Fatal("expected delegate minter to be configured")
	}
	if deps.Purchases == nil {
		t.Fatal("expected purchase service to be configured")
	}
	if deps.Facilitator == nil {
		t.Fatal("expected facilitator to be configured")
	}
	if deps.Diagnostics == nil {
		t.Fatal("expected diagnostics checker to be configured")
	}
	if deps.Limiter == nil {
		t.Fatal("expected rate limiter to be configured")
	}

	supported := deps.Facilitator.SupportedConfig()
	if supported.FeePayer != "not configured" {
		t.Fatalf("expected fee payer not configured, got %q", supported.FeePayer)
	}
	if len(supported.SupportedTokens) != 1 || supported.SupportedTokens[0].Symbol != "PFX" {
		t.Fatalf("unexpected tokens %+v", supported.SupportedTokens)
	}
}
