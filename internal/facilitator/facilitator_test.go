package facilitator

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/runningoffcode/Payflix-sub002/internal/chain"
	"github.com/runningoffcode/Payflix-sub002/internal/models"
	"github.com/runningoffcode/Payflix-sub002/internal/session"
)

var (
	testToken = chain.Token{
		Symbol:   "PFX",
		Address:  common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		Decimals: 6,
	}
	testChainID   = big.NewInt(94301)
	testPayer     = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testRecipient = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

// mockChain implements chain.Client and counts broadcasts.
type mockChain struct {
	mu        sync.Mutex
	sendCalls int
	sendErr   error
	status    chain.TxStatus
	statusErr error
}

func (m *mockChain) ChainID(context.Context) (*big.Int, error) { return testChainID, nil }

func (m *mockChain) Delegation(context.Context, common.Address, common.Address) (common.Address, *big.Int, error) {
	return common.Address{}, nil, nil
}

func (m *mockChain) SendTransaction(context.Context, *types.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendCalls++
	return m.sendErr
}

func (m *mockChain) TransactionStatus(context.Context, common.Hash) (chain.TxStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.statusErr
}

func (m *mockChain) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 0, nil }

func (m *mockChain) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (m *mockChain) broadcasts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sendCalls
}

// keySigner signs with an in-memory key for exactly one delegate.
type keySigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func newKeySigner(t *testing.T) keySigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return keySigner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

func (k keySigner) SignTransfer(delegate common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if delegate != k.addr {
		return nil, errors.New("unknown delegate")
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), k.key)
}

type stubSessions struct {
	session models.Session
	err     error
}

func (s stubSessions) GetActiveSession(context.Context, string) (models.Session, error) {
	return s.session, s.err
}

func testOptions() Options {
	return Options{
		Network:             "payflix-devnet",
		ChainID:             testChainID,
		Tokens:              []chain.Token{testToken},
		FeePayerConfigured:  true,
		ExplorerBaseURL:     "https://explorer.payflix.dev/tx",
		ConfirmTimeout:      100 * time.Millisecond,
		ConfirmPollInterval: 10 * time.Millisecond,
		Version:             "test",
	}
}

func transferTx(t *testing.T, node chain.Client, amountUnits int64) string {
	t.Helper()
	tx, err := chain.NewTransferTx(context.Background(), node, testToken.Address, common.Address{}, chain.Transfer{
		From:   testPayer,
		To:     testRecipient,
		Amount: big.NewInt(amountUnits),
	})
	if err != nil {
		t.Fatalf("build transfer: %v", err)
	}
	raw, err := chain.EncodeTransaction(tx)
	if err != nil {
		t.Fatalf("encode transfer: %v", err)
	}
	return raw
}

func validRequest(t *testing.T, node chain.Client) Request {
	return Request{
		Transaction: transferTx(t, node, 2_000_000),
		Network:     "payflix-devnet",
		Token:       "PFX",
		Amount:      "2.00",
		Recipient:   testRecipient.Hex(),
	}
}

func TestVerify(t *testing.T) {
	node := &mockChain{}
	f := New(node, nil, nil, testOptions(), nil)

	cases := []struct {
		name       string
		mutate     func(*Request)
		wantReason string
	}{
		{"valid", func(*Request) {}, ""},
		{"wrong network", func(r *Request) { r.Network = "payflix-mainnet" }, ReasonWrongNetwork},
		{"unsupported token", func(r *Request) { r.Token = "DOGE" }, ReasonUnsupportedToken},
		{"malformed transaction", func(r *Request) { r.Transaction = "0xdeadbeef" }, ReasonMalformedTransaction},
		{"amount mismatch", func(r *Request) { r.Amount = "1.00" }, ReasonAmountMismatch},
		{"overpayment rejected", func(r *Request) { r.Amount = "3.00" }, ReasonAmountMismatch},
		{"unparseable amount", func(r *Request) { r.Amount = "two" }, ReasonAmountMismatch},
		{"too precise amount", func(r *Request) { r.Amount = "2.0000001" }, ReasonAmountMismatch},
		{"wrong recipient", func(r *Request) { r.Recipient = "0x4444444444444444444444444444444444444444" }, ReasonWrongRecipient},
		{"garbage recipient", func(r *Request) { r.Recipient = "nobody" }, ReasonWrongRecipient},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest(t, node)
			tc.mutate(&req)

			result := f.Verify(req)
			if tc.wantReason == "" {
				if !result.Valid {
					t.Fatalf("expected valid, got reason %q details %v", result.Reason, result.Details)
				}
				return
			}
			if result.Valid {
				t.Fatal("expected invalid")
			}
			if result.Reason != tc.wantReason {
				t.Fatalf("expected reason %q got %q", tc.wantReason, result.Reason)
			}
		})
	}
}

func TestVerifyWrongTokenContract(t *testing.T) {
	node := &mockChain{}
	otherToken := testToken
	otherToken.Address = common.HexToAddress("0x9999999999999999999999999999999999999999")

	f := New(node, nil, nil, Options{
		Network: "payflix-devnet",
		ChainID: testChainID,
		Tokens:  []chain.Token{otherToken},
	}, nil)

	req := validRequest(t, node)
	req.Token = otherToken.Symbol

	result := f.Verify(req)
	if result.Valid || result.Reason != ReasonUnsupportedToken {
		t.Fatalf("expected UnsupportedToken for mismatched contract, got %+v", result)
	}
}

func TestVerifyIsPureAndRepeatable(t *testing.T) {
	node := &mockChain{}
	f := New(node, nil, nil, testOptions(), nil)
	req := validRequest(t, node)

	first := f.Verify(req)
	for i := 0; i < 10; i++ {
		result := f.Verify(req)
		if result.Valid != first.Valid || result.Reason != first.Reason {
			t.Fatalf("verify result changed between calls: %+v vs %+v", first, result)
		}
	}
	if node.broadcasts() != 0 {
		t.Fatalf("verify must never broadcast, got %d sends", node.broadcasts())
	}
}

func TestSettleNeverBroadcastsUnverified(t *testing.T) {
	node := &mockChain{status: chain.StatusConfirmed}
	signer := newKeySigner(t)
	sessions := stubSessions{session: models.Session{DelegateAddress: signer.addr.Hex()}}
	f := New(node, signer, sessions, testOptions(), nil)

	req := validRequest(t, node)
	req.Amount = "1.00" // verify will reject

	result := f.Settle(context.Background(), req)
	if result.Success {
		t.Fatal("expected settle failure")
	}
	if result.Error != ReasonAmountMismatch {
		t.Fatalf("expected verify reason passthrough got %q", result.Error)
	}
	if node.broadcasts() != 0 {
		t.Fatalf("settle broadcast an unverified transaction (%d sends)", node.broadcasts())
	}
}

func TestSettleSuccess(t *testing.T) {
	node := &mockChain{status: chain.StatusConfirmed}
	signer := newKeySigner(t)
	sessions := stubSessions{session: models.Session{DelegateAddress: signer.addr.Hex()}}
	f := New(node, signer, sessions, testOptions(), nil)

	result := f.Settle(context.Background(), validRequest(t, node))
	if !result.Success {
		t.Fatalf("expected success got %+v", result)
	}
	if result.Signature == "" {
		t.Fatal("expected signature")
	}
	if !strings.HasPrefix(result.ExplorerURL, "https://explorer.payflix.dev/tx/") {
		t.Fatalf("unexpected explorer url %q", result.ExplorerURL)
	}
	if node.broadcasts() != 1 {
		t.Fatalf("expected exactly one broadcast got %d", node.broadcasts())
	}
}

func TestSettleConfirmationTimeout(t *testing.T) {
	node := &mockChain{status: chain.StatusPending}
	signer := newKeySigner(t)
	sessions := stubSessions{session: models.Session{DelegateAddress: signer.addr.Hex()}}
	f := New(node, signer, sessions, testOptions(), nil)

	result := f.Settle(context.Background(), validRequest(t, node))
	if result.Success {
		t.Fatal("expected non-success on timeout")
	}
	if result.Error != ErrCodeConfirmationTimeout {
		t.Fatalf("expected confirmation_timeout got %q", result.Error)
	}
	if !result.Indeterminate {
		t.Fatal("timeout must be reported as indeterminate, not definitive failure")
	}
	if result.Signature == "" {
		t.Fatal("timeout result must carry the signature for follow-up checks")
	}
}

func TestSettleTransactionFailed(t *testing.T) {
	node := &mockChain{status: chain.StatusFailed}
	signer := newKeySigner(t)
	sessions := stubSessions{session: models.Session{DelegateAddress: signer.addr.Hex()}}
	f := New(node, signer, sessions, testOptions(), nil)

	result := f.Settle(context.Background(), validRequest(t, node))
	if result.Success || result.Error != ErrCodeTransactionFailed {
		t.Fatalf("expected transaction_failed got %+v", result)
	}
	if result.Indeterminate {
		t.Fatal("a reverted transaction is definitive, not indeterminate")
	}
}

func TestSettleNoActiveSession(t *testing.T) {
	node := &mockChain{status: chain.StatusConfirmed}
	signer := newKeySigner(t)
	sessions := stubSessions{err: session.ErrSessionNotFound}
	f := New(node, signer, sessions, testOptions(), nil)

	result := f.Settle(context.Background(), validRequest(t, node))
	if result.Success || result.Error != ErrCodeNoActiveSession {
		t.Fatalf("expected no_active_session got %+v", result)
	}
	if node.broadcasts() != 0 {
		t.Fatal("must not broadcast without a session")
	}
}

func TestSettleSessionLookupFailed(t *testing.T) {
	node := &mockChain{status: chain.StatusConfirmed}
	signer := newKeySigner(t)
	sessions := stubSessions{err: errors.New("connection refused")}
	f := New(node, signer, sessions, testOptions(), nil)

	// A store outage is not the payer's state: it must not read as
	// "open a session".
	result := f.Settle(context.Background(), validRequest(t, node))
	if result.Success || result.Error != ErrCodeSessionLookupFailed {
		t.Fatalf("expected session_lookup_failed got %+v", result)
	}
	if node.broadcasts() != 0 {
		t.Fatal("must not broadcast without a session")
	}
}

func TestSettleFeePayerMissing(t *testing.T) {
	node := &mockChain{status: chain.StatusConfirmed}
	signer := newKeySigner(t)
	sessions := stubSessions{session: models.Session{DelegateAddress: signer.addr.Hex()}}

	opts := testOptions()
	opts.FeePayerConfigured = false
	f := New(node, signer, sessions, opts, nil)

	result := f.Settle(context.Background(), validRequest(t, node))
	if result.Success || result.Error != ErrCodeFeePayerMissing {
		t.Fatalf("expected fee_payer_not_configured got %+v", result)
	}
	if node.broadcasts() != 0 {
		t.Fatal("must not broadcast without a fee payer")
	}
}

func TestSupportedConfig(t *testing.T) {
	f := New(&mockChain{}, nil, nil, testOptions(), nil)

	supported := f.SupportedConfig()
	if supported.Network != "payflix-devnet" {
		t.Fatalf("unexpected network %q", supported.Network)
	}
	if len(supported.SupportedTokens) != 1 || supported.SupportedTokens[0].Symbol != "PFX" {
		t.Fatalf("unexpected tokens %+v", supported.SupportedTokens)
	}
	if supported.FeePayer != "configured" {
		t.Fatalf("unexpected fee payer %q", supported.FeePayer)
	}

	opts := testOptions()
	opts.FeePayerConfigured = false
	f = New(&mockChain{}, nil, nil, opts, nil)
	if got := f.SupportedConfig().FeePayer; got != "not configured" {
		t.Fatalf("unexpected fee payer %q", got)
	}
}

func TestVerifyAmountExactness(t *testing.T) {
	// Scenario: transaction transfers 1.00 while 2.00 was requested.
	node := &mockChain{}
	f := New(node, nil, nil, testOptions(), nil)

	req := Request{
		Transaction: transferTx(t, node, 1_000_000),
		Network:     "payflix-devnet",
		Token:       "PFX",
		Amount:      "2.00",
		Recipient:   testRecipient.Hex(),
	}

	result := f.Verify(req)
	if result.Valid || result.Reason != ReasonAmountMismatch {
		t.Fatalf("expected AmountMismatch got %+v", result)
	}

	want, _ := chain.ToBaseUnits(decimal.RequireFromString("2.00"), testToken.Decimals)
	if result.Details["expected"] != want.String() {
		t.Fatalf("expected details to carry expected units, got %v", result.Details)
	}
}
