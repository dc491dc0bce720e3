package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// TxStatus describes what the chain currently knows about a transaction.
type TxStatus int

const (
	// StatusNotFound means the chain has never seen the transaction.
	StatusNotFound TxStatus = iota
	// StatusPending means the transaction is known but not yet mined.
	StatusPending
	// StatusConfirmed means the transaction executed successfully.
	StatusConfirmed
	// StatusFailed means the transaction was mined but reverted.
	StatusFailed
)

func (s TxStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	default:
		return "not found"
	}
}

// Client is the read/submit contract the payment core needs from the chain.
// The chain owns all state behind it; this system only observes and submits.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	// Delegation returns the delegate and delegated amount currently approved
	// on the token for the holder. A zero delegate address means no delegate
	// is set.
	Delegation(ctx context.Context, token, holder common.Address) (common.Address, *big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionStatus(ctx context.Context, hash common.Hash) (TxStatus, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// RPCClient implements Client over a JSON-RPC endpoint.
type RPCClient struct {
	ec *ethclient.Client
}

// Dial connects to the configured RPC endpoint.
func Dial(ctx context.Context, url string) (*RPCClient, error) {
	ec, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	return &RPCClient{ec: ec}, nil
}

// Close releases the underlying RPC connection.
func (c *RPCClient) Close() {
	c.ec.Close()
}

// ChainID reports the connected network's chain id.
func (c *RPCClient) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := c.ec.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("query chain id: %w", err)
	}
	return id, nil
}

// Delegation reads the token's delegate and delegated amount for a holder.
func (c *RPCClient) Delegation(ctx context.Context, token, holder common.Address) (common.Address, *big.Int, error) {
	delegate, err := c.callAddress(ctx, token, "delegateOf", holder)
	if err != nil {
		return common.Address{}, nil, err
	}

	amount, err := c.callAmount(ctx, token, "delegatedAmount", holder)
	if err != nil {
		return common.Address{}, nil, err
	}

	return delegate, amount, nil
}

// SendTransaction broadcasts a signed transaction.
func (c *RPCClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.ec.SendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("send transaction: %w", err)
	}
	return nil
}

// TransactionStatus resolves a transaction hash against the chain.
func (c *RPCClient) TransactionStatus(ctx context.Context, hash common.Hash) (TxStatus, error) {
	receipt, err := c.ec.TransactionReceipt(ctx, hash)
	if err == nil {
		if receipt.Status == types.ReceiptStatusSuccessful {
			return StatusConfirmed, nil
		}
		return StatusFailed, nil
	}
	if !errors.Is(err, ethereum.NotFound) {
		return StatusNotFound, fmt.Errorf("query receipt: %w", err)
	}

	_, pending, err := c.ec.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return StatusNotFound, nil
		}
		return StatusNotFound, fmt.Errorf("query transaction: %w", err)
	}
	if pending {
		return StatusPending, nil
	}
	// Known and mined but no receipt yet; treat as pending until the receipt
	// becomes readable.
	return StatusPending, nil
}

// PendingNonceAt returns the next nonce for an account including pending txs.
func (c *RPCClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	nonce, err := c.ec.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("query pending nonce: %w", err)
	}
	return nonce, nil
}

// SuggestGasPrice returns the node's gas price suggestion.
func (c *RPCClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.ec.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	return price, nil
}

func (c *RPCClient) callAddress(ctx context.Context, contract common.Address, method string, args ...any) (common.Address, error) {
	out, err := c.call(ctx, contract, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s: unexpected return type %T", method, out[0])
	}
	return addr, nil
}

func (c *RPCClient) callAmount(ctx context.Context, contract common.Address, method string, args ...any) (*big.Int, error) {
	out, err := c.call(ctx, contract, method, args...)
	if err != nil {
		return nil, err
	}
	amount, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected return type %T", method, out[0])
	}
	return amount, nil
}

func (c *RPCClient) call(ctx context.Context, contract common.Address, method string, args ...any) ([]any, error) {
	data, err := tokenABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	raw, err := c.ec.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	out, err := tokenABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty return", method)
	}
	return out, nil
}

var _ Client = (*RPCClient)(nil)
