package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// The platform token is an ERC-20 extension with a single per-holder
// delegation: approveDelegate grants one delegate a bounded spend, and
// delegatedTransfer moves funds when sent by that delegate.
const tokenABIJSON = `[
  {"type":"function","name":"approveDelegate","inputs":[{"name":"delegate","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"delegateOf","stateMutability":"view","inputs":[{"name":"holder","type":"address"}],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"delegatedAmount","stateMutability":"view","inputs":[{"name":"holder","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"delegatedTransfer","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var tokenABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(tokenABIJSON))
	if err != nil {
		panic(fmt.Sprintf("chain: parse token abi: %v", err))
	}
	tokenABI = parsed
}

// Token identifies one supported payment token on the configured network.
type Token struct {
	Symbol   string
	Address  common.Address
	Decimals int32
}

// Transfer is the decoded payload of a delegatedTransfer call.
type Transfer struct {
	From   common.Address
	To     common.Address
	Amount *big.Int
}

var (
	// ErrNotTransfer indicates the calldata is not a delegatedTransfer call.
	ErrNotTransfer = errors.New("transaction is not a delegated transfer")
)

const transferGasLimit = 120_000

// NewTransferTx builds an unsigned delegatedTransfer transaction to be sent
// by the given delegate account.
func NewTransferTx(ctx context.Context, c Client, token, delegate common.Address, transfer Transfer) (*types.Transaction, error) {
	if transfer.Amount == nil || transfer.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("build transfer: amount must be positive")
	}

	data, err := tokenABI.Pack("delegatedTransfer", transfer.From, transfer.To, transfer.Amount)
	if err != nil {
		return nil, fmt.Errorf("pack delegatedTransfer: %w", err)
	}

	nonce, err := c.PendingNonceAt(ctx, delegate)
	if err != nil {
		return nil, err
	}

	gasPrice, err := c.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}

	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &token,
		Value:    new(big.Int),
		Gas:      transferGasLimit,
		GasPrice: gasPrice,
		Data:     data,
	}), nil
}

// ParseTransfer decodes a hex-encoded transaction envelope and extracts the
// delegatedTransfer payload. The transaction may be unsigned.
func ParseTransfer(raw string) (*types.Transaction, Transfer, error) {
	payload, err := hexutil.Decode(strings.TrimSpace(raw))
	if err != nil {
		return nil, Transfer{}, fmt.Errorf("decode transaction hex: %w", err)
	}

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(payload); err != nil {
		return nil, Transfer{}, fmt.Errorf("decode transaction: %w", err)
	}

	transfer, err := parseCalldata(tx.Data())
	if err != nil {
		return nil, Transfer{}, err
	}

	return tx, transfer, nil
}

func parseCalldata(data []byte) (Transfer, error) {
	if len(data) < 4 {
		return Transfer{}, ErrNotTransfer
	}

	method, err := tokenABI.MethodById(data[:4])
	if err != nil || method.Name != "delegatedTransfer" {
		return Transfer{}, ErrNotTransfer
	}

	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return Transfer{}, fmt.Errorf("unpack delegatedTransfer: %w", err)
	}
	if len(args) != 3 {
		return Transfer{}, ErrNotTransfer
	}

	from, okFrom := args[0].(common.Address)
	to, okTo := args[1].(common.Address)
	amount, okAmount := args[2].(*big.Int)
	if !okFrom || !okTo || !okAmount {
		return Transfer{}, ErrNotTransfer
	}

	return Transfer{From: from, To: to, Amount: amount}, nil
}

// EncodeTransaction renders a transaction as the hex wire format used by the
// facilitator protocol.
func EncodeTransaction(tx *types.Transaction) (string, error) {
	payload, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("encode transaction: %w", err)
	}
	return hexutil.Encode(payload), nil
}

// IsSigned reports whether the transaction carries a signature.
func IsSigned(tx *types.Transaction) bool {
	v, r, s := tx.RawSignatureValues()
	return (v != nil && v.Sign() != 0) || (r != nil && r.Sign() != 0) || (s != nil && s.Sign() != 0)
}
