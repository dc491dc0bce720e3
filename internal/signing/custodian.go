// Package signing custodies the platform-side signing keys: one delegate key
// per spending session plus the operator (fee payer) account. Raw key
// material never leaves this package; callers get sign-for-this-delegate
// capability only.
package signing

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrUnknownDelegate indicates no custodied key exists for the delegate.
	ErrUnknownDelegate = errors.New("no custodied key for delegate")
	// ErrNoFeePayer indicates the operator account has not been loaded.
	ErrNoFeePayer = errors.New("fee payer account not configured")
)

// Custodian manages scrypt-encrypted keys on disk.
type Custodian struct {
	ks         *keystore.KeyStore
	passphrase string

	feePayer    common.Address
	hasFeePayer bool
}

// NewCustodian opens (or creates) the keystore directory.
func NewCustodian(dir, passphrase string) (*Custodian, error) {
	if dir == "" {
		return nil, errors.New("keystore directory is required")
	}
	ks := keystore.NewKeyStore(dir, keystore.StandardScryptN, keystore.StandardScryptP)
	return &Custodian{ks: ks, passphrase: passphrase}, nil
}

// LoadFeePayer resolves and unlocks the operator account. Call at startup;
// a failure here is fatal configuration, not a runtime condition.
func (c *Custodian) LoadFeePayer(address string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("fee payer address %q is not a valid address", address)
	}
	addr := common.HexToAddress(address)

	account, err := c.ks.Find(accounts.Account{Address: addr})
	if err != nil {
		return fmt.Errorf("fee payer %s not present in keystore: %w", addr, err)
	}

	// Prove the passphrase opens the key before serving any settlements.
	if err := c.ks.Unlock(account, c.passphrase); err != nil {
		return fmt.Errorf("unlock fee payer %s: %w", addr, err)
	}

	c.feePayer = addr
	c.hasFeePayer = true
	return nil
}

// HasFeePayer reports whether the operator account is loaded.
func (c *Custodian) HasFeePayer() bool {
	return c.hasFeePayer
}

// FeePayer returns the operator account address.
func (c *Custodian) FeePayer() (common.Address, error) {
	if !c.hasFeePayer {
		return common.Address{}, ErrNoFeePayer
	}
	return c.feePayer, nil
}

// NewSessionKey generates a fresh delegate key and returns its address.
// The private key stays encrypted in the keystore.
func (c *Custodian) NewSessionKey() (common.Address, error) {
	account, err := c.ks.NewAccount(c.passphrase)
	if err != nil {
		return common.Address{}, fmt.Errorf("generate session key: %w", err)
	}
	return account.Address, nil
}

// SignTransfer signs a transaction with the custodied key for the given
// delegate. The scope is deliberately narrow: a caller holding a delegate
// address can request signatures for that delegate and nothing else.
func (c *Custodian) SignTransfer(delegate common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	account, err := c.ks.Find(accounts.Account{Address: delegate})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDelegate, delegate)
	}

	signed, err := c.ks.SignTxWithPassphrase(account, c.passphrase, tx, chainID)
	if err != nil {
		return nil, fmt.Errorf("sign transfer for %s: %w", delegate, err)
	}
	return signed, nil
}
