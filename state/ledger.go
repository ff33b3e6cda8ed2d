package state

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"basalt/native/pool"
)

// Ledger tracks per-asset balances and allowances and satisfies the
// engine's token transfer contract.
type Ledger struct {
	mgr *Manager
}

// NewLedger wraps a manager with token accounting.
func NewLedger(mgr *Manager) *Ledger {
	return &Ledger{mgr: mgr}
}

func balanceKey(asset, owner common.Address) []byte {
	key := append([]byte(balancePrefix), asset.Bytes()...)
	return append(key, owner.Bytes()...)
}

func allowanceKey(asset, owner, spender common.Address) []byte {
	key := append([]byte(allowancePrefix), asset.Bytes()...)
	key = append(key, owner.Bytes()...)
	return append(key, spender.Bytes()...)
}

// BalanceOf returns the owner's balance for an asset, zero when never
// funded.
func (l *Ledger) BalanceOf(asset, owner common.Address) (*big.Int, error) {
	balance := new(big.Int)
	if _, err := l.mgr.KVGet(balanceKey(asset, owner), balance); err != nil {
		return nil, err
	}
	return balance, nil
}

// Mint credits new units of an asset to an account.
func (l *Ledger) Mint(asset, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return pool.ErrInvalidAmount
	}
	balance, err := l.BalanceOf(asset, to)
	if err != nil {
		return err
	}
	return l.mgr.KVPut(balanceKey(asset, to), new(big.Int).Add(balance, amount))
}

// Approve sets the spender's allowance over the owner's balance.
func (l *Ledger) Approve(asset, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return pool.ErrInvalidAmount
	}
	return l.mgr.KVPut(allowanceKey(asset, owner, spender), amount)
}

// Allowance returns the spender's remaining allowance over the owner's
// balance.
func (l *Ledger) Allowance(asset, owner, spender common.Address) (*big.Int, error) {
	allowance := new(big.Int)
	if _, err := l.mgr.KVGet(allowanceKey(asset, owner, spender), allowance); err != nil {
		return nil, err
	}
	return allowance, nil
}

func (l *Ledger) move(asset, from, to common.Address, amount *big.Int) error {
	fromBalance, err := l.BalanceOf(asset, from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return pool.ErrInsufficientBalance
	}
	toBalance, err := l.BalanceOf(asset, to)
	if err != nil {
		return err
	}
	if err := l.mgr.KVPut(balanceKey(asset, from), new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return l.mgr.KVPut(balanceKey(asset, to), new(big.Int).Add(toBalance, amount))
}

// Transfer moves an asset between accounts.
func (l *Ledger) Transfer(asset, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return pool.ErrInvalidAmount
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	return l.move(asset, from, to, amount)
}

// TransferFrom moves an asset on behalf of its owner, debiting the
// spender's allowance. A spender moving their own funds needs no
// allowance.
func (l *Ledger) TransferFrom(asset, spender, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return pool.ErrInvalidAmount
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	if spender != from {
		allowance, err := l.Allowance(asset, from, spender)
		if err != nil {
			return err
		}
		if allowance.Cmp(amount) < 0 {
			return pool.ErrInsufficientAllowance
		}
		if err := l.mgr.KVPut(allowanceKey(asset, from, spender), new(big.Int).Sub(allowance, amount)); err != nil {
			return err
		}
	}
	return l.move(asset, from, to, amount)
}

// PriceOracle serves seven decimal base prices out of state. Prices are
// pushed by an off-engine feed; the engine only ever reads.
type PriceOracle struct {
	mgr *Manager
}

// NewPriceOracle wraps a manager with price accessors.
func NewPriceOracle(mgr *Manager) *PriceOracle {
	return &PriceOracle{mgr: mgr}
}

func priceKey(asset common.Address) []byte {
	return append([]byte(oraclePricePrefix), asset.Bytes()...)
}

// SetPrice records the base unit price for an asset.
func (o *PriceOracle) SetPrice(asset common.Address, price *big.Int) error {
	if price == nil || price.Sign() <= 0 {
		return pool.ErrInvalidPrice
	}
	return o.mgr.KVPut(priceKey(asset), price)
}

// GetPrice returns the stored price for an asset, zero when no feed has
// published one.
func (o *PriceOracle) GetPrice(asset common.Address) (*big.Int, error) {
	price := new(big.Int)
	if _, err := o.mgr.KVGet(priceKey(asset), price); err != nil {
		return nil, err
	}
	return price, nil
}
