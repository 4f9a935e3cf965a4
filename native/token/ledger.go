package token

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"zusd/crypto"
	"zusd/storage"
)

var (
	ErrInvalidAmount       = errors.New("token ledger: amount must be positive")
	ErrInsufficientBalance = errors.New("token ledger: insufficient balance")
	ErrMintNotAuthorized   = errors.New("token ledger: caller may not mint or the gate is unset")
	ErrZeroRecipient       = errors.New("token ledger: zero address recipient")
)

// Ledger is a minimal fungible-token ledger persisted in the key-value store.
// Minting is gated to a single authority address, which deployments point at
// the solvency engine's module address. All other movement is plain balance
// accounting; there is no allowance model because every transfer runs inside
// the engine's exclusion window.
type Ledger struct {
	mu        sync.Mutex
	symbol    string
	db        storage.Database
	authority crypto.Address
}

// NewLedger constructs a ledger for the supplied symbol on top of the store.
func NewLedger(symbol string, db storage.Database) (*Ledger, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return nil, fmt.Errorf("token ledger: symbol required")
	}
	if db == nil {
		return nil, fmt.Errorf("token ledger: database required")
	}
	return &Ledger{symbol: trimmed, db: db}, nil
}

// SetAuthority records the only address permitted to mint and to burn held
// balances on behalf of the protocol.
func (l *Ledger) SetAuthority(addr crypto.Address) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.authority = addr
	l.mu.Unlock()
}

// Symbol returns the canonical token symbol.
func (l *Ledger) Symbol() string {
	if l == nil {
		return ""
	}
	return l.symbol
}

func (l *Ledger) balanceKey(addr crypto.Address) []byte {
	return []byte("token/" + l.symbol + "/balance/" + hex.EncodeToString(addr.Bytes()))
}

func (l *Ledger) supplyKey() []byte {
	return []byte("token/" + l.symbol + "/supply")
}

func (l *Ledger) readAmount(key []byte) (*big.Int, error) {
	raw, err := l.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	amount, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, fmt.Errorf("token ledger: corrupt amount record %q", raw)
	}
	return amount, nil
}

func (l *Ledger) writeAmount(key []byte, amount *big.Int) error {
	return l.db.Put(key, []byte(amount.String()))
}

// BalanceOf reports the held balance for the address.
func (l *Ledger) BalanceOf(addr crypto.Address) (*big.Int, error) {
	if l == nil {
		return nil, fmt.Errorf("token ledger: not configured")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readAmount(l.balanceKey(addr))
}

// TotalSupply reports the outstanding minted supply.
func (l *Ledger) TotalSupply() (*big.Int, error) {
	if l == nil {
		return nil, fmt.Errorf("token ledger: not configured")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readAmount(l.supplyKey())
}

// Mint credits newly issued units to the recipient. Only the configured
// authority may mint, and the zero address can never receive.
func (l *Ledger) Mint(caller, to crypto.Address, amount *big.Int) (bool, error) {
	if l == nil {
		return false, fmt.Errorf("token ledger: not configured")
	}
	if amount == nil || amount.Sign() <= 0 {
		return false, ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.authority.IsZero() || !caller.Equal(l.authority) {
		return false, ErrMintNotAuthorized
	}
	if to.IsZero() {
		return false, ErrZeroRecipient
	}
	balance, err := l.readAmount(l.balanceKey(to))
	if err != nil {
		return false, err
	}
	supply, err := l.readAmount(l.supplyKey())
	if err != nil {
		return false, err
	}
	if err := l.writeAmount(l.balanceKey(to), balance.Add(balance, amount)); err != nil {
		return false, err
	}
	if err := l.writeAmount(l.supplyKey(), supply.Add(supply, amount)); err != nil {
		return false, err
	}
	return true, nil
}

// Burn destroys amount units held by the caller. Burning more than the held
// balance or a non-positive amount fails.
func (l *Ledger) Burn(caller crypto.Address, amount *big.Int) error {
	if l == nil {
		return fmt.Errorf("token ledger: not configured")
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, err := l.readAmount(l.balanceKey(caller))
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	supply, err := l.readAmount(l.supplyKey())
	if err != nil {
		return err
	}
	if err := l.writeAmount(l.balanceKey(caller), balance.Sub(balance, amount)); err != nil {
		return err
	}
	return l.writeAmount(l.supplyKey(), supply.Sub(supply, amount))
}

// Transfer moves amount units between accounts. A false return mirrors the
// external transfer contract the engine consumes.
func (l *Ledger) Transfer(from, to crypto.Address, amount *big.Int) (bool, error) {
	if l == nil {
		return false, fmt.Errorf("token ledger: not configured")
	}
	if amount == nil || amount.Sign() <= 0 {
		return false, ErrInvalidAmount
	}
	if to.IsZero() {
		return false, ErrZeroRecipient
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fromBalance, err := l.readAmount(l.balanceKey(from))
	if err != nil {
		return false, err
	}
	if fromBalance.Cmp(amount) < 0 {
		return false, ErrInsufficientBalance
	}
	toBalance, err := l.readAmount(l.balanceKey(to))
	if err != nil {
		return false, err
	}
	if err := l.writeAmount(l.balanceKey(from), fromBalance.Sub(fromBalance, amount)); err != nil {
		return false, err
	}
	if err := l.writeAmount(l.balanceKey(to), toBalance.Add(toBalance, amount)); err != nil {
		return false, err
	}
	return true, nil
}

// Account binds the ledger to a principal so the handle satisfies the
// engine's transfer interfaces: Transfer spends the bound address, Mint and
// Burn act with the bound address as caller.
type Account struct {
	ledger *Ledger
	addr   crypto.Address
}

// Account returns a handle bound to the supplied address.
func (l *Ledger) Account(addr crypto.Address) *Account {
	return &Account{ledger: l, addr: addr}
}

// TransferFrom moves units between two explicit principals.
func (a *Account) TransferFrom(from, to crypto.Address, amount *big.Int) (bool, error) {
	return a.ledger.Transfer(from, to, amount)
}

// Transfer spends the bound address's balance.
func (a *Account) Transfer(to crypto.Address, amount *big.Int) (bool, error) {
	return a.ledger.Transfer(a.addr, to, amount)
}

// Mint issues units with the bound address as the gated caller.
func (a *Account) Mint(to crypto.Address, amount *big.Int) (bool, error) {
	return a.ledger.Mint(a.addr, to, amount)
}

// Burn destroys units held by the bound address.
func (a *Account) Burn(amount *big.Int) error {
	return a.ledger.Burn(a.addr, amount)
}

// BalanceOf reports any account's balance.
func (a *Account) BalanceOf(addr crypto.Address) (*big.Int, error) {
	return a.ledger.BalanceOf(addr)
}

// Address returns the bound principal.
func (a *Account) Address() crypto.Address {
	return a.addr
}
