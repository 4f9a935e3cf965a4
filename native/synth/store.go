package synth

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"zusd/crypto"
	"zusd/storage"
)

// PositionStore persists positions in the key-value store as JSON records
// with string-rendered big integers, keeping full on-ledger precision.
type PositionStore struct {
	db storage.Database
}

// NewPositionStore wraps the database as an engine state backend.
func NewPositionStore(db storage.Database) (*PositionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("position store: database required")
	}
	return &PositionStore{db: db}, nil
}

type storedPosition struct {
	Address    string            `json:"address"`
	Collateral map[string]string `json:"collateral"`
	DebtMinted string            `json:"debt_minted"`
}

func positionKey(addr crypto.Address) []byte {
	return []byte("synth/position/" + hex.EncodeToString(addr.Bytes()))
}

func toStoredPosition(pos *Position) storedPosition {
	stored := storedPosition{
		Address:    pos.Address.String(),
		Collateral: make(map[string]string, len(pos.Collateral)),
		DebtMinted: "0",
	}
	for symbol, amount := range pos.Collateral {
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		stored.Collateral[symbol] = amount.String()
	}
	if pos.DebtMinted != nil {
		stored.DebtMinted = pos.DebtMinted.String()
	}
	return stored
}

func fromStoredPosition(stored *storedPosition) (*Position, error) {
	addr, err := crypto.DecodeAddress(stored.Address)
	if err != nil {
		return nil, fmt.Errorf("position store: decode address: %w", err)
	}
	pos := NewPosition(addr)
	for symbol, raw := range stored.Collateral {
		amount, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return nil, fmt.Errorf("position store: corrupt collateral amount %q for %s", raw, symbol)
		}
		pos.Collateral[NormalizeSymbol(symbol)] = amount
	}
	debt, ok := new(big.Int).SetString(stored.DebtMinted, 10)
	if !ok {
		return nil, fmt.Errorf("position store: corrupt debt amount %q", stored.DebtMinted)
	}
	pos.DebtMinted = debt
	return pos, nil
}

// GetPosition loads the stored position, returning nil when the account has
// never been seen.
func (s *PositionStore) GetPosition(addr crypto.Address) (*Position, error) {
	raw, err := s.db.Get(positionKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedPosition
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("position store: decode record: %w", err)
	}
	return fromStoredPosition(&stored)
}

// PutPosition commits the position record.
func (s *PositionStore) PutPosition(pos *Position) error {
	if pos == nil {
		return fmt.Errorf("position store: nil position")
	}
	stored := toStoredPosition(pos)
	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("position store: encode record: %w", err)
	}
	return s.db.Put(positionKey(pos.Address), raw)
}
