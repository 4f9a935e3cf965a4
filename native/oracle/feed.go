package oracle

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

// Reading captures a single round reported by a price feed. Price is expressed
// in the feed's native decimals and may be non-positive when the upstream
// source misbehaves; validation happens in the adapter, not here.
type Reading struct {
	RoundID         *big.Int
	Price           *big.Int
	StartedAt       time.Time
	UpdatedAt       time.Time
	AnsweredInRound *big.Int
}

// Clone returns a deep copy of the reading to prevent callers mutating shared
// state.
func (r Reading) Clone() Reading {
	clone := Reading{StartedAt: r.StartedAt, UpdatedAt: r.UpdatedAt}
	if r.RoundID != nil {
		clone.RoundID = new(big.Int).Set(r.RoundID)
	}
	if r.Price != nil {
		clone.Price = new(big.Int).Set(r.Price)
	}
	if r.AnsweredInRound != nil {
		clone.AnsweredInRound = new(big.Int).Set(r.AnsweredInRound)
	}
	return clone
}

// Feed resolves the latest round for a single price pair.
type Feed interface {
	LatestRound() (Reading, error)
	Decimals() uint8
}

// ManualFeed provides an in-memory feed implementation used for tests and
// manual overrides during incident response.
type ManualFeed struct {
	mu       sync.RWMutex
	decimals uint8
	round    Reading
	set      bool
}

// NewManualFeed constructs a manual feed reporting prices with the supplied
// decimals.
func NewManualFeed(decimals uint8) *ManualFeed {
	return &ManualFeed{decimals: decimals}
}

// SetDecimal parses a decimal price string and records it with the supplied
// timestamp, advancing the round counter.
func (m *ManualFeed) SetDecimal(price string, ts time.Time) error {
	if m == nil {
		return fmt.Errorf("manual feed not configured")
	}
	trimmed := strings.TrimSpace(price)
	if trimmed == "" {
		return fmt.Errorf("manual feed: price required")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return fmt.Errorf("manual feed: invalid price %q", price)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(m.decimals)), nil)
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(scale))
	value := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	m.Set(value, ts)
	return nil
}

// Set records the raw price for the feed at the supplied timestamp.
func (m *ManualFeed) Set(price *big.Int, ts time.Time) {
	if m == nil || price == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	round := big.NewInt(1)
	if m.set && m.round.RoundID != nil {
		round = new(big.Int).Add(m.round.RoundID, big.NewInt(1))
	}
	m.round = Reading{
		RoundID:         round,
		Price:           new(big.Int).Set(price),
		StartedAt:       ts,
		UpdatedAt:       ts,
		AnsweredInRound: new(big.Int).Set(round),
	}
	m.set = true
}

// LatestRound returns the most recently recorded round.
func (m *ManualFeed) LatestRound() (Reading, error) {
	if m == nil {
		return Reading{}, fmt.Errorf("manual feed not configured")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.set {
		return Reading{}, fmt.Errorf("manual feed: no round recorded")
	}
	return m.round.Clone(), nil
}

// Decimals reports the feed's native price decimals.
func (m *ManualFeed) Decimals() uint8 {
	if m == nil {
		return 0
	}
	return m.decimals
}
