package synth

import (
	"math/big"
	"strings"

	"zusd/crypto"
)

// Position maintains the collateral and debt bookkeeping for a single
// account. Amounts are denominated in the smallest unit of the respective
// asset and expressed as big integers to match ledger precision. Positions are
// created lazily on first deposit and never explicitly destroyed.
type Position struct {
	// Address is the unique account identifier.
	Address crypto.Address
	// Collateral records the raw deposited quantity per registered asset.
	Collateral map[string]*big.Int
	// DebtMinted stores the outstanding stable-unit debt.
	DebtMinted *big.Int
}

// NewPosition returns an empty position for the supplied account.
func NewPosition(addr crypto.Address) *Position {
	return &Position{
		Address:    addr,
		Collateral: make(map[string]*big.Int),
		DebtMinted: big.NewInt(0),
	}
}

// Clone returns a deep copy of the position. State transitions mutate clones
// and commit them only after every check and external call has succeeded.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{
		Address:    p.Address,
		Collateral: make(map[string]*big.Int, len(p.Collateral)),
		DebtMinted: big.NewInt(0),
	}
	for symbol, amount := range p.Collateral {
		if amount != nil {
			clone.Collateral[symbol] = new(big.Int).Set(amount)
		}
	}
	if p.DebtMinted != nil {
		clone.DebtMinted.Set(p.DebtMinted)
	}
	return clone
}

// CollateralBalance returns the deposited quantity of the supplied asset,
// treating absent entries as zero.
func (p *Position) CollateralBalance(symbol string) *big.Int {
	if p == nil || p.Collateral == nil {
		return big.NewInt(0)
	}
	amount, ok := p.Collateral[NormalizeSymbol(symbol)]
	if !ok || amount == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(amount)
}

func (p *Position) normalize() {
	if p.Collateral == nil {
		p.Collateral = make(map[string]*big.Int)
	}
	if p.DebtMinted == nil {
		p.DebtMinted = big.NewInt(0)
	}
}

// Params groups the solvency constants fixed at engine construction. The same
// values apply to every registered collateral asset.
type Params struct {
	// LiquidationThresholdPct is the percentage of collateral value counted
	// toward solvency. 50 means a 200% overcollateralization requirement.
	LiquidationThresholdPct uint64
	// LiquidationBonusPct is the extra collateral percentage awarded to a
	// liquidator on top of the debt-equivalent seizure.
	LiquidationBonusPct uint64
	// MinHealthFactor is the pass/fail solvency threshold in 18-decimal
	// fixed point. Canonically 1e18.
	MinHealthFactor *big.Int
}

// DefaultParams returns the reference configuration: 50% threshold, 10%
// bonus, minimum health factor of 1.0.
func DefaultParams() Params {
	return Params{
		LiquidationThresholdPct: 50,
		LiquidationBonusPct:     10,
		MinHealthFactor:         new(big.Int).Set(precision),
	}
}

func (p Params) normalize() Params {
	defaults := DefaultParams()
	if p.LiquidationThresholdPct == 0 || p.LiquidationThresholdPct > 100 {
		p.LiquidationThresholdPct = defaults.LiquidationThresholdPct
	}
	if p.LiquidationBonusPct == 0 {
		p.LiquidationBonusPct = defaults.LiquidationBonusPct
	}
	if p.MinHealthFactor == nil || p.MinHealthFactor.Sign() <= 0 {
		p.MinHealthFactor = defaults.MinHealthFactor
	} else {
		p.MinHealthFactor = new(big.Int).Set(p.MinHealthFactor)
	}
	return p
}

// NormalizeSymbol renders an asset symbol in its canonical registry form.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
