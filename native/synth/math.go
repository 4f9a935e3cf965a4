package synth

import (
	"math/big"

	"github.com/holiman/uint256"
)

var (
	// precision is the canonical 18-decimal fixed-point scale for USD values.
	precision = big.NewInt(1_000_000_000_000_000_000)
	// percentDivisor converts whole-percent parameters into fractions.
	percentDivisor = big.NewInt(100)
)

// maxHealthFactor is the value reported for debt-free positions: the largest
// number representable in a 256-bit ledger word.
var maxHealthFactor = new(uint256.Int).SetAllOne().ToBig()

// valueInUSD converts a raw asset quantity into its 18-decimal USD value
// using the asset's normalized oracle price. Division floors.
func (e *Engine) valueInUSD(symbol string, amount *big.Int) (*big.Int, error) {
	adapter, ok := e.registry.Adapter(symbol)
	if !ok {
		return nil, ErrUnsupportedAsset
	}
	price, err := adapter.NormalizedPrice()
	if err != nil {
		return nil, err
	}
	value := new(big.Int).Mul(amount, price)
	return value.Quo(value, precision), nil
}

// amountFromUSD converts an 18-decimal USD value into the equivalent raw
// quantity of the supplied asset. The floor division deliberately favours the
// protocol over the caller; tests assert the rounding direction.
func (e *Engine) amountFromUSD(symbol string, usdValue *big.Int) (*big.Int, error) {
	adapter, ok := e.registry.Adapter(symbol)
	if !ok {
		return nil, ErrUnsupportedAsset
	}
	price, err := adapter.NormalizedPrice()
	if err != nil {
		return nil, err
	}
	amount := new(big.Int).Mul(usdValue, precision)
	return amount.Quo(amount, price), nil
}

// collateralValueUSD sums the USD value of every registered asset held by the
// position. The scan is O(registered assets), which stays cheap for the
// handful of assets a deployment registers.
func (e *Engine) collateralValueUSD(pos *Position) (*big.Int, error) {
	total := big.NewInt(0)
	for _, symbol := range e.registry.symbols {
		balance := pos.CollateralBalance(symbol)
		if balance.Sign() == 0 {
			continue
		}
		value, err := e.valueInUSD(symbol, balance)
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}
	return total, nil
}

// healthFactor computes the solvency ratio for a position in 18-decimal fixed
// point. Debt-free positions report the maximum representable value without
// touching the oracles, so withdrawals of undebted collateral never depend on
// feed liveness.
func (e *Engine) healthFactor(pos *Position) (*big.Int, error) {
	if pos == nil || pos.DebtMinted == nil || pos.DebtMinted.Sign() == 0 {
		return new(big.Int).Set(maxHealthFactor), nil
	}
	collateralValue, err := e.collateralValueUSD(pos)
	if err != nil {
		return nil, err
	}
	adjusted := new(big.Int).Mul(collateralValue, new(big.Int).SetUint64(e.params.LiquidationThresholdPct))
	adjusted.Quo(adjusted, percentDivisor)
	factor := adjusted.Mul(adjusted, precision)
	factor.Quo(factor, pos.DebtMinted)
	if factor.Cmp(maxHealthFactor) > 0 {
		factor.Set(maxHealthFactor)
	}
	return factor, nil
}

// seizureForDebt sizes the collateral claim for repaying debtToCover USD of
// debt: the debt-equivalent quantity plus the liquidation bonus.
func (e *Engine) seizureForDebt(symbol string, debtToCover *big.Int) (base, bonus, total *big.Int, err error) {
	base, err = e.amountFromUSD(symbol, debtToCover)
	if err != nil {
		return nil, nil, nil, err
	}
	bonus = new(big.Int).Mul(base, new(big.Int).SetUint64(e.params.LiquidationBonusPct))
	bonus.Quo(bonus, percentDivisor)
	total = new(big.Int).Add(base, bonus)
	return base, bonus, total, nil
}
