package synth

import (
	"math/big"

	"zusd/core/types"
	"zusd/crypto"
)

// Event types emitted by the engine. Each is emitted exactly once per
// corresponding successful state change, with the final committed amounts.
const (
	EventTypeCollateralDeposited = "synth.collateral.deposited"
	EventTypeCollateralRedeemed  = "synth.collateral.redeemed"
	EventTypeDebtMinted          = "synth.debt.minted"
	EventTypeDebtBurned          = "synth.debt.burned"
	EventTypeLiquidation         = "synth.liquidation"
)

func collateralDepositedEvent(account crypto.Address, symbol string, amount *big.Int) types.Event {
	return types.Event{
		Type: EventTypeCollateralDeposited,
		Attributes: map[string]string{
			"account": account.String(),
			"asset":   symbol,
			"amount":  amount.String(),
		},
	}
}

func collateralRedeemedEvent(from, to crypto.Address, symbol string, amount *big.Int) types.Event {
	return types.Event{
		Type: EventTypeCollateralRedeemed,
		Attributes: map[string]string{
			"from":   from.String(),
			"to":     to.String(),
			"asset":  symbol,
			"amount": amount.String(),
		},
	}
}

func debtMintedEvent(account crypto.Address, amount *big.Int) types.Event {
	return types.Event{
		Type: EventTypeDebtMinted,
		Attributes: map[string]string{
			"account": account.String(),
			"amount":  amount.String(),
		},
	}
}

func debtBurnedEvent(account, payer crypto.Address, amount *big.Int) types.Event {
	return types.Event{
		Type: EventTypeDebtBurned,
		Attributes: map[string]string{
			"account": account.String(),
			"payer":   payer.String(),
			"amount":  amount.String(),
		},
	}
}

func liquidationEvent(liquidator, target crypto.Address, symbol string, debtCovered, seized *big.Int) types.Event {
	return types.Event{
		Type: EventTypeLiquidation,
		Attributes: map[string]string{
			"liquidator":   liquidator.String(),
			"target":       target.String(),
			"asset":        symbol,
			"debt_covered": debtCovered.String(),
			"seized":       seized.String(),
		},
	}
}
