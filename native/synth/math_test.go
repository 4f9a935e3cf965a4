package synth

import (
	"math/big"
	"testing"
)

func TestValueInUSDUsesCanonicalScale(t *testing.T) {
	env := newTestEnv(t)

	// 10 units at $2000 with an 8-decimal feed normalised by 1e10.
	value, err := env.engine.valueInUSD(testAsset, coins(10))
	if err != nil {
		t.Fatalf("value in usd: %v", err)
	}
	if value.Cmp(coins(20_000)) != 0 {
		t.Fatalf("unexpected usd value: got %s want %s", value, coins(20_000))
	}
}

func TestAmountFromUSDInvertsValue(t *testing.T) {
	env := newTestEnv(t)

	amount, err := env.engine.amountFromUSD(testAsset, coins(100))
	if err != nil {
		t.Fatalf("amount from usd: %v", err)
	}
	// $100 at $2000 per unit buys exactly 0.05 units.
	want := mustBig(t, "50000000000000000")
	if amount.Cmp(want) != 0 {
		t.Fatalf("unexpected amount: got %s want %s", amount, want)
	}
}

func TestConversionRoundTripFloorsTowardProtocol(t *testing.T) {
	env := newTestEnv(t)
	// A price that does not divide the fixed-point scale exercises real
	// flooring on both legs.
	env.setPrice(t, "1999.99373")

	cases := []*big.Int{
		big.NewInt(1),
		big.NewInt(17),
		big.NewInt(1_000_000_007),
		coins(1),
		mustBig(t, "123456789123456789"),
	}
	for _, amount := range cases {
		value, err := env.engine.valueInUSD(testAsset, amount)
		if err != nil {
			t.Fatalf("value in usd: %v", err)
		}
		recovered, err := env.engine.amountFromUSD(testAsset, value)
		if err != nil {
			t.Fatalf("amount from usd: %v", err)
		}
		// Floor division loses value in the user's direction: the
		// recovered quantity never exceeds the input.
		if recovered.Cmp(amount) > 0 {
			t.Fatalf("round trip gained value: %s -> %s", amount, recovered)
		}
		diff := new(big.Int).Sub(amount, recovered)
		// The loss is bounded by one price quantum.
		if diff.Cmp(big.NewInt(1_000_000_000_000_000_000)) > 0 {
			t.Fatalf("round trip lost more than one unit quantum: %s", diff)
		}
	}
}

func TestHealthFactorReferenceScenario(t *testing.T) {
	env := newTestEnv(t)
	user := makeAddress(0x20)

	if err := env.engine.DepositAndMint(user, testAsset, coins(10), coins(100)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// $20000 collateral, 50% threshold, 100 debt: factor 100.0.
	factor, err := env.engine.HealthFactor(user)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if factor.Cmp(coins(100)) != 0 {
		t.Fatalf("unexpected factor at $2000: %s", factor)
	}

	// Price drops to $18: collateral value $180, factor 0.9.
	env.setPrice(t, "18")
	factor, err = env.engine.HealthFactor(user)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if factor.Cmp(mustBig(t, "900000000000000000")) != 0 {
		t.Fatalf("unexpected factor at $18: %s", factor)
	}
}

func TestHealthFactorClampsAtLedgerWord(t *testing.T) {
	env := newTestEnv(t)
	user := makeAddress(0x20)

	if err := env.engine.DepositCollateral(user, testAsset, coins(1_000_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := env.engine.MintDebt(user, big.NewInt(1)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	factor, err := env.engine.HealthFactor(user)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if factor.Cmp(maxHealthFactor) > 0 {
		t.Fatalf("factor exceeds the ledger word bound: %s", factor)
	}
}

func TestSeizureForDebtAppliesBonus(t *testing.T) {
	env := newTestEnv(t)
	env.setPrice(t, "18")

	base, bonus, total, err := env.engine.seizureForDebt(testAsset, coins(100))
	if err != nil {
		t.Fatalf("seizure: %v", err)
	}
	if base.Cmp(mustBig(t, "5555555555555555555")) != 0 {
		t.Fatalf("unexpected base: %s", base)
	}
	if bonus.Cmp(mustBig(t, "555555555555555555")) != 0 {
		t.Fatalf("unexpected bonus: %s", bonus)
	}
	if total.Cmp(mustBig(t, "6111111111111111110")) != 0 {
		t.Fatalf("unexpected total: %s", total)
	}
}

func TestValueOpsRejectUnknownAsset(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.engine.valueInUSD("DOGE", coins(1)); err != ErrUnsupportedAsset {
		t.Fatalf("expected ErrUnsupportedAsset, got %v", err)
	}
	if _, err := env.engine.amountFromUSD("DOGE", coins(1)); err != ErrUnsupportedAsset {
		t.Fatalf("expected ErrUnsupportedAsset, got %v", err)
	}
}
