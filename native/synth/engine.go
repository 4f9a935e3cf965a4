package synth

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"zusd/core/events"
	"zusd/crypto"
)

var (
	errNilState = errors.New("synth engine: state not configured")

	// ErrInvalidAmount rejects zero or negative amounts where a positive
	// amount is required.
	ErrInvalidAmount = errors.New("synth engine: amount must be positive")
	// ErrUnsupportedAsset rejects operations referencing an asset with no
	// registered oracle adapter.
	ErrUnsupportedAsset = errors.New("synth engine: collateral asset not registered")
	// ErrInsufficientCollateral rejects withdrawals and seizures exceeding
	// the deposited balance; underflow is never wrapped.
	ErrInsufficientCollateral = errors.New("synth engine: collateral balance too low")
	// ErrInsufficientDebt rejects burns exceeding the outstanding debt.
	ErrInsufficientDebt = errors.New("synth engine: amount exceeds outstanding debt")
	// ErrTransferFailed surfaces an external value transfer that reported
	// failure or errored.
	ErrTransferFailed = errors.New("synth engine: token transfer failed")
	// ErrMintFailed surfaces a stable ledger that refused to mint.
	ErrMintFailed = errors.New("synth engine: stable ledger refused to mint")
	// ErrHealthFactorOk rejects liquidation of a solvent position.
	ErrHealthFactorOk = errors.New("synth engine: target position is not liquidatable")
	// ErrHealthFactorNotImproved rejects a liquidation that would not
	// strictly improve the target's health factor.
	ErrHealthFactorNotImproved = errors.New("synth engine: liquidation must improve target health factor")
)

// BreaksHealthFactorError reports that a state transition would leave an
// account below the minimum health factor. It carries the computed factor for
// diagnostics so callers can size a retry.
type BreaksHealthFactorError struct {
	HealthFactor *big.Int
}

func (e *BreaksHealthFactorError) Error() string {
	return fmt.Sprintf("synth engine: operation breaks health factor (%s)", e.HealthFactor)
}

// CollateralToken moves units of a single collateral asset. A false return and
// an error are equally a transfer failure from the engine's perspective.
type CollateralToken interface {
	TransferFrom(from, to crypto.Address, amount *big.Int) (bool, error)
	Transfer(to crypto.Address, amount *big.Int) (bool, error)
}

// StableLedger mints, burns and moves the stable unit. Mint is gated upstream
// so only the engine's module address may call it.
type StableLedger interface {
	Mint(to crypto.Address, amount *big.Int) (bool, error)
	Burn(amount *big.Int) error
	TransferFrom(from, to crypto.Address, amount *big.Int) (bool, error)
	BalanceOf(addr crypto.Address) (*big.Int, error)
}

type engineState interface {
	GetPosition(addr crypto.Address) (*Position, error)
	PutPosition(pos *Position) error
}

// Engine owns the per-account collateral and debt records and executes every
// state transition against them. Operations are serialized under a single
// mutex: no two transitions observe interleaved partial effects, and no
// nested call back into the engine can run until the outer operation has
// fully committed or aborted. Each operation mutates position clones and
// commits them only after every solvency check and external call succeeded.
type Engine struct {
	mu            sync.Mutex
	state         engineState
	registry      *Registry
	ledger        StableLedger
	params        Params
	moduleAddress crypto.Address
	emitter       events.Emitter
}

// NewEngine constructs a solvency engine bound to the collateral registry,
// the stable ledger and the module treasury address that holds pulled funds.
func NewEngine(moduleAddr crypto.Address, registry *Registry, ledger StableLedger, params Params) (*Engine, error) {
	if registry == nil {
		return nil, fmt.Errorf("synth engine: registry required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("synth engine: stable ledger required")
	}
	return &Engine{
		registry:      registry,
		ledger:        ledger,
		params:        params.normalize(),
		moduleAddress: moduleAddr,
		emitter:       events.NoopEmitter{},
	}, nil
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter wires the emitter receiving committed state-change events.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil || emitter == nil {
		return
	}
	e.emitter = emitter
}

// Params returns the solvency constants the engine was constructed with.
func (e *Engine) Params() Params {
	return Params{
		LiquidationThresholdPct: e.params.LiquidationThresholdPct,
		LiquidationBonusPct:     e.params.LiquidationBonusPct,
		MinHealthFactor:         new(big.Int).Set(e.params.MinHealthFactor),
	}
}

// ModuleAddress returns the treasury address holding pulled funds.
func (e *Engine) ModuleAddress() crypto.Address { return e.moduleAddress }

// Registry returns the collateral registry the engine prices against.
func (e *Engine) Registry() *Registry { return e.registry }

func (e *Engine) loadPosition(addr crypto.Address) (*Position, error) {
	pos, err := e.state.GetPosition(addr)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return NewPosition(addr), nil
	}
	pos.normalize()
	return pos, nil
}

func validAmount(amount *big.Int) bool {
	return amount != nil && amount.Sign() > 0
}

// DepositCollateral pulls amount units of the asset from the account and
// credits them to its collateral balance. Deposits only improve health, so no
// solvency check is required.
func (e *Engine) DepositCollateral(account crypto.Address, asset string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.depositLocked(account, asset, amount)
}

func (e *Engine) depositLocked(account crypto.Address, asset string, amount *big.Int) error {
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	symbol := NormalizeSymbol(asset)
	token, ok := e.registry.Token(symbol)
	if !ok {
		return ErrUnsupportedAsset
	}

	pos, err := e.loadPosition(account)
	if err != nil {
		return err
	}
	updated := pos.Clone()
	balance := updated.CollateralBalance(symbol)
	updated.Collateral[symbol] = balance.Add(balance, amount)

	ok, err = token.TransferFrom(account, e.moduleAddress, amount)
	if err != nil || !ok {
		return transferFailure(err)
	}
	if err := e.state.PutPosition(updated); err != nil {
		// The pull already moved funds; return them before surfacing the
		// write failure.
		if returned, returnErr := token.Transfer(account, amount); returnErr != nil || !returned {
			return fmt.Errorf("synth engine: persist position: %w (collateral refund also failed)", err)
		}
		return fmt.Errorf("synth engine: persist position: %w", err)
	}
	e.emitter.Emit(collateralDepositedEvent(account, symbol, amount))
	return nil
}

// MintDebt issues amount stable units against the account's collateral. The
// projected position must stay at or above the minimum health factor, else
// the whole operation fails with BreaksHealthFactorError and nothing is
// committed.
func (e *Engine) MintDebt(account crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mintLocked(account, amount)
}

func (e *Engine) mintLocked(account crypto.Address, amount *big.Int) error {
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	pos, err := e.loadPosition(account)
	if err != nil {
		return err
	}
	updated := pos.Clone()
	updated.DebtMinted.Add(updated.DebtMinted, amount)

	factor, err := e.healthFactor(updated)
	if err != nil {
		return err
	}
	if factor.Cmp(e.params.MinHealthFactor) < 0 {
		return &BreaksHealthFactorError{HealthFactor: factor}
	}

	ok, err := e.ledger.Mint(account, amount)
	if err != nil || !ok {
		if err != nil {
			return fmt.Errorf("%w: %w", ErrMintFailed, err)
		}
		return ErrMintFailed
	}
	if err := e.state.PutPosition(updated); err != nil {
		// Claw the minted units back so no unrecorded debt circulates.
		pulled, pullErr := e.ledger.TransferFrom(account, e.moduleAddress, amount)
		if pullErr != nil || !pulled {
			return fmt.Errorf("synth engine: persist position: %w (mint clawback also failed)", err)
		}
		if burnErr := e.ledger.Burn(amount); burnErr != nil {
			return fmt.Errorf("synth engine: persist position: %w (mint clawback also failed)", err)
		}
		return fmt.Errorf("synth engine: persist position: %w", err)
	}
	e.emitter.Emit(debtMintedEvent(account, amount))
	return nil
}

// RedeemCollateral releases amount units of the asset from the account's
// collateral to the recipient. The projected position must remain healthy.
func (e *Engine) RedeemCollateral(account, to crypto.Address, asset string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.redeemLocked(account, to, asset, amount)
}

func (e *Engine) redeemLocked(account, to crypto.Address, asset string, amount *big.Int) error {
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	symbol := NormalizeSymbol(asset)
	token, ok := e.registry.Token(symbol)
	if !ok {
		return ErrUnsupportedAsset
	}

	pos, err := e.loadPosition(account)
	if err != nil {
		return err
	}
	if pos.CollateralBalance(symbol).Cmp(amount) < 0 {
		return ErrInsufficientCollateral
	}
	updated := pos.Clone()
	balance := updated.Collateral[symbol]
	updated.Collateral[symbol] = new(big.Int).Sub(balance, amount)

	factor, err := e.healthFactor(updated)
	if err != nil {
		return err
	}
	if factor.Cmp(e.params.MinHealthFactor) < 0 {
		return &BreaksHealthFactorError{HealthFactor: factor}
	}

	ok, err = token.Transfer(to, amount)
	if err != nil || !ok {
		return transferFailure(err)
	}
	if err := e.state.PutPosition(updated); err != nil {
		if reclaimed, reclaimErr := token.TransferFrom(to, e.moduleAddress, amount); reclaimErr != nil || !reclaimed {
			return fmt.Errorf("synth engine: persist position: %w (collateral clawback also failed)", err)
		}
		return fmt.Errorf("synth engine: persist position: %w", err)
	}
	e.emitter.Emit(collateralRedeemedEvent(account, to, symbol, amount))
	return nil
}

// BurnDebt retires amount units of the account's debt, funded by the payer.
// The stable units are pulled into the module treasury and burned. Burning
// can only improve solvency; the post check is retained to surface ledger or
// oracle anomalies rather than mask them.
func (e *Engine) BurnDebt(account, payer crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.burnLocked(account, payer, amount)
}

func (e *Engine) burnLocked(account, payer crypto.Address, amount *big.Int) error {
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	pos, err := e.loadPosition(account)
	if err != nil {
		return err
	}
	if pos.DebtMinted.Cmp(amount) < 0 {
		return ErrInsufficientDebt
	}
	updated := pos.Clone()
	updated.DebtMinted.Sub(updated.DebtMinted, amount)

	factor, err := e.healthFactor(updated)
	if err != nil {
		return err
	}
	if factor.Cmp(e.params.MinHealthFactor) < 0 {
		return &BreaksHealthFactorError{HealthFactor: factor}
	}

	ok, err := e.ledger.TransferFrom(payer, e.moduleAddress, amount)
	if err != nil || !ok {
		return transferFailure(err)
	}
	if err := e.ledger.Burn(amount); err != nil {
		// Return the pulled units before surfacing the failure so the
		// payer is not left out of pocket.
		if restored, restoreErr := e.ledger.TransferFrom(e.moduleAddress, payer, amount); restoreErr != nil || !restored {
			return fmt.Errorf("synth engine: burn stable units: %w (refund also failed)", err)
		}
		return fmt.Errorf("synth engine: burn stable units: %w", err)
	}
	if err := e.state.PutPosition(updated); err != nil {
		// The debt reduction was never recorded; restore the payer's units.
		if restored, restoreErr := e.ledger.Mint(payer, amount); restoreErr != nil || !restored {
			return fmt.Errorf("synth engine: persist position: %w (stable refund also failed)", err)
		}
		return fmt.Errorf("synth engine: persist position: %w", err)
	}
	e.emitter.Emit(debtBurnedEvent(account, payer, amount))
	return nil
}

// Liquidate lets any third party repay debtToCover of an unhealthy target's
// debt in exchange for the USD-equivalent quantity of the chosen collateral
// asset plus the liquidation bonus. Partial liquidation is explicit: callers
// may repeat with smaller amounts until the target is healthy or fully
// unwound.
func (e *Engine) Liquidate(liquidator, target crypto.Address, asset string, debtToCover *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !validAmount(debtToCover) {
		return ErrInvalidAmount
	}
	symbol := NormalizeSymbol(asset)
	token, ok := e.registry.Token(symbol)
	if !ok {
		return ErrUnsupportedAsset
	}

	targetPos, err := e.loadPosition(target)
	if err != nil {
		return err
	}
	startingHealth, err := e.healthFactor(targetPos)
	if err != nil {
		return err
	}
	if startingHealth.Cmp(e.params.MinHealthFactor) >= 0 {
		return ErrHealthFactorOk
	}
	if targetPos.DebtMinted.Cmp(debtToCover) < 0 {
		return ErrInsufficientDebt
	}

	_, _, totalSeized, err := e.seizureForDebt(symbol, debtToCover)
	if err != nil {
		return err
	}
	if targetPos.CollateralBalance(symbol).Cmp(totalSeized) < 0 {
		return ErrInsufficientCollateral
	}

	updatedTarget := targetPos.Clone()
	balance := updatedTarget.Collateral[symbol]
	updatedTarget.Collateral[symbol] = new(big.Int).Sub(balance, totalSeized)
	updatedTarget.DebtMinted.Sub(updatedTarget.DebtMinted, debtToCover)

	endingHealth, err := e.healthFactor(updatedTarget)
	if err != nil {
		return err
	}
	if endingHealth.Cmp(startingHealth) <= 0 {
		return ErrHealthFactorNotImproved
	}

	// The liquidator's own position must stay solvent. Seized collateral
	// leaves the engine and never backs this check; see DESIGN.md for why
	// the literal check is preserved.
	liquidatorPos, err := e.loadPosition(liquidator)
	if err != nil {
		return err
	}
	liquidatorHealth, err := e.healthFactor(liquidatorPos)
	if err != nil {
		return err
	}
	if liquidatorHealth.Cmp(e.params.MinHealthFactor) < 0 {
		return &BreaksHealthFactorError{HealthFactor: liquidatorHealth}
	}

	// Every check passed; run the external legs, then commit. The price
	// cannot move inside the exclusion window, so checking before the
	// transfers accepts and rejects exactly the same calls as checking
	// after them; a leg that still fails is compensated before the error
	// returns.
	ok, err = e.ledger.TransferFrom(liquidator, e.moduleAddress, debtToCover)
	if err != nil || !ok {
		return transferFailure(err)
	}
	if err := e.ledger.Burn(debtToCover); err != nil {
		if restored, restoreErr := e.ledger.TransferFrom(e.moduleAddress, liquidator, debtToCover); restoreErr != nil || !restored {
			return fmt.Errorf("synth engine: burn covered debt: %w (refund also failed)", err)
		}
		return fmt.Errorf("synth engine: burn covered debt: %w", err)
	}
	ok, err = token.Transfer(liquidator, totalSeized)
	if err != nil || !ok {
		// The covered debt is already burned; restore the liquidator's
		// stable units before surfacing the failure.
		if restored, restoreErr := e.ledger.Mint(liquidator, debtToCover); restoreErr != nil || !restored {
			return fmt.Errorf("%w (stable refund also failed)", transferFailure(err))
		}
		return transferFailure(err)
	}

	if err := e.state.PutPosition(updatedTarget); err != nil {
		restoredStable, stableErr := e.ledger.Mint(liquidator, debtToCover)
		reclaimed, reclaimErr := token.TransferFrom(liquidator, e.moduleAddress, totalSeized)
		if stableErr != nil || !restoredStable || reclaimErr != nil || !reclaimed {
			return fmt.Errorf("synth engine: persist position: %w (liquidation unwind also failed)", err)
		}
		return fmt.Errorf("synth engine: persist position: %w", err)
	}
	e.emitter.Emit(collateralRedeemedEvent(target, liquidator, symbol, totalSeized))
	e.emitter.Emit(debtBurnedEvent(target, liquidator, debtToCover))
	e.emitter.Emit(liquidationEvent(liquidator, target, symbol, debtToCover, totalSeized))
	return nil
}

// DepositAndMint composes a collateral deposit and a debt mint into one
// atomic transition: if the mint leg fails, the pulled collateral is returned
// and nothing is committed.
func (e *Engine) DepositAndMint(account crypto.Address, asset string, collateralAmount, mintAmount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !validAmount(collateralAmount) || !validAmount(mintAmount) {
		return ErrInvalidAmount
	}
	symbol := NormalizeSymbol(asset)
	token, ok := e.registry.Token(symbol)
	if !ok {
		return ErrUnsupportedAsset
	}

	pos, err := e.loadPosition(account)
	if err != nil {
		return err
	}
	updated := pos.Clone()
	balance := updated.CollateralBalance(symbol)
	updated.Collateral[symbol] = balance.Add(balance, collateralAmount)
	updated.DebtMinted.Add(updated.DebtMinted, mintAmount)

	factor, err := e.healthFactor(updated)
	if err != nil {
		return err
	}
	if factor.Cmp(e.params.MinHealthFactor) < 0 {
		return &BreaksHealthFactorError{HealthFactor: factor}
	}

	ok, err = token.TransferFrom(account, e.moduleAddress, collateralAmount)
	if err != nil || !ok {
		return transferFailure(err)
	}
	ok, err = e.ledger.Mint(account, mintAmount)
	if err != nil || !ok {
		if returned, returnErr := token.Transfer(account, collateralAmount); returnErr != nil || !returned {
			return fmt.Errorf("%w (collateral refund also failed)", ErrMintFailed)
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrMintFailed, err)
		}
		return ErrMintFailed
	}
	if err := e.state.PutPosition(updated); err != nil {
		pulled, pullErr := e.ledger.TransferFrom(account, e.moduleAddress, mintAmount)
		if pullErr == nil && pulled {
			if burnErr := e.ledger.Burn(mintAmount); burnErr != nil {
				pulled = false
			}
		}
		returned, returnErr := token.Transfer(account, collateralAmount)
		if pullErr != nil || !pulled || returnErr != nil || !returned {
			return fmt.Errorf("synth engine: persist position: %w (unwind also failed)", err)
		}
		return fmt.Errorf("synth engine: persist position: %w", err)
	}
	e.emitter.Emit(collateralDepositedEvent(account, symbol, collateralAmount))
	e.emitter.Emit(debtMintedEvent(account, mintAmount))
	return nil
}

// RepayAndRedeem composes a debt burn and a collateral redemption into one
// atomic transition validated against the jointly projected position.
func (e *Engine) RepayAndRedeem(account crypto.Address, asset string, burnAmount, redeemAmount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !validAmount(burnAmount) || !validAmount(redeemAmount) {
		return ErrInvalidAmount
	}
	symbol := NormalizeSymbol(asset)
	token, ok := e.registry.Token(symbol)
	if !ok {
		return ErrUnsupportedAsset
	}

	pos, err := e.loadPosition(account)
	if err != nil {
		return err
	}
	if pos.DebtMinted.Cmp(burnAmount) < 0 {
		return ErrInsufficientDebt
	}
	if pos.CollateralBalance(symbol).Cmp(redeemAmount) < 0 {
		return ErrInsufficientCollateral
	}
	updated := pos.Clone()
	updated.DebtMinted.Sub(updated.DebtMinted, burnAmount)
	balance := updated.Collateral[symbol]
	updated.Collateral[symbol] = new(big.Int).Sub(balance, redeemAmount)

	factor, err := e.healthFactor(updated)
	if err != nil {
		return err
	}
	if factor.Cmp(e.params.MinHealthFactor) < 0 {
		return &BreaksHealthFactorError{HealthFactor: factor}
	}

	ok, err = e.ledger.TransferFrom(account, e.moduleAddress, burnAmount)
	if err != nil || !ok {
		return transferFailure(err)
	}
	if err := e.ledger.Burn(burnAmount); err != nil {
		if restored, restoreErr := e.ledger.TransferFrom(e.moduleAddress, account, burnAmount); restoreErr != nil || !restored {
			return fmt.Errorf("synth engine: burn stable units: %w (refund also failed)", err)
		}
		return fmt.Errorf("synth engine: burn stable units: %w", err)
	}
	ok, err = token.Transfer(account, redeemAmount)
	if err != nil || !ok {
		// The repaid debt is already burned; restore the account's stable
		// units before surfacing the failure.
		if restored, restoreErr := e.ledger.Mint(account, burnAmount); restoreErr != nil || !restored {
			return fmt.Errorf("%w (stable refund also failed)", transferFailure(err))
		}
		return transferFailure(err)
	}

	if err := e.state.PutPosition(updated); err != nil {
		restoredStable, stableErr := e.ledger.Mint(account, burnAmount)
		reclaimed, reclaimErr := token.TransferFrom(account, e.moduleAddress, redeemAmount)
		if stableErr != nil || !restoredStable || reclaimErr != nil || !reclaimed {
			return fmt.Errorf("synth engine: persist position: %w (unwind also failed)", err)
		}
		return fmt.Errorf("synth engine: persist position: %w", err)
	}
	e.emitter.Emit(debtBurnedEvent(account, account, burnAmount))
	e.emitter.Emit(collateralRedeemedEvent(account, account, symbol, redeemAmount))
	return nil
}

// HealthFactor reports the account's current solvency ratio.
func (e *Engine) HealthFactor(account crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, err := e.loadPosition(account)
	if err != nil {
		return nil, err
	}
	return e.healthFactor(pos)
}

// AccountCollateralValue reports the summed 18-decimal USD value of the
// account's collateral across all registered assets.
func (e *Engine) AccountCollateralValue(account crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, err := e.loadPosition(account)
	if err != nil {
		return nil, err
	}
	return e.collateralValueUSD(pos)
}

// Position returns a copy of the account's stored position.
func (e *Engine) Position(account crypto.Address) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, err := e.loadPosition(account)
	if err != nil {
		return nil, err
	}
	return pos.Clone(), nil
}

func transferFailure(err error) error {
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return ErrTransferFailed
}
