package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"zusd/crypto"
	"zusd/native/oracle"
	"zusd/native/synth"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeRateLimited    = -32020
	codeHealthFactor   = -32030
	codeStalePrice     = -32031
	codeNotLiquidable  = -32032
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeEngineError translates the engine and oracle error taxonomy into
// JSON-RPC error objects so clients can branch on stable codes.
func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	var breaks *synth.BreaksHealthFactorError
	switch {
	case errors.As(err, &breaks):
		writeError(w, http.StatusConflict, id, codeHealthFactor, "operation would break health factor", breaks.HealthFactor.String())
	case errors.Is(err, synth.ErrHealthFactorOk):
		writeError(w, http.StatusConflict, id, codeNotLiquidable, "target position is not liquidable", nil)
	case errors.Is(err, synth.ErrHealthFactorNotImproved):
		writeError(w, http.StatusConflict, id, codeNotLiquidable, "liquidation would not improve target health", nil)
	case errors.Is(err, oracle.ErrStalePrice):
		writeError(w, http.StatusServiceUnavailable, id, codeStalePrice, "price feed is stale", err.Error())
	case errors.Is(err, oracle.ErrInvalidPrice):
		writeError(w, http.StatusServiceUnavailable, id, codeStalePrice, "price feed reported an invalid price", err.Error())
	case errors.Is(err, synth.ErrInvalidAmount),
		errors.Is(err, synth.ErrUnsupportedAsset),
		errors.Is(err, synth.ErrInsufficientCollateral),
		errors.Is(err, synth.ErrInsufficientDebt):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error(), nil)
	}
}

func parseAddressField(raw json.RawMessage, field string) (crypto.Address, error) {
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return crypto.Address{}, fmt.Errorf("parameter object required: %w", err)
	}
	value, ok := wrapper[field]
	if !ok {
		return crypto.Address{}, fmt.Errorf("%s required", field)
	}
	var encoded string
	if err := json.Unmarshal(value, &encoded); err != nil {
		return crypto.Address{}, fmt.Errorf("%s must be a string", field)
	}
	addr, err := crypto.DecodeAddress(strings.TrimSpace(encoded))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid %s: %w", field, err)
	}
	return addr, nil
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("amount must be a base-10 integer")
	}
	return amount, nil
}

// PositionResult is the wire form of a stored position. Amounts are decimal
// strings in 18-decimal base units.
type PositionResult struct {
	Address    string            `json:"address"`
	Collateral map[string]string `json:"collateral"`
	DebtMinted string            `json:"debtMinted"`
}

func positionResult(pos *synth.Position) PositionResult {
	collateral := make(map[string]string, len(pos.Collateral))
	for symbol, amount := range pos.Collateral {
		collateral[symbol] = amount.String()
	}
	return PositionResult{
		Address:    pos.Address.String(),
		Collateral: collateral,
		DebtMinted: pos.DebtMinted.String(),
	}
}

// HealthFactorResult reports an account's health factor. Saturated marks the
// debt-free case where the factor clamps to its maximum value.
type HealthFactorResult struct {
	Address      string `json:"address"`
	HealthFactor string `json:"healthFactor"`
	Saturated    bool   `json:"saturated"`
}

// CollateralValueResult reports the USD value of an account's collateral in
// 18-decimal base units.
type CollateralValueResult struct {
	Address  string `json:"address"`
	ValueUSD string `json:"valueUsd"`
}

// ParamsResult exposes the engine's solvency constants.
type ParamsResult struct {
	LiquidationThresholdPct uint64   `json:"liquidationThresholdPct"`
	LiquidationBonusPct     uint64   `json:"liquidationBonusPct"`
	MinHealthFactor         string   `json:"minHealthFactor"`
	CollateralAssets        []string `json:"collateralAssets"`
}
