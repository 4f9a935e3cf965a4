package rpc

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"zusd/crypto"
	"zusd/native/oracle"
)

type depositCollateralParams struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

type mintDebtParams struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type burnDebtParams struct {
	Account string `json:"account"`
	Payer   string `json:"payer,omitempty"`
	Amount  string `json:"amount"`
}

type redeemCollateralParams struct {
	Account string `json:"account"`
	To      string `json:"to,omitempty"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

type depositAndMintParams struct {
	Account          string `json:"account"`
	Asset            string `json:"asset"`
	CollateralAmount string `json:"collateralAmount"`
	MintAmount       string `json:"mintAmount"`
}

type repayAndRedeemParams struct {
	Account      string `json:"account"`
	Asset        string `json:"asset"`
	BurnAmount   string `json:"burnAmount"`
	RedeemAmount string `json:"redeemAmount"`
}

type liquidateParams struct {
	Liquidator  string `json:"liquidator"`
	Target      string `json:"target"`
	Asset       string `json:"asset"`
	DebtToCover string `json:"debtToCover"`
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return errors.New("parameter object required")
	}
	return json.Unmarshal(req.Params[0], out)
}

func decodeAccount(encoded, field string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(encoded))
	if err != nil {
		return crypto.Address{}, errors.New("invalid " + field)
	}
	return addr, nil
}

func (s *Server) handleDepositCollateral(w http.ResponseWriter, req *RPCRequest) string {
	var params depositCollateralParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "invalid_params"
	}
	account, err := decodeAccount(params.Account, "account")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "invalid_params"
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "invalid_params"
	}
	if err := s.engine.DepositCollateral(account, params.Asset, amount); err != nil {
		s.reportFailure(req.Method, err)
		writeEngineError(w, req.ID, err)
		return "error"
	}
	writeResult(w, req.ID, positionView(s, w, req, account))
	return "ok"
}

func (s *Server) handleMintDebt(w http.ResponseWriter, req *RPCRequest) string {
	var params mintDebtParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "invalid_params"
	}
	account, err := decodeAccount(params.Account, "account")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "invalid_params"
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "invalid_params"
	}
	if err := s.engine.MintDebt(account, amount); err != nil {
		s.reportFailure(req.Method, err)
		writeEngineError(w, req.ID, err)
		return "error"
	}
	writeResult(w, req.ID, positionView(s, w, req, account))
	return "ok"
}

func (s *Server) handleBurnDebt(w http.ResponseWriter, req *RPCRequest) string {
	var params burnDebtParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "invalid_params"
	}
	account, err := decodeAccount(params.Account, "account")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "invalid_params"
	}
	payer := account
	if strings.TrimSpace(params.Payer) != "" {
		payer, err = decodeAccount(params.Payer, "payer")
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return "invalid_params"
		}
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "invalid_params"
	}
	if err := s.engine.BurnDebt(account, payer, amount); err != nil {
		s.reportFailure(req.Method, err)
		writeEngineError(w, req.ID, err)
		return "error"
	}
	writeResult(w, req.ID, positionView(s, w, req, account))
	return "ok"
}

func (s *Server) handleRedeemCollateral(w http.ResponseWriter, req *RPCRequest) string {
	var params redeemCollateralParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "invalid_params"
	}
	account, err := decodeAccount(params.Account, "account")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "invalid_params"
	}
	recipient := account
	if strings.TrimSpace(params.To) != "" {
		recipient, err = decodeAccount(params.To, "to")
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return "invalid_params"
		}
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "invalid_params"
	}
	if err := s.engine.RedeemCollateral(account, recipient, params.Asset, amount); err != nil {
		s.reportFailure(req.Method, err)
		writeEngineError(w, req.ID, err)
		return "error"
	}
	writeResult(w, req.ID, positionView(s, w, req, account))
	return "ok"
}

func (s *Server) handleDepositAndMint(w http.ResponseWriter, req *RPCRequest) string {
	var params depositAndMintParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "invalid_params"
	}
	account, err := decodeAccount(params.Account, "account")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "invalid_params"
	}
	collateralAmount, err := parseAmount(params.CollateralAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "collateralAmount: "+err.Error(), nil)
		return "invalid_params"
	}
	mintAmount, err := parseAmount(params.MintAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "mintAmount: "+err.Error(), nil)
		return "invalid_params"
	}
	if err := s.engine.DepositAndMint(account, params.Asset, collateralAmount, mintAmount); err != nil {
		s.reportFailure(req.Method, err)
		writeEngineError(w, req.ID, err)
		return "error"
	}
	writeResult(w, req.ID, positionView(s, w, req, account))
	return "ok"
}

func (s *Server) handleRepayAndRedeem(w http.ResponseWriter, req *RPCRequest) string {
	var params repayAndRedeemParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "invalid_params"
	}
	account, err := decodeAccount(params.Account, "account")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "invalid_params"
	}
	burnAmount, err := parseAmount(params.BurnAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "burnAmount: "+err.Error(), nil)
		return "invalid_params"
	}
	redeemAmount, err := parseAmount(params.RedeemAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "redeemAmount: "+err.Error(), nil)
		return "invalid_params"
	}
	if err := s.engine.RepayAndRedeem(account, params.Asset, burnAmount, redeemAmount); err != nil {
		s.reportFailure(req.Method, err)
		writeEngineError(w, req.ID, err)
		return "error"
	}
	writeResult(w, req.ID, positionView(s, w, req, account))
	return "ok"
}

func (s *Server) handleLiquidate(w http.ResponseWriter, req *RPCRequest) string {
	var params liquidateParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "invalid_params"
	}
	liquidator, err := decodeAccount(params.Liquidator, "liquidator")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "invalid_params"
	}
	target, err := decodeAccount(params.Target, "target")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "invalid_params"
	}
	debtToCover, err := parseAmount(params.DebtToCover)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "debtToCover: "+err.Error(), nil)
		return "invalid_params"
	}
	if err := s.engine.Liquidate(liquidator, target, params.Asset, debtToCover); err != nil {
		s.reportFailure(req.Method, err)
		writeEngineError(w, req.ID, err)
		return "error"
	}
	if s.metrics != nil {
		s.metrics.RecordLiquidation()
	}
	writeResult(w, req.ID, positionView(s, w, req, target))
	return "ok"
}

func (s *Server) handleGetPosition(w http.ResponseWriter, req *RPCRequest) string {
	account, err := accountParam(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "invalid_params"
	}
	pos, err := s.engine.Position(account)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return "error"
	}
	writeResult(w, req.ID, positionResult(pos))
	return "ok"
}

func (s *Server) handleHealthFactor(w http.ResponseWriter, req *RPCRequest) string {
	account, err := accountParam(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "invalid_params"
	}
	factor, err := s.engine.HealthFactor(account)
	if err != nil {
		s.reportFailure(req.Method, err)
		writeEngineError(w, req.ID, err)
		return "error"
	}
	saturated := factor.BitLen() >= 256
	if s.metrics != nil {
		s.metrics.RecordHealthFactor(account.String(), factor, saturated)
	}
	writeResult(w, req.ID, HealthFactorResult{
		Address:      account.String(),
		HealthFactor: factor.String(),
		Saturated:    saturated,
	})
	return "ok"
}

func (s *Server) handleCollateralValue(w http.ResponseWriter, req *RPCRequest) string {
	account, err := accountParam(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return "invalid_params"
	}
	value, err := s.engine.AccountCollateralValue(account)
	if err != nil {
		s.reportFailure(req.Method, err)
		writeEngineError(w, req.ID, err)
		return "error"
	}
	writeResult(w, req.ID, CollateralValueResult{Address: account.String(), ValueUSD: value.String()})
	return "ok"
}

func (s *Server) handleParams(w http.ResponseWriter, req *RPCRequest) string {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return "invalid_params"
	}
	params := s.engine.Params()
	writeResult(w, req.ID, ParamsResult{
		LiquidationThresholdPct: params.LiquidationThresholdPct,
		LiquidationBonusPct:     params.LiquidationBonusPct,
		MinHealthFactor:         params.MinHealthFactor.String(),
		CollateralAssets:        s.engine.Registry().Symbols(),
	})
	return "ok"
}

// positionView renders the post-operation position for mutation responses.
// Lookup failures after a committed operation degrade to a nil result rather
// than masking the success.
func positionView(s *Server, _ http.ResponseWriter, _ *RPCRequest, account crypto.Address) interface{} {
	pos, err := s.engine.Position(account)
	if err != nil {
		return nil
	}
	return positionResult(pos)
}

func (s *Server) reportFailure(method string, err error) {
	if s.metrics != nil {
		if errors.Is(err, oracle.ErrStalePrice) {
			s.metrics.RecordOracleFailure("stale")
		} else if errors.Is(err, oracle.ErrInvalidPrice) {
			s.metrics.RecordOracleFailure("invalid_price")
		}
	}
	s.logger.Warn("rpc operation failed", "method", method, "error", err)
}

// accountParam extracts and decodes the account field of a single-object
// parameter list. Plain bech32 string parameters are accepted as well.
func accountParam(req *RPCRequest) (crypto.Address, error) {
	if len(req.Params) != 1 {
		return crypto.Address{}, errors.New("account parameter required")
	}
	var direct string
	if err := json.Unmarshal(req.Params[0], &direct); err == nil {
		return decodeAccount(direct, "account")
	}
	return parseAddressField(req.Params[0], "account")
}
