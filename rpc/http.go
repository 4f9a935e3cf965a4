package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"zusd/core/events"
	"zusd/native/synth"
	"zusd/observability"
)

// Server exposes the engine over JSON-RPC 2.0. State-changing methods require
// a bearer token when authentication is enabled; every method is subject to
// per-client rate limiting.
type Server struct {
	engine  *synth.Engine
	events  *events.Broadcaster
	auth    *authenticator
	limiter *rateLimiter
	metrics *observability.EngineMetrics
	logger  *slog.Logger
}

// ServerConfig bundles the transport-level knobs for NewServer.
type ServerConfig struct {
	Auth      AuthConfig
	RateLimit RateLimitConfig
}

func NewServer(engine *synth.Engine, broadcaster *events.Broadcaster, cfg ServerConfig, logger *slog.Logger) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("rpc: engine required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:  engine,
		events:  broadcaster,
		auth:    newAuthenticator(cfg.Auth),
		limiter: newRateLimiter(cfg.RateLimit),
		metrics: observability.Engine(),
		logger:  logger,
	}, nil
}

// Router assembles the HTTP surface: JSON-RPC on /rpc, websocket event
// streaming on /ws/events, and a liveness probe on /healthz.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Method(http.MethodPost, "/rpc", otelhttp.NewHandler(http.HandlerFunc(s.handle), "zusd.rpc"))
	r.Get("/ws/events", s.handleEventsWS)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return r
}

// handle routes a JSON-RPC request to the method handler.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	if !s.limiter.allow(clientSource(r)) {
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "request rate limit exceeded", nil)
		return
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	started := time.Now()
	outcome := s.dispatch(w, r, req)
	if s.metrics != nil {
		s.metrics.ObserveOperation(req.Method, outcome, time.Since(started))
	}
}

// dispatch returns the outcome label recorded against the operation metrics.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	switch req.Method {
	case "synth_depositCollateral":
		if authErr := s.auth.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return "unauthorized"
		}
		return s.handleDepositCollateral(w, req)
	case "synth_mintDebt":
		if authErr := s.auth.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return "unauthorized"
		}
		return s.handleMintDebt(w, req)
	case "synth_burnDebt":
		if authErr := s.auth.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return "unauthorized"
		}
		return s.handleBurnDebt(w, req)
	case "synth_redeemCollateral":
		if authErr := s.auth.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return "unauthorized"
		}
		return s.handleRedeemCollateral(w, req)
	case "synth_depositAndMint":
		if authErr := s.auth.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return "unauthorized"
		}
		return s.handleDepositAndMint(w, req)
	case "synth_repayAndRedeem":
		if authErr := s.auth.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return "unauthorized"
		}
		return s.handleRepayAndRedeem(w, req)
	case "synth_liquidate":
		if authErr := s.auth.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return "unauthorized"
		}
		return s.handleLiquidate(w, req)
	case "synth_getPosition":
		return s.handleGetPosition(w, req)
	case "synth_healthFactor":
		return s.handleHealthFactor(w, req)
	case "synth_collateralValue":
		return s.handleCollateralValue(w, req)
	case "synth_params":
		return s.handleParams(w, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
		return "unknown_method"
	}
}
