package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"zusd/core/events"
	"zusd/crypto"
	"zusd/native/oracle"
	"zusd/native/synth"
	"zusd/native/token"
	"zusd/storage"
)

type rpcTestEnv struct {
	server *Server
	http   *httptest.Server
	feed   *oracle.ManualFeed
	clock  time.Time
	module crypto.Address
	user   crypto.Address
	weth   *token.Ledger
	stable *token.Ledger
	events *events.Broadcaster
}

func makeAddress(seed byte) crypto.Address {
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = seed
	}
	return crypto.NewAddress(crypto.ZUSDPrefix, raw)
}

func coins(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func newRPCTestEnv(t *testing.T, cfg ServerConfig) *rpcTestEnv {
	t.Helper()

	db := storage.NewMemDB()
	module := makeAddress(0x01)
	user := makeAddress(0x02)

	weth, err := token.NewLedger("WETH", db)
	require.NoError(t, err)
	weth.SetAuthority(module)
	stable, err := token.NewLedger("ZUSD", db)
	require.NoError(t, err)
	stable.SetAuthority(module)

	env := &rpcTestEnv{
		feed:   oracle.NewManualFeed(8),
		clock:  time.Unix(1_700_000_000, 0),
		module: module,
		user:   user,
		weth:   weth,
		stable: stable,
	}
	require.NoError(t, env.feed.SetDecimal("2000", env.clock))

	adapter, err := oracle.NewAdapter(env.feed, 0)
	require.NoError(t, err)
	adapter.SetClock(func() time.Time { return env.clock })

	registry, err := synth.NewRegistry(
		[]string{"WETH"},
		[]*oracle.Adapter{adapter},
		[]synth.CollateralToken{weth.Account(module)},
	)
	require.NoError(t, err)

	engine, err := synth.NewEngine(module, registry, stable.Account(module), synth.DefaultParams())
	require.NoError(t, err)
	store, err := synth.NewPositionStore(db)
	require.NoError(t, err)
	engine.SetState(store)
	env.events = events.NewBroadcaster(0)
	engine.SetEmitter(env.events)

	server, err := NewServer(engine, env.events, cfg, nil)
	require.NoError(t, err)
	env.server = server
	env.http = httptest.NewServer(server.Router())
	t.Cleanup(env.http.Close)

	// Seed the user with collateral so transfers into the module succeed.
	_, err = weth.Mint(module, user, coins(100))
	require.NoError(t, err)
	return env
}

func (env *rpcTestEnv) call(t *testing.T, bearer, method string, params ...interface{}) RPCResponse {
	t.Helper()
	rawParams := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		data, err := json.Marshal(p)
		require.NoError(t, err)
		rawParams = append(rawParams, data)
	}
	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": jsonRPCVersion,
		"id":      1,
		"method":  method,
		"params":  rawParams,
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, env.http.URL+"/rpc", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := env.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded RPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return decoded
}

func TestRPCDepositMintQueryFlow(t *testing.T) {
	env := newRPCTestEnv(t, ServerConfig{})
	account := env.user.String()

	resp := env.call(t, "", "synth_depositCollateral", map[string]string{
		"account": account,
		"asset":   "WETH",
		"amount":  coins(10).String(),
	})
	require.Nil(t, resp.Error)

	resp = env.call(t, "", "synth_mintDebt", map[string]string{
		"account": account,
		"amount":  coins(100).String(),
	})
	require.Nil(t, resp.Error)

	resp = env.call(t, "", "synth_getPosition", map[string]string{"account": account})
	require.Nil(t, resp.Error)
	var pos PositionResult
	remarshal(t, resp.Result, &pos)
	require.Equal(t, account, pos.Address)
	require.Equal(t, coins(10).String(), pos.Collateral["WETH"])
	require.Equal(t, coins(100).String(), pos.DebtMinted)

	resp = env.call(t, "", "synth_healthFactor", map[string]string{"account": account})
	require.Nil(t, resp.Error)
	var hf HealthFactorResult
	remarshal(t, resp.Result, &hf)
	// 10 WETH at $2000 with a 50% threshold backing 100 debt: factor 100.
	require.Equal(t, coins(100).String(), hf.HealthFactor)
	require.False(t, hf.Saturated)

	resp = env.call(t, "", "synth_collateralValue", map[string]string{"account": account})
	require.Nil(t, resp.Error)
	var value CollateralValueResult
	remarshal(t, resp.Result, &value)
	require.Equal(t, coins(20000).String(), value.ValueUSD)

	balance, err := env.stable.BalanceOf(env.user)
	require.NoError(t, err)
	require.Equal(t, coins(100), balance)
}

func TestRPCHealthFactorAcceptsBareAddress(t *testing.T) {
	env := newRPCTestEnv(t, ServerConfig{})
	resp := env.call(t, "", "synth_healthFactor", env.user.String())
	require.Nil(t, resp.Error)
	var hf HealthFactorResult
	remarshal(t, resp.Result, &hf)
	require.True(t, hf.Saturated)
}

func TestRPCParamsExposesEngineConstants(t *testing.T) {
	env := newRPCTestEnv(t, ServerConfig{})
	resp := env.call(t, "", "synth_params")
	require.Nil(t, resp.Error)
	var params ParamsResult
	remarshal(t, resp.Result, &params)
	require.Equal(t, uint64(50), params.LiquidationThresholdPct)
	require.Equal(t, uint64(10), params.LiquidationBonusPct)
	require.Equal(t, coins(1).String(), params.MinHealthFactor)
	require.Equal(t, []string{"WETH"}, params.CollateralAssets)
}

func TestRPCRejectsUnknownMethod(t *testing.T) {
	env := newRPCTestEnv(t, ServerConfig{})
	resp := env.call(t, "", "synth_doesNotExist")
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestRPCRejectsInvalidAddress(t *testing.T) {
	env := newRPCTestEnv(t, ServerConfig{})
	resp := env.call(t, "", "synth_depositCollateral", map[string]string{
		"account": "not-an-address",
		"asset":   "WETH",
		"amount":  "1",
	})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestRPCMapsHealthFactorBreach(t *testing.T) {
	env := newRPCTestEnv(t, ServerConfig{})
	account := env.user.String()

	resp := env.call(t, "", "synth_depositCollateral", map[string]string{
		"account": account,
		"asset":   "WETH",
		"amount":  coins(10).String(),
	})
	require.Nil(t, resp.Error)

	// 10 WETH at $2000 supports at most 10000 debt at the 50% threshold.
	resp = env.call(t, "", "synth_mintDebt", map[string]string{
		"account": account,
		"amount":  coins(10001).String(),
	})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeHealthFactor, resp.Error.Code)
	require.NotEmpty(t, resp.Error.Data)
}

func TestRPCMapsStalePrice(t *testing.T) {
	env := newRPCTestEnv(t, ServerConfig{})
	account := env.user.String()

	resp := env.call(t, "", "synth_depositCollateral", map[string]string{
		"account": account,
		"asset":   "WETH",
		"amount":  coins(10).String(),
	})
	require.Nil(t, resp.Error)

	env.clock = env.clock.Add(oracle.DefaultStalenessTimeout + time.Minute)

	resp = env.call(t, "", "synth_mintDebt", map[string]string{
		"account": account,
		"amount":  coins(1).String(),
	})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeStalePrice, resp.Error.Code)
}

func TestRPCAuthRequiredForMutations(t *testing.T) {
	secret := "rpc-test-secret"
	env := newRPCTestEnv(t, ServerConfig{
		Auth: AuthConfig{Enabled: true, HMACSecret: secret, Issuer: "zusdd"},
	})
	account := env.user.String()
	params := map[string]string{
		"account": account,
		"asset":   "WETH",
		"amount":  coins(1).String(),
	}

	resp := env.call(t, "", "synth_depositCollateral", params)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	// Reads stay open.
	resp = env.call(t, "", "synth_healthFactor", account)
	require.Nil(t, resp.Error)

	resp = env.call(t, signToken(t, secret, "zusdd"), "synth_depositCollateral", params)
	require.Nil(t, resp.Error)

	resp = env.call(t, signToken(t, "wrong-secret", "zusdd"), "synth_depositCollateral", params)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	resp = env.call(t, signToken(t, secret, "someone-else"), "synth_depositCollateral", params)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)
}

func TestRPCRateLimitsClients(t *testing.T) {
	env := newRPCTestEnv(t, ServerConfig{
		RateLimit: RateLimitConfig{Enabled: true, RequestsPerMinute: 60, Burst: 2},
	})
	account := env.user.String()

	for i := 0; i < 2; i++ {
		resp := env.call(t, "", "synth_healthFactor", account)
		require.Nil(t, resp.Error, "request %d should pass", i)
	}
	resp := env.call(t, "", "synth_healthFactor", account)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeRateLimited, resp.Error.Code)
}

func TestRPCEmitsEventsOnMutations(t *testing.T) {
	env := newRPCTestEnv(t, ServerConfig{})
	account := env.user.String()

	updates, backlog, cancel := env.events.Subscribe(0, 8)
	defer cancel()
	require.Empty(t, backlog)

	resp := env.call(t, "", "synth_depositCollateral", map[string]string{
		"account": account,
		"asset":   "WETH",
		"amount":  coins(5).String(),
	})
	require.Nil(t, resp.Error)

	select {
	case envelope := <-updates:
		require.Equal(t, synth.EventTypeCollateralDeposited, envelope.Event.Type)
		require.Equal(t, account, envelope.Event.Attributes["account"])
		require.NotEmpty(t, envelope.Digest)
	case <-time.After(time.Second):
		t.Fatal("expected a deposit event")
	}
}

func TestRPCRejectsOversizedBody(t *testing.T) {
	env := newRPCTestEnv(t, ServerConfig{})
	body := bytes.Repeat([]byte("a"), maxRequestBytes+1)
	resp, err := env.http.Client().Post(env.http.URL+"/rpc", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestRPCHealthz(t *testing.T) {
	env := newRPCTestEnv(t, ServerConfig{})
	resp, err := env.http.Client().Get(env.http.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func signToken(t *testing.T, secret, issuer string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss": issuer,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func remarshal(t *testing.T, value interface{}, out interface{}) {
	t.Helper()
	data, err := json.Marshal(value)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, out))
}
