package synth

import (
	"testing"
	"time"

	"zusd/native/oracle"
)

func testAdapter(t *testing.T) *oracle.Adapter {
	t.Helper()
	feed := oracle.NewManualFeed(8)
	if err := feed.SetDecimal("1", time.Now()); err != nil {
		t.Fatalf("seed feed: %v", err)
	}
	adapter, err := oracle.NewAdapter(feed, 0)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter
}

func TestNewRegistryRejectsMismatchedLengths(t *testing.T) {
	adapter := testAdapter(t)
	token := &mockToken{}

	cases := []struct {
		name     string
		symbols  []string
		adapters []*oracle.Adapter
		tokens   []CollateralToken
	}{
		{"more symbols than adapters", []string{"WETH", "WBTC"}, []*oracle.Adapter{adapter}, []CollateralToken{token, token}},
		{"more adapters than symbols", []string{"WETH"}, []*oracle.Adapter{adapter, adapter}, []CollateralToken{token}},
		{"missing tokens", []string{"WETH"}, []*oracle.Adapter{adapter}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewRegistry(tc.symbols, tc.adapters, tc.tokens); err == nil {
				t.Fatal("expected construction to fail")
			}
		})
	}
}

func TestNewRegistryRejectsBadEntries(t *testing.T) {
	adapter := testAdapter(t)
	token := &mockToken{}

	if _, err := NewRegistry(nil, nil, nil); err == nil {
		t.Fatal("empty registry must be rejected")
	}
	if _, err := NewRegistry([]string{"  "}, []*oracle.Adapter{adapter}, []CollateralToken{token}); err == nil {
		t.Fatal("blank symbol must be rejected")
	}
	if _, err := NewRegistry([]string{"WETH", "weth"}, []*oracle.Adapter{adapter, adapter}, []CollateralToken{token, token}); err == nil {
		t.Fatal("duplicate symbol must be rejected")
	}
	if _, err := NewRegistry([]string{"WETH"}, []*oracle.Adapter{nil}, []CollateralToken{token}); err == nil {
		t.Fatal("nil adapter must be rejected")
	}
	if _, err := NewRegistry([]string{"WETH"}, []*oracle.Adapter{adapter}, []CollateralToken{nil}); err == nil {
		t.Fatal("nil token must be rejected")
	}
}

func TestRegistryLookupsNormalizeSymbols(t *testing.T) {
	adapter := testAdapter(t)
	token := &mockToken{}

	registry, err := NewRegistry([]string{"weth", "WBTC"}, []*oracle.Adapter{adapter, adapter}, []CollateralToken{token, token})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	if got := registry.Symbols(); len(got) != 2 || got[0] != "WETH" || got[1] != "WBTC" {
		t.Fatalf("unexpected symbols: %v", got)
	}
	if !registry.Has(" weth ") {
		t.Fatal("lookups should normalise case and whitespace")
	}
	if _, ok := registry.Adapter("wbtc"); !ok {
		t.Fatal("adapter lookup failed")
	}
	if _, ok := registry.Token("WETH"); !ok {
		t.Fatal("token lookup failed")
	}
	if registry.Has("DOGE") {
		t.Fatal("unregistered symbol must not resolve")
	}

	symbols := registry.Symbols()
	symbols[0] = "MUTATED"
	if registry.Symbols()[0] != "WETH" {
		t.Fatal("Symbols must return a defensive copy")
	}
}
