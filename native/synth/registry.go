package synth

import (
	"errors"
	"fmt"

	"zusd/native/oracle"
)

var (
	errRegistryLengthMismatch = errors.New("synth registry: symbol, adapter and token lists must have matching lengths")
	errRegistryEmpty          = errors.New("synth registry: at least one collateral asset required")
)

type registryEntry struct {
	adapter *oracle.Adapter
	token   CollateralToken
}

// Registry is the static mapping from collateral asset to its price oracle
// adapter and token transfer handle. It is built once at construction and
// shared read-only afterward; there is no runtime add or remove.
type Registry struct {
	symbols []string
	entries map[string]registryEntry
}

// NewRegistry constructs the registry from three ordered, equal-length lists.
// Mismatched lengths, blank symbols, duplicate symbols and nil entries all
// reject construction.
func NewRegistry(symbols []string, adapters []*oracle.Adapter, tokens []CollateralToken) (*Registry, error) {
	if len(symbols) != len(adapters) || len(symbols) != len(tokens) {
		return nil, errRegistryLengthMismatch
	}
	if len(symbols) == 0 {
		return nil, errRegistryEmpty
	}
	registry := &Registry{
		symbols: make([]string, 0, len(symbols)),
		entries: make(map[string]registryEntry, len(symbols)),
	}
	for i, raw := range symbols {
		symbol := NormalizeSymbol(raw)
		if symbol == "" {
			return nil, fmt.Errorf("synth registry: blank symbol at index %d", i)
		}
		if _, exists := registry.entries[symbol]; exists {
			return nil, fmt.Errorf("synth registry: duplicate symbol %s", symbol)
		}
		if adapters[i] == nil {
			return nil, fmt.Errorf("synth registry: nil oracle adapter for %s", symbol)
		}
		if tokens[i] == nil {
			return nil, fmt.Errorf("synth registry: nil token handle for %s", symbol)
		}
		registry.symbols = append(registry.symbols, symbol)
		registry.entries[symbol] = registryEntry{adapter: adapters[i], token: tokens[i]}
	}
	return registry, nil
}

// Symbols returns the registered asset symbols in registration order. The
// slice is a copy; callers may not mutate registry internals.
func (r *Registry) Symbols() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.symbols...)
}

// Adapter returns the oracle adapter for the supplied symbol.
func (r *Registry) Adapter(symbol string) (*oracle.Adapter, bool) {
	if r == nil {
		return nil, false
	}
	entry, ok := r.entries[NormalizeSymbol(symbol)]
	return entry.adapter, ok
}

// Token returns the transfer handle for the supplied symbol.
func (r *Registry) Token(symbol string) (CollateralToken, bool) {
	if r == nil {
		return nil, false
	}
	entry, ok := r.entries[NormalizeSymbol(symbol)]
	return entry.token, ok
}

// Has reports whether the symbol is registered.
func (r *Registry) Has(symbol string) bool {
	if r == nil {
		return false
	}
	_, ok := r.entries[NormalizeSymbol(symbol)]
	return ok
}
