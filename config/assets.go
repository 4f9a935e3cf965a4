package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so manifests can use values like "15s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		parsed, parseErr := time.ParseDuration(strings.TrimSpace(raw))
		if parseErr != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, parseErr)
		}
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if err := value.Decode(&ns); err != nil {
		return fmt.Errorf("invalid duration node: %w", err)
	}
	*d = Duration(ns)
	return nil
}

// Std returns the wrapped standard-library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Asset describes one collateral listing: its registry symbol and the price
// feed the engine values it against.
type Asset struct {
	Symbol string   `yaml:"symbol"`
	Feed   FeedSpec `yaml:"feed"`
}

// FeedSpec locates a price feed endpoint and its wire precision.
type FeedSpec struct {
	Endpoint         string   `yaml:"endpoint"`
	Decimals         uint8    `yaml:"decimals"`
	RefreshInterval  Duration `yaml:"refreshInterval"`
	StalenessTimeout Duration `yaml:"stalenessTimeout"`
}

type assetsManifest struct {
	Assets []Asset `yaml:"assets"`
}

// LoadAssets parses the collateral manifest. Symbols are normalised to upper
// case and must be unique; every asset needs a feed endpoint.
func LoadAssets(path string) ([]Asset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read assets manifest: %w", err)
	}
	var manifest assetsManifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("config: parse assets manifest: %w", err)
	}
	if len(manifest.Assets) == 0 {
		return nil, fmt.Errorf("config: assets manifest %s lists no assets", path)
	}

	seen := make(map[string]struct{}, len(manifest.Assets))
	assets := make([]Asset, 0, len(manifest.Assets))
	for i, asset := range manifest.Assets {
		symbol := strings.ToUpper(strings.TrimSpace(asset.Symbol))
		if symbol == "" {
			return nil, fmt.Errorf("config: asset %d has a blank symbol", i)
		}
		if _, dup := seen[symbol]; dup {
			return nil, fmt.Errorf("config: duplicate asset symbol %s", symbol)
		}
		seen[symbol] = struct{}{}
		if strings.TrimSpace(asset.Feed.Endpoint) == "" {
			return nil, fmt.Errorf("config: asset %s has no feed endpoint", symbol)
		}
		if asset.Feed.Decimals == 0 {
			asset.Feed.Decimals = 8
		}
		if asset.Feed.Decimals > 18 {
			return nil, fmt.Errorf("config: asset %s feed decimals %d exceed 18", symbol, asset.Feed.Decimals)
		}
		if asset.Feed.RefreshInterval <= 0 {
			asset.Feed.RefreshInterval = Duration(15 * time.Second)
		}
		asset.Symbol = symbol
		assets = append(assets, asset)
	}
	return assets, nil
}
