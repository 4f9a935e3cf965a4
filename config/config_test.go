package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadCreatesDefaultConfigAndKeystore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.RPCAddress)
	require.Equal(t, ":9090", cfg.MetricsAddress)
	require.Equal(t, 512, cfg.EventBacklog)
	require.FileExists(t, path)
	require.FileExists(t, cfg.TreasuryKeystorePath)

	addr, err := cfg.TreasuryAddress("")
	require.NoError(t, err)
	require.False(t, addr.IsZero())

	// A second load reuses the persisted keystore.
	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.TreasuryKeystorePath, again.TreasuryKeystorePath)
	againAddr, err := again.TreasuryAddress("")
	require.NoError(t, err)
	require.True(t, addr.Equal(againAddr))
}

func TestLoadAppliesDefaultsToSparseFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.toml", "RPCAddress = \":7000\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.RPCAddress)
	require.Equal(t, "./zusd-data", cfg.DataDir)
	require.Equal(t, "local", cfg.LogEnvironment)
}

func TestLoadRejectsAuthWithoutSecret(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.toml", "[RPCAuth]\nEnabled = true\n")

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "RPC auth enabled without a secret")
}

func TestLoadReadsSecretFromEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.toml", "[RPCAuth]\nEnabled = true\n")
	t.Setenv(jwtSecretEnv, "env-secret")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "env-secret", cfg.RPCAuth.HMACSecret)
}

func TestLoadAssetsParsesManifest(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "assets.yaml", `assets:
  - symbol: weth
    feed:
      endpoint: http://feeds.local/eth-usd
      decimals: 8
      refreshInterval: 30s
      stalenessTimeout: 3h
  - symbol: WBTC
    feed:
      endpoint: http://feeds.local/btc-usd
`)

	assets, err := LoadAssets(path)
	require.NoError(t, err)
	require.Len(t, assets, 2)

	require.Equal(t, "WETH", assets[0].Symbol)
	require.Equal(t, 30*time.Second, assets[0].Feed.RefreshInterval.Std())
	require.Equal(t, 3*time.Hour, assets[0].Feed.StalenessTimeout.Std())

	require.Equal(t, "WBTC", assets[1].Symbol)
	require.Equal(t, uint8(8), assets[1].Feed.Decimals)
	require.Equal(t, 15*time.Second, assets[1].Feed.RefreshInterval.Std())
	require.Equal(t, time.Duration(0), assets[1].Feed.StalenessTimeout.Std())
}

func TestLoadAssetsRejectsBadManifests(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "empty",
			content: "assets: []\n",
			wantErr: "lists no assets",
		},
		{
			name: "duplicate symbols",
			content: `assets:
  - symbol: WETH
    feed: {endpoint: http://a}
  - symbol: weth
    feed: {endpoint: http://b}
`,
			wantErr: "duplicate asset symbol",
		},
		{
			name: "missing endpoint",
			content: `assets:
  - symbol: WETH
    feed: {decimals: 8}
`,
			wantErr: "no feed endpoint",
		},
		{
			name: "excessive decimals",
			content: `assets:
  - symbol: WETH
    feed: {endpoint: http://a, decimals: 19}
`,
			wantErr: "exceed 18",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, dir, tc.name+".yaml", tc.content)
			_, err := LoadAssets(path)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
