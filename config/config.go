package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"zusd/crypto"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration persisted as TOML. Missing files are
// created with working defaults, including a fresh treasury keystore.
type Config struct {
	RPCAddress           string    `toml:"RPCAddress"`
	MetricsAddress       string    `toml:"MetricsAddress"`
	DataDir              string    `toml:"DataDir"`
	AssetsFile           string    `toml:"AssetsFile"`
	TreasuryKeystorePath string    `toml:"TreasuryKeystorePath"`
	LogEnvironment       string    `toml:"LogEnvironment"`
	EventBacklog         int       `toml:"EventBacklog"`
	LogRotation          Rotation  `toml:"LogRotation"`
	Telemetry            Telemetry `toml:"Telemetry"`
	RPCAuth              Auth      `toml:"RPCAuth"`
	RateLimit            RateLimit `toml:"RateLimit"`
}

// Rotation configures on-disk log rotation. An empty path logs to stdout only.
type Rotation struct {
	Path       string `toml:"Path"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
}

// Auth configures bearer-token verification for state-changing RPC methods.
// The secret may also be supplied via the ZUSD_RPC_JWT_SECRET environment
// variable, which takes precedence over the file value.
type Auth struct {
	Enabled    bool   `toml:"Enabled"`
	HMACSecret string `toml:"HMACSecret"`
	Issuer     string `toml:"Issuer"`
	Audience   string `toml:"Audience"`
}

// RateLimit bounds per-client request rates on the RPC surface.
type RateLimit struct {
	Enabled           bool    `toml:"Enabled"`
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

const jwtSecretEnv = "ZUSD_RPC_JWT_SECRET"

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	if secret := strings.TrimSpace(os.Getenv(jwtSecretEnv)); secret != "" {
		cfg.RPCAuth.HMACSecret = secret
	}
	if cfg.RPCAuth.Enabled && strings.TrimSpace(cfg.RPCAuth.HMACSecret) == "" {
		return nil, fmt.Errorf("config: RPC auth enabled without a secret; set RPCAuth.HMACSecret or %s", jwtSecretEnv)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8080"
	}
	if strings.TrimSpace(cfg.MetricsAddress) == "" {
		cfg.MetricsAddress = ":9090"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./zusd-data"
	}
	if strings.TrimSpace(cfg.AssetsFile) == "" {
		cfg.AssetsFile = "./assets.yaml"
	}
	if strings.TrimSpace(cfg.LogEnvironment) == "" {
		cfg.LogEnvironment = "local"
	}
	if cfg.EventBacklog <= 0 {
		cfg.EventBacklog = 512
	}
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.RequestsPerMinute <= 0 {
			cfg.RateLimit.RequestsPerMinute = 600
		}
		if cfg.RateLimit.Burst <= 0 {
			cfg.RateLimit.Burst = 20
		}
	}
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.TreasuryKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.TreasuryKeystorePath != keystorePath {
		cfg.TreasuryKeystorePath = keystorePath
		return persist(configPath, cfg)
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCAddress:           ":8080",
		MetricsAddress:       ":9090",
		DataDir:              "./zusd-data",
		AssetsFile:           "./assets.yaml",
		TreasuryKeystorePath: keystorePath,
		LogEnvironment:       "local",
		EventBacklog:         512,
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// TreasuryAddress decrypts the treasury keystore and derives the engine's
// module address from it.
func (c *Config) TreasuryAddress(passphrase string) (crypto.Address, error) {
	key, err := crypto.LoadFromKeystore(c.TreasuryKeystorePath, passphrase)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("config: load treasury keystore: %w", err)
	}
	return key.PubKey().Address(), nil
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	return filepath.Join(dir, "treasury.keystore.json")
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
