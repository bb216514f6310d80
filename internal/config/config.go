// Package config loads the device agent configuration: yaml file first, then
// environment overrides. Absent values keep their defaults so a bare binary
// still starts against a local stack.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// GatewayURL is the bank backend base URL.
	GatewayURL string
	// OracleURL is the loopback integrity helper.
	OracleURL string
	// Origin is the web origin bound into authenticator client data.
	Origin string
	// DataDir holds the encrypted identity store.
	DataDir string
	// StoreSecret derives the store's envelope key. Environment only,
	// never read from the yaml file.
	StoreSecret string
	// TokenTTL caps a bearer token when the backend states no expiry.
	TokenTTL time.Duration
	// MetricsAddr, when set, exposes the prometheus endpoint.
	MetricsAddr string
	// AttemptRPS and AttemptBurst throttle ceremony attempts per customer.
	// Zero disables throttling.
	AttemptRPS   float64
	AttemptBurst int
}

type fileConfig struct {
	Agent agentSection `yaml:"agent"`
}

type agentSection struct {
	GatewayURL   string        `yaml:"gatewayUrl"`
	OracleURL    string        `yaml:"oracleUrl"`
	Origin       string        `yaml:"origin"`
	DataDir      string        `yaml:"dataDir"`
	TokenTTL     time.Duration `yaml:"tokenTtl"`
	MetricsAddr  string        `yaml:"metricsAddr"`
	AttemptRPS   *float64      `yaml:"attemptRps"`
	AttemptBurst *int          `yaml:"attemptBurst"`
}

func Default() Config {
	return Config{
		GatewayURL:   "https://localhost:8443",
		OracleURL:    "http://127.0.0.1:9151",
		Origin:       "https://localhost:8443",
		DataDir:      defaultDataDir(),
		TokenTTL:     10 * time.Minute,
		AttemptRPS:   0.2,
		AttemptBurst: 5,
	}
}

// LoadFromPath reads the first readable candidate file, merges it over the
// defaults and applies environment overrides last.
func LoadFromPath(configPath string) Config {
	cfg := Default()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates, "configs/agent.yaml")
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var parsed fileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}
		Merge(&cfg, parsed.Agent)
		break
	}

	ApplyEnvOverrides(&cfg)
	return cfg
}

func Merge(dst *Config, src agentSection) {
	if src.GatewayURL != "" {
		dst.GatewayURL = src.GatewayURL
	}
	if src.OracleURL != "" {
		dst.OracleURL = src.OracleURL
	}
	if src.Origin != "" {
		dst.Origin = src.Origin
	}
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if src.TokenTTL != 0 {
		dst.TokenTTL = src.TokenTTL
	}
	if src.MetricsAddr != "" {
		dst.MetricsAddr = src.MetricsAddr
	}
	if src.AttemptRPS != nil {
		dst.AttemptRPS = *src.AttemptRPS
	}
	if src.AttemptBurst != nil {
		dst.AttemptBurst = *src.AttemptBurst
	}
}

func ApplyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("ARC_GATEWAY_URL")); v != "" {
		cfg.GatewayURL = v
	}
	if v := strings.TrimSpace(os.Getenv("ARC_ORACLE_URL")); v != "" {
		cfg.OracleURL = v
	}
	if v := strings.TrimSpace(os.Getenv("ARC_ORIGIN")); v != "" {
		cfg.Origin = v
	}
	if v := strings.TrimSpace(os.Getenv("ARC_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("ARC_STORE_SECRET")); v != "" {
		cfg.StoreSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("ARC_METRICS_ADDR")); v != "" {
		cfg.MetricsAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("ARC_TOKEN_TTL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.TokenTTL = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("ARC_ATTEMPT_RPS")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.AttemptRPS = f
		}
	}
}

// StorePath is the encrypted snapshot file inside the data directory.
func (c Config) StorePath() string {
	if c.DataDir == "" {
		return ""
	}
	return filepath.Join(c.DataDir, "identity.store")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".arcbank"
	}
	return filepath.Join(home, ".arcbank")
}
