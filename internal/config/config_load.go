package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:           "0.0.0.0",
			Port:           8790,
			WebRoot:        "http://localhost:8790",
			RateLimitRPM:   600,
			DefaultPushTTL: "15s",
		},
		Cache: CacheConfig{
			DefaultTTL:    "5m",
			EndpointTTL:   "5m",
			RoutingKeyTTL: "5m",
			SettingTTL:    "1m",
		},
		Streams: StreamsConfig{
			Shards:            []string{"redis://127.0.0.1:6379"},
			ReverseChannelTTL: "20s",
		},
		Mediator: MediatorConfig{
			Label: "Mediator",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars (secrets are
// env-only and never round-trip through the file).
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays secret/deploy-only env vars onto the config.
// These never live in config.json.
func (c *Config) applyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("MEDIATOR_POSTGRES_DSN"); v != "" {
		c.Database.PostgresDSN = v
	}
	if v := os.Getenv("MEDIATOR_ADMIN_TOKEN"); v != "" {
		c.Gateway.AdminToken = v
	}
	if v := os.Getenv("MEDIATOR_SEED"); v != "" {
		c.Mediator.Seed = v
	}
	if v := os.Getenv("MEDIATOR_FCM_CREDENTIALS_FILE"); v != "" {
		c.FCM.CredentialsFile = v
	}
	if v := os.Getenv("MEDIATOR_FCM_PROJECT_ID"); v != "" {
		c.FCM.ProjectID = v
	}
	if v := os.Getenv("MEDIATOR_TELEMETRY_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
	}
}

// Save writes the config to a JSON file. Env-sourced secret fields carry the
// `json:"-"` tag and are never written out.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// SeedBytes decodes the hex-encoded 32-byte mediator seed.
func (c *Config) SeedBytes() ([32]byte, error) {
	c.mu.RLock()
	seed := c.Mediator.Seed
	c.mu.RUnlock()

	var out [32]byte
	raw, err := hex.DecodeString(seed)
	if err != nil {
		return out, fmt.Errorf("mediator seed: not hex: %w", err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("mediator seed: want 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
