package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Poe: PoeConfig{
			BaseURL:    "https://api.poe.com/v1",
			TimeoutSec: 120,
		},
		Relay: RelayConfig{
			ContextWindow: 5,
			ImageMaxDim:   1568,
		},
		Database: DatabaseConfig{
			SQLitePath: "~/.telepoe/telepoe.db",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "telepoe",
		},
	}
}

// Load reads config from a JSON file, then overlays env vars.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, cfg.Validate()
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("TELEPOE_TELEGRAM_TOKEN", &c.Telegram.Token)
	envStr("TELEPOE_POE_API_KEY", &c.Poe.APIKey)
	envStr("TELEPOE_POE_BASE_URL", &c.Poe.BaseURL)
	envStr("TELEPOE_PROXY_URL", &c.Poe.ProxyURL)
	envStr("TELEPOE_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("TELEPOE_SQLITE_PATH", &c.Database.SQLitePath)

	if v := os.Getenv("TELEPOE_ADMIN_IDS"); v != "" {
		c.Telegram.AdminIDs = FlexibleStringSlice(strings.Split(v, ","))
	}
	if v := os.Getenv("TELEPOE_WHITELIST_ENABLED"); v != "" {
		c.Telegram.WhitelistEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("TELEPOE_CONTEXT_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Relay.ContextWindow = n
		}
	}

	// Telemetry
	envStr("TELEPOE_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("TELEPOE_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("TELEPOE_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("TELEPOE_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("TELEPOE_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// Validate rejects configs the relay cannot start with.
func (c *Config) Validate() error {
	if c.Poe.BaseURL == "" {
		return fmt.Errorf("poe.base_url must not be empty")
	}
	if c.Relay.ContextWindow <= 0 {
		return fmt.Errorf("relay.context_window must be positive")
	}
	seen := map[string]string{}
	for name, spec := range c.Backends {
		if spec.Model == "" {
			return fmt.Errorf("backend %q: model must not be empty", name)
		}
		for _, t := range spec.Triggers {
			t = strings.ToLower(t)
			if prev, dup := seen[t]; dup && prev != name {
				return fmt.Errorf("trigger %q mapped to both %q and %q", t, prev, name)
			}
			seen[t] = name
		}
	}
	for _, name := range c.Relay.EconomySet {
		if _, ok := c.Backends[name]; !ok {
			return fmt.Errorf("economy_set names unknown backend %q", name)
		}
	}
	return nil
}

// Save writes the config to a JSON file. Secrets carry `json:"-"` tags and
// never persist.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
