package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the relay.
type Config struct {
	Telegram  TelegramConfig         `json:"telegram"`
	Poe       PoeConfig              `json:"poe"`
	Backends  map[string]BackendSpec `json:"backends"`
	Relay     RelayConfig            `json:"relay"`
	Database  DatabaseConfig         `json:"database,omitempty"`
	Normalize NormalizeConfig        `json:"normalize,omitempty"`
	Telemetry TelemetryConfig        `json:"telemetry,omitempty"`
	Cron      CronConfig             `json:"cron,omitempty"`
	mu        sync.RWMutex
}

// TelegramConfig configures the Telegram channel.
// Token is NEVER read from config.json (secret) — only from env TELEPOE_TELEGRAM_TOKEN.
type TelegramConfig struct {
	Token    string              `json:"-"` // from env TELEPOE_TELEGRAM_TOKEN only
	AdminIDs FlexibleStringSlice `json:"admin_ids,omitempty"`
	// WhitelistEnabled gates all non-admin traffic behind the whitelist.
	WhitelistEnabled bool `json:"whitelist_enabled,omitempty"`
}

// PoeConfig configures the upstream OpenAI-compatible API.
type PoeConfig struct {
	APIKey  string `json:"-"`                  // from env TELEPOE_POE_API_KEY only
	BaseURL string `json:"base_url,omitempty"` // default https://api.poe.com/v1
	// ProxyURL routes backend calls through an HTTP/SOCKS proxy when set.
	ProxyURL string `json:"proxy_url,omitempty"`
	// TimeoutSec is the per-call deadline (default 120).
	TimeoutSec int `json:"timeout_sec,omitempty"`
}

// BackendSpec declares one addressable backend: the upstream model it maps
// to, the chat triggers that select it, and optional fixed parameters sent
// with every call.
type BackendSpec struct {
	Model    string              `json:"model"`
	Triggers FlexibleStringSlice `json:"triggers"`
	Params   map[string]string   `json:"params,omitempty"`
}

// RelayConfig tunes the exchange pipeline.
type RelayConfig struct {
	// ContextWindow is the max stored turns per (chat, backend) pair.
	ContextWindow int `json:"context_window,omitempty"` // default 5
	// EconomySet names the backends that stay available in economy mode.
	EconomySet FlexibleStringSlice `json:"economy_set,omitempty"`
	// ImageMaxDim downscales photo attachments whose longest side exceeds
	// this many pixels before upload (0 disables).
	ImageMaxDim int `json:"image_max_dim,omitempty"` // default 1568
}

// DatabaseConfig selects the storage driver.
// PostgresDSN comes from env TELEPOE_POSTGRES_DSN only. When empty the relay
// falls back to a local SQLite file.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
	SQLitePath  string `json:"sqlite_path,omitempty"` // default ~/.telepoe/telepoe.db
}

// NormalizeConfig overrides the response-normalizer rules.
type NormalizeConfig struct {
	ThinkingMarker string              `json:"thinking_marker,omitempty"`
	SourcesHeader  string              `json:"sources_header,omitempty"`
	SourcesNotice  string              `json:"sources_notice,omitempty"`
	Disclaimers    FlexibleStringSlice `json:"disclaimers,omitempty"`
}

// TelemetryConfig configures OpenTelemetry export for exchange traces.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"` // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"` // default "telepoe"
	Headers     map[string]string `json:"headers,omitempty"`
}

// CronConfig configures scheduled jobs.
type CronConfig struct {
	// UsageReportSchedule is a cron expression for the periodic usage report
	// sent to admins. Empty disables the job.
	UsageReportSchedule string `json:"usage_report_schedule,omitempty"`
	// UsageReportChatID receives the report (defaults to the first admin).
	UsageReportChatID string `json:"usage_report_chat_id,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Telegram = src.Telegram
	c.Poe = src.Poe
	c.Backends = src.Backends
	c.Relay = src.Relay
	c.Database = src.Database
	c.Normalize = src.Normalize
	c.Telemetry = src.Telemetry
	c.Cron = src.Cron
}

// Triggers returns the trigger lists per backend, as consumed by the
// trigger registry.
func (c *Config) Triggers() map[string][]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string][]string, len(c.Backends))
	for name, spec := range c.Backends {
		out[name] = append([]string(nil), spec.Triggers...)
	}
	return out
}

// IsAdmin reports whether the given Telegram user ID is an admin.
func (c *Config) IsAdmin(userID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, id := range c.Telegram.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}
