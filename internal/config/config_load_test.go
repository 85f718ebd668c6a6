package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Poe.BaseURL != "https://api.poe.com/v1" {
		t.Errorf("base URL = %q", cfg.Poe.BaseURL)
	}
	if cfg.Relay.ContextWindow != 5 {
		t.Errorf("context window = %d, want 5", cfg.Relay.ContextWindow)
	}
}

func TestLoadJSON5WithComments(t *testing.T) {
	path := writeConfig(t, `{
		// trigger words are matched longest-first
		backends: {
			"GPT-5": { model: "GPT-5", triggers: ["gpt", "гпт"] },
		},
		relay: { context_window: 7 },
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Relay.ContextWindow != 7 {
		t.Errorf("context window = %d, want 7", cfg.Relay.ContextWindow)
	}
	if got := cfg.Backends["GPT-5"].Triggers; len(got) != 2 || got[1] != "гпт" {
		t.Errorf("triggers = %v", got)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TELEPOE_TELEGRAM_TOKEN", "tok-123")
	t.Setenv("TELEPOE_ADMIN_IDS", "111,222")
	t.Setenv("TELEPOE_CONTEXT_WINDOW", "9")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "tok-123" {
		t.Errorf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.AdminIDs) != 2 || cfg.Telegram.AdminIDs[0] != "111" {
		t.Errorf("admin IDs = %v", cfg.Telegram.AdminIDs)
	}
	if cfg.Relay.ContextWindow != 9 {
		t.Errorf("context window = %d, want 9", cfg.Relay.ContextWindow)
	}
}

func TestValidateRejectsDuplicateTriggers(t *testing.T) {
	cfg := Default()
	cfg.Backends = map[string]BackendSpec{
		"A": {Model: "A-model", Triggers: FlexibleStringSlice{"gpt"}},
		"B": {Model: "B-model", Triggers: FlexibleStringSlice{"GPT"}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("duplicate trigger accepted")
	}
}

func TestValidateRejectsUnknownEconomyBackend(t *testing.T) {
	cfg := Default()
	cfg.Backends = map[string]BackendSpec{
		"A": {Model: "A-model", Triggers: FlexibleStringSlice{"a"}},
	}
	cfg.Relay.EconomySet = FlexibleStringSlice{"Missing"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown economy backend accepted")
	}
}

func TestSaveOmitsSecrets(t *testing.T) {
	cfg := Default()
	cfg.Telegram.Token = "secret-token"
	cfg.Poe.APIKey = "secret-key"
	cfg.Database.PostgresDSN = "postgres://user:pw@host/db"

	path := filepath.Join(t.TempDir(), "config.json")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, secret := range []string{"secret-token", "secret-key", "user:pw"} {
		if strings.Contains(string(data), secret) {
			t.Errorf("saved config leaks %q", secret)
		}
	}
}

func TestFlexibleStringSliceAcceptsNumbers(t *testing.T) {
	path := writeConfig(t, `{ telegram: { admin_ids: [123456, "789"] } }`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"123456", "789"}
	for i, v := range want {
		if cfg.Telegram.AdminIDs[i] != v {
			t.Errorf("admin_ids[%d] = %q, want %q", i, cfg.Telegram.AdminIDs[i], v)
		}
	}
}
