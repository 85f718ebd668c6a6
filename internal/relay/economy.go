package relay

import (
	"context"
	"sync"

	"github.com/nextlevelbuilder/telepoe/internal/store"
)

// Economy is the process-wide economy-mode gate. The flag is loaded from
// persisted settings at startup and every toggle writes through, so a
// restart keeps the last admin decision.
type Economy struct {
	settings store.SettingsStore

	mu      sync.RWMutex
	enabled bool
	allowed map[string]bool
}

// NewEconomy builds the holder. allowed names the backends that stay
// reachable while the mode is on.
func NewEconomy(settings store.SettingsStore, allowed []string) *Economy {
	set := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		set[name] = true
	}
	return &Economy{settings: settings, allowed: set}
}

// Load reads the persisted flag. Missing rows read as off.
func (e *Economy) Load(ctx context.Context) error {
	v, err := e.settings.GetBool(ctx, store.KeyEconomyMode)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.enabled = v
	e.mu.Unlock()
	return nil
}

func (e *Economy) Enabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled
}

// SetEnabled flips the flag and persists it.
func (e *Economy) SetEnabled(ctx context.Context, on bool) error {
	if err := e.settings.SetBool(ctx, store.KeyEconomyMode, on); err != nil {
		return err
	}
	e.mu.Lock()
	e.enabled = on
	e.mu.Unlock()
	return nil
}

// Allows reports whether the backend is reachable right now.
func (e *Economy) Allows(backendName string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.enabled {
		return true
	}
	return e.allowed[backendName]
}

// ReplaceAllowed swaps the economy backend set (config hot reload).
func (e *Economy) ReplaceAllowed(allowed []string) {
	set := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		set[name] = true
	}
	e.mu.Lock()
	e.allowed = set
	e.mu.Unlock()
}
