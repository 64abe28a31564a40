// Package theme manages the UI theme preference. A preference is what the
// user asked for (light, dark, or follow the system); a variant is what
// actually renders. Only the preference is ever persisted, so "system"
// keeps tracking the host instead of freezing whichever variant it
// resolved to first.
package theme

import (
	"context"
	"fmt"
	"sync"
)

// Preference is the persisted user choice.
type Preference string

const (
	Light  Preference = "light"
	Dark   Preference = "dark"
	System Preference = "system"
)

// Variant is a concrete rendered theme.
type Variant string

const (
	VariantLight Variant = "light"
	VariantDark  Variant = "dark"
)

// ParsePreference validates a stored or submitted preference value.
func ParsePreference(s string) (Preference, error) {
	switch Preference(s) {
	case Light, Dark, System:
		return Preference(s), nil
	}
	return "", fmt.Errorf("theme: unknown preference %q", s)
}

// Storage persists the preference under a key. Get returns "" with a nil
// error when nothing is stored yet.
type Storage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// SystemProbe reports the host's current variant. The default assumes
// light when no probe is wired.
type SystemProbe func() Variant

// Manager holds the active preference and resolves it to a variant.
type Manager struct {
	storage Storage
	key     string
	def     Preference
	probe   SystemProbe

	mu   sync.Mutex
	pref Preference
}

// Option configures a Manager.
type Option func(*Manager)

// WithKey overrides the storage key.
func WithKey(key string) Option {
	return func(m *Manager) {
		if key != "" {
			m.key = key
		}
	}
}

// WithDefault sets the preference used when storage is empty or invalid.
func WithDefault(pref Preference) Option {
	return func(m *Manager) {
		m.def = pref
	}
}

// WithSystemProbe wires host theme detection for the system preference.
func WithSystemProbe(probe SystemProbe) Option {
	return func(m *Manager) {
		if probe != nil {
			m.probe = probe
		}
	}
}

// NewManager builds a Manager over the given storage.
func NewManager(storage Storage, opts ...Option) *Manager {
	m := &Manager{
		storage: storage,
		key:     "theme",
		def:     System,
		probe:   func() Variant { return VariantLight },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.pref = m.def
	return m
}

// Load reads the stored preference. Missing or unparseable values fall
// back to the default rather than failing startup.
func (m *Manager) Load(ctx context.Context) error {
	raw, err := m.storage.Get(ctx, m.key)
	if err != nil {
		return err
	}

	pref := m.def
	if raw != "" {
		if parsed, err := ParsePreference(raw); err == nil {
			pref = parsed
		}
	}

	m.mu.Lock()
	m.pref = pref
	m.mu.Unlock()
	return nil
}

// Set persists and applies a new preference.
func (m *Manager) Set(ctx context.Context, pref Preference) error {
	if _, err := ParsePreference(string(pref)); err != nil {
		return err
	}
	if err := m.storage.Set(ctx, m.key, string(pref)); err != nil {
		return err
	}

	m.mu.Lock()
	m.pref = pref
	m.mu.Unlock()
	return nil
}

// Preference returns the active preference.
func (m *Manager) Preference() Preference {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pref
}

// Resolve maps the active preference to a variant, probing the host for
// the system preference on every call. The probed result is never written
// back to storage.
func (m *Manager) Resolve() Variant {
	switch m.Preference() {
	case Light:
		return VariantLight
	case Dark:
		return VariantDark
	default:
		return m.probe()
	}
}
