package config

import (
	"errors"
	"fmt"
	"os"
)

// MaskedValue is shown in place of sensitive values and, when written back,
// means "leave unchanged".
const MaskedValue = "••••••••"

var (
	ErrUnknownKey   = errors.New("unknown setting")
	ErrInvalidValue = errors.New("invalid setting value")
)

// Settings resolves configuration from defaults, environment and a
// persisted overlay, and manages writes to the overlay.
type Settings struct {
	overlay   Overlay
	lookupEnv func(string) (string, bool)
}

func NewSettings(o Overlay) *Settings {
	return &Settings{overlay: o, lookupEnv: os.LookupEnv}
}

// Config returns the effective configuration at call time.
func (s *Settings) Config() Config {
	cfg := defaults()
	applyEnvOverrides(&cfg, s.lookupEnv)
	applyOverlay(&cfg, s.overlay)
	return cfg
}

// SettingView is one schema entry with its effective value.
type SettingView struct {
	Key         string   `json:"key"`
	Label       string   `json:"label"`
	Description string   `json:"description"`
	Type        string   `json:"type"`
	Options     []string `json:"options,omitempty"`
	Default     any      `json:"default"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	Category    string   `json:"category"`
	Sensitive   bool     `json:"sensitive"`
	Value       any      `json:"value"`
	HasValue    bool     `json:"hasValue"`
	IsFromEnv   bool     `json:"isFromEnv"`
}

// View returns every schema setting keyed by name, plus the same entries
// grouped by category in schema order.
func (s *Settings) View() (map[string]SettingView, map[string][]SettingView) {
	cfg := s.Config()
	def := defaults()
	saved := s.overlay.Snapshot()

	byKey := make(map[string]SettingView)
	byCategory := make(map[string][]SettingView)
	for _, sp := range specs {
		if sp.envOnly {
			continue
		}
		value := sp.extract(cfg)
		_, isSaved := saved[sp.key]
		_, inEnv := sp.lookupEnv(s.lookupEnv)
		has := !isZero(value)
		if sp.secret && has {
			value = MaskedValue
		}
		v := SettingView{
			Key:         sp.key,
			Label:       sp.label,
			Description: sp.desc,
			Type:        sp.kind,
			Options:     sp.options,
			Default:     sp.extract(def),
			Min:         sp.min,
			Max:         sp.max,
			Category:    sp.category,
			Sensitive:   sp.secret,
			Value:       value,
			HasValue:    has,
			IsFromEnv:   !isSaved && inEnv,
		}
		byKey[sp.key] = v
		byCategory[sp.category] = append(byCategory[sp.category], v)
	}
	return byKey, byCategory
}

// Update writes the given values to the overlay. Unknown keys are ignored,
// a masked placeholder for a sensitive key is treated as no change, and an
// empty or nil value removes the key. Nothing is written if any value fails
// validation.
func (s *Settings) Update(values map[string]any) error {
	set := make(map[string]any)
	var unset []string
	for key, raw := range values {
		sp, ok := findSpec(key)
		if !ok || sp.envOnly {
			continue
		}
		if sp.secret && raw == MaskedValue {
			continue
		}
		if raw == nil || raw == "" {
			unset = append(unset, key)
			continue
		}
		v, err := coerce(sp, raw)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidValue, key, err)
		}
		if err := sp.validate(v); err != nil {
			return err
		}
		set[key] = v
	}
	if len(set) == 0 && len(unset) == 0 {
		return nil
	}
	return s.overlay.Apply(set, unset)
}

// Revert removes a persisted value so the key falls back to env or default.
func (s *Settings) Revert(key string) error {
	if _, ok := s.overlay.Get(key); !ok {
		return nil
	}
	return s.overlay.Apply(nil, []string{key})
}

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns all config key/value pairs, with secrets masked.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		v := s.extract(cfg)
		if s.secret && !isZero(v) {
			v = MaskedValue
		}
		result = append(result, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  fmt.Sprintf("%v", v),
		})
	}
	return result
}

// SetKey persists a single key given as a string.
func (s *Settings) SetKey(key, value string) error {
	sp, ok := findSpec(key)
	if !ok || sp.envOnly {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return s.Update(map[string]any{key: value})
}

// ValidKeys returns the names of all keys that can be persisted.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.envOnly {
			keys = append(keys, s.key)
		}
	}
	return keys
}

func isZero(v any) bool {
	switch t := v.(type) {
	case string:
		return t == ""
	case nil:
		return true
	}
	return false
}
