// Package config loads the tunable constants of spec.md §6.4 from a
// TOML file, so an embedding application can override them without
// recompiling. Grounded on the teacher's relay/internal/config/config.go.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/okrame/verbeth-sub002/pkg/ratchet"
)

// Config bundles the core's load-bearing limits and store locations.
type Config struct {
	Limits  Limits  `toml:"limits"`
	Storage Storage `toml:"storage"`
	Logging Logging `toml:"logging"`
}

// Limits mirrors ratchet.Limits, kept as a separate type so this
// package doesn't force pkg/ratchet to carry toml struct tags.
type Limits struct {
	MaxSkipPerMessage     int           `toml:"max_skip_per_message"`
	MaxStoredSkippedKeys  int           `toml:"max_stored_skipped_keys"`
	MaxSkippedKeysAge     time.Duration `toml:"max_skipped_keys_age"`
	TopicTransitionWindow time.Duration `toml:"topic_transition_window"`
	PendingHandshakeTTL   time.Duration `toml:"pending_handshake_ttl"`
}

type Storage struct {
	SessionDBPath string `toml:"session_db_path"`
	PendingDBPath string `toml:"pending_db_path"`
}

type Logging struct {
	Level slog.Level `toml:"level"`
}

// RatchetLimits projects the configured limits onto ratchet.Limits.
func (l Limits) RatchetLimits() ratchet.Limits {
	return ratchet.Limits{
		MaxSkipPerMessage:     l.MaxSkipPerMessage,
		MaxStoredSkippedKeys:  l.MaxStoredSkippedKeys,
		MaxSkippedKeysAge:     l.MaxSkippedKeysAge,
		TopicTransitionWindow: l.TopicTransitionWindow,
	}
}

// Default returns the spec's suggested values (spec.md §6.4): 1000
// skipped keys per message cap, 2000 stored skipped keys, a 7-day
// skipped-key age limit, and a 5-minute topic transition window.
func Default() Config {
	return Config{
		Limits: Limits{
			MaxSkipPerMessage:     1000,
			MaxStoredSkippedKeys:  2000,
			MaxSkippedKeysAge:     7 * 24 * time.Hour,
			TopicTransitionWindow: 5 * time.Minute,
			PendingHandshakeTTL:   24 * time.Hour,
		},
		Storage: Storage{
			SessionDBPath: "sessions.db",
			PendingDBPath: "pending.db",
		},
		Logging: Logging{Level: slog.LevelInfo},
	}
}

// Load reads a TOML file at path, starting from Default() so any field
// the file omits keeps its default value.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}
