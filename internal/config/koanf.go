// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "KARAD"

// Load reads the configuration from the YAML file at path, applies
// environment overrides, fills defaults and validates.
//
// Override precedence (highest to lowest):
//  1. Environment variables (KARAD_*)
//  2. YAML configuration file
//  3. Built-in defaults
//
// Example:
//
//	cfg, err := config.Load("/etc/karad/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := k.Load(envProvider(), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// envProvider maps KARAD_SERVER_RECONNECT_INTERVAL style variables onto the
// dotted koanf key space. The section name is the first token; the rest of
// the variable is matched against the known field suffixes so that names
// containing underscores (kara_folder, transition_duration, ...) land on
// the right key.
func envProvider() koanf.Provider {
	// Nested section paths keyed by the env token that introduces them.
	sections := map[string]string{
		"player_durations_":   "player.durations.",
		"player_backgrounds_": "player.backgrounds.",
		"player_templates_":   "player.templates.",
		"player_":             "player.",
		"server_":             "server.",
	}
	// Order matters: longest prefixes first.
	order := []string{
		"player_durations_",
		"player_backgrounds_",
		"player_templates_",
		"player_",
		"server_",
	}

	return env.Provider(".", env.Opt{
		Prefix: EnvPrefix + "_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix+"_"))

			for _, prefix := range order {
				if strings.HasPrefix(key, prefix) {
					// Field names keep their underscores: the remainder is
					// one leaf key, not a nested path.
					return sections[prefix] + strings.TrimPrefix(key, prefix), value
				}
			}

			// Top-level scalars: loglevel, runtime_dir, health_addr.
			return key, value
		},
	})
}
