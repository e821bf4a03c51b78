// SPDX-License-Identifier: MIT

// Package config loads and validates the karad configuration.
//
// Configuration comes from a YAML file with environment variable overrides
// (KARAD_* prefix), loaded through koanf. The Save method writes the file
// atomically, which the setup wizard relies on.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFilePath is the default location for the configuration file.
const ConfigFilePath = "/etc/karad/config.yaml"

// ErrInvalid is wrapped by every configuration validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Default file names for the packaged screen resources.
const (
	DefaultTransitionBackground = "transition.png"
	DefaultIdleBackground       = "idle.png"
	DefaultTransitionTemplate   = "transition.ass"
	DefaultIdleTemplate         = "idle.ass"
)

// Config is the complete karad configuration.
type Config struct {
	Player Player `yaml:"player" koanf:"player"`
	Server Server `yaml:"server" koanf:"server"`

	// LogLevel is one of debug, info, warning, error, critical.
	LogLevel string `yaml:"loglevel" koanf:"loglevel"`

	// RuntimeDir holds the single-instance lock file (default: os.TempDir()).
	RuntimeDir string `yaml:"runtime_dir" koanf:"runtime_dir"`

	// HealthAddr enables the /healthz endpoint when non-empty.
	HealthAddr string `yaml:"health_addr" koanf:"health_addr"`
}

// Player configures the media player side of the daemon.
type Player struct {
	// KaraFolder is the root of the media files. Required.
	KaraFolder string `yaml:"kara_folder" koanf:"kara_folder"`

	Fullscreen bool `yaml:"fullscreen" koanf:"fullscreen"`

	Durations   Durations   `yaml:"durations" koanf:"durations"`
	Backgrounds Backgrounds `yaml:"backgrounds" koanf:"backgrounds"`
	Templates   Templates   `yaml:"templates" koanf:"templates"`

	// Mpv options are passed through verbatim to the engine at startup.
	Mpv map[string]interface{} `yaml:"mpv" koanf:"mpv"`
}

// Durations configures the screen and seek durations, in seconds.
type Durations struct {
	TransitionDuration        int `yaml:"transition_duration" koanf:"transition_duration"`
	RewindFastForwardDuration int `yaml:"rewind_fast_forward_duration" koanf:"rewind_fast_forward_duration"`
}

// Transition returns the transition card duration.
func (d Durations) Transition() time.Duration {
	return time.Duration(d.TransitionDuration) * time.Second
}

// RewindFastForward returns the seek delta for rewind and fast-forward.
func (d Durations) RewindFastForward() time.Duration {
	return time.Duration(d.RewindFastForwardDuration) * time.Second
}

// Backgrounds configures where the idle and transition images come from.
type Backgrounds struct {
	// Directory is an optional user directory searched before the packaged
	// defaults.
	Directory string `yaml:"directory" koanf:"directory"`

	TransitionBackgroundName string `yaml:"transition_background_name" koanf:"transition_background_name"`
	IdleBackgroundName       string `yaml:"idle_background_name" koanf:"idle_background_name"`
}

// Templates configures the subtitle template file names.
type Templates struct {
	// Directory is an optional user directory searched before the packaged
	// defaults.
	Directory string `yaml:"directory" koanf:"directory"`

	TransitionTemplateName string `yaml:"transition_template_name" koanf:"transition_template_name"`
	IdleTemplateName       string `yaml:"idle_template_name" koanf:"idle_template_name"`
}

// Server configures the connection to the karaoke server.
type Server struct {
	// Address is host or host:port. Required.
	Address string `yaml:"address" koanf:"address"`

	// SSL selects https/wss instead of http/ws.
	SSL bool `yaml:"ssl" koanf:"ssl"`

	Login    string `yaml:"login" koanf:"login"`
	Password string `yaml:"password" koanf:"password"`

	// ReconnectInterval is the WebSocket reconnection delay in seconds.
	ReconnectInterval int `yaml:"reconnect_interval" koanf:"reconnect_interval"`
}

// Reconnect returns the WebSocket reconnection delay.
func (s Server) Reconnect() time.Duration {
	return time.Duration(s.ReconnectInterval) * time.Second
}

// Scheme returns the HTTP scheme matching the SSL setting.
func (s Server) Scheme() string {
	if s.SSL {
		return "https"
	}
	return "http"
}

// WebSocketScheme returns the WebSocket scheme matching the SSL setting.
func (s Server) WebSocketScheme() string {
	if s.SSL {
		return "wss"
	}
	return "ws"
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Player: Player{
			Durations: Durations{
				TransitionDuration:        2,
				RewindFastForwardDuration: 10,
			},
			Backgrounds: Backgrounds{
				TransitionBackgroundName: DefaultTransitionBackground,
				IdleBackgroundName:       DefaultIdleBackground,
			},
			Templates: Templates{
				TransitionTemplateName: DefaultTransitionTemplate,
				IdleTemplateName:       DefaultIdleTemplate,
			},
		},
		Server: Server{
			ReconnectInterval: 10,
		},
		LogLevel: "info",
	}
}

// applyDefaults fills zero values with defaults, in place.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Player.Durations.TransitionDuration == 0 {
		c.Player.Durations.TransitionDuration = def.Player.Durations.TransitionDuration
	}
	if c.Player.Durations.RewindFastForwardDuration == 0 {
		c.Player.Durations.RewindFastForwardDuration = def.Player.Durations.RewindFastForwardDuration
	}
	if c.Player.Backgrounds.TransitionBackgroundName == "" {
		c.Player.Backgrounds.TransitionBackgroundName = def.Player.Backgrounds.TransitionBackgroundName
	}
	if c.Player.Backgrounds.IdleBackgroundName == "" {
		c.Player.Backgrounds.IdleBackgroundName = def.Player.Backgrounds.IdleBackgroundName
	}
	if c.Player.Templates.TransitionTemplateName == "" {
		c.Player.Templates.TransitionTemplateName = def.Player.Templates.TransitionTemplateName
	}
	if c.Player.Templates.IdleTemplateName == "" {
		c.Player.Templates.IdleTemplateName = def.Player.Templates.IdleTemplateName
	}
	if c.Server.ReconnectInterval == 0 {
		c.Server.ReconnectInterval = def.Server.ReconnectInterval
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.RuntimeDir == "" {
		c.RuntimeDir = os.TempDir()
	}
}

// Validate checks the configuration for consistency. All failures wrap
// ErrInvalid.
func (c *Config) Validate() error {
	if c.Player.KaraFolder == "" {
		return fmt.Errorf("%w: player.kara_folder is required", ErrInvalid)
	}
	if c.Server.Address == "" {
		return fmt.Errorf("%w: server.address is required", ErrInvalid)
	}
	if c.Server.Login == "" {
		return fmt.Errorf("%w: server.login is required", ErrInvalid)
	}
	if c.Server.Password == "" {
		return fmt.Errorf("%w: server.password is required", ErrInvalid)
	}
	if c.Player.Durations.TransitionDuration < 0 {
		return fmt.Errorf("%w: player.durations.transition_duration must not be negative", ErrInvalid)
	}
	if c.Player.Durations.RewindFastForwardDuration <= 0 {
		return fmt.Errorf("%w: player.durations.rewind_fast_forward_duration must be positive", ErrInvalid)
	}
	if c.Server.ReconnectInterval <= 0 {
		return fmt.Errorf("%w: server.reconnect_interval must be positive", ErrInvalid)
	}
	switch c.LogLevel {
	case "debug", "info", "warning", "error", "critical":
	default:
		return fmt.Errorf("%w: loglevel %q is not one of debug, info, warning, error, critical", ErrInvalid, c.LogLevel)
	}
	return nil
}

// Save writes the configuration to a YAML file.
//
// The write is atomic: data goes to a temp file in the same directory which
// is synced and then renamed over the target, so a crash mid-write leaves
// either the old file or the new file, never a torn one.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config.*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp config file: %w", err)
	}
	// Credentials live in this file; keep it away from other users.
	if err := tmp.Chmod(0o600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp config file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp config file: %w", err)
	}
	success = true
	return nil
}
