package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/focusprobe/internal/logger"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that round-trips through YAML as "10ms" style strings
type Duration time.Duration

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalYAML encodes the duration in time.Duration string form
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML accepts either a duration string or a bare integer of milliseconds
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseDuration(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDuration accepts "10ms" style strings or a bare integer of milliseconds
func ParseDuration(raw string) (Duration, error) {
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return Duration(time.Duration(ms) * time.Millisecond), nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	return Duration(parsed), nil
}

// Config represents the harness configuration
type Config struct {
	// Display is the X display to connect to; empty means $DISPLAY
	Display    string `json:"display" yaml:"display"`
	LogLevel   string `json:"log_level" yaml:"log_level"`
	ServerPort int    `json:"server_port" yaml:"server_port"`

	// GracePeriod is how long a watcher waits for the X server before stopping
	GracePeriod Duration `json:"grace_period" yaml:"grace_period"`

	// FocusLimit is the invocation budget handed to bounded focus waiters
	FocusLimit int `json:"focus_limit" yaml:"focus_limit"`

	// EventTimeout bounds a single focus wait; zero blocks until an event arrives
	EventTimeout Duration `json:"event_timeout" yaml:"event_timeout"`

	// SocketPath overrides the flash socket address; empty picks the default
	SocketPath string `json:"socket_path" yaml:"socket_path"`

	WindowTitles []string `json:"window_titles" yaml:"window_titles"`
}

// Validate checks values that would otherwise fail deep inside a test run
func (c *Config) Validate() error {
	var errs []error
	if c.FocusLimit < 1 {
		errs = append(errs, fmt.Errorf("focus_limit must be positive, got %d", c.FocusLimit))
	}
	if c.GracePeriod < 0 {
		errs = append(errs, fmt.Errorf("grace_period must not be negative"))
	}
	if c.EventTimeout < 0 {
		errs = append(errs, fmt.Errorf("event_timeout must not be negative"))
	}
	if c.ServerPort < 0 || c.ServerPort > 65535 {
		errs = append(errs, fmt.Errorf("server_port out of range: %d", c.ServerPort))
	}
	if len(c.WindowTitles) == 0 {
		errs = append(errs, fmt.Errorf("window_titles must name at least one window"))
	}
	return errors.Join(errs...)
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		LogLevel:     "info",
		ServerPort:   8090,
		GracePeriod:  Duration(10 * time.Millisecond),
		FocusLimit:   3,
		EventTimeout: 0,
		WindowTitles: []string{"window1", "window2", "window3"},
	}
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// DefaultPath returns ~/.config/focusprobe/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "focusprobe", "config.yaml"), nil
}

// NewManager creates a new configuration manager, writing defaults on first use
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		actualConfigPath = p
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = Defaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Int("focus_limit", m.config.FocusLimit).
		Msg("Config loaded")

	return m, nil
}

// load reads the configuration from disk, filling unset keys from Defaults
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}

	cfg := *m.config
	cfg.WindowTitles = append([]string(nil), m.config.WindowTitles...)
	return &cfg
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = Defaults()
	}

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// Update validates and replaces the entire configuration
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return m.Save()
}

// Set assigns a single key by its YAML name and persists the result. The
// value is parsed according to the key's type.
func (m *Manager) Set(key, value string) error {
	cfg := m.Get()

	var err error
	switch key {
	case "display":
		cfg.Display = value
	case "socket_path":
		cfg.SocketPath = value
	case "log_level":
		validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
		if !validLevels[value] {
			return fmt.Errorf("invalid log level: %s (use: trace, debug, info, warn, error)", value)
		}
		cfg.LogLevel = value
	case "server_port":
		cfg.ServerPort, err = strconv.Atoi(value)
	case "focus_limit":
		cfg.FocusLimit, err = strconv.Atoi(value)
	case "grace_period":
		cfg.GracePeriod, err = ParseDuration(value)
	case "event_timeout":
		cfg.EventTimeout, err = ParseDuration(value)
	case "window_titles":
		cfg.WindowTitles, err = parseTitles(value)
	default:
		return fmt.Errorf("unknown config key %q (valid: %s)", key, strings.Join(Keys(), ", "))
	}
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return m.Update(cfg)
}

// parseTitles splits "a, b" or "[a, b]" into window titles
func parseTitles(value string) ([]string, error) {
	value = strings.TrimSpace(value)
	value = strings.TrimSuffix(strings.TrimPrefix(value, "["), "]")

	var titles []string
	for _, t := range strings.Split(value, ",") {
		t = strings.TrimSpace(t)
		if t == "" {
			return nil, fmt.Errorf("empty window title in %q", value)
		}
		titles = append(titles, t)
	}
	return titles, nil
}

// Keys lists the settable configuration keys
func Keys() []string {
	return []string{
		"display",
		"log_level",
		"server_port",
		"grace_period",
		"focus_limit",
		"event_timeout",
		"socket_path",
		"window_titles",
	}
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config != nil {
		m.config.LogLevel = level
	}
}

// SetDisplay overrides the X display for this process only
func (m *Manager) SetDisplay(display string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config != nil {
		m.config.Display = display
	}
}

// SetPort overrides the API server port for this process only
func (m *Manager) SetPort(port int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config != nil {
		m.config.ServerPort = port
	}
}

// GetConfigPath returns the configuration file path
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
