package simplesocket

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config controls how the SDK connects.
type Config struct {
	URL       string `yaml:"url"`
	Namespace string `yaml:"namespace"` // optional path segment appended to URL
	UserID    string `yaml:"user_id"`
	Room      string `yaml:"room"` // joined once after each successful connect

	AutoConnect          bool          `yaml:"auto_connect"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	MaxReconnectDelay    time.Duration `yaml:"max_reconnect_delay"`

	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`

	// Logging enables the slog-backed default logger when no Logger was
	// set explicitly.
	Logging bool `yaml:"logging"`

	// Params are passed through unmodified as connection query parameters.
	Params map[string]string `yaml:"params"`

	// Validator, when set, gates every state replace or merge. A rejected
	// candidate leaves prior state untouched.
	Validator StateValidator `yaml:"-"`

	// ErrorHandler, when set, receives every recorded SocketError.
	ErrorHandler ErrorHandler `yaml:"-"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxReconnectAttempts: 5,
		ReconnectDelay:       time.Second,
		MaxReconnectDelay:    5 * time.Second,
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         10 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = def.ReconnectDelay
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = def.MaxReconnectDelay
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = def.WriteTimeout
	}
}

// Validate checks required fields and delay ordering.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("empty URL")
	}
	if c.MaxReconnectDelay < c.ReconnectDelay {
		return fmt.Errorf("max reconnect delay %v below base delay %v", c.MaxReconnectDelay, c.ReconnectDelay)
	}
	return nil
}

// LoadConfig reads a YAML config file, expands ${VAR} environment
// variables, applies defaults, and validates the result.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Config{}
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config yaml: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
