package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is probed when Load is called with an empty path.
const DefaultPath = "sentinel.yaml"

// Duration wraps time.Duration so YAML values like "90s" parse.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped standard duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Inference InferenceConfig `yaml:"inference"`
	Session   SessionConfig   `yaml:"session"`
	Redis     RedisConfig     `yaml:"redis"`
	Privacy   PrivacyConfig   `yaml:"privacy"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	TurnTimeout Duration `yaml:"turn_timeout"`
}

// InferenceConfig points at the completion backend.
type InferenceConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

// SessionConfig selects and configures the session store.
type SessionConfig struct {
	// Backend is one of "file", "redis", "memory".
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// RedisConfig applies when the session backend is "redis".
type RedisConfig struct {
	Addr     string   `yaml:"addr"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	TTL      Duration `yaml:"ttl"`
}

// PrivacyConfig controls redaction and at-rest encryption.
type PrivacyConfig struct {
	// RedactPatterns are regular expressions matched against entity and
	// capability-input keys; matching values are masked before storage.
	RedactPatterns []string `yaml:"redact_patterns"`
	// EncryptionKeyEnv names the environment variable holding the
	// hex-encoded 32-byte session encryption key. Empty value in the
	// environment disables encryption.
	EncryptionKeyEnv string `yaml:"encryption_key_env"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:        ":8090",
			TurnTimeout: Duration(120 * time.Second),
		},
		Inference: InferenceConfig{
			BaseURL: "http://127.0.0.1:8080",
			Timeout: Duration(120 * time.Second),
		},
		Session: SessionConfig{
			Backend: "file",
			Path:    ".sentinel/sessions.json",
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		Privacy: PrivacyConfig{
			EncryptionKeyEnv: "SENTINEL_SESSION_KEY",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the configuration file at path, layered over Default.
// An empty path probes DefaultPath; a missing default file is fine and
// yields the defaults, while an explicitly requested missing file is an
// error.
func Load(path string) (Config, error) {
	cfg := Default()

	probing := path == ""
	if probing {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if probing && os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks enum fields and pattern syntax.
func (c Config) Validate() error {
	switch c.Session.Backend {
	case "file", "redis", "memory":
	default:
		return fmt.Errorf("invalid session backend %q (want file, redis or memory)", c.Session.Backend)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q (want text or json)", c.Logging.Format)
	}

	for _, pattern := range c.Privacy.RedactPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid redact pattern %q: %w", pattern, err)
		}
	}

	if c.Server.TurnTimeout < 0 {
		return fmt.Errorf("negative turn timeout %s", c.Server.TurnTimeout.Std())
	}
	return nil
}

// EncryptionKey resolves the session encryption key from the
// environment. A missing or empty variable means encryption is off and
// returns nil without error.
func (c Config) EncryptionKey() ([]byte, error) {
	if c.Privacy.EncryptionKeyEnv == "" {
		return nil, nil
	}
	raw := os.Getenv(c.Privacy.EncryptionKeyEnv)
	if raw == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%s is not valid hex: %w", c.Privacy.EncryptionKeyEnv, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%s must decode to 32 bytes, got %d", c.Privacy.EncryptionKeyEnv, len(key))
	}
	return key, nil
}
