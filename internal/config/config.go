// Package config loads hubchat settings from defaults, an optional YAML file,
// a .env file and HUBCHAT_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/projecthub/hubchat/internal/realtime"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable, e.g. HUBCHAT_API_URL.
const EnvPrefix = "HUBCHAT"

// Config holds all configuration values.
type Config struct {
	// Backend
	APIURL    string `yaml:"api_url" envconfig:"API_URL" validate:"required,url"`
	SocketURL string `yaml:"socket_url" envconfig:"SOCKET_URL" validate:"omitempty,url"`

	// Session
	Token  string `yaml:"token" envconfig:"TOKEN"`
	UserID string `yaml:"user_id" envconfig:"USER_ID"`
	Role   string `yaml:"role" envconfig:"ROLE"`

	// Transport. Zero Timeout means no client-side deadline.
	Timeout          time.Duration `yaml:"timeout" envconfig:"CLIENT_TIMEOUT" validate:"gte=0"`
	ReconnectInitial time.Duration `yaml:"reconnect_initial" envconfig:"RECONNECT_INITIAL" validate:"gt=0"`
	ReconnectMax     time.Duration `yaml:"reconnect_max" envconfig:"RECONNECT_MAX" validate:"gtefield=ReconnectInitial"`

	// Logging
	LogFile  string `yaml:"log_file" envconfig:"LOG_FILE"`
	LogLevel string `yaml:"log_level" envconfig:"LOG_LEVEL"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		APIURL:           "http://localhost:5000",
		ReconnectInitial: realtime.DefaultInitialBackoff,
		ReconnectMax:     realtime.DefaultMaxBackoff,
		LogFile:          "/tmp/hubchat.log",
		LogLevel:         "INFO",
	}
}

// Load builds the configuration. path names an optional YAML file; an empty
// path skips it. A .env file in the working directory is read if present and
// never overrides variables already set.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.APIURL = strings.TrimRight(strings.TrimSpace(c.APIURL), "/")
	c.Token = strings.TrimSpace(c.Token)
	if c.SocketURL == "" && c.APIURL != "" {
		c.SocketURL = realtime.SocketURL(c.APIURL)
	}
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Level returns the parsed log level.
func (c Config) Level() slog.Level {
	return parseLogLevel(c.LogLevel)
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Token != "" {
		c.Token = "***"
	}
	return c
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
