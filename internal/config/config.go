package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all calldrill environment variables.
const EnvPrefix = "CALLDRILL_"

// Config holds all application configuration.
type Config struct {
	// BackendURL is the base URL of the training backend that serves the
	// persona listing, session negotiation, and post-call scoring.
	BackendURL string `yaml:"backend_url"`

	// ListenAddr is the address the web UI and API bind to.
	ListenAddr string `yaml:"listen_addr"`

	// ConnectTimeout bounds transport session negotiation.
	ConnectTimeout string `yaml:"connect_timeout"`

	// AnalysisTimeout bounds a full post-call analysis.
	AnalysisTimeout string `yaml:"analysis_timeout"`

	LogLevel string `yaml:"log_level"`
}

func defaults() Config {
	return Config{
		BackendURL:      "http://localhost:7860/api",
		ListenAddr:      "127.0.0.1:8080",
		ConnectTimeout:  "15s",
		AnalysisTimeout: "2m",
		LogLevel:        "info",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, and validates the result. It returns the
// config, any validation warnings, and an error if the file exists but
// cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// ParsedConnectTimeout returns ConnectTimeout as a time.Duration, falling
// back to 15s if the value is invalid.
func (c *Config) ParsedConnectTimeout() time.Duration {
	d, err := time.ParseDuration(c.ConnectTimeout)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// ParsedAnalysisTimeout returns AnalysisTimeout as a time.Duration, falling
// back to 2m if the value is invalid.
func (c *Config) ParsedAnalysisTimeout() time.Duration {
	d, err := time.ParseDuration(c.AnalysisTimeout)
	if err != nil {
		return 2 * time.Minute
	}
	return d
}

// ParsedLogLevel returns LogLevel as a logrus level, falling back to info.
func (c *Config) ParsedLogLevel() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "BACKEND_URL"); v != "" {
		cfg.BackendURL = v
	}
	if v := os.Getenv(EnvPrefix + "LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(EnvPrefix + "CONNECT_TIMEOUT"); v != "" {
		cfg.ConnectTimeout = v
	}
	if v := os.Getenv(EnvPrefix + "ANALYSIS_TIMEOUT"); v != "" {
		cfg.AnalysisTimeout = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func validate(cfg *Config) []string {
	var warnings []string

	if u, err := url.Parse(cfg.BackendURL); err != nil || u.Scheme == "" || u.Host == "" {
		warnings = append(warnings, fmt.Sprintf("Invalid backend_url %q - using default %q.", cfg.BackendURL, defaults().BackendURL))
		cfg.BackendURL = defaults().BackendURL
	}
	if _, err := time.ParseDuration(cfg.ConnectTimeout); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid connect_timeout %q - using default 15s.", cfg.ConnectTimeout))
	}
	if _, err := time.ParseDuration(cfg.AnalysisTimeout); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid analysis_timeout %q - using default 2m.", cfg.AnalysisTimeout))
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid log_level %q - using info.", cfg.LogLevel))
	}

	return warnings
}
