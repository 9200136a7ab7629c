// Package config provides configuration management for agentdeck.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vibecode/agentdeck/internal/common/logger"
)

// Config holds all configuration sections for agentdeck.
type Config struct {
	Backend BackendConfig        `mapstructure:"backend"`
	Stream  StreamConfig         `mapstructure:"stream"`
	Cache   CacheConfig          `mapstructure:"cache"`
	Logging logger.LoggingConfig `mapstructure:"logging"`
}

// BackendConfig holds the endpoint of the agent backend.
type BackendConfig struct {
	// BaseURL is the HTTP base URL used for outbound collaborator calls
	// (submit prompt, answer, terminate, session-status feed).
	BaseURL string `mapstructure:"baseUrl"`

	// StreamURL is the websocket base URL for per-session event streams.
	// Defaults to BaseURL with the scheme swapped to ws/wss.
	StreamURL string `mapstructure:"streamUrl"`

	// Provider selects the upstream agent protocol:
	// streamjson, geminijson, codex, opencode.
	Provider string `mapstructure:"provider"`

	RequestTimeout int `mapstructure:"requestTimeout"` // in seconds
}

// StreamConfig holds tuning for the per-session event stream.
type StreamConfig struct {
	DialTimeout        int   `mapstructure:"dialTimeout"`        // in seconds
	MaxFrameBytes      int64 `mapstructure:"maxFrameBytes"`      // read limit per frame
	FlushInterval      int   `mapstructure:"flushInterval"`      // UI notify debounce, in milliseconds
	StatusPollInterval int   `mapstructure:"statusPollInterval"` // session-status feed poll, in seconds
}

// CacheConfig holds limits for the in-memory session cache.
type CacheConfig struct {
	MaxSessions           int `mapstructure:"maxSessions"`
	MaxMessagesPerSession int `mapstructure:"maxMessagesPerSession"`
}

// RequestTimeoutDuration returns the request timeout as a time.Duration.
func (b *BackendConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(b.RequestTimeout) * time.Second
}

// DialTimeoutDuration returns the dial timeout as a time.Duration.
func (s *StreamConfig) DialTimeoutDuration() time.Duration {
	return time.Duration(s.DialTimeout) * time.Second
}

// FlushIntervalDuration returns the flush debounce as a time.Duration.
func (s *StreamConfig) FlushIntervalDuration() time.Duration {
	return time.Duration(s.FlushInterval) * time.Millisecond
}

// StatusPollIntervalDuration returns the status poll interval as a time.Duration.
func (s *StreamConfig) StatusPollIntervalDuration() time.Duration {
	return time.Duration(s.StatusPollInterval) * time.Second
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.baseUrl", "http://localhost:8300")
	v.SetDefault("backend.streamUrl", "")
	v.SetDefault("backend.provider", "streamjson")
	v.SetDefault("backend.requestTimeout", 30)

	v.SetDefault("stream.dialTimeout", 10)
	v.SetDefault("stream.maxFrameBytes", 4*1024*1024)
	v.SetDefault("stream.flushInterval", 50)
	v.SetDefault("stream.statusPollInterval", 2)

	v.SetDefault("cache.maxSessions", 64)
	v.SetDefault("cache.maxMessagesPerSession", 1000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputPath", "stderr")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix AGENTDECK_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or ~/.agentdeck/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("AGENTDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.agentdeck/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Backend.BaseURL == "" {
		errs = append(errs, "backend.baseUrl is required")
	}

	validProviders := map[string]bool{"streamjson": true, "geminijson": true, "codex": true, "opencode": true}
	if !validProviders[cfg.Backend.Provider] {
		errs = append(errs, "backend.provider must be one of: streamjson, geminijson, codex, opencode")
	}

	if cfg.Cache.MaxSessions <= 0 {
		errs = append(errs, "cache.maxSessions must be positive")
	}
	if cfg.Cache.MaxMessagesPerSession <= 0 {
		errs = append(errs, "cache.maxMessagesPerSession must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
