package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// envPrefix is the prefix for environment overrides, e.g.
// CALLGUARD_BREAKER_FAILURE_THRESHOLD=5.
const envPrefix = "CALLGUARD"

// LoaderOptions controls where Load looks for configuration.
type LoaderOptions struct {
	// ConfigFile is an explicit config file path. Empty means search the
	// default locations.
	ConfigFile string
	// EnvFile is an explicit .env file path. Empty means load ./.env when
	// present.
	EnvFile string
}

// defaultSearchPaths are tried in order when no explicit file is given.
var defaultSearchPaths = []string{
	"./callguard.yml",
	"./config/callguard.yml",
	"./config.yml",
}

// configKeys enumerates the settable keys so environment overrides work
// without a config file.
var configKeys = []string{
	"dependency",
	"timeout",
	"rate_limit.name",
	"rate_limit.max_calls",
	"rate_limit.window",
	"breaker.name",
	"breaker.failure_threshold",
	"breaker.cool_down",
	"retry.max_retries",
	"retry.initial_delay",
	"retry.max_delay",
	"retry.multiplier",
	"retry.jitter_fraction",
	"logging.level",
	"logging.format",
	"logging.output",
	"logging.no_color",
	"logging.timestamp",
	"logging.caller",
}

// Load reads configuration from the resolved file (if any), applies
// environment overrides, then applies defaults and validates.
func Load(opts LoaderOptions) (*Config, error) {
	if envFile := resolveEnvFile(opts.EnvFile); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("loading env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range configKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding env for %s: %w", key, err)
		}
	}

	if configFile := resolveConfigFile(opts.ConfigFile); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func resolveConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, path := range defaultSearchPaths {
		if fileExists(path) {
			return path
		}
	}
	return ""
}

func resolveEnvFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if fileExists(".env") {
		return ".env"
	}
	return ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
