// Package config loads and validates callguard configuration from YAML
// files and environment variables.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tmarkov/callguard/breaker"
	"github.com/tmarkov/callguard/logger"
	"github.com/tmarkov/callguard/ratelimit"
	"github.com/tmarkov/callguard/retry"
)

// Config is the full configuration for one guarded dependency.
type Config struct {
	// Dependency names the guarded dependency.
	Dependency string `yaml:"dependency" mapstructure:"dependency" validate:"required"`

	// Timeout is the default per-call deadline. Zero disables it.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gte=0"`

	RateLimit ratelimit.Config `yaml:"rate_limit" mapstructure:"rate_limit"`
	Breaker   breaker.Config   `yaml:"breaker" mapstructure:"breaker"`
	Retry     retry.Config     `yaml:"retry" mapstructure:"retry"`
	Logging   logger.Config    `yaml:"logging" mapstructure:"logging"`
}

// ApplyDefaults fills zero-value sections with the component defaults.
func (c *Config) ApplyDefaults() {
	if c.Dependency == "" {
		c.Dependency = "default"
	}
	if c.RateLimit.Name == "" {
		c.RateLimit.Name = c.Dependency
	}
	if c.RateLimit.MaxCalls == 0 && c.RateLimit.Window == 0 {
		c.RateLimit = ratelimit.DefaultConfig(c.Dependency)
	}
	if c.Breaker.Name == "" {
		c.Breaker.Name = c.Dependency
	}
	if c.Breaker.FailureThreshold == 0 && c.Breaker.CoolDown == 0 {
		c.Breaker = breaker.DefaultConfig(c.Dependency)
	}
	if c.Retry.MaxRetries == 0 && c.Retry.InitialDelay == 0 {
		c.Retry = retry.DefaultConfig()
	}
	c.Logging.ApplyDefaults()
}

// Validate checks the configuration, including struct tags on the component
// sections.
func (c *Config) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			parts := make([]string, 0, len(verrs))
			for _, e := range verrs {
				parts = append(parts, fmt.Sprintf("%s: failed %q", e.Namespace(), e.Tag()))
			}
			return fmt.Errorf("config validation: %s", strings.Join(parts, "; "))
		}
		return fmt.Errorf("config validation: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	return nil
}

// Build constructs the shared per-dependency components from the config.
// Call it once per dependency; the returned limiter and breaker are the
// instances to share across every executor for that dependency.
func (c *Config) Build() (*ratelimit.Limiter, *breaker.Breaker, *retry.Policy, *logger.Logger) {
	return ratelimit.New(c.RateLimit), breaker.New(c.Breaker), retry.New(c.Retry), logger.New(c.Logging)
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// getValidator returns the singleton validator instance.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}
