package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if CLANTALLY_CONFIG is set
//  3. env (prefix CLANTALLY_)
func Load(ctx context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv("CLANTALLY_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
		}
	}

	// Environment variables: CLANTALLY_ADDR, CLANTALLY_PAGE_SIZE, ...
	// Map env keys like CLANTALLY_PAGE_SIZE -> page_size (flat keys).
	envProvider := env.Provider("CLANTALLY_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "clantally_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.PageSize < 1:
		return fmt.Errorf("%w: page_size must be positive", ErrInvalidConfig)
	case c.MaxPages < 1:
		return fmt.Errorf("%w: max_pages must be positive", ErrInvalidConfig)
	case c.FanoutConcurrency < 1:
		return fmt.Errorf("%w: fanout_concurrency must be positive", ErrInvalidConfig)
	case c.RetryCount < 0:
		return fmt.Errorf("%w: retry_count must not be negative", ErrInvalidConfig)
	case c.MaxJobAttempts < 0:
		return fmt.Errorf("%w: max_job_attempts must not be negative", ErrInvalidConfig)
	}
	return nil
}
