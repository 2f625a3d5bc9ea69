// ABOUTME: Scenario configuration loading for the parley-probe websocket client
// ABOUTME: Loads TOML config with environment variable expansion

package main

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Gateway  GatewayConfig  `toml:"gateway"`
	Identity IdentityConfig `toml:"identity"`
	Steps    []Step         `toml:"step"`
}

type GatewayConfig struct {
	URL string `toml:"url"`
}

type IdentityConfig struct {
	UserID   string `toml:"user_id"`
	ExpertID string `toml:"expert_id"`
}

// Step is one scripted action after the connection is up. Exactly one of
// Join or Event should be set; Data is the raw JSON payload for Event.
type Step struct {
	Join  string `toml:"join"`
	Event string `toml:"event"`
	Data  string `toml:"data"`
	Delay string `toml:"delay"`
}

// Wait returns the parsed delay to apply before the step runs.
func (s Step) Wait() (time.Duration, error) {
	if s.Delay == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.Delay)
	if err != nil {
		return 0, fmt.Errorf("parsing step delay %q: %w", s.Delay, err)
	}
	return d, nil
}

// Load reads config from the given path, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables (${VAR} syntax)
	expanded := expandEnvVars(string(data))

	var cfg Config
	if _, err := toml.Decode(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	u, err := url.Parse(c.Gateway.URL)
	if err != nil {
		return fmt.Errorf("gateway.url is not a valid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("gateway.url must use ws or wss scheme")
	}
	for i, step := range c.Steps {
		if step.Join == "" && step.Event == "" {
			return fmt.Errorf("step %d: either join or event is required", i+1)
		}
		if step.Join != "" && step.Event != "" {
			return fmt.Errorf("step %d: join and event are mutually exclusive", i+1)
		}
		if _, err := step.Wait(); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}
