package security

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the security policy file. Every knob has a working default, so
// an absent file yields a permissive-but-audited policy.
type Config struct {
	// AllowedTools holds glob patterns; empty means every tool is allowed.
	AllowedTools []string `yaml:"allowed_tools"`
	// DeniedTools holds glob patterns checked after the allow list. Deny wins.
	DeniedTools []string `yaml:"denied_tools"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Sanitize  SanitizeConfig  `yaml:"sanitize"`

	// AuditLog is the JSONL file audit records append to. Empty keeps
	// records on stderr via the logger only.
	AuditLog string `yaml:"audit_log"`
}

// RateLimitConfig bounds per-client tools/call volume.
type RateLimitConfig struct {
	// PerMinute is the sustained request budget. Zero or less disables
	// rate limiting.
	PerMinute int `yaml:"per_minute"`
	// Burst is the bucket depth: how many calls may land back-to-back.
	Burst int `yaml:"burst"`
}

// SanitizeConfig bounds tool argument payloads.
type SanitizeConfig struct {
	MaxArgBytes      int      `yaml:"max_arg_bytes"`
	MaxStringLen     int      `yaml:"max_string_len"`
	MaxDepth         int      `yaml:"max_depth"`
	BannedSubstrings []string `yaml:"banned_substrings"`
}

// DefaultConfig returns the policy used when no file is given.
func DefaultConfig() Config {
	return Config{
		RateLimit: RateLimitConfig{PerMinute: 60, Burst: 10},
		Sanitize: SanitizeConfig{
			MaxArgBytes:  64 * 1024,
			MaxStringLen: 8192,
			MaxDepth:     16,
		},
	}
}

// LoadConfig reads a YAML policy file, filling unset knobs from defaults.
// An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read security config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse security config %s: %w", path, err)
	}

	if cfg.Sanitize.MaxArgBytes <= 0 {
		cfg.Sanitize.MaxArgBytes = 64 * 1024
	}
	if cfg.Sanitize.MaxStringLen <= 0 {
		cfg.Sanitize.MaxStringLen = 8192
	}
	if cfg.Sanitize.MaxDepth <= 0 {
		cfg.Sanitize.MaxDepth = 16
	}
	if cfg.RateLimit.Burst <= 0 && cfg.RateLimit.PerMinute > 0 {
		cfg.RateLimit.Burst = 1
	}
	return cfg, nil
}
