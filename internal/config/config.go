// Package config loads and validates the RANTS gateway configuration.
package config

import (
	"fmt"
	"strings"
)

// ServerConfig controls the HTTP bind address.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LimitsConfig bounds the orchestrator loop and tool output sizes.
type LimitsConfig struct {
	MaxToolIterations  int    `yaml:"max_tool_iterations"`
	MaxWallclockSecs   int    `yaml:"max_wallclock_seconds"`
	WorkspaceRoot      string `yaml:"workspace_root"`
	ToolOutputMaxBytes int    `yaml:"tool_output_max_bytes"`
	WebfetchMaxBytes   int    `yaml:"webfetch_max_bytes"`
	MaxIntentLineBytes int    `yaml:"max_intent_line_bytes"`
	ToolWorkers        int    `yaml:"tool_workers"`
}

// VirtualModelConfig describes the single model id the gateway advertises.
// MaxIterations tightens limits.max_tool_iterations when it is smaller;
// the lower of the two bounds the loop.
type VirtualModelConfig struct {
	Name          string `yaml:"name"`
	MaxIterations int    `yaml:"max_iterations"`
	MaxDepth      int    `yaml:"max_depth"`
}

// RLMConfig groups virtual model settings.
type RLMConfig struct {
	RantsOne VirtualModelConfig `yaml:"rants_one"`
}

// ModelEndpointConfig routes one upstream backend.
type ModelEndpointConfig struct {
	Provider     string             `yaml:"provider"`
	BaseURL      string             `yaml:"base_url"`
	Model        string             `yaml:"model"`
	APIKey       string             `yaml:"api_key"`
	Capabilities []string           `yaml:"capabilities"`
	Parameters   map[string]float64 `yaml:"parameters"`
}

// HasCapability reports whether the endpoint declares the capability.
func (m ModelEndpointConfig) HasCapability(name string) bool {
	for _, c := range m.Capabilities {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// ModelsConfig names the cooperating backends. Vision is optional.
type ModelsConfig struct {
	Generator    ModelEndpointConfig `yaml:"generator"`
	ToolCompiler ModelEndpointConfig `yaml:"tool_compiler"`
	Vision       ModelEndpointConfig `yaml:"vision"`
}

// APIKeyEntry maps one bearer key to a tenant.
type APIKeyEntry struct {
	Key      string `yaml:"key"`
	TenantID string `yaml:"tenant_id"`
	Name     string `yaml:"name"`
}

// AuthConfig controls bearer-token authentication.
type AuthConfig struct {
	Enabled bool          `yaml:"enabled"`
	APIKeys []APIKeyEntry `yaml:"api_keys"`
}

// RateLimitsConfig controls the per-tenant token bucket.
type RateLimitsConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// ResilienceConfig controls upstream timeouts and retries.
type ResilienceConfig struct {
	RequestTimeoutSecs int     `yaml:"request_timeout_seconds"`
	MaxRetries         int     `yaml:"max_retries"`
	BackoffSeconds     float64 `yaml:"backoff_seconds"`
}

// StateConfig locates the embedded SQLite database.
type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// Config is the root configuration document.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Limits     LimitsConfig     `yaml:"limits"`
	RLM        RLMConfig        `yaml:"rlm"`
	Models     ModelsConfig     `yaml:"models"`
	Auth       AuthConfig       `yaml:"auth"`
	RateLimits RateLimitsConfig `yaml:"rate_limits"`
	Resilience ResilienceConfig `yaml:"resilience"`
	State      StateConfig      `yaml:"state"`
}

// Default returns the built-in configuration, matching the documented
// defaults of the gateway.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8000},
		Limits: LimitsConfig{
			MaxToolIterations:  6,
			MaxWallclockSecs:   120,
			WorkspaceRoot:      "/work",
			ToolOutputMaxBytes: 16384,
			WebfetchMaxBytes:   5 * 1024 * 1024,
			MaxIntentLineBytes: 512,
			ToolWorkers:        8,
		},
		RLM: RLMConfig{
			RantsOne: VirtualModelConfig{
				Name:          "rants_one",
				MaxIterations: 10,
				MaxDepth:      2,
			},
		},
		RateLimits: RateLimitsConfig{
			Enabled:           false,
			RequestsPerMinute: 60,
			Burst:             10,
		},
		Resilience: ResilienceConfig{
			RequestTimeoutSecs: 120,
			MaxRetries:         2,
			BackoffSeconds:     0.5,
		},
		State: StateConfig{SQLitePath: "/work/rants.sqlite"},
	}
}

// Validate checks the invariants the rest of the gateway relies on.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Limits.MaxToolIterations <= 0 {
		return fmt.Errorf("limits.max_tool_iterations must be positive")
	}
	if c.Limits.MaxWallclockSecs <= 0 {
		return fmt.Errorf("limits.max_wallclock_seconds must be positive")
	}
	if strings.TrimSpace(c.Limits.WorkspaceRoot) == "" {
		return fmt.Errorf("limits.workspace_root is required")
	}
	if c.RLM.RantsOne.Name == "" {
		return fmt.Errorf("rlm.rants_one.name is required")
	}
	if c.RLM.RantsOne.MaxDepth < 0 {
		return fmt.Errorf("rlm.rants_one.max_depth must be >= 0")
	}
	if c.Models.Generator.BaseURL == "" {
		return fmt.Errorf("models.generator.base_url is required")
	}
	if c.Models.ToolCompiler.BaseURL == "" {
		return fmt.Errorf("models.tool_compiler.base_url is required")
	}
	if c.Auth.Enabled && len(c.Auth.APIKeys) == 0 {
		return fmt.Errorf("auth.enabled requires at least one api key")
	}
	for i, entry := range c.Auth.APIKeys {
		if entry.Key == "" || entry.TenantID == "" {
			return fmt.Errorf("auth.api_keys[%d] requires key and tenant_id", i)
		}
	}
	return nil
}
