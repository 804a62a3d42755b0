package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
models:
  generator:
    base_url: http://gen.local/v1
    model: gen-model
  tool_compiler:
    base_url: http://compiler.local/v1
    model: compiler-model
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 6, cfg.Limits.MaxToolIterations)
	assert.Equal(t, 120, cfg.Limits.MaxWallclockSecs)
	assert.Equal(t, 16384, cfg.Limits.ToolOutputMaxBytes)
	assert.Equal(t, "rants_one", cfg.RLM.RantsOne.Name)
	assert.Equal(t, 2, cfg.RLM.RantsOne.MaxDepth)
	assert.Equal(t, "http://gen.local/v1", cfg.Models.Generator.BaseURL)
}

func TestLoad_UnknownKeyFails(t *testing.T) {
	_, err := Load(writeConfig(t, minimalYAML+"\nbogus_section:\n  x: 1\n"))
	require.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RANTS_SERVER__PORT", "9999")
	t.Setenv("RANTS_RATE_LIMITS__ENABLED", "true")
	t.Setenv("RANTS_RATE_LIMITS__REQUESTS_PER_MINUTE", "120")
	t.Setenv("RANTS_AUTH__ENABLED", "true")
	t.Setenv("RANTS_AUTH__API_KEYS__0__KEY", "sk-test")
	t.Setenv("RANTS_AUTH__API_KEYS__0__TENANT_ID", "acme")

	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.True(t, cfg.RateLimits.Enabled)
	assert.Equal(t, 120, cfg.RateLimits.RequestsPerMinute)
	require.Len(t, cfg.Auth.APIKeys, 1)
	assert.Equal(t, "sk-test", cfg.Auth.APIKeys[0].Key)
	assert.Equal(t, "acme", cfg.Auth.APIKeys[0].TenantID)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("RANTS_MODELS__GENERATOR__BASE_URL", "http://gen.local/v1")
	t.Setenv("RANTS_MODELS__TOOL_COMPILER__BASE_URL", "http://tc.local/v1")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "http://gen.local/v1", cfg.Models.Generator.BaseURL)
}

func TestLoad_Include(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	require.NoError(t, os.WriteFile(base, []byte("server:\n  port: 8111\n"), 0o600))
	main := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(main, []byte(`"$include": base.yaml`+"\n"+minimalYAML), 0o600))

	cfg, err := Load(main)
	require.NoError(t, err)
	assert.Equal(t, 8111, cfg.Server.Port)
}

func TestValidate_Bounds(t *testing.T) {
	cfg := Default()
	cfg.Models.Generator.BaseURL = "http://gen"
	cfg.Models.ToolCompiler.BaseURL = "http://tc"
	require.NoError(t, cfg.Validate())

	cfg.Limits.MaxToolIterations = 0
	require.Error(t, cfg.Validate())
}
