package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesConfigurationKeyTable(t *testing.T) {
	cfg := Default()
	assert.Equal(t, int64(60000), cfg.DefaultTimeoutMs)
	assert.Equal(t, int64(300000), cfg.MaxTimeoutMs)
	assert.Equal(t, 30, cfg.LockMaxRetries)
	assert.Equal(t, 5, cfg.RetryMaxAttemptsAT)
	assert.Equal(t, 3, cfg.RetryMaxAttemptsHTTP)
	assert.True(t, cfg.FailoverEnabled)
	assert.Equal(t, ":8092", cfg.AdminAddr)
}

func TestLoadFileMissingPathLeavesDefaultsUntouched(t *testing.T) {
	cfg := Default()
	require.NoError(t, LoadFile(cfg, filepath.Join(t.TempDir(), "does-not-exist.toml")))
	assert.Equal(t, Default().ServerPort, cfg.ServerPort)
}

func TestLoadFileEmptyPathIsNoop(t *testing.T) {
	cfg := Default()
	require.NoError(t, LoadFile(cfg, ""))
	assert.Equal(t, Default().ServerAddress, cfg.ServerAddress)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "galaxytx.toml")
	contents := `
tc_server_address = "10.0.0.5"
tc_server_port = 9191
rate_limit = 500
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg := Default()
	require.NoError(t, LoadFile(cfg, path))
	assert.Equal(t, "10.0.0.5", cfg.ServerAddress)
	assert.Equal(t, 9191, cfg.ServerPort)
	assert.Equal(t, 500, cfg.RateLimit)
	// Fields absent from the file are untouched.
	assert.Equal(t, Default().BusinessDSN, cfg.BusinessDSN)
}

func TestGetEnvFallsBackToDefault(t *testing.T) {
	os.Unsetenv("GALAXYTX_TEST_KEY")
	assert.Equal(t, "fallback", getEnv("GALAXYTX_TEST_KEY", "fallback"))

	t.Setenv("GALAXYTX_TEST_KEY", "from-env")
	assert.Equal(t, "from-env", getEnv("GALAXYTX_TEST_KEY", "fallback"))
}

func TestGetEnvIntFallsBackOnMissingOrInvalidValue(t *testing.T) {
	os.Unsetenv("GALAXYTX_TEST_INT")
	assert.Equal(t, 42, getEnvInt("GALAXYTX_TEST_INT", 42))

	t.Setenv("GALAXYTX_TEST_INT", "not-a-number")
	assert.Equal(t, 42, getEnvInt("GALAXYTX_TEST_INT", 42))

	t.Setenv("GALAXYTX_TEST_INT", "99")
	assert.Equal(t, 99, getEnvInt("GALAXYTX_TEST_INT", 42))
}
