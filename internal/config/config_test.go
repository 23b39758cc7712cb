package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8099", cfg.Server.Listen)
	assert.True(t, cfg.Supervisor.SandboxMode)
	assert.Equal(t, "5m", cfg.Providers.GitHub.PollInterval)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refinery.yaml")
	data := []byte("server:\n  listen: \":9000\"\nproviders:\n  github:\n    enabled: true\n    owner: acme\n    repo: widgets\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Listen)
	assert.True(t, cfg.Providers.GitHub.Enabled)
	assert.Equal(t, "acme", cfg.Providers.GitHub.Owner)
	// Untouched sections keep their defaults.
	assert.Equal(t, "https://api.github.com", cfg.Providers.GitHub.BaseURL)
	assert.Equal(t, "anthropic", cfg.Triage.Provider)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refinery.yaml")
	require.NoError(t, os.WriteFile(path, []byte("providers:\n  github:\n    token: from-file\n"), 0o644))
	t.Setenv("GITHUB_TOKEN", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Providers.GitHub.Token)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "refinery.yaml")
	cfg := DefaultConfig()
	cfg.Workspace.Root = "/srv/project"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/project", loaded.Workspace.Root)
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 5*time.Minute, ParseDuration("5m", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("garbage", time.Minute))
}
