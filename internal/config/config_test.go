package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeDefaults(t *testing.T) {
	require.NoError(t, Initialize(""))

	assert.Equal(t, 3, GetInt(KeyMaxRetries))
	assert.Equal(t, 1000, GetInt(KeyBaseDelayMS))
	assert.Equal(t, 0.3, GetFloat64(KeyJitterFactor))
	assert.Equal(t, "newest-wins", GetString(KeySyncStrategy))
	assert.Equal(t, 168*time.Hour, GetDuration(KeyPRApprovalTimeout))
	assert.Equal(t, 5*time.Minute, GetDuration(KeyReconciliationInterval))
	assert.Equal(t, time.Minute, GetDuration(KeyAssignmentInterval))
	assert.Equal(t, "info", GetString(KeyLogLevel))
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("TODO_MAX_RETRIES", "7")
	t.Setenv("TODO_SYNC_STRATEGY", "github-wins")

	require.NoError(t, Initialize(""))
	assert.Equal(t, 7, GetInt(KeyMaxRetries))
	assert.Equal(t, "github-wins", GetString(KeySyncStrategy))
}

func TestConfigFileAndConventions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
max_retries: 5
sync_strategy: local-wins
pr_approval_timeout: 48h
conventions:
  type_map:
    feature: feat
  in_progress_label: "wip"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	require.NoError(t, Initialize(path))

	assert.Equal(t, 5, GetInt(KeyMaxRetries))
	assert.Equal(t, 48*time.Hour, GetDuration(KeyPRApprovalTimeout))

	overrides, err := ConventionOverrides()
	require.NoError(t, err)
	assert.Equal(t, "feat", overrides.TypeMap["feature"])
	assert.Equal(t, "wip", overrides.InProgressLabel)

	codec, err := Codec()
	require.NoError(t, err)
	assert.Equal(t, "wip", codec.Conventions().InProgressLabel)
	// Unoverridden keys keep defaults.
	assert.Equal(t, "---", codec.Conventions().Separator)
}

func TestRetryConfigAssembly(t *testing.T) {
	require.NoError(t, Initialize(""))
	Set(KeyBaseDelayMS, 250)
	Set(KeyMaxDelayMS, 4000)

	cfg := RetryConfig()
	assert.Equal(t, 250*time.Millisecond, cfg.BaseDelay)
	assert.Equal(t, 4*time.Second, cfg.MaxDelay)
	assert.Equal(t, 3, cfg.MaxRetries)
}

func TestGettersNilSafe(t *testing.T) {
	mu.Lock()
	saved := v
	v = nil
	mu.Unlock()
	defer func() {
		mu.Lock()
		v = saved
		mu.Unlock()
	}()

	assert.Empty(t, GetString(KeyDB))
	assert.Zero(t, GetInt(KeyMaxRetries))
	assert.Nil(t, GetStringSlice(KeyAgentExecuteCommand))
	assert.Zero(t, GetDuration(KeyPRApprovalTimeout))
}
