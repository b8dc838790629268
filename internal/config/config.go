// Package config loads runtime configuration through a viper singleton:
// defaults, then an optional config.yaml, then TODO_* environment
// variables, highest last.
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/dot-do/todo/internal/convention"
	"github.com/dot-do/todo/internal/log"
	"github.com/dot-do/todo/internal/retry"
)

// Configuration keys.
const (
	KeyDB        = "db"
	KeyLogLevel  = "log_level"
	KeyLogFormat = "log_format"

	KeyMaxRetries   = "max_retries"
	KeyBaseDelayMS  = "base_delay_ms"
	KeyMaxDelayMS   = "max_delay_ms"
	KeyJitterFactor = "jitter_factor"

	KeySyncStrategy           = "sync_strategy"
	KeyPRApprovalTimeout      = "pr_approval_timeout"
	KeyReconciliationInterval = "reconciliation_interval"
	KeyAssignmentInterval     = "assignment_interval"
	KeyBaseBranch             = "base_branch"

	KeyWebhookAddr   = "webhook_addr"
	KeyWebhookSecret = "webhook_secret"

	KeyAgentExecuteCommand = "agent.execute_command"
	KeyAgentReviewCommand  = "agent.review_command"

	KeyGitHubToken          = "github.token"
	KeyGitHubAppID          = "github.app_id"
	KeyGitHubPrivateKeyPath = "github.private_key_path"
	KeyGitHubBaseURL        = "github.base_url"
)

var (
	mu sync.RWMutex
	v  *viper.Viper
)

// Initialize builds the viper singleton. An empty configPath searches
// the working directory and ~/.todo for config.yaml; a missing file is
// not an error, only an unreadable one is.
func Initialize(configPath string) error {
	nv := viper.New()

	nv.SetDefault(KeyDB, "todo.db")
	nv.SetDefault(KeyLogLevel, "info")
	nv.SetDefault(KeyLogFormat, "text")

	nv.SetDefault(KeyMaxRetries, 3)
	nv.SetDefault(KeyBaseDelayMS, 1000)
	nv.SetDefault(KeyMaxDelayMS, 30000)
	nv.SetDefault(KeyJitterFactor, 0.3)

	nv.SetDefault(KeySyncStrategy, "newest-wins")
	nv.SetDefault(KeyPRApprovalTimeout, "168h")
	nv.SetDefault(KeyReconciliationInterval, "5m")
	nv.SetDefault(KeyAssignmentInterval, "1m")
	nv.SetDefault(KeyBaseBranch, "main")

	nv.SetDefault(KeyWebhookAddr, ":8080")
	nv.SetDefault(KeyGitHubBaseURL, "")

	nv.SetEnvPrefix("TODO")
	nv.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	nv.AutomaticEnv()

	if configPath != "" {
		nv.SetConfigFile(configPath)
		if err := nv.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", configPath, err)
		}
	} else {
		nv.SetConfigName("config")
		nv.SetConfigType("yaml")
		nv.AddConfigPath(".")
		nv.AddConfigPath("$HOME/.todo")
		if err := nv.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	mu.Lock()
	v = nv
	mu.Unlock()
	return nil
}

// GetString returns a string value, empty when uninitialized.
func GetString(key string) string {
	mu.RLock()
	defer mu.RUnlock()
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetInt returns an int value, zero when uninitialized.
func GetInt(key string) int {
	mu.RLock()
	defer mu.RUnlock()
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetFloat64 returns a float value, zero when uninitialized.
func GetFloat64(key string) float64 {
	mu.RLock()
	defer mu.RUnlock()
	if v == nil {
		return 0
	}
	return v.GetFloat64(key)
}

// GetStringSlice returns a string slice value, nil when uninitialized.
func GetStringSlice(key string) []string {
	mu.RLock()
	defer mu.RUnlock()
	if v == nil {
		return nil
	}
	return v.GetStringSlice(key)
}

// GetDuration returns a duration value, zero when uninitialized.
func GetDuration(key string) time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set overrides a value in the singleton. Used by CLI flags and tests.
func Set(key string, value interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if v != nil {
		v.Set(key, value)
	}
}

// RetryConfig assembles the retry settings.
func RetryConfig() retry.Config {
	return retry.Config{
		MaxRetries:   GetInt(KeyMaxRetries),
		BaseDelay:    time.Duration(GetInt(KeyBaseDelayMS)) * time.Millisecond,
		MaxDelay:     time.Duration(GetInt(KeyMaxDelayMS)) * time.Millisecond,
		JitterFactor: GetFloat64(KeyJitterFactor),
	}
}

// LogConfig assembles the logging settings.
func LogConfig() *log.Config {
	cfg := log.DefaultConfig()
	cfg.Level = GetString(KeyLogLevel)
	cfg.Format = log.Format(GetString(KeyLogFormat))
	return cfg
}

// ConventionOverrides unmarshals the conventions block, if present.
func ConventionOverrides() (convention.Overrides, error) {
	var overrides convention.Overrides
	mu.RLock()
	defer mu.RUnlock()
	if v == nil {
		return overrides, nil
	}
	if err := v.UnmarshalKey("conventions", &overrides); err != nil {
		return overrides, fmt.Errorf("invalid conventions config: %w", err)
	}
	return overrides, nil
}

// Codec builds the convention codec from defaults plus any configured
// overrides.
func Codec() (*convention.Codec, error) {
	overrides, err := ConventionOverrides()
	if err != nil {
		return nil, err
	}
	return convention.NewCodec(convention.Default().Merge(overrides))
}
