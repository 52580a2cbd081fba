package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg := Default()
		assert.Equal(t, 60*time.Second, cfg.Polling.Interval)
		assert.True(t, cfg.Polling.AutoRefresh)
		assert.Equal(t, 2, cfg.Retry.MaxRetries)
		assert.Equal(t, time.Second, cfg.Retry.Delay)
		assert.Equal(t, BackendSQLite, cfg.Storage.Local.Backend)
		assert.Equal(t, BackendFile, cfg.Storage.Sync.Backend)
		require.NoError(t, ValidateConfig(cfg))
	})

	t.Run("FileOverridesDefaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		data := []byte(`
agent:
  logLevel: debug
  apiPort: 6000
  dataDir: /var/lib/adgmanager
storage:
  sync:
    backend: redis
    redis:
      addr: 127.0.0.1:6379
retry:
  delay: 250ms
`)
		require.NoError(t, os.WriteFile(path, data, 0600))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Agent.LogLevel)
		assert.Equal(t, 6000, cfg.Agent.APIPort)
		assert.Equal(t, "/var/lib/adgmanager", cfg.Agent.DataDir)
		assert.Equal(t, BackendRedis, cfg.Storage.Sync.Backend)
		assert.Equal(t, "adgmanager:", cfg.Storage.Sync.Redis.KeyPrefix, "unset nested fields keep defaults")
		assert.Equal(t, 250*time.Millisecond, cfg.Retry.Delay)
		assert.Equal(t, 2, cfg.Retry.MaxRetries)
		require.NoError(t, ValidateConfig(cfg))
	})

	t.Run("EnvOverridesLogLevel", func(t *testing.T) {
		t.Setenv("ADGMANAGER_LOG_LEVEL", "warn")
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("agent:\n  logLevel: debug\n"), 0600))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "warn", cfg.Agent.LogLevel)
	})

	t.Run("InvalidYAML", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("agent: [unclosed"), 0600))

		_, err := LoadConfig(path)
		assert.Error(t, err)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"BadPort", func(c *Config) { c.Agent.APIPort = 70000 }},
		{"BadLogLevel", func(c *Config) { c.Agent.LogLevel = "loud" }},
		{"UnknownBackend", func(c *Config) { c.Storage.Local.Backend = "etcd" }},
		{"SQLiteWithoutPath", func(c *Config) { c.Storage.Local.Path = "" }},
		{"RedisWithoutAddr", func(c *Config) { c.Storage.Sync.Backend = BackendRedis }},
		{"S3WithoutRegion", func(c *Config) {
			c.Storage.Sync.Backend = BackendS3
			c.Storage.Sync.S3.Bucket = "prefs"
		}},
		{"NegativeRetries", func(c *Config) { c.Retry.MaxRetries = -1 }},
		{"ZeroTimeout", func(c *Config) { c.Client.Timeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, ValidateConfig(cfg))
		})
	}
}

func TestSanitizeConfig(t *testing.T) {
	cfg := Default()
	cfg.Storage.Sync.Backend = BackendS3
	cfg.Storage.Sync.S3.AccessKeyID = "AKIAEXAMPLE"
	cfg.Storage.Sync.S3.SecretKey = "supersecret"
	cfg.Storage.Local.Redis.Password = "hunter2"

	sanitized := SanitizeConfig(cfg)
	assert.Equal(t, "***REDACTED***", sanitized.Storage.Sync.S3.AccessKeyID)
	assert.Equal(t, "***REDACTED***", sanitized.Storage.Sync.S3.SecretKey)
	assert.Equal(t, "***REDACTED***", sanitized.Storage.Local.Redis.Password)
	assert.Equal(t, "supersecret", cfg.Storage.Sync.S3.SecretKey, "original untouched")

	logged := SanitizeConfigForLogging(cfg)
	storage := logged["storage"].(map[string]interface{})
	sync := storage["sync"].(map[string]interface{})
	assert.Equal(t, "[CONFIGURED]", sync["credentials"])
	assert.NotContains(t, sync, "secretKey")
}

func TestValidateCredentialSecurity(t *testing.T) {
	cfg := Default()
	assert.Empty(t, ValidateCredentialSecurity(cfg))

	cfg.Client.InsecureSkipVerify = true
	cfg.Storage.Sync.Redis.Password = "pw"
	assert.Len(t, ValidateCredentialSecurity(cfg), 2)
}

func TestGetAWSCredentials(t *testing.T) {
	t.Setenv("AWS_CONTAINER_CREDENTIALS_RELATIVE_URI", "")
	t.Setenv("AWS_CONTAINER_CREDENTIALS_FULL_URI", "")
	t.Setenv("AWS_EXECUTION_ENV", "")
	t.Setenv("AWS_ACCESS_KEY_ID", "")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "")

	creds, err := GetAWSCredentials(&S3Config{})
	require.NoError(t, err)
	assert.Equal(t, CredentialSourceNone, creds.Source)

	creds, err = GetAWSCredentials(&S3Config{AccessKeyID: "a", SecretKey: "b"})
	require.NoError(t, err)
	assert.Equal(t, CredentialSourceConfig, creds.Source)

	t.Setenv("AWS_ACCESS_KEY_ID", "envkey")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "envsecret")
	creds, err = GetAWSCredentials(&S3Config{AccessKeyID: "a", SecretKey: "b"})
	require.NoError(t, err)
	assert.Equal(t, CredentialSourceEnvironment, creds.Source)
	assert.Equal(t, "envkey", creds.AccessKeyID)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".adgmanager"), ExpandHome("~/.adgmanager"))
	assert.Equal(t, "/etc/adgmanager", ExpandHome("/etc/adgmanager"))
}
