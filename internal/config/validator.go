package config

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// SanitizeConfigForLogging returns a sanitized version of the config for logging
func SanitizeConfigForLogging(cfg *Config) map[string]interface{} {
	sanitized := make(map[string]interface{})

	agent := make(map[string]interface{})
	agent["log_level"] = cfg.Agent.LogLevel
	agent["api_listen"] = cfg.APIListenAddr()
	agent["data_dir"] = cfg.Agent.DataDir
	sanitized["agent"] = agent

	sanitized["storage"] = map[string]interface{}{
		"local": sanitizeStore(cfg.Storage.Local),
		"sync":  sanitizeStore(cfg.Storage.Sync),
	}

	sanitized["client"] = map[string]interface{}{
		"timeout":              cfg.Client.Timeout,
		"insecure_skip_verify": cfg.Client.InsecureSkipVerify,
	}

	sanitized["polling"] = map[string]interface{}{
		"interval":     cfg.Polling.Interval,
		"auto_refresh": cfg.Polling.AutoRefresh,
	}

	sanitized["retry"] = map[string]interface{}{
		"max_retries": cfg.Retry.MaxRetries,
		"delay":       cfg.Retry.Delay,
	}

	if cfg.Audit.Enabled {
		sanitized["audit_dir"] = cfg.Audit.Dir
	}

	return sanitized
}

func sanitizeStore(sc StoreConfig) map[string]interface{} {
	out := map[string]interface{}{"backend": sc.Backend}
	switch sc.Backend {
	case BackendFile, BackendSQLite:
		out["path"] = sc.Path
	case BackendRedis:
		out["addr"] = sc.Redis.Addr
		out["db"] = sc.Redis.DB
		if sc.Redis.Password != "" {
			out["password"] = "[REDACTED]"
		}
	case BackendS3:
		out["bucket"] = sc.S3.Bucket
		out["region"] = sc.S3.Region
		out["prefix"] = sc.S3.Prefix
		// Explicitly not including AccessKeyID or SecretKey
		if sc.S3.AccessKeyID != "" {
			out["credentials"] = "[CONFIGURED]"
		}
	}
	return out
}

// ValidateConfig performs basic configuration validation
func ValidateConfig(cfg *Config) error {
	if cfg.Agent.APIPort <= 0 || cfg.Agent.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Agent.APIPort)
	}

	if _, err := logrus.ParseLevel(cfg.Agent.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", cfg.Agent.LogLevel)
	}

	if err := validateStore("local", cfg.Storage.Local); err != nil {
		return err
	}
	if err := validateStore("sync", cfg.Storage.Sync); err != nil {
		return err
	}

	if cfg.Polling.Interval < 0 {
		return fmt.Errorf("invalid polling interval: %s", cfg.Polling.Interval)
	}

	if cfg.Retry.MaxRetries < 0 {
		return fmt.Errorf("invalid max retries: %d", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.Delay < 0 {
		return fmt.Errorf("invalid retry delay: %s", cfg.Retry.Delay)
	}

	if cfg.Client.Timeout <= 0 {
		return fmt.Errorf("invalid client timeout: %s", cfg.Client.Timeout)
	}

	if cfg.Probe.Port <= 0 || cfg.Probe.Port > 65535 {
		return fmt.Errorf("invalid probe port: %d", cfg.Probe.Port)
	}

	return nil
}

func validateStore(scope string, sc StoreConfig) error {
	switch strings.ToLower(sc.Backend) {
	case BackendMemory:
		return nil
	case BackendFile, BackendSQLite:
		if sc.Path == "" {
			return fmt.Errorf("%s storage: %s backend requires a path", scope, sc.Backend)
		}
	case BackendRedis:
		if sc.Redis.Addr == "" {
			return fmt.Errorf("%s storage: redis backend requires an address", scope)
		}
	case BackendS3:
		if sc.S3.Bucket == "" {
			return fmt.Errorf("%s storage: s3 backend requires a bucket", scope)
		}
		if sc.S3.Region == "" {
			return fmt.Errorf("%s storage: S3 bucket configured but region not specified", scope)
		}
	default:
		return fmt.Errorf("%s storage: unknown backend %q", scope, sc.Backend)
	}
	return nil
}
