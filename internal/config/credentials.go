package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// CredentialSource represents where credentials come from
type CredentialSource string

const (
	CredentialSourceNone        CredentialSource = "none"
	CredentialSourceEnvironment CredentialSource = "environment"
	CredentialSourceConfig      CredentialSource = "config"
	CredentialSourceIAMRole     CredentialSource = "iam-role"
)

// AWSCredentials holds AWS credential information
type AWSCredentials struct {
	AccessKeyID     string
	SecretAccessKey string
	Source          CredentialSource
}

// GetAWSCredentials retrieves AWS credentials from the most secure available source
func GetAWSCredentials(s3Config *S3Config) (*AWSCredentials, error) {
	// Priority order (most secure to least secure):
	// 1. IAM Role (no credentials needed)
	// 2. Environment variables
	// 3. Config file (deprecated, will warn)

	if os.Getenv("AWS_CONTAINER_CREDENTIALS_RELATIVE_URI") != "" ||
		os.Getenv("AWS_CONTAINER_CREDENTIALS_FULL_URI") != "" ||
		os.Getenv("AWS_EXECUTION_ENV") != "" {
		return &AWSCredentials{
			Source: CredentialSourceIAMRole,
		}, nil
	}

	accessKey := os.Getenv("AWS_ACCESS_KEY_ID")
	secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY")

	if accessKey != "" && secretKey != "" {
		return &AWSCredentials{
			AccessKeyID:     accessKey,
			SecretAccessKey: secretKey,
			Source:          CredentialSourceEnvironment,
		}, nil
	}

	if s3Config.AccessKeyID != "" && s3Config.SecretKey != "" {
		logrus.Warn("AWS credentials found in config file, use environment variables or IAM roles instead")
		return &AWSCredentials{
			AccessKeyID:     s3Config.AccessKeyID,
			SecretAccessKey: s3Config.SecretKey,
			Source:          CredentialSourceConfig,
		}, nil
	}

	// No credentials found - AWS SDK will try default credential chain
	return &AWSCredentials{
		Source: CredentialSourceNone,
	}, nil
}

// SanitizeConfig removes sensitive information from config for logging
func SanitizeConfig(cfg *Config) Config {
	sanitized := *cfg

	for _, sc := range []*StoreConfig{&sanitized.Storage.Local, &sanitized.Storage.Sync} {
		if sc.S3.AccessKeyID != "" {
			sc.S3.AccessKeyID = "***REDACTED***"
		}
		if sc.S3.SecretKey != "" {
			sc.S3.SecretKey = "***REDACTED***"
		}
		if sc.Redis.Password != "" {
			sc.Redis.Password = "***REDACTED***"
		}
	}

	return sanitized
}

// ValidateCredentialSecurity checks if credentials are stored securely
func ValidateCredentialSecurity(cfg *Config) []string {
	var warnings []string

	for scope, sc := range map[string]StoreConfig{"local": cfg.Storage.Local, "sync": cfg.Storage.Sync} {
		if sc.S3.AccessKeyID != "" || sc.S3.SecretKey != "" {
			warnings = append(warnings, fmt.Sprintf("AWS credentials for %s storage found in configuration file - consider using environment variables or IAM roles", scope))
		}
		if sc.Redis.Password != "" {
			warnings = append(warnings, fmt.Sprintf("Redis password for %s storage found in configuration file", scope))
		}
	}

	if cfg.Client.InsecureSkipVerify {
		warnings = append(warnings, "TLS verification of AdGuard Home servers is disabled")
	}

	if cfg.Agent.APIAddress != "127.0.0.1" && cfg.Agent.APIAddress != "localhost" {
		warnings = append(warnings, fmt.Sprintf("Control API listens on %s, not loopback", cfg.Agent.APIAddress))
	}

	if cfg.Agent.LogLevel == "debug" {
		warnings = append(warnings, "Running in debug mode - request details may be exposed in logs")
	}

	configPath := os.Getenv("ADGMANAGER_CONFIG")
	if configPath != "" && (strings.Contains(configPath, "key") || strings.Contains(configPath, "secret")) {
		warnings = append(warnings, "Config file path contains potential credentials")
	}

	for _, warning := range warnings {
		logrus.Warn(fmt.Sprintf("SECURITY: %s", warning))
	}

	return warnings
}
