// Package config defines configuration structures and loading logic for adgmanager.
// It supports YAML configuration files with validation and sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"adgmanager/internal/utils"

	"gopkg.in/yaml.v3"
)

const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendS3     = "s3"
)

type Config struct {
	Agent   AgentConfig   `yaml:"agent"`
	Storage StorageConfig `yaml:"storage"`
	Client  ClientConfig  `yaml:"client"`
	Polling PollingConfig `yaml:"polling"`
	Retry   RetryConfig   `yaml:"retry"`
	Probe   ProbeConfig   `yaml:"probe"`
	Audit   AuditConfig   `yaml:"audit"`
}

type AgentConfig struct {
	LogLevel   string `yaml:"logLevel"`
	APIAddress string `yaml:"apiAddress"`
	APIPort    int    `yaml:"apiPort"`
	DataDir    string `yaml:"dataDir"`
	TokenPath  string `yaml:"tokenPath"`
}

// StorageConfig selects a backend for each scope
type StorageConfig struct {
	Local StoreConfig `yaml:"local"`
	Sync  StoreConfig `yaml:"sync"`
}

type StoreConfig struct {
	Backend string      `yaml:"backend"`
	Path    string      `yaml:"path,omitempty"`
	Redis   RedisConfig `yaml:"redis,omitempty"`
	S3      S3Config    `yaml:"s3,omitempty"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Username  string `yaml:"username,omitempty"`
	Password  string `yaml:"password,omitempty"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"keyPrefix"`
}

type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Prefix       string `yaml:"prefix"`
	Endpoint     string `yaml:"endpoint,omitempty"`
	UsePathStyle bool   `yaml:"usePathStyle,omitempty"`
	AccessKeyID  string `yaml:"accessKeyId,omitempty"`
	SecretKey    string `yaml:"secretKey,omitempty"`
}

// ClientConfig tunes the HTTP client used against AdGuard Home
type ClientConfig struct {
	Timeout            time.Duration `yaml:"timeout"`
	InsecureSkipVerify bool          `yaml:"insecureSkipVerify"`
	UserAgent          string        `yaml:"userAgent"`
}

// PollingConfig holds the defaults used until the user stores preferences
type PollingConfig struct {
	Interval    time.Duration `yaml:"interval"`
	AutoRefresh bool          `yaml:"autoRefresh"`
}

type RetryConfig struct {
	MaxRetries int           `yaml:"maxRetries"`
	Delay      time.Duration `yaml:"delay"`
}

type ProbeConfig struct {
	Port    int           `yaml:"port"`
	Domain  string        `yaml:"domain"`
	Timeout time.Duration `yaml:"timeout"`
}

type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// Default returns the configuration used when no file overrides it
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			LogLevel:   "info",
			APIAddress: "127.0.0.1",
			APIPort:    5380,
			DataDir:    "~/.adgmanager",
			TokenPath:  "~/.adgmanager/api.token",
		},
		Storage: StorageConfig{
			Local: StoreConfig{
				Backend: BackendSQLite,
				Path:    "~/.adgmanager/local.db",
			},
			Sync: StoreConfig{
				Backend: BackendFile,
				Path:    "~/.adgmanager/sync.json",
				Redis: RedisConfig{
					KeyPrefix: "adgmanager:",
				},
				S3: S3Config{
					Prefix: "adgmanager/",
				},
			},
		},
		Client: ClientConfig{
			Timeout:   10 * time.Second,
			UserAgent: "adgmanager",
		},
		Polling: PollingConfig{
			Interval:    60 * time.Second,
			AutoRefresh: true,
		},
		Retry: RetryConfig{
			MaxRetries: 2,
			Delay:      1 * time.Second,
		},
		Probe: ProbeConfig{
			Port:    53,
			Domain:  "doubleclick.net",
			Timeout: 3 * time.Second,
		},
		Audit: AuditConfig{
			Enabled: true,
			Dir:     "~/.adgmanager/audit",
		},
	}
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	// If no path specified, try default locations
	if path == "" {
		for _, p := range []string{"./config.yaml", "/etc/adgmanager/config.yaml"} {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		data, err := utils.ReadAllLimited(f, utils.MaxConfigFileSize)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if lvl := os.Getenv("ADGMANAGER_LOG_LEVEL"); lvl != "" {
		cfg.Agent.LogLevel = lvl
	}

	cfg.expandPaths()
	return cfg, nil
}

// APIListenAddr is the host:port the control API binds to
func (c *Config) APIListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Agent.APIAddress, c.Agent.APIPort)
}

// APIBaseURL is the URL CLI commands use to reach the agent
func (c *Config) APIBaseURL() string {
	host := c.Agent.APIAddress
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Agent.APIPort)
}

func (c *Config) expandPaths() {
	c.Agent.DataDir = ExpandHome(c.Agent.DataDir)
	c.Agent.TokenPath = ExpandHome(c.Agent.TokenPath)
	c.Storage.Local.Path = ExpandHome(c.Storage.Local.Path)
	c.Storage.Sync.Path = ExpandHome(c.Storage.Sync.Path)
	c.Audit.Dir = ExpandHome(c.Audit.Dir)
}

// ExpandHome replaces a leading ~ with the user's home directory
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
