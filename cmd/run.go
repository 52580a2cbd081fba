package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"adgmanager/internal/adguard"
	"adgmanager/internal/api"
	"adgmanager/internal/audit"
	"adgmanager/internal/auth"
	"adgmanager/internal/config"
	"adgmanager/internal/connection"
	"adgmanager/internal/logging"
	"adgmanager/internal/security"
	"adgmanager/internal/storage"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewRunCmd creates the run command
func NewRunCmd(g *GlobalOptions, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the adgmanager agent",
		Long: `Start the connection manager and the local control API. The agent
keeps polling the active AdGuard Home instance and re-enables protection
when a temporary disable runs out.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(g, version)
		},
	}
}

func runAgent(g *GlobalOptions, version string) error {
	cfg, err := config.LoadConfig(g.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	for _, warning := range config.ValidateCredentialSecurity(cfg) {
		logrus.Warnf("SECURITY WARNING: %s", warning)
	}

	if err := logging.Setup(cfg.Agent.LogLevel); err != nil {
		logrus.WithError(err).Warn("Falling back to info logging")
		_ = logging.Setup("info")
	}

	logrus.Infof("Starting adgmanager v%s", version)

	if err := config.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logrus.WithFields(logrus.Fields(config.SanitizeConfigForLogging(cfg))).Info("Configuration loaded")

	hardening := security.NewHardening()
	hardening.Apply()

	if err := os.MkdirAll(cfg.Agent.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if cfg.Audit.Enabled {
		if err := audit.Initialize(cfg.Audit.Dir); err != nil {
			logrus.WithError(err).Warn("Failed to initialize audit logging")
		}
		defer audit.Close()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stores, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	// Backends have read their credentials by now
	hardening.ClearSensitiveEnv()
	defer func() {
		if err := stores.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close storage")
		}
	}()

	tokens := auth.NewTokenManager(cfg.Agent.TokenPath)
	if _, err := tokens.EnsureToken(); err != nil {
		return fmt.Errorf("failed to prepare API token: %w", err)
	}
	if err := tokens.CheckPermissions(); err != nil {
		logrus.WithError(err).Warn("API token file permissions")
	}

	log := logrus.NewEntry(logrus.StandardLogger())
	hub := api.NewHub(log)

	manager := connection.New(connection.Options{
		Local:              stores.Local,
		Sync:               stores.Sync,
		NewClient:          newClientFactory(cfg.Client, log),
		Notifier:           hub,
		Logger:             log,
		MaxRetries:         cfg.Retry.MaxRetries,
		RetryDelay:         cfg.Retry.Delay,
		DefaultInterval:    cfg.Polling.Interval,
		DefaultAutoRefresh: cfg.Polling.AutoRefresh,
	})

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	if err := manager.Start(ctx); err != nil {
		cancel()
		wg.Wait()
		return fmt.Errorf("failed to start connection manager: %w", err)
	}

	// First status read so UIs have something to show right away
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, _, err := manager.RefreshStatus(ctx); err != nil && !errors.Is(err, connection.ErrNoActiveInstance) {
			logrus.WithError(err).Warn("Initial status refresh failed")
		}
	}()

	server := api.NewServer(manager, hub, tokens, api.Options{
		Addr:    cfg.APIListenAddr(),
		Version: version,
		Logger:  log,
	})

	serverErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(); err != nil {
			serverErr <- err
		}
	}()

	audit.Log(audit.EventServiceStart, "info", "adgmanager agent started", map[string]interface{}{
		"version": version,
		"api":     cfg.APIListenAddr(),
	})

	var runErr error
	select {
	case <-ctx.Done():
		logrus.Info("Shutting down...")
	case runErr = <-serverErr:
		logrus.WithError(runErr).Error("API server failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("API server shutdown")
	}

	manager.Stop()
	cancel()
	wg.Wait()

	audit.Log(audit.EventServiceStop, "info", "adgmanager agent stopped", nil)
	return runErr
}

// newClientFactory builds AdGuard Home clients with the configured transport
// settings
func newClientFactory(cc config.ClientConfig, log *logrus.Entry) connection.ClientFactory {
	return func(inst connection.Instance) connection.API {
		return adguard.NewClient(inst.URL, inst.Username, inst.Password,
			adguard.WithTimeout(cc.Timeout),
			adguard.WithInsecureSkipVerify(cc.InsecureSkipVerify),
			adguard.WithUserAgent(cc.UserAgent),
			adguard.WithLogger(log.WithField("instance", inst.ID)),
		)
	}
}
