// Package cmd implements the command-line interface for adgmanager. The run
// command hosts the agent; every other command talks to a running agent over
// its local control API.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"adgmanager/internal/api"
	"adgmanager/internal/auth"
	"adgmanager/internal/config"
	"adgmanager/internal/connection"

	"github.com/spf13/cobra"
)

// GlobalOptions are the flags shared by every command
type GlobalOptions struct {
	ConfigFile string
	JSON       bool
	Timeout    time.Duration
}

// NewRootCmd builds the command tree
func NewRootCmd(version string) *cobra.Command {
	g := &GlobalOptions{}

	root := &cobra.Command{
		Use:   "adgmanager",
		Short: "Monitor and control AdGuard Home instances",
		Long: `adgmanager keeps a connection to one or more AdGuard Home servers,
refreshes their protection status and statistics, and lets you toggle or
temporarily disable protection from the command line or a local UI.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&g.ConfigFile, "config", "c", "", "config file (default is ./config.yaml)")
	root.PersistentFlags().BoolVar(&g.JSON, "json", false, "print raw JSON responses")
	root.PersistentFlags().DurationVar(&g.Timeout, "timeout", 30*time.Second, "timeout for requests to the agent")

	root.AddCommand(
		NewRunCmd(g, version),
		NewStatusCmd(g),
		NewInstanceCmd(g),
		NewProtectionCmd(g),
		NewRefreshCmd(g),
		NewStatsCmd(g),
		NewErrorsCmd(g),
		NewSettingsCmd(g),
		NewAuthCmd(g),
		newVersionCmd(version),
	)
	return root
}

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "adgmanager v%s\n", version)
		},
	}
}

func loadConfig(g *GlobalOptions) (*config.Config, error) {
	cfg, err := config.LoadConfig(g.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// agentSession is what client commands need to reach the agent
type agentSession struct {
	cfg    *config.Config
	client *api.Client
	out    io.Writer
	json   bool
}

func newSession(cmd *cobra.Command, g *GlobalOptions) (*agentSession, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, err
	}

	token, err := auth.NewTokenManager(cfg.Agent.TokenPath).GetToken()
	if err != nil {
		return nil, fmt.Errorf("failed to read API token: %w", err)
	}

	return &agentSession{
		cfg:    cfg,
		client: api.NewClient(cfg.APIBaseURL(), token),
		out:    cmd.OutOrStdout(),
		json:   g.JSON,
	}, nil
}

// call runs one action and decodes its data into out
func (s *agentSession) call(ctx context.Context, req connection.Request, out interface{}) error {
	return s.client.Call(ctx, req, out)
}

// printJSON writes v indented when --json is set and reports whether it did
func (s *agentSession) printJSON(v interface{}) (bool, error) {
	if !s.json {
		return false, nil
	}
	enc := json.NewEncoder(s.out)
	enc.SetIndent("", "  ")
	return true, enc.Encode(v)
}

func (s *agentSession) printf(format string, args ...interface{}) {
	fmt.Fprintf(s.out, format, args...)
}

func commandContext(cmd *cobra.Command, g *GlobalOptions) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	if g.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, g.Timeout)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
