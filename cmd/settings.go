package cmd

import (
	"fmt"

	"adgmanager/internal/connection"

	"github.com/spf13/cobra"
)

// NewSettingsCmd creates the settings command group
func NewSettingsCmd(g *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "settings",
		Aliases: []string{"prefs"},
		Short:   "Show or change agent preferences",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, g)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, g)
			defer cancel()

			var p connection.Preferences
			if err := s.call(ctx, connection.Request{Action: "getPreferences"}, &p); err != nil {
				return err
			}
			return printPreferences(s, p)
		},
	}

	cmd.AddCommand(newSettingsSetCmd(g))
	return cmd
}

func newSettingsSetCmd(g *GlobalOptions) *cobra.Command {
	var (
		theme         string
		interval      int
		autoRefresh   bool
		notifications bool
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change preferences; only the flags given are updated",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := connection.Request{Action: "updatePreferences"}
			flags := cmd.Flags()
			if flags.Changed("theme") {
				req.Theme = &theme
			}
			if flags.Changed("interval") {
				req.Interval = &interval
			}
			if flags.Changed("auto-refresh") {
				req.AutoRefresh = &autoRefresh
			}
			if flags.Changed("notifications") {
				req.ShowNotifications = &notifications
			}
			if req.Theme == nil && req.Interval == nil && req.AutoRefresh == nil && req.ShowNotifications == nil {
				return fmt.Errorf("nothing to change, see --help")
			}

			s, err := newSession(cmd, g)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, g)
			defer cancel()

			var p connection.Preferences
			if err := s.call(ctx, req, &p); err != nil {
				return err
			}
			return printPreferences(s, p)
		},
	}

	cmd.Flags().StringVar(&theme, "theme", "", "auto, light or dark")
	cmd.Flags().IntVar(&interval, "interval", 0, "refresh interval in seconds")
	cmd.Flags().BoolVar(&autoRefresh, "auto-refresh", true, "poll the active instance in the background")
	cmd.Flags().BoolVar(&notifications, "notifications", true, "notify listening UIs about automatic changes")
	return cmd
}

func printPreferences(s *agentSession, p connection.Preferences) error {
	if ok, err := s.printJSON(p); ok || err != nil {
		return err
	}
	s.printf("Theme:          %s\n", p.Theme)
	s.printf("Auto refresh:   %s\n", onOff(p.AutoRefresh))
	s.printf("Interval:       %ds\n", p.RefreshInterval)
	s.printf("Notifications:  %s\n", onOff(p.ShowNotifications))
	return nil
}
