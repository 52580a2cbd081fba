package cmd

import (
	"fmt"
	"strconv"
	"time"

	"adgmanager/internal/adguard"
	"adgmanager/internal/connection"

	"github.com/spf13/cobra"
)

// NewProtectionCmd creates the protection command group
func NewProtectionCmd(g *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "protection",
		Short: "Turn filtering on or off on the active instance",
	}

	cmd.AddCommand(
		newToggleCmd(g, "on", true),
		newToggleCmd(g, "off", false),
		newDisableCmd(g),
		newCancelDisableCmd(g),
		newDisableStatusCmd(g),
	)
	return cmd
}

func newToggleCmd(g *GlobalOptions, use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Turn protection %s", use),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, g)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, g)
			defer cancel()

			var ps connection.ProtectionState
			if err := s.call(ctx, connection.Request{Action: "toggleProtection", Enabled: &enabled}, &ps); err != nil {
				return err
			}
			if ok, err := s.printJSON(ps); ok || err != nil {
				return err
			}
			s.printf("Protection is %s\n", onOff(ps.ProtectionEnabled))
			return nil
		},
	}
}

func newDisableCmd(g *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "disable <minutes>",
		Short: "Disable protection for a number of minutes",
		Long: `Disable protection for the given number of minutes. The agent turns it
back on when the time runs out, even across restarts.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			minutes, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("minutes must be a whole number: %q", args[0])
			}

			s, err := newSession(cmd, g)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, g)
			defer cancel()

			var w connection.DisableWindow
			if err := s.call(ctx, connection.Request{Action: "disableTemporarily", Minutes: minutes}, &w); err != nil {
				return err
			}
			if ok, err := s.printJSON(w); ok || err != nil {
				return err
			}
			s.printf("Protection disabled for %d minute(s), back on at %s\n", w.Minutes, formatTime(w.EndTime))
			return nil
		},
	}
}

func newCancelDisableCmd(g *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "End a temporary disable early and turn protection back on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, g)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, g)
			defer cancel()

			var ps connection.ProtectionState
			if err := s.call(ctx, connection.Request{Action: "cancelTemporaryDisable"}, &ps); err != nil {
				return err
			}
			if ok, err := s.printJSON(ps); ok || err != nil {
				return err
			}
			s.printf("Temporary disable cancelled, protection is %s\n", onOff(ps.ProtectionEnabled))
			return nil
		},
	}
}

func newDisableStatusCmd(g *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the pending temporary disable, if any",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, g)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, g)
			defer cancel()

			var ds connection.DisableStatus
			if err := s.call(ctx, connection.Request{Action: "getTemporaryDisableStatus"}, &ds); err != nil {
				return err
			}
			if ok, err := s.printJSON(ds); ok || err != nil {
				return err
			}
			if !ds.Active {
				s.printf("No temporary disable pending\n")
				return nil
			}
			remaining := time.Duration(ds.RemainingSeconds) * time.Second
			s.printf("Protection disabled for %d minute(s), %s remaining\n", ds.Minutes, remaining)
			return nil
		},
	}
}

// NewRefreshCmd creates the refresh command
func NewRefreshCmd(g *GlobalOptions) *cobra.Command {
	var stats bool

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Fetch the active instance's status now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, g)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, g)
			defer cancel()

			if stats {
				var snap connection.StatsSnapshot
				if err := s.call(ctx, connection.Request{Action: "refreshStats"}, &snap); err != nil {
					return err
				}
				if ok, err := s.printJSON(snap); ok || err != nil {
					return err
				}
				printStats(s, snap.Stats)
				return nil
			}

			var res struct {
				Protection connection.ProtectionState `json:"protection"`
				Status     *adguard.Status            `json:"status"`
			}
			if err := s.call(ctx, connection.Request{Action: "refreshStatus"}, &res); err != nil {
				return err
			}
			if ok, err := s.printJSON(res); ok || err != nil {
				return err
			}
			s.printf("Protection:  %s\n", onOff(res.Protection.ProtectionEnabled))
			if res.Status != nil {
				s.printf("Version:     %s\n", res.Status.Version)
				s.printf("Running:     %t\n", res.Status.Running)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&stats, "stats", false, "fetch query statistics instead of status")
	return cmd
}

// NewStatsCmd creates the stats command
func NewStatsCmd(g *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the last statistics the agent fetched",
		Long: `Print the statistics snapshot the agent stored on its last refresh.
AdGuard Home is not contacted; use 'adgmanager refresh --stats' for fresh numbers.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, g)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, g)
			defer cancel()

			var snap *connection.StatsSnapshot
			if err := s.call(ctx, connection.Request{Action: "getStats"}, &snap); err != nil {
				return err
			}
			if ok, err := s.printJSON(snap); ok || err != nil {
				return err
			}
			if snap == nil {
				printStats(s, nil)
				return nil
			}
			s.printf("Fetched:          %s\n", formatTime(snap.FetchedAt))
			printStats(s, snap.Stats)
			return nil
		},
	}
}

func printStats(s *agentSession, st *adguard.Stats) {
	if st == nil {
		s.printf("No statistics available\n")
		return
	}
	s.printf("DNS queries:      %d\n", st.NumDNSQueries)
	s.printf("Blocked:          %d (%.1f%%)\n", st.NumBlockedFiltering, st.BlockedPercent())
	s.printf("Safe browsing:    %d\n", st.NumReplacedSafebrowsing)
	s.printf("Parental control: %d\n", st.NumReplacedParental)
	s.printf("Avg processing:   %.1f ms\n", st.AvgProcessingTime*1000)
}
