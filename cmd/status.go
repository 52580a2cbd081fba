package cmd

import (
	"net"
	"strconv"

	"adgmanager/internal/adguard"
	"adgmanager/internal/connection"

	"github.com/spf13/cobra"
)

// NewStatusCmd creates the status command
func NewStatusCmd(g *GlobalOptions) *cobra.Command {
	var probe bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the agent's connection status",
		Long: `Display the connection state of the active AdGuard Home instance as seen
by the running agent. With --probe, also send a DNS query to the instance's
DNS listener to check that filtering answers.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, g, probe)
		},
	}

	cmd.Flags().BoolVar(&probe, "probe", false, "send a test DNS query for the configured probe domain")
	return cmd
}

type statusOutput struct {
	Status *connection.Status   `json:"status"`
	Probe  *adguard.ProbeResult `json:"probe,omitempty"`
}

func runStatus(cmd *cobra.Command, g *GlobalOptions, probe bool) error {
	s, err := newSession(cmd, g)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd, g)
	defer cancel()

	health, err := s.client.Health(ctx)
	if err != nil {
		return err
	}

	var out statusOutput
	if err := s.call(ctx, connection.Request{Action: "getConnectionStatus"}, &out.Status); err != nil {
		return err
	}

	var probeErr error
	if probe && out.Status.ActiveInstance != nil {
		out.Probe, probeErr = probeInstance(cmd, g, s, out.Status.ActiveInstance.URL)
	}

	if ok, err := s.printJSON(out); ok || err != nil {
		return err
	}

	st := out.Status
	s.printf("Agent:       v%s, up since %s, %d listener(s)\n", health.Version, formatTime(health.StartedAt), health.Listeners)
	if st.ActiveInstance == nil {
		s.printf("Instance:    none configured (use 'adgmanager instance add')\n")
		return nil
	}
	s.printf("Instance:    %s (%s)\n", st.ActiveInstance.Name, st.ActiveInstance.URL)
	s.printf("State:       %s\n", st.State)
	s.printf("Protection:  %s\n", onOff(st.ProtectionEnabled))
	if st.LastUpdated != nil {
		s.printf("Updated:     %s\n", formatTime(*st.LastUpdated))
	}
	if st.LastError != nil {
		s.printf("Last error:  [%s] %s\n", st.LastError.Code, st.LastError.Message)
		for _, hint := range st.LastError.Hints {
			s.printf("             - %s\n", hint)
		}
	}

	switch {
	case probeErr != nil:
		s.printf("DNS probe:   failed: %v\n", probeErr)
	case out.Probe != nil:
		verdict := "resolved"
		if out.Probe.Blocked {
			verdict = "blocked"
		}
		s.printf("DNS probe:   %s via %s is %s (%s, %s)\n",
			out.Probe.Domain, out.Probe.Server, verdict, out.Probe.Rcode, out.Probe.RTT)
	}
	return nil
}

func probeInstance(cmd *cobra.Command, g *GlobalOptions, s *agentSession, controlURL string) (*adguard.ProbeResult, error) {
	host, err := adguard.DNSHost(controlURL)
	if err != nil {
		return nil, err
	}
	ctx, cancel := commandContext(cmd, g)
	defer cancel()

	server := net.JoinHostPort(host, strconv.Itoa(s.cfg.Probe.Port))
	return adguard.Probe(ctx, server, s.cfg.Probe.Domain, s.cfg.Probe.Timeout)
}
