package cmd

import (
	"fmt"
	"text/tabwriter"

	"adgmanager/internal/connection"

	"github.com/spf13/cobra"
)

// NewErrorsCmd creates the errors command group
func NewErrorsCmd(g *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "errors",
		Short: "Show or clear the recent connection error log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, g)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, g)
			defer cancel()

			var entries []connection.ErrorEntry
			if err := s.call(ctx, connection.Request{Action: "getErrorLog"}, &entries); err != nil {
				return err
			}
			if ok, err := s.printJSON(entries); ok || err != nil {
				return err
			}
			if len(entries) == 0 {
				s.printf("No recent errors\n")
				return nil
			}

			w := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tOPERATION\tCODE\tMESSAGE")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", formatTime(e.Timestamp), e.Operation, e.Code, e.Message)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Clear the error log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, g)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, g)
			defer cancel()

			if err := s.call(ctx, connection.Request{Action: "clearErrorLog"}, nil); err != nil {
				return err
			}
			s.printf("Error log cleared\n")
			return nil
		},
	})
	return cmd
}
