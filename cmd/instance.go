package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"adgmanager/internal/adguard"
	"adgmanager/internal/connection"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// readPassword reads a password without echo. Replaced in tests.
var readPassword = func() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	return string(b), err
}

type instanceList struct {
	Instances      []connection.InstanceView `json:"instances"`
	ActiveInstance string                    `json:"activeInstance"`
}

// NewInstanceCmd creates the instance command group
func NewInstanceCmd(g *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "instance",
		Aliases: []string{"instances"},
		Short:   "Manage AdGuard Home instances",
	}

	cmd.AddCommand(
		newInstanceListCmd(g),
		newInstanceSaveCmd(g, false),
		newInstanceSaveCmd(g, true),
		newInstanceSwitchCmd(g),
		newInstanceDeleteCmd(g),
		newInstanceTestCmd(g),
	)
	return cmd
}

func newInstanceListCmd(g *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured instances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, g)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, g)
			defer cancel()

			var list instanceList
			if err := s.call(ctx, connection.Request{Action: "getInstances"}, &list); err != nil {
				return err
			}
			if ok, err := s.printJSON(list); ok || err != nil {
				return err
			}

			if len(list.Instances) == 0 {
				s.printf("No instances configured\n")
				return nil
			}

			w := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "\tID\tNAME\tURL\tUSER")
			for _, inst := range list.Instances {
				marker := ""
				if inst.ID == list.ActiveInstance {
					marker = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", marker, inst.ID, inst.Name, inst.URL, inst.Username)
			}
			return w.Flush()
		},
	}
}

type saveFlags struct {
	name          string
	url           string
	username      string
	password      string
	passwordStdin bool
	activate      bool
}

// newInstanceSaveCmd builds "add" or, with edit set, "edit <id>"
func newInstanceSaveCmd(g *GlobalOptions, edit bool) *cobra.Command {
	f := &saveFlags{}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := connection.Request{
				Action:     "saveCredentials",
				Name:       f.name,
				URL:        f.url,
				Username:   f.username,
				Password:   f.password,
				MakeActive: f.activate,
			}
			if edit {
				req.ID = args[0]
			}
			if f.passwordStdin || (!edit && req.Password == "") {
				if !f.passwordStdin {
					fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
				}
				pw, err := readPassword()
				if err != nil {
					return fmt.Errorf("failed to read password: %w", err)
				}
				req.Password = pw
			}

			s, err := newSession(cmd, g)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, g)
			defer cancel()

			var saved connection.InstanceView
			if err := s.call(ctx, req, &saved); err != nil {
				return err
			}
			if ok, err := s.printJSON(saved); ok || err != nil {
				return err
			}
			s.printf("Saved %s (%s) as %s\n", saved.Name, saved.URL, saved.ID)
			return nil
		},
	}

	if edit {
		cmd.Use = "edit <id>"
		cmd.Short = "Edit an instance, keeping its password unless a new one is given"
		cmd.Args = cobra.ExactArgs(1)
	}

	cmd.Flags().StringVar(&f.name, "name", "", "display name")
	cmd.Flags().StringVar(&f.url, "url", "", "control URL, e.g. http://192.168.1.2:3000")
	cmd.Flags().StringVarP(&f.username, "username", "u", "", "AdGuard Home username")
	cmd.Flags().StringVar(&f.password, "password", "", "password (prompted when omitted)")
	cmd.Flags().BoolVar(&f.passwordStdin, "password-stdin", false, "read the password from stdin")
	cmd.Flags().BoolVar(&f.activate, "activate", false, "make this the active instance")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func newInstanceSwitchCmd(g *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "switch <id>",
		Short: "Make an instance the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, g)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, g)
			defer cancel()

			var inst connection.InstanceView
			if err := s.call(ctx, connection.Request{Action: "switchActiveInstance", InstanceID: args[0]}, &inst); err != nil {
				return err
			}
			if ok, err := s.printJSON(inst); ok || err != nil {
				return err
			}
			s.printf("Active instance is now %s (%s)\n", inst.Name, inst.URL)
			return nil
		},
	}
}

func newInstanceDeleteCmd(g *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete an instance",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, g)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, g)
			defer cancel()

			var res struct {
				ActiveInstance string `json:"activeInstance"`
			}
			if err := s.call(ctx, connection.Request{Action: "deleteInstance", InstanceID: args[0]}, &res); err != nil {
				return err
			}
			if ok, err := s.printJSON(res); ok || err != nil {
				return err
			}
			s.printf("Deleted %s\n", args[0])
			if res.ActiveInstance == "" {
				s.printf("No active instance left\n")
			} else {
				s.printf("Active instance: %s\n", res.ActiveInstance)
			}
			return nil
		},
	}
}

func newInstanceTestCmd(g *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "test [id]",
		Short: "Test the connection to an instance (the active one by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, g)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, g)
			defer cancel()

			req := connection.Request{Action: "testConnection"}
			if len(args) == 1 {
				var list instanceList
				if err := s.call(ctx, connection.Request{Action: "getInstances"}, &list); err != nil {
					return err
				}
				found := false
				for _, inst := range list.Instances {
					if inst.ID == args[0] {
						req.ID, req.URL, req.Username = inst.ID, inst.URL, inst.Username
						found = true
						break
					}
				}
				if !found {
					return fmt.Errorf("instance %q not found", args[0])
				}
			}

			var res adguard.TestResult
			if err := s.call(ctx, req, &res); err != nil {
				return err
			}
			if ok, err := s.printJSON(res); ok || err != nil {
				return err
			}

			if res.Success {
				version := "unknown version"
				if res.Status != nil && res.Status.Version != "" {
					version = res.Status.Version
				}
				s.printf("Connection OK (AdGuard Home %s)\n", version)
				return nil
			}
			if res.Error != nil {
				s.printf("Connection failed: [%s] %s\n", res.Error.Code, res.Error.Message)
				for _, hint := range res.Error.Hints {
					s.printf("  - %s\n", hint)
				}
			}
			return fmt.Errorf("connection test failed")
		},
	}
}
