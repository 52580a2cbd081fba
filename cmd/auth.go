package cmd

import (
	"fmt"

	"adgmanager/internal/auth"

	"github.com/spf13/cobra"
)

// NewAuthCmd creates the auth command
func NewAuthCmd(g *GlobalOptions) *cobra.Command {
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the control API token",
		Long: `Generate and manage the bearer token that guards the agent's local control
API. The CLI reads the same token file to talk to the agent.`,
	}

	tokenManager := func() (*auth.TokenManager, error) {
		cfg, err := loadConfig(g)
		if err != nil {
			return nil, err
		}
		return auth.NewTokenManager(cfg.Agent.TokenPath), nil
	}

	authGenerateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new API token",
		Long: `Generate a new API token, replacing the current one. A running agent keeps
the token it loaded at startup, so restart it afterwards.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tm, err := tokenManager()
			if err != nil {
				return err
			}

			token, err := tm.GenerateToken()
			if err != nil {
				return fmt.Errorf("failed to generate API token: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "API token generated successfully:")
			fmt.Fprintf(out, "Token: %s\n", token)
			fmt.Fprintln(out, "\nUse this token in the Authorization header:")
			fmt.Fprintf(out, "Authorization: Bearer %s\n", token)
			fmt.Fprintf(out, "\nThe token is saved in %s\n", tm.Path())
			return nil
		},
	}

	authShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Display the current API token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tm, err := tokenManager()
			if err != nil {
				return err
			}
			if err := tm.CheckPermissions(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
			}

			token, err := tm.GetToken()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Current API token: %s\n", token)
			return nil
		},
	}

	authRevokeCmd := &cobra.Command{
		Use:   "revoke",
		Short: "Delete the current API token",
		Long:  `Delete the token file. The agent generates a fresh one on its next start.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tm, err := tokenManager()
			if err != nil {
				return err
			}
			if err := tm.DeleteToken(); err != nil {
				return fmt.Errorf("failed to revoke token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "API token revoked successfully.")
			return nil
		},
	}

	authCmd.AddCommand(authGenerateCmd, authShowCmd, authRevokeCmd)
	return authCmd
}
