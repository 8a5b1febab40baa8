package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/sessionguard/pkg/slogx"
)

func newRevokeCmd(c *cli) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "revoke <token>",
		Short: "Blacklist a single token",
		Long: `Blacklist the presented token for its remaining lifetime. A refresh
token additionally retires its session, which kills the sibling access
token at its next liveness check.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closer, err := c.manager(nil)
			if err != nil {
				return err
			}
			defer closer.Close()

			if err := m.Revoke(cmd.Context(), args[0], reason); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "token revoked")
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "revoked by operator", "reason recorded against the blacklist entry")

	return cmd
}

func newRevokeAllCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke-all <identity-id>",
		Short: "Terminate every active session for an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closer, err := c.manager(nil)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx := slogx.WithIdentity(cmd.Context(), args[0])
			n, err := m.RevokeAllSessions(ctx, args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d sessions terminated\n", n)
			return nil
		},
	}
}
