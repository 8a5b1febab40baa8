package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/sessionguard/pkg/guard"
	"github.com/aussiebroadwan/sessionguard/pkg/tokenx"
	"github.com/aussiebroadwan/sessionguard/pkg/trust"
)

// staticResolver answers every identity lookup with flag-supplied
// privileges. The CLI has no identity directory to consult.
type staticResolver struct {
	role        tokenx.Role
	permissions []string
}

func (r staticResolver) ResolveIdentity(_ context.Context, identityID string) (guard.Identity, error) {
	return guard.Identity{ID: identityID, Role: r.role, Permissions: r.permissions}, nil
}

func newRefreshCmd(c *cli) *cobra.Command {
	var (
		role        string
		permissions []string
		ip          string
		userAgent   string
		deviceID    string
	)

	cmd := &cobra.Command{
		Use:   "refresh <refresh-token>",
		Short: "Rotate a refresh token into a new session and token pair",
		Long: `Rotate a refresh token: the presented token is blacklisted, its session
retired and a fresh pair minted under a new session id. Role and
permissions for the new access token come from flags, since the CLI has
no identity directory to re-read them from.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closer, err := c.manager(staticResolver{
				role:        tokenx.Role(role),
				permissions: permissions,
			})
			if err != nil {
				return err
			}
			defer closer.Close()

			pair, err := m.Refresh(cmd.Context(), args[0], trust.Observed{
				IP:        ip,
				UserAgent: userAgent,
				DeviceID:  deviceID,
			})
			if err != nil {
				return err
			}

			return printJSON(cmd, pairOut(pair))
		},
	}

	cmd.Flags().StringVar(&role, "role", string(tokenx.RoleCustomer), "role for the rotated access token")
	cmd.Flags().StringSliceVar(&permissions, "permission", nil, "permission for the rotated access token, repeatable")
	cmd.Flags().StringVar(&ip, "ip", "", "observed client ip")
	cmd.Flags().StringVar(&userAgent, "user-agent", "", "observed user agent")
	cmd.Flags().StringVar(&deviceID, "device", "", "observed device id")

	return cmd
}
