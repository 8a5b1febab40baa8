package main

import (
	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/sessionguard/pkg/guard"
	"github.com/aussiebroadwan/sessionguard/pkg/slogx"
	"github.com/aussiebroadwan/sessionguard/pkg/tokenx"
)

func newIssueCmd(c *cli) *cobra.Command {
	var (
		role        string
		permissions []string
		audience    string
		deviceID    string
		ip          string
		userAgent   string
	)

	cmd := &cobra.Command{
		Use:   "issue <identity-id>",
		Short: "Issue an access and refresh token pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closer, err := c.manager(nil)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx := slogx.WithIdentity(cmd.Context(), args[0])
			pair, err := m.IssueTokenPair(ctx, guard.IssueRequest{
				Identity: guard.Identity{
					ID:          args[0],
					Role:        tokenx.Role(role),
					Permissions: permissions,
				},
				Audience:  tokenx.Audience(audience),
				DeviceID:  deviceID,
				IP:        ip,
				UserAgent: userAgent,
			})
			if err != nil {
				return err
			}

			return printJSON(cmd, pairOut(pair))
		},
	}

	cmd.Flags().StringVar(&role, "role", string(tokenx.RoleCustomer), "role embedded in the access token")
	cmd.Flags().StringSliceVar(&permissions, "permission", nil, "permission to embed, repeatable")
	cmd.Flags().StringVar(&audience, "audience", string(tokenx.AudienceWeb), "audience: web, mobile or admin")
	cmd.Flags().StringVar(&deviceID, "device", "", "stable device id recorded for trust scoring")
	cmd.Flags().StringVar(&ip, "ip", "", "client ip recorded at issuance")
	cmd.Flags().StringVar(&userAgent, "user-agent", "", "client user agent recorded at issuance")

	return cmd
}
