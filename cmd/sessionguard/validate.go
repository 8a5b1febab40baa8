package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/sessionguard/pkg/tokenx"
	"github.com/aussiebroadwan/sessionguard/pkg/trust"
)

type verdictOut struct {
	Valid         bool     `json:"valid"`
	Reason        string   `json:"reason,omitempty"`
	Error         string   `json:"error,omitempty"`
	ShouldRefresh bool     `json:"should_refresh,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
	TrustScore    *int     `json:"trust_score,omitempty"`

	Identity  string     `json:"identity,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	Role      string     `json:"role,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func newValidateCmd(c *cli) *cobra.Command {
	var purpose, ip, userAgent, deviceID string

	cmd := &cobra.Command{
		Use:   "validate <token>",
		Short: "Validate a token and print the verdict",
		Long: `Validate a token for the given purpose and print the full verdict,
including advisory trust warnings. Exits non-zero when the token is
rejected so the command can gate scripts.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := tokenx.Purpose(purpose)
			if !p.Valid() {
				return fmt.Errorf("unknown purpose %q", purpose)
			}

			m, closer, err := c.manager(nil)
			if err != nil {
				return err
			}
			defer closer.Close()

			v := m.Validate(cmd.Context(), args[0], p, trust.Observed{
				IP:        ip,
				UserAgent: userAgent,
				DeviceID:  deviceID,
			})

			out := verdictOut{
				Valid:         v.Valid,
				Reason:        string(v.Reason),
				Error:         v.Error,
				ShouldRefresh: v.ShouldRefresh,
				Warnings:      v.Warnings,
				TrustScore:    v.TrustScore,
			}
			if v.Claims != nil {
				out.Identity = v.Claims.Subject
				out.SessionID = v.Claims.SID
				out.Role = string(v.Claims.Role)
				if v.Claims.ExpiresAt != nil {
					t := v.Claims.ExpiresAt.Time
					out.ExpiresAt = &t
				}
			}

			if err := printJSON(cmd, out); err != nil {
				return err
			}
			if !v.Valid {
				return fmt.Errorf("token rejected: %s", v.Reason)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&purpose, "purpose", string(tokenx.PurposeAccess), "expected purpose: access, refresh, email_verification or password_reset")
	cmd.Flags().StringVar(&ip, "ip", "", "observed client ip for trust scoring")
	cmd.Flags().StringVar(&userAgent, "user-agent", "", "observed user agent for trust scoring")
	cmd.Flags().StringVar(&deviceID, "device", "", "observed device id for trust scoring")

	return cmd
}
