package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newSessionsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions <identity-id>",
		Short: "List active sessions for an identity, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closer, err := c.manager(nil)
			if err != nil {
				return err
			}
			defer closer.Close()

			sessions, err := m.ListSessions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no active sessions")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tDEVICE\tIP\tCREATED\tLAST ACTIVITY")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					s.ID, s.DeviceID, s.IP,
					s.CreatedAt.UTC().Format(time.RFC3339),
					s.LastActivity.UTC().Format(time.RFC3339),
				)
			}
			return w.Flush()
		},
	}
}
