// Command sessionguard is operator tooling for the session security core:
// key generation, token issuance and inspection, refresh rotation and
// revocation against a local sqlite session registry. It is a dev/ops tool,
// not a serving surface.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/sessionguard/pkg/guard"
	"github.com/aussiebroadwan/sessionguard/pkg/slogx"
	"github.com/aussiebroadwan/sessionguard/pkg/store/drivers/sqlite"
)

// cli carries the persistent flags shared by every subcommand.
type cli struct {
	dbPath   string
	envFile  string
	logLevel string
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	cmd := &cobra.Command{
		Use:           "sessionguard",
		Short:         "Operator tooling for the sessionguard session security core",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			// .env is a dev convenience; a missing file is not an error.
			_ = godotenv.Load(c.envFile)

			// Logs go to stderr so token output stays pipeable.
			logger := slogx.New(slogx.Config{
				Service: "sessionguard",
				Env:     "cli",
				Level:   c.logLevel,
				Format:  "text",
				Output:  cmd.ErrOrStderr(),
			})

			// The manager reads its logger off the context, same as any
			// embedding host would provide it.
			cmd.SetContext(slogx.WithContext(cmd.Context(), logger))
		},
	}

	cmd.PersistentFlags().StringVar(&c.dbPath, "db", "sessionguard.db", "sqlite session registry path")
	cmd.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "env file read before SESSIONGUARD_* variables")
	cmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "log verbosity: debug, info, warn or error")

	cmd.AddCommand(
		newKeygenCmd(c),
		newIssueCmd(c),
		newValidateCmd(c),
		newRefreshCmd(c),
		newRevokeCmd(c),
		newRevokeAllCmd(c),
		newSessionsCmd(c),
	)

	return cmd
}

// manager opens the sqlite registry and builds a Manager from the
// environment. The caller owns the returned closer.
func (c *cli) manager(resolver guard.IdentityResolver) (*guard.Manager, io.Closer, error) {
	cfg, err := guard.ConfigFromEnv()
	if err != nil {
		return nil, nil, err
	}
	cfg.Resolver = resolver

	st, err := sqlite.NewStore(c.dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open session registry: %w", err)
	}
	if err := st.ApplyMigrations(); err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("migrate session registry: %w", err)
	}

	m, err := guard.NewManager(st, cfg)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	return m, st, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// tokenPairOut is the CLI wire shape for an issued or rotated pair.
type tokenPairOut struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	SessionID        string    `json:"session_id"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func pairOut(p *guard.TokenPair) tokenPairOut {
	return tokenPairOut{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		SessionID:        p.SessionID,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}
