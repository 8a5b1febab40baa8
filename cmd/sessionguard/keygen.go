package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/sessionguard/pkg/cryptox"
	"github.com/aussiebroadwan/sessionguard/pkg/tokenx"
)

func newKeygenCmd(_ *cli) *cobra.Command {
	var algorithm string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate signing key material",
		Long: `Generate signing key material for the configured algorithm.

For the HMAC algorithms this prints a random master secret as a ready-to-use
SESSIONGUARD_SECRET line; per-purpose keys are derived from it at startup.
For EdDSA it prints one Ed25519 private key in PEM form per token purpose.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch algorithm {
			case tokenx.AlgHS256, tokenx.AlgHS384, tokenx.AlgHS512:
				secret, err := cryptox.GenerateToken(cryptox.TokenSize256)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "SESSIONGUARD_SECRET=%s\n", secret)
				return nil

			case tokenx.AlgEdDSA:
				for _, p := range tokenx.Purposes() {
					pemKey, err := cryptox.GenerateEd25519Key()
					if err != nil {
						return fmt.Errorf("purpose %q: %w", p, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", p, pemKey)
				}
				return nil

			default:
				return fmt.Errorf("unknown algorithm %q: want HS256, HS384, HS512 or EdDSA", algorithm)
			}
		},
	}

	cmd.Flags().StringVar(&algorithm, "algorithm", tokenx.AlgHS256, "HS256, HS384, HS512 or EdDSA")

	return cmd
}
