package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teemow/inboxfleet/internal/secret"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a credential encryption key",
		Long: `Print a new random 256-bit key, base64 encoded, for INBOXFLEET_ENCRYPTION_KEY.

Store it like a password. Changing the key makes every stored credential
unreadable, and affected tenants have to reconnect.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := secret.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), secret.KeyToBase64(key))
			return nil
		},
	}
}
