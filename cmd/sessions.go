package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Maintain session tokens",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete tenants whose session has expired",
		Long: `Delete tenants whose session has expired, together with their stored
credentials. Such tenants have to be imported again.

'serve' runs the same sweep every INBOXFLEET_PURGE_INTERVAL.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openAppFromFlags(cmd, &globals)
			if err != nil {
				return err
			}
			defer a.Close()

			n := purgeSessions(cmd.Context(), a.store, nil, a.audit, a.logger)
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d expired tenant session(s)\n", n)
			return nil
		},
	})
	return cmd
}
