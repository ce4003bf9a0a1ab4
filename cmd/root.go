package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the inboxfleet application
var rootCmd = &cobra.Command{
	Use:   "inboxfleet",
	Short: "Multi-tenant MCP server for Gmail, Calendar, Meet and lead replies",
	Long: `inboxfleet serves Gmail, Google Calendar, Google Meet and outreach
campaign replies to AI assistants over the Model Context Protocol.

Each end user (tenant) is identified by an opaque session token. Their
OAuth credential and optional outreach API key are stored encrypted, access
tokens are refreshed on demand and every remote call is rate limited per
tenant and API.`,
	SilenceUsage: true,
}

// globals holds the persistent store and logging flags.
var globals storeFlags

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "inboxfleet version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	globals.register(rootCmd)

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newTenantCmd())
	rootCmd.AddCommand(newSessionsCmd())
	rootCmd.AddCommand(newKeygenCmd())
	rootCmd.AddCommand(newGenerateDocsCmd())
	rootCmd.AddCommand(newVersionCmd())
}
