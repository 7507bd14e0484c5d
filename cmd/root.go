package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// newRootCmd builds the command tree. version is reported by --version and
// the version subcommand.
func newRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sitekit",
		Short: "Connects a site to Google services through pluggable modules",
		Long: `sitekit connects a site to Google services. A site administrator
authorizes once with Google, then activates modules such as Search Console
or Analytics that build on the granted scopes.

It can run as:
  - An HTTP server exposing the REST API (default)
  - An MCP (Model Context Protocol) server for AI assistants`,
		Version:      version,
		SilenceUsage: true,
	}
	rootCmd.SetVersionTemplate(`{{printf "sitekit version %s\n" .Version}}`)

	rootCmd.AddCommand(newServeCmd(version))
	rootCmd.AddCommand(newModulesCmd(version))
	rootCmd.AddCommand(newGenerateDocsCmd(version))
	rootCmd.AddCommand(newVersionCmd(version))
	return rootCmd
}

// Execute is the main entry point for the CLI application
func Execute(version string) {
	if err := newRootCmd(version).Execute(); err != nil {
		os.Exit(1)
	}
}
