package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the savewise MCP server
var rootCmd = &cobra.Command{
	Use:   "savewise-mcp-server",
	Short: "MCP server that saves highlights to Readwise",
	Long: `savewise-mcp-server exposes a single MCP tool, readwise_save_highlights,
that validates highlights extracted by an AI assistant and stores them in
Readwise.

It serves the Streamable HTTP transport by default and can also run over
stdio for local clients.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "savewise-mcp-server version %s\n" .Version}}`)

	// If no subcommand is provided, run the serve command by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newGenerateDocsCmd())
}
