package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/rickchristie/sql-mcp/internal/configure"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Run the interactive configuration wizard",
	Long: `Walk through every setting and write the result to the config file as YAML.
Existing values are shown as the current value; press enter to keep them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := resolveConfigPath(cmd)
		printBanner(os.Stderr, isTTY(os.Stderr.Fd()))
		return configure.Run(path)
	},
}
