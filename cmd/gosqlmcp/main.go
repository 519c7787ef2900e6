package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

const defaultConfigPath = ".gosqlmcp/config.yaml"

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "gosqlmcp",
	Short: "SQL query gateway for AI agents",
	Long: `gosqlmcp exposes one SQL database (PostgreSQL, MySQL, SQL Server or SQLite)
to an AI agent as three tools: list_tables, describe_table and run_query.

In read_only mode every statement is classified before it reaches the
database and anything that could modify data is rejected.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile == "" {
			// A missing .env in the working directory is fine.
			_ = godotenv.Load()
			return nil
		}
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load environment variables from this file first")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(configureCmd)
	rootCmd.AddCommand(keychainCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the gosqlmcp version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "gosqlmcp %s\n", Version)
	},
}
