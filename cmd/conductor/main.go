// Command conductor runs the multi-agent task workflow service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/heyitsaamir/conductor/internal/config"
	"github.com/heyitsaamir/conductor/internal/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "Multi-agent task workflow service",
	Long: `Conductor turns chat requests into plans of subtasks, delegates each
subtask to an agent, and reports progress back into the conversation.

With no subcommand, conductor runs the server.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serveCmd.RunE(cmd, nil)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFile, "path to the YAML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the config and installs the default logger. The returned
// func flushes the logger.
func loadConfig() (*config.Config, func(), error) {
	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	log, closer := logger.New(cfg.Logging)
	slog.SetDefault(log)
	return cfg, closer.Close, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "conductor version %s\n", version)
	},
}

// withTimeout is a short helper for one-shot commands.
func withTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, 2*time.Minute)
}
