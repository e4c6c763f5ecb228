package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mudler/xlog"
	"github.com/spf13/cobra"

	"github.com/adaojoaquim/agi-core/config"
)

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "agicore",
	Short: "AGI-Core - modular agent with layered memory",
	Long: `AGI-Core combines a working-memory buffer with episodic, semantic and
procedural vector memory, and runs goals against an optional LLM provider.

Configuration is read from a YAML file (--config). Secrets come from
ANTHROPIC_API_KEY and OPENAI_API_KEY, which may be set in a .env file.
Log verbosity follows LOG_LEVEL (debug, info, warn, error).`,
	PersistentPreRunE: loadEnv,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// Execute runs the root command, cancelling its context on SIGINT/SIGTERM.
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

// loadEnv loads the .env file before any command runs. A missing file is
// not an error.
func loadEnv(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(envFile); err != nil {
		xlog.Debug("No env file loaded", "component", "cli", "path", envFile, "error", err)
	}
	return nil
}

// loadConfig reads --config, falling back to defaults when it is unset or
// missing.
func loadConfig() (*config.Config, error) {
	return config.LoadOrDefault(configPath)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "agicore.yaml", "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "path to a .env file with API keys")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
