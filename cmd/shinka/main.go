package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/root-talis/shinka/internal/config"
	"github.com/root-talis/shinka/internal/logging"
)

// Build info - injected via ldflags
var (
	Version = "dev"
	Commit  = "unknown"
)

var (
	configPath string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "shinka",
	Short:         "Schema upgrade orchestrator",
	Long:          `shinka brings a database schema from its recorded state to the final state of an upgrade plan.`,
	Version:       fmt.Sprintf("%s (%s)", Version, Commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		level, err := logging.ParseLevel(loaded.Log.Level)
		if err != nil {
			return err
		}

		cfg = loaded
		logger = logging.New(logging.Options{
			Level:  level,
			Format: loaded.Log.Format,
			Output: cmd.ErrOrStderr(),
		})

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
