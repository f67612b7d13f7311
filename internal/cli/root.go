// Package cli implements the finly command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/finly-network/finly/internal/daemon"
	"github.com/finly-network/finly/internal/logging"
)

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "finly",
	Short: "Autonomous finance-operations loop",
	Long: `FinLy reads a company's cash position, obligations and receivables,
plans how to fund what is due, and carries the decision out: collection
reminders, vendor extension requests or a founder alert. Every outcome is
written to the interaction ledger and shapes how each client is treated
next time.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $FINLY_HOME/config.toml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before the config")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads .env, the config file and the environment overlay, then
// configures logging.
func loadConfig() (daemon.Config, error) {
	if err := daemon.LoadDotEnv(envFile); err != nil {
		return daemon.Config{}, err
	}
	path := configPath
	if path == "" {
		path = daemon.ConfigPath()
	}
	cfg, err := daemon.LoadConfig(path)
	if err != nil {
		return daemon.Config{}, fmt.Errorf("config: %w", err)
	}
	logging.Init(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format)
	return cfg, nil
}
