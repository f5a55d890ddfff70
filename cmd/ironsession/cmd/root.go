package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironsession/config"
	"github.com/jmcleod/ironsession/internal/app"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "ironsession",
	Short: "ironsession is an encrypted session store with CSRF protection",
	Long: `A server-side session store that keeps every field encrypted at rest and
issues, persists and verifies anti-forgery tokens on top of it.
Complete documentation is available at https://github.com/jmcleod/ironsession`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a YAML config file")
}

// loadConfig reads the config named by --config and builds the logger it
// describes.
func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := cfg.Log.Logger(os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// openApp loads the config and wires the application. Callers must Close it.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(cmd.Context(), cfg, logger)
}
