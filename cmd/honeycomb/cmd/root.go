package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jmcleod/honeycomb/app"
	"github.com/jmcleod/honeycomb/internal/config"
	"github.com/jmcleod/honeycomb/internal/logging"
)

var (
	configPath string
	logLevel   string
	baseURL    string
)

var rootCmd = &cobra.Command{
	Use:   "honeycomb",
	Short: "Honeycomb is an authenticated client for the Honeycomb assistant backend",
	Long: `A command line client for the Honeycomb assistant backend. It keeps the
credential set and chat history on disk and refreshes expired access tokens
transparently.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default ~/.config/honeycomb/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Backend base URL")
}

// loadConfig applies command line flags over the file and environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (zerolog.Logger, error) {
	return logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
}

// openApp loads configuration and opens the client state. The caller must
// Close the result.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	a, err := app.Open(ctx, cfg, app.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("failed to open client state: %w", err)
	}
	return a, nil
}
