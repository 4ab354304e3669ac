// Package main provides the carousel command: an HTTP server that generates
// Instagram carousels on demand, plus one-shot batch and inspection commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/carousel-generator/internal/config"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "carousel",
	Short: "Instagram carousel generator",
	Long: `Generates Instagram carousels from a content spreadsheet: analysis, creative direction,
copywriting and prompt engineering by a language model, ten slide images, upload to cloud
storage and a results row in the tracking sheet.

Configuration comes from flags, then --config (JSON or YAML), then the environment and .env.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a JSON or YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
}

func main() {
	// Load .env files if they exist
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves file, environment and defaults, then applies the
// persistent flags and any command-specific overrides.
func loadConfig(cmd *cobra.Command, overrides ...func(*config.Config)) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	for _, o := range overrides {
		o(&cfg)
	}
	return cfg, nil
}
