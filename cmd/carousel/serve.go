package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/carousel-generator/internal/config"
	"github.com/jonathan/carousel-generator/internal/jobs"
	"github.com/jonathan/carousel-generator/internal/observability"
	"github.com/jonathan/carousel-generator/internal/server"
)

var (
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start an HTTP server that accepts generation triggers, reports job status and serves
generated posts. At most one generation job runs at a time.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "Port to listen on (defaults to PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, func(c *config.Config) {
		if cmd.Flags().Changed("port") {
			c.Port = servePort
		}
	})
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.AppEnv, cfg.LogLevel)
	if err := cfg.ValidateSheetSource(); err != nil {
		logger.Warn().Msg("no sheet source configured; only /generate_from_text can produce posts")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var store jobs.Store
	if a.database != nil {
		store = a.database
	}
	tracker := jobs.NewTracker(ctx, store, logger)
	if _, err := tracker.Recover(ctx); err != nil {
		return err
	}

	srvCfg := server.Config{
		Port:    cfg.Port,
		Runner:  a.generator,
		Tracker: tracker,
		Posts:   a.files,
		Logger:  logger,
	}
	if a.database != nil {
		srvCfg.Artifacts = a.database
		srvCfg.Database = a.database
	}

	srv, err := server.New(srvCfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	err = srv.Start(ctx)
	// Jobs share ctx and stop at the next step boundary.
	tracker.Wait()
	return err
}
