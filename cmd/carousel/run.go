package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/carousel-generator/internal/config"
	"github.com/jonathan/carousel-generator/internal/generator"
	"github.com/jonathan/carousel-generator/internal/jobs"
	"github.com/jonathan/carousel-generator/internal/observability"
	"github.com/jonathan/carousel-generator/internal/pipeline"
	"github.com/jonathan/carousel-generator/internal/types"
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Generate carousels once and print a summary",
	Long: `Runs one batch synchronously. Without --text or --text-file, posts are read from the
configured sheet and filtered by virality and engagement; with them, one post is generated
from the given text.

Configuration can be loaded from a file using --config. Command-line flags override it.`,
	RunE: runBatchCmd,
}

var (
	runText       string
	runTextFile   string
	runStyleRef   string
	runPersonaRef string
	runMax        int
	runLocal      bool
	runOutputDir  string
)

func init() {
	runCommand.Flags().StringVar(&runText, "text", "", "Generate one post from this text (mutually exclusive with --text-file)")
	runCommand.Flags().StringVar(&runTextFile, "text-file", "", "Generate one post from the contents of this file")
	runCommand.Flags().StringVar(&runStyleRef, "style-ref", "", "Path to a style reference image")
	runCommand.Flags().StringVar(&runPersonaRef, "persona-ref", "", "Path to a persona reference image")
	runCommand.Flags().IntVar(&runMax, "max", 0, "Maximum posts to generate (defaults to BATCH_SIZE)")
	runCommand.Flags().BoolVar(&runLocal, "local", false, "Write images to the output directory instead of cloud storage")
	runCommand.Flags().StringVarP(&runOutputDir, "out", "o", "", "Output directory (defaults to OUTPUT_DIR)")
	runCommand.MarkFlagsMutuallyExclusive("text", "text-file")

	rootCmd.AddCommand(runCommand)
}

func runBatchCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, func(c *config.Config) {
		if runLocal {
			c.StorageBackend = config.StorageLocal
		}
		if cmd.Flags().Changed("out") {
			c.OutputDir = runOutputDir
		}
	})
	if err != nil {
		return err
	}

	req, err := buildRunRequest()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if req.InputMode == types.InputModeSheet {
		if err := cfg.ValidateSheetSource(); err != nil {
			return err
		}
	}

	logger := observability.NewLogger(cfg.AppEnv, cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	req.Progress = func(e pipeline.ProgressEvent) {
		if e.Step == "iteration" {
			_, _ = fmt.Fprintf(out, "%s %s\n", e.PostID, e.Status)
		}
	}

	summary, runErr := a.generator.Run(ctx, req)
	observability.NewPrinter(out).PrintSummary(summary)

	// Same completion rule as server jobs.
	rec := jobs.Record{JobID: req.JobID}
	jobs.Finish(&rec, summary, runErr, time.Now().UTC())
	if rec.Status == jobs.StatusError {
		return errors.New(rec.Error)
	}
	return nil
}

// buildRunRequest turns the flags into a generator request.
func buildRunRequest() (generator.Request, error) {
	req := generator.Request{
		JobID:     uuid.NewString(),
		InputMode: types.InputModeSheet,
		MaxPosts:  runMax,
	}
	if runMax < 0 || runMax > generator.MaxBatchSize {
		return req, fmt.Errorf("--max must be between 0 and %d", generator.MaxBatchSize)
	}

	text := runText
	if runTextFile != "" {
		data, err := os.ReadFile(runTextFile)
		if err != nil {
			return req, fmt.Errorf("failed to read text file: %w", err)
		}
		text = string(data)
	}
	if runText != "" || runTextFile != "" {
		if strings.TrimSpace(text) == "" {
			return req, generator.ErrEmptyText
		}
		req.InputMode = types.InputModeText
		req.Text = text
	}

	var err error
	if req.StyleReference, err = readReference(types.ReferenceStyle, runStyleRef); err != nil {
		return req, err
	}
	if req.PersonaReference, err = readReference(types.ReferencePersona, runPersonaRef); err != nil {
		return req, err
	}
	return req, nil
}
