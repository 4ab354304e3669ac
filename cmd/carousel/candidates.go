package main

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jonathan/carousel-generator/internal/config"
	"github.com/jonathan/carousel-generator/internal/generator"
	"github.com/jonathan/carousel-generator/internal/observability"
	"github.com/jonathan/carousel-generator/internal/sheets"
)

var candidatesCmd = &cobra.Command{
	Use:   "candidates",
	Short: "List the sheet posts that pass the virality and engagement filters",
	RunE:  runCandidates,
}

var (
	candidatesSheetFile string
	candidatesJSON      bool
)

func init() {
	candidatesCmd.Flags().StringVar(&candidatesSheetFile, "sheet-file", "", "Read posts from a local .xlsx file (defaults to SHEET_FILE)")
	candidatesCmd.Flags().BoolVar(&candidatesJSON, "json", false, "Print candidates as JSON")
	rootCmd.AddCommand(candidatesCmd)
}

func runCandidates(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, func(c *config.Config) {
		if cmd.Flags().Changed("sheet-file") {
			c.SheetFile = candidatesSheetFile
		}
	})
	if err != nil {
		return err
	}
	if err := cfg.ValidateSheetSource(); err != nil {
		return err
	}

	ctx := cmd.Context()
	source, _, err := buildSheets(ctx, cfg, zerolog.Nop())
	if err != nil {
		return err
	}

	posts, err := source.FetchPosts(ctx)
	if err != nil {
		return fmt.Errorf("fetch posts: %w", err)
	}
	matched := sheets.NewFilter(cfg.AllowedVirality, cfg.AllowedEngagement).Apply(posts)

	out := cmd.OutOrStdout()
	if candidatesJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(matched)
	}
	observability.NewPrinter(out).PrintCandidates(matched)
	if limit := generator.BatchLimit(0, cfg.BatchSize); len(matched) > limit {
		_, _ = fmt.Fprintf(out, "A batch processes the first %d of %d posts.\n", limit, len(matched))
	}
	return nil
}
