package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/jonathan/carousel-generator/internal/config"
	"github.com/jonathan/carousel-generator/internal/db"
	"github.com/jonathan/carousel-generator/internal/generator"
	"github.com/jonathan/carousel-generator/internal/llm"
	"github.com/jonathan/carousel-generator/internal/pipeline/steps"
	"github.com/jonathan/carousel-generator/internal/sheets"
	"github.com/jonathan/carousel-generator/internal/storage"
	"github.com/jonathan/carousel-generator/internal/types"
)

// resultsWorkbook receives result rows when no sheet is configured.
const resultsWorkbook = "results.xlsx"

// app holds the collaborators shared by serve and run.
type app struct {
	cfg       config.Config
	logger    zerolog.Logger
	files     *storage.FileStore
	generator *generator.Generator
	database  *db.DB
	client    llm.Client
}

func buildApp(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	files, err := storage.NewFileStore(cfg.OutputDir, "/files")
	if err != nil {
		return nil, err
	}
	a.files = files

	source, sink, err := buildSheets(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	uploader, err := buildUploader(ctx, cfg, files, logger)
	if err != nil {
		return nil, err
	}

	client, err := llm.NewClient(ctx, cfg.LLMConfig(), cfg.APIKey())
	if err != nil {
		return nil, fmt.Errorf("failed to create model client: %w", err)
	}
	a.client = client

	var recorder steps.ArtifactRecorder
	if cfg.DatabaseURL != "" {
		database, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			a.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		a.database = database
		recorder = database
	}

	opts := steps.DefaultOptions()
	opts.ImageCount = cfg.ImageCount
	opts.MaxParallelImages = cfg.MaxParallelImages
	opts.OverlayFallback = cfg.Overlay()
	opts.ToolRetry = cfg.ToolRetry()
	opts.Logger = logger

	gen, err := generator.New(generator.Config{
		Source: source,
		Filter: sheets.NewFilter(cfg.AllowedVirality, cfg.AllowedEngagement),
		Collaborators: steps.Collaborators{
			Model:    llm.NewInvoker(client),
			Files:    files,
			Uploader: uploader,
			Sink:     sink,
		},
		Options:   opts,
		Recorder:  recorder,
		Style:     generator.NewStyle(cfg.Style),
		BatchSize: cfg.BatchSize,
		Logger:    logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.generator = gen

	logger.Info().
		Str("provider", cfg.Provider).
		Str("storage", cfg.StorageBackend).
		Bool("database", a.database != nil).
		Bool("sheet_source", source != nil).
		Msg("generator ready")
	return a, nil
}

// Close releases the model client and database pool.
func (a *app) Close() {
	if a.client != nil {
		if err := a.client.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close model client")
		}
	}
	if a.database != nil {
		a.database.Close()
	}
}

// buildSheets picks the post source and result sink: a local workbook when
// SHEET_FILE is set, Google Sheets when a spreadsheet id is set, otherwise no
// source and a results workbook under the output directory.
func buildSheets(ctx context.Context, cfg config.Config, logger zerolog.Logger) (sheets.Source, sheets.Sink, error) {
	switch {
	case cfg.SheetFile != "":
		wb := sheets.NewWorkbook(cfg.SheetFile, cfg.SourceSheetName, cfg.OutputSheetName)
		return wb, wb, nil
	case cfg.SpreadsheetID != "":
		gs, err := sheets.NewGoogleSheet(ctx, sheets.GoogleConfig{
			SpreadsheetID: cfg.SpreadsheetID,
			SourceSheet:   cfg.SourceSheetName,
			OutputSheet:   cfg.OutputSheetName,
		}, logger, googleOptions(cfg)...)
		if err != nil {
			return nil, nil, err
		}
		return gs, gs, nil
	default:
		wb := sheets.NewWorkbook(filepath.Join(cfg.OutputDir, resultsWorkbook), cfg.SourceSheetName, cfg.OutputSheetName)
		return nil, wb, nil
	}
}

func buildUploader(ctx context.Context, cfg config.Config, files *storage.FileStore, logger zerolog.Logger) (storage.Uploader, error) {
	if cfg.StorageBackend == config.StorageLocal {
		return files, nil
	}
	uploader, err := storage.NewGCSUploader(ctx, cfg.Bucket, logger, googleOptions(cfg)...)
	if err != nil {
		return nil, err
	}
	return uploader.WithRetry(cfg.ToolRetry()), nil
}

// googleOptions returns the service account credentials shared by Sheets and
// Cloud Storage. Without a file, application default credentials apply.
func googleOptions(cfg config.Config) []option.ClientOption {
	if cfg.SheetsCredentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(cfg.SheetsCredentialsFile)}
}

// readReference loads a reference image from disk.
func readReference(kind, path string) (*types.Reference, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s reference: %w", kind, err)
	}
	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("%s reference %s is not an image (%s)", kind, path, mimeType)
	}
	return &types.Reference{Kind: kind, MIMEType: mimeType, Data: data}, nil
}
