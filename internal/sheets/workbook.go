package sheets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/jonathan/carousel-generator/internal/types"
)

// Workbook is a Source and Sink backed by a local .xlsx file, for offline
// runs without Sheets credentials.
type Workbook struct {
	path   string
	source string
	output string

	mu sync.Mutex
}

// NewWorkbook returns a workbook-backed source/sink.
func NewWorkbook(path, sourceSheet, outputSheet string) *Workbook {
	if sourceSheet == "" {
		sourceSheet = "INSTAGRAM"
	}
	if outputSheet == "" {
		outputSheet = "Generated_Content"
	}
	return &Workbook{path: path, source: sourceSheet, output: outputSheet}
}

// FetchPosts reads the source sheet.
func (w *Workbook) FetchPosts(ctx context.Context) ([]types.CandidatePost, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := excelize.OpenFile(w.path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(w.source)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", w.source, err)
	}
	return ParseRows(rows)
}

// WriteResult appends a row to the output sheet, creating the workbook, the
// sheet and its header row as needed.
func (w *Workbook) WriteResult(ctx context.Context, result Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := excelize.OpenFile(w.path)
	if errors.Is(err, os.ErrNotExist) {
		f = excelize.NewFile()
	} else if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	if index, _ := f.GetSheetIndex(w.output); index == -1 {
		if _, err := f.NewSheet(w.output); err != nil {
			return fmt.Errorf("create sheet %s: %w", w.output, err)
		}
		if err := setRow(f, w.output, 1, ResultHeaders); err != nil {
			return err
		}
	}

	rows, err := f.GetRows(w.output)
	if err != nil {
		return fmt.Errorf("read sheet %s: %w", w.output, err)
	}
	if err := setRow(f, w.output, len(rows)+1, result.Row()); err != nil {
		return err
	}

	if err := f.SaveAs(w.path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	cells := toCells(values)
	if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("write row %d: %w", row, err)
	}
	return nil
}
