package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/jonathan/carousel-generator/internal/pipeline"
	"github.com/jonathan/carousel-generator/internal/types"
)

// spreadsheetAPI is the slice of the Sheets API used here.
type spreadsheetAPI interface {
	GetValues(ctx context.Context, spreadsheetID, rng string) ([][]interface{}, error)
	AppendValues(ctx context.Context, spreadsheetID, rng string, rows [][]interface{}) error
	SheetTitles(ctx context.Context, spreadsheetID string) ([]string, error)
	AddSheet(ctx context.Context, spreadsheetID, title string) error
}

type sheetsService struct {
	svc *gsheets.Service
}

func (s sheetsService) GetValues(ctx context.Context, id, rng string) ([][]interface{}, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(id, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (s sheetsService) AppendValues(ctx context.Context, id, rng string, rows [][]interface{}) error {
	_, err := s.svc.Spreadsheets.Values.
		Append(id, rng, &gsheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

func (s sheetsService) SheetTitles(ctx context.Context, id string) ([]string, error) {
	resp, err := s.svc.Spreadsheets.Get(id).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(resp.Sheets))
	for _, sh := range resp.Sheets {
		if sh.Properties != nil {
			titles = append(titles, sh.Properties.Title)
		}
	}
	return titles, nil
}

func (s sheetsService) AddSheet(ctx context.Context, id, title string) error {
	_, err := s.svc.Spreadsheets.BatchUpdate(id, &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			AddSheet: &gsheets.AddSheetRequest{Properties: &gsheets.SheetProperties{Title: title}},
		}},
	}).Context(ctx).Do()
	return err
}

// GoogleConfig locates the source and results tabs.
type GoogleConfig struct {
	SpreadsheetID string
	SourceSheet   string
	OutputSheet   string
}

// GoogleSheet is a Source and Sink backed by the Google Sheets API.
type GoogleSheet struct {
	api    spreadsheetAPI
	cfg    GoogleConfig
	logger zerolog.Logger

	mu      sync.Mutex
	ensured bool
}

// NewGoogleSheet creates a Sheets client. Client options carry credentials;
// with none, application default credentials are used.
func NewGoogleSheet(ctx context.Context, cfg GoogleConfig, logger zerolog.Logger, opts ...option.ClientOption) (*GoogleSheet, error) {
	if cfg.SpreadsheetID == "" {
		return nil, errors.New("sheets: spreadsheet id is required")
	}
	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets: create service: %w", err)
	}
	return newGoogleSheet(sheetsService{svc: svc}, cfg, logger), nil
}

func newGoogleSheet(api spreadsheetAPI, cfg GoogleConfig, logger zerolog.Logger) *GoogleSheet {
	if cfg.SourceSheet == "" {
		cfg.SourceSheet = "INSTAGRAM"
	}
	if cfg.OutputSheet == "" {
		cfg.OutputSheet = "Generated_Content"
	}
	return &GoogleSheet{api: api, cfg: cfg, logger: logger}
}

// FetchPosts reads every row of the source tab.
func (g *GoogleSheet) FetchPosts(ctx context.Context) ([]types.CandidatePost, error) {
	values, err := g.api.GetValues(ctx, g.cfg.SpreadsheetID, quoteSheet(g.cfg.SourceSheet))
	if err != nil {
		return nil, transportError("sheet fetch", err)
	}

	rows := make([][]string, len(values))
	for i, row := range values {
		rows[i] = make([]string, len(row))
		for j, cell := range row {
			rows[i][j] = fmt.Sprint(cell)
		}
	}

	posts, err := ParseRows(rows)
	if err != nil {
		return nil, err
	}
	g.logger.Info().Str("sheet", g.cfg.SourceSheet).Int("rows", len(posts)).Msg("fetched source rows")
	return posts, nil
}

// WriteResult appends one row to the results tab, creating the tab and its
// header row on first use.
func (g *GoogleSheet) WriteResult(ctx context.Context, result Result) error {
	if err := g.ensureOutputSheet(ctx); err != nil {
		return err
	}
	if err := g.api.AppendValues(ctx, g.cfg.SpreadsheetID, quoteSheet(g.cfg.OutputSheet), [][]interface{}{toCells(result.Row())}); err != nil {
		return transportError("sheet append", err)
	}
	g.logger.Debug().Str("post_id", result.PostID).Msg("appended result row")
	return nil
}

func (g *GoogleSheet) ensureOutputSheet(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ensured {
		return nil
	}

	titles, err := g.api.SheetTitles(ctx, g.cfg.SpreadsheetID)
	if err != nil {
		return transportError("sheet lookup", err)
	}
	for _, t := range titles {
		if t == g.cfg.OutputSheet {
			g.ensured = true
			return nil
		}
	}

	if err := g.api.AddSheet(ctx, g.cfg.SpreadsheetID, g.cfg.OutputSheet); err != nil {
		return transportError("sheet create", err)
	}
	if err := g.api.AppendValues(ctx, g.cfg.SpreadsheetID, quoteSheet(g.cfg.OutputSheet), [][]interface{}{toCells(ResultHeaders)}); err != nil {
		return transportError("sheet header", err)
	}
	g.logger.Info().Str("sheet", g.cfg.OutputSheet).Msg("created results sheet")
	g.ensured = true
	return nil
}

func toCells(row []string) []interface{} {
	cells := make([]interface{}, len(row))
	for i, v := range row {
		cells[i] = v
	}
	return cells
}

// transportError wraps retriable API failures; 4xx responses other than 429
// are returned unwrapped so they are not retried.
func transportError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &pipeline.TransportError{Op: op, Err: err}
}
