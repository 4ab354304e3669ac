// Package sheets reads candidate posts from a spreadsheet and appends
// generation results to a tracking tab.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jonathan/carousel-generator/internal/types"
)

// Source sheet column headers. Matching is case-insensitive.
const (
	ColURL             = "url"
	ColPostedDate      = "posted date"
	ColCategory        = "category"
	ColTheme           = "theme"
	ColVirality        = "VIRALITY"
	ColEngagement      = "ENGAGEMENT"
	ColOriginalScript  = "original_script"
	ColRewrittenScript = "rewrited_script"
)

// ErrNoHeader is returned when the source sheet has no header row.
var ErrNoHeader = errors.New("sheets: source sheet has no header row")

// Source fetches candidate posts from the configured sheet location.
type Source interface {
	FetchPosts(ctx context.Context) ([]types.CandidatePost, error)
}

// Sink records one generation result. Writes are append-only and are never
// rolled back.
type Sink interface {
	WriteResult(ctx context.Context, result Result) error
}

// Result is one row of the results tab.
type Result struct {
	PostID        string
	RowIndex      int
	Header        string
	Caption       string
	CarouselStyle string
	FolderURL     string
	URLs          []string
	GeneratedAt   time.Time
	Status        string
}

// ResultHeaders is the header row created on the results tab.
var ResultHeaders = []string{
	"post_id", "row_index", "generated_header", "generated_text",
	"creative_style", "gcs_folder_url", "image_urls", "generation_date", "status",
}

// Row renders the result in ResultHeaders order.
func (r Result) Row() []string {
	status := r.Status
	if status == "" {
		status = "completed"
	}
	generated := r.GeneratedAt
	if generated.IsZero() {
		generated = time.Now().UTC()
	}
	return []string{
		r.PostID,
		strconv.Itoa(r.RowIndex),
		r.Header,
		r.Caption,
		r.CarouselStyle,
		r.FolderURL,
		strings.Join(r.URLs, "\n"),
		generated.Format(time.RFC3339),
		status,
	}
}

// ParseRows maps a header row plus data rows onto candidate posts. RowIndex
// is the 1-based sheet row number, so the first data row is 2. Blank rows
// are skipped; columns other than the known ones land in Extra.
func ParseRows(rows [][]string) ([]types.CandidatePost, error) {
	if len(rows) == 0 || isBlank(rows[0]) {
		return nil, ErrNoHeader
	}

	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(h)
	}

	var posts []types.CandidatePost
	for r, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		sheetRow := r + 2
		post := types.CandidatePost{
			ID:       fmt.Sprintf("row-%d", sheetRow),
			RowIndex: sheetRow,
		}
		for c, name := range header {
			if name == "" || c >= len(row) {
				continue
			}
			value := strings.TrimSpace(row[c])
			switch {
			case strings.EqualFold(name, ColURL):
				post.URL = value
			case strings.EqualFold(name, ColPostedDate):
				post.PostedDate = value
			case strings.EqualFold(name, ColCategory):
				post.Category = value
			case strings.EqualFold(name, ColTheme):
				post.Theme = value
			case strings.EqualFold(name, ColVirality):
				post.ViralityTag = value
			case strings.EqualFold(name, ColEngagement):
				post.EngagementTag = value
			case strings.EqualFold(name, ColOriginalScript):
				post.OriginalScript = value
			case strings.EqualFold(name, ColRewrittenScript):
				post.RewrittenScript = value
			default:
				if value == "" {
					continue
				}
				if post.Extra == nil {
					post.Extra = map[string]string{}
				}
				post.Extra[name] = value
			}
		}
		post.ScriptText = post.Script()
		posts = append(posts, post)
	}
	return posts, nil
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// quoteSheet returns an A1 range naming the whole sheet.
func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}
