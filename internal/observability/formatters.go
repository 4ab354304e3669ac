// Package observability provides logging construction, HTTP request logging
// and the formatted run summaries printed by the CLI.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jonathan/carousel-generator/internal/pipeline"
	"github.com/jonathan/carousel-generator/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 72
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 10
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#3FB950"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

// Printer handles formatted output for the CLI
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a bordered box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if len(line) > boxWidth-4 {
			lines[i] = line[:boxWidth-7] + "..."
		}
	}
	body := titleStyle.Render(title) + "\n\n" + strings.Join(lines, "\n")
	fmt.Fprintln(p.out, boxStyle.Width(boxWidth).Render(body))
}

// PrintCandidates lists the posts that passed the filter.
func (p *Printer) PrintCandidates(posts []types.CandidatePost) {
	if len(posts) == 0 {
		p.printBox("CANDIDATES", mutedStyle.Render("No posts matched the filters"))
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d posts matched:\n\n", len(posts)))
	count := min(len(posts), maxItemsToShow)
	for i := 0; i < count; i++ {
		post := posts[i]
		script := strings.Join(strings.Fields(post.Script()), " ")
		if len(script) > 40 {
			script = script[:37] + "..."
		}
		sb.WriteString(fmt.Sprintf("row %-4d %-6s %-9s %s\n", post.RowIndex, post.ViralityTag, post.EngagementTag, script))
	}
	if len(posts) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("... and %d more\n", len(posts)-maxItemsToShow))
	}

	p.printBox("CANDIDATES", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintSummary outputs one line per iteration and the batch totals.
func (p *Printer) PrintSummary(summary *pipeline.BatchSummary) {
	if summary == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Posts: %d   ", summary.Total))
	sb.WriteString(okStyle.Render(fmt.Sprintf("succeeded: %d", summary.Succeeded)))
	sb.WriteString("   ")
	sb.WriteString(failStyle.Render(fmt.Sprintf("failed: %d", summary.Failed)))
	sb.WriteString("\n")

	for _, o := range summary.Outcomes {
		sb.WriteString("\n")
		id := o.PostID
		if id == "" {
			id = o.CandidateID
		}
		if o.Status == pipeline.IterationSucceeded {
			sb.WriteString(okStyle.Render("✓ "+id) + mutedStyle.Render(fmt.Sprintf("  %d images, %s", len(o.UploadURLs), o.Duration.Round(1e9))))
			sb.WriteString("\n")
			if o.OutputDir != "" {
				sb.WriteString(mutedStyle.Render("  "+o.OutputDir) + "\n")
			}
		} else {
			sb.WriteString(failStyle.Render(fmt.Sprintf("✗ %s at %s", id, o.Step)) + "\n")
			sb.WriteString(fmt.Sprintf("  %s\n", o.Error))
			if len(o.UploadURLs) > 0 {
				sb.WriteString(mutedStyle.Render(fmt.Sprintf("  %d images uploaded before the failure", len(o.UploadURLs))) + "\n")
			}
		}
		for _, w := range o.Warnings {
			sb.WriteString(mutedStyle.Render(fmt.Sprintf("  ⚠ %s: %s", w.Step, w.Message)) + "\n")
		}
	}

	p.printBox("BATCH SUMMARY", strings.TrimSuffix(sb.String(), "\n"))
}
