package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/Sternrassler/github-code-search/pkg/client"
	"github.com/Sternrassler/github-code-search/pkg/search"
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	progressStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	summaryStyle  = lipgloss.NewStyle().Faint(true)
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// newProgressPrinter returns a ProgressFunc writing to w. On a terminal the
// line is redrawn in place, otherwise one line is written per page.
func newProgressPrinter(w io.Writer) search.ProgressFunc {
	tty := isTerminal(w)
	records := 0

	return func(_ context.Context, fraction float64, items []client.Record) error {
		records += len(items)
		line := fmt.Sprintf("%3.0f%%  %d records", fraction*100, records)
		if tty {
			fmt.Fprintf(w, "\r%s", progressStyle.Render(line))
			return nil
		}
		fmt.Fprintln(w, "progress "+line)
		return nil
	}
}

func writeJSONLines(w io.Writer, records []client.Record) error {
	enc := json.NewEncoder(w)
	for i := range records {
		if err := enc.Encode(records[i]); err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
	}
	return nil
}

func writeTable(w io.Writer, records []client.Record) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No results found.")
		return err
	}

	headers := []string{"REPOSITORY", "PATH", "URL"}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{r.Repository, r.Path, r.HTMLURL})
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	var b strings.Builder
	b.WriteString(renderRow(headers, widths, headerStyle))
	for _, row := range rows {
		b.WriteString(renderRow(row, widths, lipgloss.NewStyle()))
	}
	b.WriteString(summaryStyle.Render(fmt.Sprintf("%d records", len(records))))
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func renderRow(cells []string, widths []int, style lipgloss.Style) string {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		if i == len(cells)-1 {
			parts[i] = style.Render(cell)
			continue
		}
		parts[i] = style.Width(widths[i]).Render(cell)
	}
	return strings.Join(parts, "  ") + "\n"
}
