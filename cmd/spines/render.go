package main

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/shishobooks/spines/pkg/progress"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

var printer = message.NewPrinter(language.English)

// renderTable lays rows out under headers. Columns listed in right are
// right-aligned. Terminals get rounded borders, pipes get plain ASCII.
func renderTable(headers []string, rows [][]string, right map[int]bool, fancy bool) string {
	tw := table.NewWriter()
	if fancy {
		tw.SetStyle(table.StyleRounded)
	} else {
		tw.SetStyle(table.StyleDefault)
	}

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range headers {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, len(headers))
	for i := range headers {
		align := text.AlignLeft
		if right[i] {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// formatEvent renders one progress event as a status line, or "" for events
// that aren't worth printing.
func formatEvent(ev progress.Event, colorize bool) string {
	var line, color string
	switch ev.Type {
	case progress.EventStart:
		line = fmt.Sprintf("Processing %d file(s)", len(ev.Filenames))
		color = ansiBlue
	case progress.EventProgress:
		line = fmt.Sprintf("[%d/%d] %s", ev.CurrentFile, ev.TotalFiles, ev.Filename)
	case progress.EventDetail:
		line = fmt.Sprintf("      %s", ev.Detail)
	case progress.EventFileComplete:
		line = fmt.Sprintf("[%d/%d] %s: %s", ev.CurrentFile, ev.TotalFiles, ev.Filename, ev.Status)
		if ev.Reason != "" {
			line += " (" + ev.Reason + ")"
		}
		color = statusColor(ev.Status)
	case progress.EventComplete:
		line = "Done"
		if ev.Message != "" {
			line = ev.Message
		}
		color = ansiGreen
	case progress.EventError:
		line = "Stopped: " + ev.Error
		color = ansiRed
	default:
		return ""
	}
	if colorize && color != "" {
		return color + line + ansiReset
	}
	return line
}

func statusColor(status string) string {
	switch status {
	case progress.StatusSuccess:
		return ansiGreen
	case progress.StatusReview:
		return ansiYellow
	case progress.StatusFailed, progress.StatusCancelled:
		return ansiRed
	default:
		return ""
	}
}

func formatBytes(n int64) string {
	return printer.Sprintf("%d B", n)
}

func shouldColorize(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
