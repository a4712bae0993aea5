// Package ui renders CLI output: notices, status lines and tables.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/koinonia-app/koinonia/internal/offline/notify"
)

// Palette
var (
	colorPrimary     = lipgloss.AdaptiveColor{Light: "#1F3A5F", Dark: "#9CC3E6"}
	colorSuccess     = lipgloss.Color("#4CAF50")
	colorDestructive = lipgloss.Color("#E53935")
	colorMuted       = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
)

// Printer writes styled output to one writer.
type Printer struct {
	w io.Writer

	title       lipgloss.Style
	success     lipgloss.Style
	destructive lipgloss.Style
	muted       lipgloss.Style
	header      lipgloss.Style
}

// NewPrinter returns a printer for w. Colors are dropped when NO_COLOR is
// set or w is not a terminal.
func NewPrinter(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		r.SetColorProfile(termenv.Ascii)
	}

	return &Printer{
		w:           w,
		title:       r.NewStyle().Bold(true).Foreground(colorPrimary),
		success:     r.NewStyle().Bold(true).Foreground(colorSuccess),
		destructive: r.NewStyle().Bold(true).Foreground(colorDestructive),
		muted:       r.NewStyle().Foreground(colorMuted),
		header:      r.NewStyle().Bold(true).Underline(true),
	}
}

// Notify implements notify.Notifier by printing the notice.
func (p *Printer) Notify(n notify.Notice) {
	fmt.Fprintln(p.w, p.RenderNotice(n))
}

// RenderNotice formats a notice as a one or two line block.
func (p *Printer) RenderNotice(n notify.Notice) string {
	var marker string
	style := p.title
	switch n.Variant {
	case notify.VariantSuccess:
		marker, style = "✓", p.success
	case notify.VariantDestructive:
		marker, style = "✗", p.destructive
	default:
		marker = "•"
	}

	out := style.Render(marker + " " + n.Title)
	if n.Description != "" {
		out += "\n  " + p.muted.Render(n.Description)
	}
	return out
}

// KeyValue prints an aligned "key: value" line.
func (p *Printer) KeyValue(key string, value interface{}) {
	fmt.Fprintf(p.w, "%s %v\n", p.title.Render(fmt.Sprintf("%-12s", key+":")), value)
}

// Muted prints a de-emphasized line.
func (p *Printer) Muted(format string, args ...interface{}) {
	fmt.Fprintln(p.w, p.muted.Render(fmt.Sprintf(format, args...)))
}

// Table prints rows under headers with columns padded to the widest cell.
func (p *Printer) Table(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	line := func(cells []string, style *lipgloss.Style) string {
		parts := make([]string, len(widths))
		for i := range widths {
			var cell string
			if i < len(cells) {
				cell = cells[i]
			}
			padded := cell + strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
			if style != nil {
				padded = style.Render(padded)
			}
			parts[i] = padded
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}

	fmt.Fprintln(p.w, line(headers, &p.header))
	for _, row := range rows {
		fmt.Fprintln(p.w, line(row, nil))
	}
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
