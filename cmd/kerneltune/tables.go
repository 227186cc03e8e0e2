package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"

	"github.com/samcharles93/kerneltune/internal/autotune"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	chosenRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "2", Dark: "10"}).
			Bold(true).
			PaddingLeft(1).PaddingRight(1)
)

// newTable builds a bordered table. Rows in highlight are drawn in the
// chosen style; alignments apply per column, the last one repeating.
func newTable(highlight map[int]bool, alignments ...lipgloss.Position) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			switch {
			case row < 0:
				return headerRowStyle
			case highlight[row]:
				s = chosenRowStyle
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			} else if len(alignments) > 0 {
				alignment = alignments[len(alignments)-1]
			}
			return s.Align(alignment)
		})
}

// renderDecision prints the per-candidate timings of e. eligible reports
// whether a candidate took part in the tuning cycle.
func renderDecision(w io.Writer, e autotune.Entry, names []string, eligible func(int) bool) {
	_, _ = fmt.Fprintf(w, "%s %s\n", e.Family, e.Key)
	table := newTable(map[int]bool{e.Index: true}, lipgloss.Right, lipgloss.Left, lipgloss.Left, lipgloss.Right).
		Headers("#", "candidate", "status", "median")
	for i, name := range names {
		status, median := "ineligible", "-"
		var d time.Duration
		if i < len(e.Durations) {
			d = e.Durations[i]
		}
		switch {
		case i == e.Index:
			status, median = "chosen", formatDuration(d)
		case !eligible(i):
		case d > 0:
			status, median = "ok", formatDuration(d)
		default:
			status = "failed"
		}
		table.Row(fmt.Sprint(i), name, status, median)
	}
	_, _ = fmt.Fprintln(w, table.Render())
}

func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Millisecond:
		return fmt.Sprintf("%.3fms", float64(d)/float64(time.Millisecond))
	case d >= time.Microsecond:
		return fmt.Sprintf("%.2fµs", float64(d)/float64(time.Microsecond))
	default:
		return d.String()
	}
}

func shortChecksum(sum string) string {
	if len(sum) <= 12 {
		return sum
	}
	return sum[:12]
}

func joinLines(parts []string) string {
	return strings.Join(parts, "\n")
}
