package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/gogpu/gpures"
)

// =============================================================================
// Color Palette
// =============================================================================

var (
	colorCyan   = lipgloss.Color("36")  // Teal - headings
	colorGreen  = lipgloss.Color("35")  // Green - success
	colorYellow = lipgloss.Color("220") // Amber - deferred work
	colorWhite  = lipgloss.Color("255") // Bright white - values
	colorDim    = lipgloss.Color("240") // Dim gray - muted text
)

// =============================================================================
// Styles
// =============================================================================

var (
	styleTitle   = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	styleHeader  = lipgloss.NewStyle().Bold(true).Foreground(colorWhite)
	styleDim     = lipgloss.NewStyle().Foreground(colorDim)
	styleNumber  = lipgloss.NewStyle().Foreground(colorCyan)
	styleSuccess = lipgloss.NewStyle().Foreground(colorGreen)
	styleWarning = lipgloss.NewStyle().Foreground(colorYellow)

	styleCell = lipgloss.NewStyle().PaddingRight(2)
)

const iconSuccess = "✓"

// =============================================================================
// Frame Table
// =============================================================================

// frameRow is one line of the simulate summary.
type frameRow struct {
	stats    gpures.FrameStats
	deferred gpures.DeferredSnapshot
}

var frameColumns = []string{"frame", "graphs", "skipped", "commands", "deferred res", "deferred graphs", "deferred nodes"}

func (r frameRow) cells() []string {
	return []string{
		fmt.Sprint(r.stats.Frame),
		fmt.Sprint(r.stats.Graphs),
		fmt.Sprint(r.stats.Skipped),
		fmt.Sprint(r.stats.Commands),
		fmt.Sprint(r.deferred.Resources),
		fmt.Sprint(r.deferred.Graphs),
		fmt.Sprint(r.deferred.Nodes),
	}
}

// renderFrameTable lays out rows in aligned columns.
func renderFrameTable(rows []frameRow) string {
	widths := make([]int, len(frameColumns))
	for i, c := range frameColumns {
		widths[i] = lipgloss.Width(c)
	}
	cells := make([][]string, len(rows))
	for i, r := range rows {
		cells[i] = r.cells()
		for j, c := range cells[i] {
			widths[j] = max(widths[j], lipgloss.Width(c))
		}
	}

	line := func(values []string, style func(col int, v string) lipgloss.Style) string {
		parts := make([]string, len(values))
		for j, v := range values {
			parts[j] = styleCell.Width(widths[j] + 2).Render(style(j, v).Render(v))
		}
		return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
	}

	var b strings.Builder
	b.WriteString(line(frameColumns, func(int, string) lipgloss.Style { return styleHeader }))
	b.WriteByte('\n')
	for _, row := range cells {
		b.WriteString(line(row, func(col int, v string) lipgloss.Style {
			switch {
			case col == 0:
				return styleDim
			case col >= 4 && v != "0":
				return styleWarning
			default:
				return styleNumber
			}
		}))
		b.WriteByte('\n')
	}
	return b.String()
}

// renderSnapshot summarizes the final engine state.
func renderSnapshot(s gpures.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", styleSuccess.Render(iconSuccess),
		styleTitle.Render(fmt.Sprintf("%d frames on %s (%d in flight)", s.Frame, s.Backend, s.FramesInFlight)))
	fmt.Fprintf(&b, "  resources  %s buffers, %s images, %s samplers\n",
		styleNumber.Render(fmt.Sprint(s.Resources.Buffers)),
		styleNumber.Render(fmt.Sprint(s.Resources.Images)),
		styleNumber.Render(fmt.Sprint(s.Resources.Samplers)))
	for _, g := range s.Graphs {
		fmt.Fprintf(&b, "  graph      %s %s [%s]\n",
			styleHeader.Render(g.Name), styleDim.Render(g.Usage.String()), strings.Join(g.Nodes, " → "))
	}
	for _, d := range s.DescriptorSets {
		fmt.Fprintf(&b, "  global set %s %s instances, %s bindings\n",
			styleHeader.Render(d.Name),
			styleNumber.Render(fmt.Sprint(len(d.Handles))),
			styleNumber.Render(fmt.Sprint(d.Bindings)))
	}
	return b.String()
}
