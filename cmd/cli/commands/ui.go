package commands

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/huh/spinner"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// StatusBox renders a titled block of label/value pairs, boxed on a
// terminal.
//
//	StatusBox("Storage", [][2]string{{"Used", "1.2 MiB"}, {"Level", "normal"}})
func StatusBox(title string, fields [][2]string) string {
	if !interactive() {
		var sb strings.Builder
		fmt.Fprintf(&sb, "%s\n%s\n", title, strings.Repeat("=", lipgloss.Width(title)))
		for _, f := range fields {
			fmt.Fprintf(&sb, "%-14s %s\n", f[0]+":", f[1])
		}
		return sb.String()
	}

	lines := make([]string, 0, len(fields)+1)
	lines = append(lines, styleTitle.Render(title))
	for _, f := range fields {
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, styleLabel.Render(f[0]), styleValue.Render(f[1])))
	}
	return styleBox.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// AlertBox renders a message in a red box on a terminal
func AlertBox(msg string) string {
	if !interactive() {
		return "ERROR: " + msg
	}
	return styleAlertBox.Render(msg)
}

// RenderTable renders rows under headers. Rows alternate shades on a
// terminal; otherwise columns are aligned with spaces.
func RenderTable(headers []string, rows [][]string) string {
	if !interactive() {
		return renderTablePlain(headers, rows)
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return styleTableHead
			case row%2 == 1:
				return styleTableDim
			}
			return styleTableCell
		}).
		Headers(headers...).
		Rows(rows...).
		String() + "\n"
}

func renderTablePlain(headers []string, rows [][]string) string {
	if len(headers) == 0 {
		return ""
	}
	var sb strings.Builder
	tw := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)

	rule := make([]string, len(headers))
	for i, h := range headers {
		rule[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	fmt.Fprintln(tw, strings.Join(rule, "\t"))
	for _, row := range rows {
		if len(row) > len(headers) {
			row = row[:len(headers)]
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
	return sb.String()
}

// Success writes a confirmation line
func Success(w io.Writer, msg string) {
	if interactive() {
		fmt.Fprintln(w, styleOK.Render("✓ "+msg))
		return
	}
	fmt.Fprintln(w, "[OK] "+msg)
}

// Notice writes an informational line
func Notice(w io.Writer, msg string) {
	if interactive() {
		fmt.Fprintln(w, styleNotice.Render("• "+msg))
		return
	}
	fmt.Fprintln(w, "[INFO] "+msg)
}

// WithSpinner runs fn behind a spinner titled msg and returns fn's error.
// Canceling ctx stops the spinner; fn sees the same context.
func WithSpinner(ctx context.Context, msg string, fn func(context.Context) error) error {
	if !interactive() {
		return fn(ctx)
	}

	var fnErr error
	if err := spinner.New().
		Title(msg).
		Context(ctx).
		Action(func() { fnErr = fn(ctx) }).
		Run(); err != nil {
		return err
	}
	return fnErr
}

// FormatBytes renders a byte count in binary units
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// FormatCount renders a block height or cycle with thousands separators
func FormatCount(n uint64) string {
	s := strconv.FormatUint(n, 10)
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return s
}

// FormatAddress shortens a Stacks principal for display
func FormatAddress(addr string) string {
	return abbreviate(addr, 6, 5)
}

// FormatTxID shortens a transaction id for display
func FormatTxID(id string) string {
	return abbreviate(id, 8, 4)
}

func abbreviate(s string, head, tail int) string {
	if len(s) <= head+tail+3 {
		return s
	}
	return s[:head] + "..." + s[len(s)-tail:]
}

// SectionHeader renders a heading above a table
func SectionHeader(title string) string {
	if !interactive() {
		return "\n" + title + "\n" + strings.Repeat("-", len(title))
	}
	return styleSection.Render(title)
}

// Hint renders a dim suggestion line
func Hint(msg string) string {
	if !interactive() {
		return "  " + msg
	}
	return "  " + styleHint.Render(msg)
}
