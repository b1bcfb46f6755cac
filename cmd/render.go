// File: cmd/render.go
package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/xkilldash9x/bulkperm/api/schemas"
)

// consoleNotifier reports run outcomes to the terminal.
type consoleNotifier struct {
	mu sync.Mutex
	w  io.Writer

	plain   lipgloss.Style
	title   lipgloss.Style
	header  lipgloss.Style
	added   lipgloss.Style
	skipped lipgloss.Style
	failed  lipgloss.Style
	muted   lipgloss.Style
	warn    lipgloss.Style
}

func newConsoleNotifier(w io.Writer) *consoleNotifier {
	// A renderer bound to w drops colors when w is not a terminal.
	r := lipgloss.NewRenderer(w)
	return &consoleNotifier{
		w:       w,
		plain:   r.NewStyle(),
		title:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		header:  r.NewStyle().Bold(true).Underline(true),
		added:   r.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		skipped: r.NewStyle().Foreground(lipgloss.Color("8")),
		failed:  r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		muted:   r.NewStyle().Faint(true),
		warn:    r.NewStyle().Foreground(lipgloss.Color("11")).Bold(true),
	}
}

func (n *consoleNotifier) RunFinished(summary schemas.RunSummary) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintln(n.w, n.renderSummary(summary))
}

func (n *consoleNotifier) RunFailed(token uint64, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintln(n.w, n.failed.Render("Bulk Permissions stopped on error:"), err.Error(),
		n.muted.Render("(run "+strconv.FormatUint(token, 10)+")"))
}

func (n *consoleNotifier) WrongPage(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintln(n.w, n.warn.Render(message))
}

// renderSummary lays the per-section counts out as a small table.
func (n *consoleNotifier) renderSummary(summary schemas.RunSummary) string {
	const keyWidth, numWidth = 8, 9

	cell := func(s lipgloss.Style, text string, width int) string {
		return s.Width(width).Render(text)
	}

	lines := []string{
		n.title.Render("Bulk Permissions done.") + " " + n.muted.Render("run "+summary.RunID),
		lipgloss.JoinHorizontal(lipgloss.Top,
			cell(n.header, "FIELD", keyWidth),
			cell(n.header, "ADDED", numWidth),
			cell(n.header, "SKIPPED", numWidth),
			cell(n.header, "FAILED", numWidth),
		),
	}
	for _, key := range schemas.FieldOrder {
		s := summary.Sections[key]
		row := lipgloss.JoinHorizontal(lipgloss.Top,
			cell(n.plain, string(key), keyWidth),
			cell(n.added, strconv.Itoa(s.Added), numWidth),
			cell(n.skipped, strconv.Itoa(s.Skipped), numWidth),
			cell(n.failed, strconv.Itoa(s.Failed), numWidth),
		)
		if s.Cancelled {
			row += n.muted.Render("cancelled")
		}
		lines = append(lines, row)
	}
	return strings.Join(lines, "\n")
}

// renderStatus formats a STATUS reply for the shell.
func renderStatus(r schemas.Reply) string {
	state := "idle"
	if r.Running {
		state = "running"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "status: %s, token %d", state, r.Token)
	if r.RunID != "" {
		fmt.Fprintf(&b, ", run %s", r.RunID)
	}
	if r.Summary != nil {
		for _, key := range schemas.FieldOrder {
			s := r.Summary.Sections[key]
			fmt.Fprintf(&b, "\n  %-6s added %d, skipped %d, failed %d", key, s.Added, s.Skipped, s.Failed)
		}
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "\n  last error: %s", r.Error)
	}
	return b.String()
}
