// Package report prints human-facing build and test results to the console.
// Progress and diagnostics go through the structured logger; this package
// only owns the final PASS/FAIL/ERROR lines a person reads.
package report

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/anvil-build/anvil/internal/graph"
)

var (
	passStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	blockedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Printer writes result lines to a console stream.
type Printer struct {
	out io.Writer
}

// NewPrinter returns a printer writing to out.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// Pass reports a passing test target.
func (p *Printer) Pass(label string) {
	fmt.Fprintf(p.out, "%s %s\n", passStyle.Render("PASS:"), label)
}

// Fail reports a failing test target, pointing at the retained log.
func (p *Printer) Fail(label, logPath string) {
	fmt.Fprintf(p.out, "%s %s %s\n", failStyle.Render("FAIL:"), label,
		dimStyle.Render("(log: "+logPath+")"))
}

// ActionError reports an action whose command failed, including any console
// output the command produced.
func (p *Printer) ActionError(a *graph.Action) {
	fmt.Fprintf(p.out, "%s %s\n", errorStyle.Render("ERROR:"), a.Describe())
	var failure *graph.ActionFailure
	errors.As(a.Err, &failure)
	if failure != nil && failure.Output != "" {
		for _, line := range strings.Split(strings.TrimRight(failure.Output, "\n"), "\n") {
			fmt.Fprintf(p.out, "  %s\n", line)
		}
	} else if a.Err != nil {
		fmt.Fprintf(p.out, "  %s\n", a.Err)
	}
}

// Blocked reports an action skipped because something upstream failed.
func (p *Printer) Blocked(a *graph.Action) {
	fmt.Fprintf(p.out, "%s %s\n", blockedStyle.Render("BLOCKED:"), a.Describe())
}

// BuildSummary prints the closing line for a build phase.
func (p *Printer) BuildSummary(ran, failed, blocked int) {
	if failed == 0 && blocked == 0 {
		fmt.Fprintf(p.out, "%s %d actions\n", passStyle.Render("OK:"), ran)
		return
	}
	fmt.Fprintf(p.out, "%s %d failed, %d blocked of %d actions\n",
		failStyle.Render("FAILED:"), failed, blocked, ran)
}

// TestSummary prints the closing line for a test phase.
func (p *Printer) TestSummary(passed, failed int) {
	if failed == 0 {
		fmt.Fprintf(p.out, "%s %d tests\n", passStyle.Render("PASS:"), passed)
		return
	}
	fmt.Fprintf(p.out, "%s %d of %d tests\n", failStyle.Render("FAIL:"), failed, passed+failed)
}
