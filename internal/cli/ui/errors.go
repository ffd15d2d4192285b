package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// ErrorOptions configures an error message.
type ErrorOptions struct {
	Context     string
	Problem     string
	Suggestions []string
	Help        []string
	NoColor     bool
}

// FormatError renders a CLI error:
//
//	✗ UNIT NOT FOUND: app/Mian
//
//	   Did you mean: app/Main?
//
//	   → List units: compilo disasm build/artifacts/demo-1.0.zip --list
func FormatError(opts ErrorOptions) string {
	var b strings.Builder

	header := color.New(color.FgRed, color.Bold)
	hint := color.New(color.FgCyan)
	if opts.NoColor {
		header.DisableColor()
		hint.DisableColor()
	}

	if opts.Context != "" {
		header.Fprintf(&b, "✗ %s: %s\n", strings.ToUpper(opts.Context), opts.Problem)
	} else {
		header.Fprintf(&b, "✗ %s\n", opts.Problem)
	}

	if len(opts.Suggestions) > 0 {
		fmt.Fprintf(&b, "\n   Did you mean: %s?\n", strings.Join(opts.Suggestions, ", "))
	}
	if len(opts.Help) > 0 {
		b.WriteString("\n")
		for _, h := range opts.Help {
			hint.Fprintf(&b, "   → %s\n", h)
		}
	}
	return b.String()
}

// WriteError writes FormatError(opts) to w.
func WriteError(w io.Writer, opts ErrorOptions) {
	fmt.Fprint(w, FormatError(opts))
}

// FormatSuccess renders a one-line success message.
func FormatSuccess(message string, noColor bool) string {
	green := color.New(color.FgGreen, color.Bold)
	if noColor {
		green.DisableColor()
	}
	return green.Sprintf("✓ %s", message)
}
