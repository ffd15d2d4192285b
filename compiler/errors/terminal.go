package errors

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

var (
	locationColor = color.New(color.FgCyan)
	gutterColor   = color.New(color.FgBlue)
	contextColor  = color.New(color.FgHiBlack)
	markerColor   = color.New(color.FgRed)
	boldColor     = color.New(color.Bold)
)

// FormatForTerminal formats a CompilerError for terminal output. Colors
// follow fatih/color's detection and are dropped when output is not a TTY.
func (e CompilerError) FormatForTerminal() string {
	var sb strings.Builder

	header := severityColor(e.Severity).Sprint(strings.ToUpper(e.Severity.String()[:1]) + e.Severity.String()[1:])
	fmt.Fprintf(&sb, "%s[%s]: %s\n", header, e.Code, e.Message)
	fmt.Fprintf(&sb, "  %s %s:%d:%d\n", locationColor.Sprint("-->"), e.Location.File, e.Location.Line, e.Location.Column)

	if len(e.Context.SourceLines) > 0 {
		sb.WriteString(formatSourceContext(e.Context, e.Location.Line))
	}
	return sb.String()
}

// formatSourceContext formats the source code context with highlighting
func formatSourceContext(ctx ErrorContext, errorLine int) string {
	var sb strings.Builder
	bar := gutterColor.Sprint("|")
	firstLine := errorLine - ctx.Highlight.Line

	fmt.Fprintf(&sb, "   %s\n", bar)
	for i, line := range ctx.SourceLines {
		num := fmt.Sprintf("%2d", firstLine+i)
		if i != ctx.Highlight.Line {
			fmt.Fprintf(&sb, "%s %s %s\n", contextColor.Sprint(num), bar, line)
			continue
		}
		fmt.Fprintf(&sb, "%s %s %s\n", gutterColor.Sprint(num), bar, line)

		width := ctx.Highlight.End - ctx.Highlight.Start
		if width <= 0 {
			width = 1
		}
		fmt.Fprintf(&sb, "   %s %s%s\n", bar, strings.Repeat(" ", ctx.Highlight.Start), markerColor.Sprint(strings.Repeat("^", width)))
	}
	fmt.Fprintf(&sb, "   %s\n", bar)

	return sb.String()
}

func severityColor(severity Severity) *color.Color {
	switch severity {
	case Info:
		return color.New(color.FgBlue, color.Bold)
	case Warning:
		return color.New(color.FgYellow, color.Bold)
	default:
		return color.New(color.FgRed, color.Bold)
	}
}

// FormatSummary formats a summary of errors and warnings
func FormatSummary(errorCount, warningCount int) string {
	var parts []string
	if errorCount > 0 {
		parts = append(parts, color.RedString("%d error(s)", errorCount))
	}
	if warningCount > 0 {
		parts = append(parts, color.YellowString("%d warning(s)", warningCount))
	}

	if len(parts) == 0 {
		return "No errors or warnings\n"
	}
	return "\n" + boldColor.Sprint("Compilation failed with ") + strings.Join(parts, " and ") + "\n"
}
