package errors

import "strings"

// EnrichError adds source context to an error
func EnrichError(err CompilerError, sourceContent string) CompilerError {
	return err.WithContext(extractSourceContext(err.Location, sourceContent))
}

// extractSourceContext extracts 2 lines before, the error line, and 2 lines after
func extractSourceContext(location SourceLocation, sourceContent string) ErrorContext {
	lines := strings.Split(sourceContent, "\n")

	if location.Line < 1 || location.Line > len(lines) {
		return ErrorContext{}
	}

	errorLineIndex := location.Line - 1
	startLine := max(0, errorLineIndex-2)
	endLine := min(len(lines), errorLineIndex+3)

	contextLines := make([]string, 0, endLine-startLine)
	for i := startLine; i < endLine; i++ {
		contextLines = append(contextLines, strings.TrimRight(lines[i], "\r"))
	}

	start := location.Column - 1
	if start < 0 {
		start = 0
	}
	end := start + location.Length
	if location.Length == 0 {
		end = start + 1
	}

	return ErrorContext{
		SourceLines: contextLines,
		Highlight: Highlight{
			Line:  errorLineIndex - startLine,
			Start: start,
			End:   end,
		},
	}
}
