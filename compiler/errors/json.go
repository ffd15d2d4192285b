package errors

import (
	"encoding/json"
)

// JSONOutput represents the JSON structure for error output
type JSONOutput struct {
	Status   string          `json:"status"`
	Errors   []CompilerError `json:"errors"`
	Warnings []CompilerError `json:"warnings"`
	Summary  Summary         `json:"summary"`
}

// Summary contains error and warning counts
type Summary struct {
	ErrorCount   int `json:"error_count"`
	WarningCount int `json:"warning_count"`
}

// FormatErrorsAsJSON formats multiple errors as JSON
func FormatErrorsAsJSON(diags []CompilerError) (string, error) {
	list := List(diags)
	errs, warns := list.Errors(), list.Warnings()
	if errs == nil {
		errs = []CompilerError{}
	}
	if warns == nil {
		warns = []CompilerError{}
	}

	status := "success"
	if len(errs) > 0 {
		status = "error"
	} else if len(warns) > 0 {
		status = "warning"
	}

	output := JSONOutput{
		Status:   status,
		Errors:   errs,
		Warnings: warns,
		Summary: Summary{
			ErrorCount:   len(errs),
			WarningCount: len(warns),
		},
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
