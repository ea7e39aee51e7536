package output

import (
	"encoding/json"
	"io"
)

// JSONFormatter outputs data in JSON format.
type JSONFormatter struct{}

func (f *JSONFormatter) WriteRows(w io.Writer, rows []RowView) error {
	if rows == nil {
		rows = []RowView{}
	}
	return writeJSON(w, rows)
}

func (f *JSONFormatter) WriteSummary(w io.Writer, s JobSummary) error {
	return writeJSON(w, s)
}

func (f *JSONFormatter) WriteOutcomes(w io.Writer, outcomes []OutcomeView) error {
	if outcomes == nil {
		outcomes = []OutcomeView{}
	}
	return writeJSON(w, outcomes)
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
