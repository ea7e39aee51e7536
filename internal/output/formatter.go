// Package output renders command results for the kvbulk CLI.
package output

import (
	"encoding/hex"
	"io"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/ankur-anand/kvbulk/pkg/record"
)

// Format represents the output format type.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
)

// CellView is a cell rendered for display.
type CellView struct {
	Column string `json:"column"`
	Value  string `json:"value"`
}

// RowView is a row rendered for display.
type RowView struct {
	Key   string     `json:"key"`
	Cells []CellView `json:"cells"`
}

// JobSummary describes a finished bulk operation.
type JobSummary struct {
	Op         string        `json:"op"`
	Table      string        `json:"table"`
	Records    int64         `json:"records"`
	Partitions int           `json:"partitions"`
	Elapsed    time.Duration `json:"elapsed_ns"`
}

// OutcomeView reports one conditional write.
type OutcomeView struct {
	Key     string `json:"key"`
	Kind    string `json:"kind"`
	Applied bool   `json:"applied"`
}

// Formatter is the interface for output formatting.
type Formatter interface {
	WriteRows(w io.Writer, rows []RowView) error
	WriteSummary(w io.Writer, s JobSummary) error
	WriteOutcomes(w io.Writer, outcomes []OutcomeView) error
}

// NewFormatter creates a new formatter for the given format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{}
	default:
		return &TableFormatter{}
	}
}

// Row renders a store result. Values that are not printable text are shown
// as hex with a 0x prefix.
func Row(res record.Result) RowView {
	v := RowView{Key: Bytes(res.RowKey), Cells: make([]CellView, 0, len(res.Cells))}
	for _, c := range res.Cells {
		v.Cells = append(v.Cells, CellView{
			Column: string(c.Family) + ":" + string(c.Qualifier),
			Value:  Bytes(c.Value),
		})
	}
	return v
}

// Outcome renders a conditional write outcome.
func Outcome(o record.Outcome) OutcomeView {
	return OutcomeView{Key: Bytes(o.RowKey), Kind: o.Kind.String(), Applied: o.Applied}
}

// Bytes renders b as text when it is printable UTF-8 and as hex otherwise.
func Bytes(b []byte) string {
	if utf8.Valid(b) {
		printable := true
		for _, r := range string(b) {
			if !unicode.IsPrint(r) {
				printable = false
				break
			}
		}
		if printable {
			return string(b)
		}
	}
	return "0x" + hex.EncodeToString(b)
}
