package output

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
)

// TableFormatter outputs data in human-readable table format.
type TableFormatter struct{}

// WriteRows writes one line per cell; a row without cells gets one line
// with a dash.
func (f *TableFormatter) WriteRows(w io.Writer, rows []RowView) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ROW\tCOLUMN\tVALUE")

	for _, row := range rows {
		if len(row.Cells) == 0 {
			fmt.Fprintf(tw, "%s\t-\t-\n", row.Key)
			continue
		}
		for _, c := range row.Cells {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", row.Key, c.Column, c.Value)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "(%s rows)\n", humanize.Comma(int64(len(rows))))
	return err
}

// WriteSummary writes a job summary.
func (f *TableFormatter) WriteSummary(w io.Writer, s JobSummary) error {
	fmt.Fprintln(w, "Job Summary")
	fmt.Fprintln(w, "===========")
	fmt.Fprintf(w, "Operation:   %s\n", s.Op)
	fmt.Fprintf(w, "Table:       %s\n", s.Table)
	fmt.Fprintf(w, "Records:     %s\n", humanize.Comma(s.Records))
	fmt.Fprintf(w, "Partitions:  %d\n", s.Partitions)
	fmt.Fprintf(w, "Elapsed:     %s\n", s.Elapsed.Round(time.Millisecond))
	_, err := fmt.Fprintf(w, "Throughput:  %s records/s\n", humanize.CommafWithDigits(rate(s), 1))
	return err
}

func rate(s JobSummary) float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Records) / s.Elapsed.Seconds()
}

// WriteOutcomes writes conditional write outcomes as a table.
func (f *TableFormatter) WriteOutcomes(w io.Writer, outcomes []OutcomeView) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ROW\tKIND\tAPPLIED")

	applied := 0
	for _, o := range outcomes {
		fmt.Fprintf(tw, "%s\t%s\t%t\n", o.Key, o.Kind, o.Applied)
		if o.Applied {
			applied++
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "(%s of %s applied)\n",
		humanize.Comma(int64(applied)), humanize.Comma(int64(len(outcomes))))
	return err
}
