// Package record holds the request and result types exchanged between the
// bulk execution layer and a wide-column store.
package record

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrUnknownMutation = errors.New("unknown mutation kind")
	ErrInvalidCounter  = errors.New("counter value must be 8 bytes")
)

// Cell is a single (family, qualifier, value) triple of a row.
type Cell struct {
	Family    []byte `json:"family"`
	Qualifier []byte `json:"qualifier"`
	Value     []byte `json:"value"`
}

// Column addresses a cell or, when Qualifier is nil, a whole column family.
type Column struct {
	Family    []byte `json:"family"`
	Qualifier []byte `json:"qualifier"`
}

// IsFamily reports whether the column addresses every qualifier of the family.
func (c Column) IsFamily() bool {
	return c.Qualifier == nil
}

// Matches reports whether the column covers the given cell coordinates.
func (c Column) Matches(family, qualifier []byte) bool {
	if !bytes.Equal(c.Family, family) {
		return false
	}
	return c.IsFamily() || bytes.Equal(c.Qualifier, qualifier)
}

// Get is a row lookup with an optional column projection.
type Get struct {
	RowKey  []byte   `json:"row_key"`
	Columns []Column `json:"columns,omitempty"`
}

// Result is a row returned by the store. Cells are ordered by family and
// then qualifier. A missing row yields a Result with no cells.
type Result struct {
	RowKey []byte `json:"row_key"`
	Cells  []Cell `json:"cells,omitempty"`
}

// Empty reports whether the store had nothing for the row.
func (r Result) Empty() bool {
	return len(r.Cells) == 0
}

// Value returns the value stored under family:qualifier, if present.
func (r Result) Value(family, qualifier []byte) ([]byte, bool) {
	for _, c := range r.Cells {
		if bytes.Equal(c.Family, family) && bytes.Equal(c.Qualifier, qualifier) {
			return c.Value, true
		}
	}
	return nil, false
}

// Counter decodes the cell at family:qualifier as a counter.
func (r Result) Counter(family, qualifier []byte) (int64, error) {
	v, ok := r.Value(family, qualifier)
	if !ok {
		return 0, nil
	}
	return DecodeCounter(v)
}

// KeyedResult is the raw pair produced by a range scan.
type KeyedResult struct {
	Key    []byte `json:"key"`
	Result Result `json:"result"`
}

// Scan describes a row-key range read. StartRow is inclusive, StopRow is
// exclusive and an empty bound is open. Caching is the number of rows
// fetched per page, zero selects the store default.
type Scan struct {
	StartRow []byte   `json:"start_row,omitempty"`
	StopRow  []byte   `json:"stop_row,omitempty"`
	Columns  []Column `json:"columns,omitempty"`
	Caching  int      `json:"caching,omitempty"`
}

// Contains reports whether row falls inside the scan range.
func (s Scan) Contains(row []byte) bool {
	if len(s.StartRow) > 0 && bytes.Compare(row, s.StartRow) < 0 {
		return false
	}
	if len(s.StopRow) > 0 && bytes.Compare(row, s.StopRow) >= 0 {
		return false
	}
	return true
}

// ScanPage is one page of a paginated scan. Next is the row key to resume
// from; nil means the range is exhausted.
type ScanPage struct {
	Rows []Result `json:"rows"`
	Next []byte   `json:"next,omitempty"`
}

// EncodeCounter returns the 8-byte big-endian representation used for
// counters by Increment.
func EncodeCounter(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

// DecodeCounter is the inverse of EncodeCounter.
func DecodeCounter(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidCounter, len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}
