// Package cellstore implements wide-column semantics (puts, counters,
// row and family deletes, conditional writes, projections and paged range
// reads) on top of any ordered key-value transaction. Each embedded backend
// only has to provide Txn.
package cellstore

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ankur-anand/kvbulk/internal/keycodec"
	"github.com/ankur-anand/kvbulk/pkg/kvstore"
	"github.com/ankur-anand/kvbulk/pkg/record"
)

var ErrEmptyMutation = fmt.Errorf("%w: mutation carries no cells", kvstore.ErrInvalidArgument)

// Txn is an ordered key-value transaction scoped to one table.
type Txn interface {
	// Get returns the value stored at key. The returned slice is only valid
	// for the lifetime of the transaction.
	Get(key []byte) (value []byte, found bool, err error)
	Put(key, value []byte) error
	Delete(key []byte) error
	// Ascend calls fn for every key >= start in order until fn returns
	// false or an error. Key and value are only valid during the call.
	Ascend(start []byte, fn func(key, value []byte) (bool, error)) error
}

// Apply performs a single mutation inside tx.
func Apply(tx Txn, m record.Mutation) error {
	m, err := record.Deref(m)
	if err != nil {
		return err
	}

	switch v := m.(type) {
	case record.Put:
		return applyPut(tx, v)
	case record.Increment:
		return applyIncrement(tx, v)
	case record.Delete:
		return applyDelete(tx, v)
	default:
		return fmt.Errorf("%w: %T", record.ErrUnknownMutation, m)
	}
}

// ApplyAll performs every mutation inside tx, stopping at the first failure.
func ApplyAll(tx Txn, ms []record.Mutation) error {
	for i, m := range ms {
		if err := Apply(tx, m); err != nil {
			return fmt.Errorf("mutation %d: %w", i, err)
		}
	}
	return nil
}

func applyPut(tx Txn, p record.Put) error {
	if len(p.Cells) == 0 {
		return ErrEmptyMutation
	}
	for _, c := range p.Cells {
		if err := tx.Put(keycodec.CellKey(p.RowKey, c.Family, c.Qualifier), c.Value); err != nil {
			return err
		}
	}
	return nil
}

func applyIncrement(tx Txn, inc record.Increment) error {
	if len(inc.Deltas) == 0 {
		return ErrEmptyMutation
	}
	for _, d := range inc.Deltas {
		key := keycodec.CellKey(inc.RowKey, d.Family, d.Qualifier)
		stored, found, err := tx.Get(key)
		if err != nil {
			return err
		}
		var current int64
		if found {
			current, err = record.DecodeCounter(stored)
			if err != nil {
				return fmt.Errorf("row %q %s:%s: %w", inc.RowKey, d.Family, d.Qualifier, err)
			}
		}
		if err := tx.Put(key, record.EncodeCounter(current+d.Amount)); err != nil {
			return err
		}
	}
	return nil
}

func applyDelete(tx Txn, d record.Delete) error {
	if len(d.Columns) == 0 {
		return deletePrefix(tx, keycodec.RowPrefix(d.RowKey))
	}
	for _, col := range d.Columns {
		if col.IsFamily() {
			if err := deletePrefix(tx, keycodec.FamilyPrefix(d.RowKey, col.Family)); err != nil {
				return err
			}
			continue
		}
		if err := tx.Delete(keycodec.CellKey(d.RowKey, col.Family, col.Qualifier)); err != nil {
			return err
		}
	}
	return nil
}

// deletePrefix collects the keys first: deleting from inside a cursor
// walk skips the following entry on some B-tree implementations.
func deletePrefix(tx Txn, prefix []byte) error {
	var keys [][]byte
	err := tx.Ascend(prefix, func(k, _ []byte) (bool, error) {
		if !bytes.HasPrefix(k, prefix) {
			return false, nil
		}
		keys = append(keys, bytes.Clone(k))
		return true, nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := tx.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// CheckAndMutate evaluates cm's condition and applies its action when the
// condition holds.
func CheckAndMutate(tx Txn, cm record.ConditionalMutation) (bool, error) {
	cm, err := record.DerefConditional(cm)
	if err != nil {
		return false, err
	}

	cond := cm.Check()
	stored, found, err := tx.Get(keycodec.CellKey(cm.Row(), cond.Family, cond.Qualifier))
	if err != nil {
		return false, err
	}

	var holds bool
	if cond.Expected == nil {
		holds = !found
	} else {
		holds = found && bytes.Equal(stored, cond.Expected)
	}
	if !holds {
		return false, nil
	}

	switch v := cm.(type) {
	case record.CheckAndPut:
		err = applyPut(tx, v.Put)
	case record.CheckAndDelete:
		err = applyDelete(tx, v.Delete)
	default:
		err = fmt.Errorf("%w: %T", record.ErrUnknownMutation, cm)
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ReadRow returns the projected cells of g's row.
func ReadRow(tx Txn, g record.Get) (record.Result, error) {
	res := record.Result{RowKey: g.RowKey}
	prefix := keycodec.RowPrefix(g.RowKey)
	err := tx.Ascend(prefix, func(k, v []byte) (bool, error) {
		if !bytes.HasPrefix(k, prefix) {
			return false, nil
		}
		_, family, qualifier, err := keycodec.DecodeCell(k)
		if err != nil {
			return false, err
		}
		if selected(g.Columns, family, qualifier) {
			res.Cells = append(res.Cells, record.Cell{Family: family, Qualifier: qualifier, Value: bytes.Clone(v)})
		}
		return true, nil
	})
	return res, err
}

// ReadRows is ReadRow for every get, preserving order.
func ReadRows(tx Txn, gets []record.Get) ([]record.Result, error) {
	out := make([]record.Result, 0, len(gets))
	for _, g := range gets {
		r, err := ReadRow(tx, g)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

var errPageFull = errors.New("page full")

// ScanPage reads up to limit non-empty rows of spec starting at from (or at
// spec.StartRow when from is nil).
func ScanPage(tx Txn, spec record.Scan, from []byte, limit int) (record.ScanPage, error) {
	if limit <= 0 {
		limit = kvstore.DefaultScanCaching
	}
	start := from
	if start == nil || bytes.Compare(start, spec.StartRow) < 0 {
		start = spec.StartRow
	}

	var (
		page    record.ScanPage
		current *record.Result
	)
	flush := func() {
		if current != nil && !current.Empty() {
			page.Rows = append(page.Rows, *current)
		}
		current = nil
	}

	err := tx.Ascend(keycodec.RowPrefix(start), func(k, v []byte) (bool, error) {
		row, family, qualifier, err := keycodec.DecodeCell(k)
		if err != nil {
			return false, err
		}
		if !spec.Contains(row) {
			return false, nil
		}
		if current == nil || !bytes.Equal(current.RowKey, row) {
			flush()
			if len(page.Rows) == limit {
				page.Next = row
				return false, errPageFull
			}
			current = &record.Result{RowKey: row}
		}
		if selected(spec.Columns, family, qualifier) {
			current.Cells = append(current.Cells, record.Cell{Family: family, Qualifier: qualifier, Value: bytes.Clone(v)})
		}
		return true, nil
	})
	if err != nil && !errors.Is(err, errPageFull) {
		return record.ScanPage{}, err
	}
	flush()
	return page, nil
}

func selected(columns []record.Column, family, qualifier []byte) bool {
	if len(columns) == 0 {
		return true
	}
	for _, c := range columns {
		if c.Matches(family, qualifier) {
			return true
		}
	}
	return false
}
