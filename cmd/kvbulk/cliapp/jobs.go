package cliapp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ankur-anand/kvbulk/cmd/kvbulk/config"
	"github.com/ankur-anand/kvbulk/internal/output"
	"github.com/ankur-anand/kvbulk/pkg/bulk"
	"github.com/ankur-anand/kvbulk/pkg/connpool"
	"github.com/ankur-anand/kvbulk/pkg/dataset"
	"github.com/ankur-anand/kvbulk/pkg/kvstore"
	"github.com/ankur-anand/kvbulk/pkg/kvstore/backends"
	"github.com/ankur-anand/kvbulk/pkg/record"
)

const maxLineSize = 16 << 20

var ErrBadColumn = errors.New("column must be family or family:qualifier")

// Runtime is what a one-shot command needs to talk to the store: a pool,
// a partition engine and a bulk client over both.
type Runtime struct {
	cfg    config.Config
	pool   *connpool.Pool
	client *bulk.Client
	logger *slog.Logger
}

func NewRuntime(cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	popts, err := cfg.PoolOptions()
	if err != nil {
		return nil, err
	}
	eopts, err := cfg.EngineOptions()
	if err != nil {
		return nil, err
	}
	popts.Logger = logger
	pool := connpool.New(backends.Dialer, popts)
	engine := dataset.NewEngine(append(eopts, dataset.WithLogger(logger))...)

	return &Runtime{
		cfg:  cfg,
		pool: pool,
		client: bulk.New(pool, cfg.Store, engine,
			bulk.WithOptions(cfg.BulkOptions()),
			bulk.WithLogger(logger)),
		logger: logger,
	}, nil
}

func (r *Runtime) Client() *bulk.Client { return r.client }

func (r *Runtime) Close() error {
	return r.pool.Close()
}

// CreateTable creates name on a dedicated connection.
func (r *Runtime) CreateTable(ctx context.Context, name string) error {
	conn, err := backends.Dial(ctx, r.cfg.Store)
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.CreateTable(ctx, name)
}

// LoadRow is one line of a load file:
//
//	{"row": "user#1", "cells": {"cf:name": "ada", "cf:lang": "en"}}
type LoadRow struct {
	Row   string            `json:"row"`
	Cells map[string]string `json:"cells"`
}

// ReadRows parses JSON lines. Blank lines are skipped.
func ReadRows(r io.Reader) ([]LoadRow, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)

	var rows []LoadRow
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var row LoadRow
		if err := json.Unmarshal([]byte(text), &row); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if row.Row == "" {
			return nil, fmt.Errorf("line %d: %w: empty row key", line, kvstore.ErrInvalidArgument)
		}
		rows = append(rows, row)
	}
	return rows, sc.Err()
}

// ParseColumn parses "family" or "family:qualifier".
func ParseColumn(s string) (record.Column, error) {
	family, qualifier, found := strings.Cut(s, ":")
	if family == "" {
		return record.Column{}, fmt.Errorf("%w: %q", ErrBadColumn, s)
	}
	col := record.Column{Family: []byte(family)}
	if found {
		if qualifier == "" {
			return record.Column{}, fmt.Errorf("%w: %q", ErrBadColumn, s)
		}
		col.Qualifier = []byte(qualifier)
	}
	return col, nil
}

func parseColumns(specs []string) ([]record.Column, error) {
	cols := make([]record.Column, 0, len(specs))
	for _, s := range specs {
		c, err := ParseColumn(s)
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, nil
}

func putOf(row LoadRow) (*record.Put, error) {
	names := make([]string, 0, len(row.Cells))
	for name := range row.Cells {
		names = append(names, name)
	}
	sort.Strings(names)

	p := record.NewPut([]byte(row.Row))
	for _, name := range names {
		col, err := ParseColumn(name)
		if err != nil {
			return nil, fmt.Errorf("row %s: %w", row.Row, err)
		}
		if col.IsFamily() {
			return nil, fmt.Errorf("row %s: %w: %q has no qualifier", row.Row, ErrBadColumn, name)
		}
		p.Add(col.Family, col.Qualifier, []byte(row.Cells[name]))
	}
	return p, nil
}

// LoadOptions selects how load partitions its input.
type LoadOptions struct {
	Table      string
	Partitions int
	// HashRows places equal row keys in the same partition.
	HashRows bool
	// IfAbsent writes a row only when its first column is not yet set, and
	// reports one outcome per row.
	IfAbsent bool
}

func (r *Runtime) rowsDataset(rows []LoadRow, opts LoadOptions) dataset.Dataset[LoadRow] {
	n := max(opts.Partitions, 1)
	if opts.HashRows {
		return dataset.HashPartition(rows, n, func(row LoadRow) []byte { return []byte(row.Row) })
	}
	return dataset.Parallelize(rows, n)
}

// Load bulk-puts rows into opts.Table.
func (r *Runtime) Load(ctx context.Context, rows []LoadRow, opts LoadOptions) (output.JobSummary, error) {
	ds := r.rowsDataset(rows, opts)
	start := time.Now()
	err := bulk.BulkPut(ctx, r.client, ds, opts.Table, putOf)
	return output.JobSummary{
		Op:         "put",
		Table:      opts.Table,
		Records:    int64(len(rows)),
		Partitions: ds.NumPartitions(),
		Elapsed:    time.Since(start),
	}, err
}

// LoadIfAbsent writes each row only when the cell of its lowest-sorting
// column is absent.
func (r *Runtime) LoadIfAbsent(ctx context.Context, rows []LoadRow, opts LoadOptions) ([]output.OutcomeView, error) {
	ds := r.rowsDataset(rows, opts)
	outcomes := bulk.CheckAndPutOutcomes(r.client, ds, opts.Table, func(row LoadRow) (record.CheckAndPut, error) {
		p, err := putOf(row)
		if err != nil {
			return record.CheckAndPut{}, err
		}
		if len(p.Cells) == 0 {
			return record.CheckAndPut{}, fmt.Errorf("row %s: %w: no cells", row.Row, kvstore.ErrInvalidArgument)
		}
		first := p.Cells[0]
		return record.CheckAndPut{
			Condition: record.Condition{Family: first.Family, Qualifier: first.Qualifier},
			Put:       *p,
		}, nil
	})
	got, err := dataset.Collect(ctx, r.client.Engine(), outcomes)
	if err != nil {
		return nil, err
	}
	views := make([]output.OutcomeView, len(got))
	for i, o := range got {
		views[i] = output.Outcome(o)
	}
	return views, nil
}

// Get looks up keys in order. Missing rows come back without cells.
func (r *Runtime) Get(ctx context.Context, table string, keys []string, columns []string, partitions int) ([]output.RowView, error) {
	cols, err := parseColumns(columns)
	if err != nil {
		return nil, err
	}
	ds := dataset.Parallelize(keys, max(partitions, 1))
	rows := bulk.BulkGet(r.client, ds, table,
		func(k string) (record.Get, error) { return record.Get{RowKey: []byte(k), Columns: cols}, nil },
		func(res record.Result) (output.RowView, error) { return output.Row(res), nil })
	return dataset.Collect(ctx, r.client.Engine(), rows)
}

// ScanOptions describes a range read.
type ScanOptions struct {
	Table   string
	Start   string
	Stop    string
	Splits  []string
	Columns []string
	Caching int
}

// Scan reads a row range, one partition per split interval.
func (r *Runtime) Scan(ctx context.Context, opts ScanOptions) ([]output.RowView, error) {
	cols, err := parseColumns(opts.Columns)
	if err != nil {
		return nil, err
	}
	spec := record.Scan{Columns: cols, Caching: opts.Caching}
	if opts.Start != "" {
		spec.StartRow = []byte(opts.Start)
	}
	if opts.Stop != "" {
		spec.StopRow = []byte(opts.Stop)
	}
	splits := make([][]byte, len(opts.Splits))
	for i, s := range opts.Splits {
		splits[i] = []byte(s)
	}
	rows := bulk.Scan(r.client, opts.Table, spec, splits,
		func(kr record.KeyedResult) (output.RowView, error) { return output.Row(kr.Result), nil })
	return dataset.Collect(ctx, r.client.Engine(), rows)
}

// Incr adds by to column of every key.
func (r *Runtime) Incr(ctx context.Context, table, column string, by int64, keys []string, partitions int) (output.JobSummary, error) {
	col, err := ParseColumn(column)
	if err != nil {
		return output.JobSummary{}, err
	}
	if col.IsFamily() {
		return output.JobSummary{}, fmt.Errorf("%w: %q has no qualifier", ErrBadColumn, column)
	}
	ds := dataset.Parallelize(keys, max(partitions, 1))
	start := time.Now()
	err = bulk.BulkIncrement(ctx, r.client, ds, table, func(k string) (*record.Increment, error) {
		return record.NewIncrement([]byte(k)).Add(col.Family, col.Qualifier, by), nil
	})
	return output.JobSummary{
		Op:         "increment",
		Table:      table,
		Records:    int64(len(keys)),
		Partitions: ds.NumPartitions(),
		Elapsed:    time.Since(start),
	}, err
}

// Delete removes whole rows.
func (r *Runtime) Delete(ctx context.Context, table string, keys []string, partitions int) (output.JobSummary, error) {
	ds := dataset.Parallelize(keys, max(partitions, 1))
	start := time.Now()
	err := bulk.BulkDelete(ctx, r.client, ds, table, func(k string) (*record.Delete, error) {
		return record.NewDelete([]byte(k)), nil
	})
	return output.JobSummary{
		Op:         "delete",
		Table:      table,
		Records:    int64(len(keys)),
		Partitions: ds.NumPartitions(),
		Elapsed:    time.Since(start),
	}, err
}
