// Package sheet adapts a header-indexed tabular store (rows of cells under a
// header row) into typed-friendly records.
//
// Contract with the persistence collaborator (Backend):
//   - rows are addressed by a stable row index and never reordered
//   - a row may carry fewer cells than the header; missing trailing cells read as ""
//   - every stored row carries a version that changes on each write
//
// Writes are read-modify-write. Table re-reads the row immediately before
// writing and uses the version as a compare-and-swap token, retrying the merge
// a bounded number of times. This narrows, but does not close, the window for
// lost updates when several processes write the same table.
package sheet

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrTableNotFound   = errors.New("sheet: table not found")
	ErrRowNotFound     = errors.New("sheet: row not found")
	ErrColumnMissing   = errors.New("sheet: column missing")
	ErrVersionConflict = errors.New("sheet: version conflict")
)

// FirstDataRow is the index of the first row below the header.
const FirstDataRow = 2

// RawRow is a stored row as the backend sees it.
type RawRow struct {
	Index   int
	Cells   []string
	Version int64
}

// Backend is the persistence collaborator consumed by Table.
type Backend interface {
	Header(ctx context.Context, table string) ([]string, error)
	SetHeader(ctx context.Context, table string, columns []string) error

	Rows(ctx context.Context, table string) ([]RawRow, error)
	Row(ctx context.Context, table string, index int) (RawRow, error)

	// WriteRow replaces all cells of an existing row if its version still equals
	// expectedVersion. It returns the new version or ErrVersionConflict.
	WriteRow(ctx context.Context, table string, index int, cells []string, expectedVersion int64) (int64, error)

	// AppendRow stores cells as a new last row and returns its index.
	AppendRow(ctx context.Context, table string, cells []string) (int, error)
}

// Record is one data row keyed by column name.
type Record struct {
	Index   int
	Version int64
	Fields  map[string]string
}

func (r Record) Get(column string) string {
	return r.Fields[column]
}

const defaultWriteAttempts = 3

// Table is a named table over a Backend.
type Table struct {
	backend  Backend
	name     string
	attempts int
}

func NewTable(backend Backend, name string) *Table {
	return &Table{backend: backend, name: name, attempts: defaultWriteAttempts}
}

func (t *Table) Name() string { return t.name }

// Columns returns the header row.
func (t *Table) Columns(ctx context.Context) ([]string, error) {
	return t.backend.Header(ctx, t.name)
}

// EnsureColumns appends any missing columns to the end of the header.
// Existing columns keep their positions.
func (t *Table) EnsureColumns(ctx context.Context, columns []string) error {
	header, err := t.backend.Header(ctx, t.name)
	if err != nil && !errors.Is(err, ErrTableNotFound) {
		return err
	}
	have := make(map[string]struct{}, len(header))
	for _, h := range header {
		have[h] = struct{}{}
	}
	next := append([]string(nil), header...)
	for _, c := range columns {
		if _, ok := have[c]; ok {
			continue
		}
		have[c] = struct{}{}
		next = append(next, c)
	}
	if len(next) == len(header) && err == nil {
		return nil
	}
	return t.backend.SetHeader(ctx, t.name, next)
}

// ListRows returns every data row in stored order.
func (t *Table) ListRows(ctx context.Context) ([]Record, error) {
	header, err := t.backend.Header(ctx, t.name)
	if err != nil {
		return nil, err
	}
	rows, err := t.backend.Rows(ctx, t.name)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, toRecord(header, r))
	}
	return out, nil
}

// FindRowIndex returns the index of the first row whose column equals value.
func (t *Table) FindRowIndex(ctx context.Context, column, value string) (int, error) {
	header, err := t.backend.Header(ctx, t.name)
	if err != nil {
		return 0, err
	}
	pos, ok := position(header, column)
	if !ok {
		return 0, fmt.Errorf("%w: %s.%s", ErrColumnMissing, t.name, column)
	}
	rows, err := t.backend.Rows(ctx, t.name)
	if err != nil {
		return 0, err
	}
	for _, r := range rows {
		if cell(r.Cells, pos) == value {
			return r.Index, nil
		}
	}
	return 0, fmt.Errorf("%w: %s.%s=%q", ErrRowNotFound, t.name, column, value)
}

// Get reads a single row.
func (t *Table) Get(ctx context.Context, index int) (Record, error) {
	header, err := t.backend.Header(ctx, t.name)
	if err != nil {
		return Record{}, err
	}
	r, err := t.backend.Row(ctx, t.name, index)
	if err != nil {
		return Record{}, err
	}
	return toRecord(header, r), nil
}

// UpdateRow merges updates into the row and writes the whole row back.
// Columns not named in updates keep their current values.
func (t *Table) UpdateRow(ctx context.Context, index int, updates map[string]string) (Record, error) {
	header, err := t.backend.Header(ctx, t.name)
	if err != nil {
		return Record{}, err
	}
	positions := make(map[int]string, len(updates))
	for col, v := range updates {
		pos, ok := position(header, col)
		if !ok {
			return Record{}, fmt.Errorf("%w: %s.%s", ErrColumnMissing, t.name, col)
		}
		positions[pos] = v
	}

	var lastErr error
	for attempt := 0; attempt < t.attempts; attempt++ {
		current, err := t.backend.Row(ctx, t.name, index)
		if err != nil {
			return Record{}, err
		}
		cells := pad(current.Cells, len(header))
		for pos, v := range positions {
			cells[pos] = v
		}
		version, err := t.backend.WriteRow(ctx, t.name, index, cells, current.Version)
		if errors.Is(err, ErrVersionConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return Record{}, err
		}
		return toRecord(header, RawRow{Index: index, Cells: cells, Version: version}), nil
	}
	return Record{}, fmt.Errorf("sheet: update %s row %d: %w", t.name, index, lastErr)
}

// AppendRow stores ordered cells as a new row.
func (t *Table) AppendRow(ctx context.Context, cells []string) (int, error) {
	return t.backend.AppendRow(ctx, t.name, append([]string(nil), cells...))
}

// Append orders fields by the header and appends them as a new row.
func (t *Table) Append(ctx context.Context, fields map[string]string) (int, error) {
	header, err := t.backend.Header(ctx, t.name)
	if err != nil {
		return 0, err
	}
	cells := make([]string, len(header))
	for col, v := range fields {
		pos, ok := position(header, col)
		if !ok {
			return 0, fmt.Errorf("%w: %s.%s", ErrColumnMissing, t.name, col)
		}
		cells[pos] = v
	}
	return t.backend.AppendRow(ctx, t.name, cells)
}

func toRecord(header []string, r RawRow) Record {
	fields := make(map[string]string, len(header))
	for i, h := range header {
		if h == "" {
			continue
		}
		fields[h] = cell(r.Cells, i)
	}
	return Record{Index: r.Index, Version: r.Version, Fields: fields}
}

func position(header []string, column string) (int, bool) {
	for i, h := range header {
		if h == column {
			return i, true
		}
	}
	return 0, false
}

func cell(cells []string, i int) string {
	if i < len(cells) {
		return cells[i]
	}
	return ""
}

func pad(cells []string, n int) []string {
	size := len(cells)
	if n > size {
		size = n
	}
	out := make([]string, size)
	copy(out, cells)
	return out
}
