package sheet

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBackend is an in-process Backend for tests and local runs.
// It is not intended for production use.
type MemoryBackend struct {
	mu     sync.Mutex
	tables map[string]*memTable
}

type memTable struct {
	header []string
	rows   []RawRow
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{tables: map[string]*memTable{}}
}

// Seed replaces a table with the given header and rows.
func (b *MemoryBackend) Seed(table string, header []string, rows ...[]string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := &memTable{header: append([]string(nil), header...)}
	for i, r := range rows {
		t.rows = append(t.rows, RawRow{Index: FirstDataRow + i, Cells: append([]string(nil), r...), Version: 1})
	}
	b.tables[table] = t
}

func (b *MemoryBackend) Header(ctx context.Context, table string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	return append([]string(nil), t.header...), nil
}

func (b *MemoryBackend) SetHeader(ctx context.Context, table string, columns []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tables[table]
	if !ok {
		t = &memTable{}
		b.tables[table] = t
	}
	t.header = append([]string(nil), columns...)
	return nil
}

func (b *MemoryBackend) Rows(ctx context.Context, table string) ([]RawRow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	out := make([]RawRow, len(t.rows))
	for i, r := range t.rows {
		out[i] = RawRow{Index: r.Index, Cells: append([]string(nil), r.Cells...), Version: r.Version}
	}
	return out, nil
}

func (b *MemoryBackend) Row(ctx context.Context, table string, index int) (RawRow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, err := b.rowLocked(table, index)
	if err != nil {
		return RawRow{}, err
	}
	return RawRow{Index: r.Index, Cells: append([]string(nil), r.Cells...), Version: r.Version}, nil
}

func (b *MemoryBackend) WriteRow(ctx context.Context, table string, index int, cells []string, expectedVersion int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, err := b.rowLocked(table, index)
	if err != nil {
		return 0, err
	}
	if r.Version != expectedVersion {
		return 0, fmt.Errorf("%w: %s row %d", ErrVersionConflict, table, index)
	}
	r.Cells = append([]string(nil), cells...)
	r.Version++
	return r.Version, nil
}

func (b *MemoryBackend) AppendRow(ctx context.Context, table string, cells []string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tables[table]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	idx := FirstDataRow + len(t.rows)
	t.rows = append(t.rows, RawRow{Index: idx, Cells: append([]string(nil), cells...), Version: 1})
	return idx, nil
}

func (b *MemoryBackend) rowLocked(table string, index int) (*RawRow, error) {
	t, ok := b.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	for i := range t.rows {
		if t.rows[i].Index == index {
			return &t.rows[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s row %d", ErrRowNotFound, table, index)
}
