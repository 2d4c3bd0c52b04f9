package sheet

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"techentry-bot/pkg/utils"
)

const (
	DialectPostgres = "pgx"
	DialectSQLite   = "sqlite"
)

const appendAttempts = 5

// SQLBackend stores tables as JSON-encoded cell arrays in two relational tables.
// It works against Postgres (pgx stdlib) and SQLite (modernc).
type SQLBackend struct {
	db      *sql.DB
	dialect string
}

func NewSQLBackend(db *sql.DB, dialect string) (*SQLBackend, error) {
	switch dialect {
	case DialectPostgres, DialectSQLite:
	default:
		return nil, fmt.Errorf("sheet: unsupported dialect %q", dialect)
	}
	return &SQLBackend{db: db, dialect: dialect}, nil
}

// Migrate creates the backing tables if they do not exist.
func (b *SQLBackend) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sheet_headers (
			table_name TEXT PRIMARY KEY,
			columns    TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sheet_rows (
			table_name TEXT    NOT NULL,
			row_index  INTEGER NOT NULL,
			cells      TEXT    NOT NULL,
			version    BIGINT  NOT NULL,
			PRIMARY KEY (table_name, row_index)
		)`,
	}
	for _, s := range stmts {
		if _, err := b.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("sheet: migrate: %w", err)
		}
	}
	return nil
}

func (b *SQLBackend) Header(ctx context.Context, table string) ([]string, error) {
	var raw string
	err := b.db.QueryRowContext(ctx, b.q(`SELECT columns FROM sheet_headers WHERE table_name = ?`), table).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	if err != nil {
		return nil, err
	}
	return decodeCells(raw)
}

func (b *SQLBackend) SetHeader(ctx context.Context, table string, columns []string) error {
	raw, err := json.Marshal(columns)
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx, b.q(`
		INSERT INTO sheet_headers (table_name, columns) VALUES (?, ?)
		ON CONFLICT (table_name) DO UPDATE SET columns = excluded.columns`), table, string(raw))
	return err
}

func (b *SQLBackend) Rows(ctx context.Context, table string) ([]RawRow, error) {
	if _, err := b.Header(ctx, table); err != nil {
		return nil, err
	}
	rows, err := b.db.QueryContext(ctx, b.q(`
		SELECT row_index, cells, version FROM sheet_rows
		WHERE table_name = ? ORDER BY row_index`), table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RawRow
	for rows.Next() {
		var (
			r   RawRow
			raw string
		)
		if err := rows.Scan(&r.Index, &raw, &r.Version); err != nil {
			return nil, err
		}
		if r.Cells, err = decodeCells(raw); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (b *SQLBackend) Row(ctx context.Context, table string, index int) (RawRow, error) {
	var (
		r   = RawRow{Index: index}
		raw string
	)
	err := b.db.QueryRowContext(ctx, b.q(`
		SELECT cells, version FROM sheet_rows
		WHERE table_name = ? AND row_index = ?`), table, index).Scan(&raw, &r.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return RawRow{}, fmt.Errorf("%w: %s row %d", ErrRowNotFound, table, index)
	}
	if err != nil {
		return RawRow{}, err
	}
	if r.Cells, err = decodeCells(raw); err != nil {
		return RawRow{}, err
	}
	return r, nil
}

func (b *SQLBackend) WriteRow(ctx context.Context, table string, index int, cells []string, expectedVersion int64) (int64, error) {
	raw, err := json.Marshal(cells)
	if err != nil {
		return 0, err
	}
	res, err := b.db.ExecContext(ctx, b.q(`
		UPDATE sheet_rows SET cells = ?, version = version + 1
		WHERE table_name = ? AND row_index = ? AND version = ?`),
		string(raw), table, index, expectedVersion)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		if _, err := b.Row(ctx, table, index); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %s row %d", ErrVersionConflict, table, index)
	}
	return expectedVersion + 1, nil
}

func (b *SQLBackend) AppendRow(ctx context.Context, table string, cells []string) (int, error) {
	if _, err := b.Header(ctx, table); err != nil {
		return 0, err
	}
	raw, err := json.Marshal(cells)
	if err != nil {
		return 0, err
	}

	var idx int
	for attempt := 0; attempt < appendAttempts; attempt++ {
		err = utils.WithTx(ctx, b.db, nil, func(ctx context.Context, tx *sql.Tx) error {
			var last sql.NullInt64
			if err := tx.QueryRowContext(ctx, b.q(`
				SELECT MAX(row_index) FROM sheet_rows WHERE table_name = ?`), table).Scan(&last); err != nil {
				return err
			}
			idx = FirstDataRow
			if last.Valid {
				idx = int(last.Int64) + 1
			}
			_, err := tx.ExecContext(ctx, b.q(`
				INSERT INTO sheet_rows (table_name, row_index, cells, version) VALUES (?, ?, ?, 1)`),
				table, idx, string(raw))
			return err
		})
		if err == nil {
			return idx, nil
		}
		if !isUniqueViolation(err) {
			return 0, err
		}
	}
	return 0, fmt.Errorf("sheet: append %s: %w", table, err)
}

// q rewrites '?' placeholders to '$n' for Postgres.
func (b *SQLBackend) q(query string) string {
	if b.dialect != DialectPostgres {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func decodeCells(raw string) ([]string, error) {
	var cells []string
	if raw == "" {
		return cells, nil
	}
	if err := json.Unmarshal([]byte(raw), &cells); err != nil {
		return nil, fmt.Errorf("sheet: decode cells: %w", err)
	}
	return cells, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
