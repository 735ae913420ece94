package sheets

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresBackend 用 Postgres 镜像表格：sheet_tables 存表头，sheet_rows 以 JSONB 存每行单元格。
// 句柄 = row_id（自增，不随删除漂移）。
type PostgresBackend struct {
	db *sql.DB
}

// NewPostgresBackend 使用已打开的连接
func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sheet_tables (
	table_name TEXT PRIMARY KEY,
	headers    JSONB NOT NULL DEFAULT '[]'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS sheet_rows (
	row_id     BIGSERIAL PRIMARY KEY,
	table_name TEXT NOT NULL REFERENCES sheet_tables(table_name) ON DELETE CASCADE,
	cells      JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sheet_rows_table ON sheet_rows(table_name, row_id);
`

// Migrate 创建镜像表（幂等）
func (b *PostgresBackend) Migrate(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to migrate sheet mirror: %w", classifyPQ(err))
	}
	return nil
}

// classifyPQ 把 Postgres 错误码映射到远程错误类别
func classifyPQ(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case "53300", "53400": // too_many_connections, configuration_limit_exceeded
		return fmt.Errorf("%w: %w", ErrQuotaExceeded, err)
	case "57014": // query_canceled (statement_timeout)
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case "23503", "42P01": // foreign_key_violation, undefined_table
		return fmt.Errorf("%w: %w", ErrTableNotFound, err)
	}
	return err
}

func (b *PostgresBackend) Describe(ctx context.Context) (map[string][]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT table_name, headers FROM sheet_tables`)
	if err != nil {
		return nil, fmt.Errorf("failed to describe sheet mirror: %w", classifyPQ(err))
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var name string
		var raw []byte
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan sheet table: %w", err)
		}
		var headers []string
		if err := json.Unmarshal(raw, &headers); err != nil {
			return nil, fmt.Errorf("failed to decode headers of %s: %w", name, err)
		}
		out[name] = headers
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPQ(err)
	}
	return out, nil
}

func (b *PostgresBackend) ReadRows(ctx context.Context, table string) ([]Record, error) {
	var rawHeaders []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT headers FROM sheet_tables WHERE table_name = $1`, table,
	).Scan(&rawHeaders)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
		}
		return nil, fmt.Errorf("failed to read headers of %s: %w", table, classifyPQ(err))
	}
	var headers []string
	if err := json.Unmarshal(rawHeaders, &headers); err != nil {
		return nil, fmt.Errorf("failed to decode headers of %s: %w", table, err)
	}

	rows, err := b.db.QueryContext(ctx,
		`SELECT row_id, cells FROM sheet_rows WHERE table_name = $1 ORDER BY row_id`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows of %s: %w", table, classifyPQ(err))
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var id int64
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan row of %s: %w", table, err)
		}
		var cells map[string]any
		if err := json.Unmarshal(raw, &cells); err != nil {
			return nil, fmt.Errorf("failed to decode row %d of %s: %w", id, table, err)
		}
		row := make(Row, len(headers))
		for _, h := range headers {
			if v, ok := cells[h]; ok {
				row[h] = v
			}
		}
		recs = append(recs, Record{Handle: id, Values: row})
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPQ(err)
	}
	return recs, nil
}

func (b *PostgresBackend) AppendRows(ctx context.Context, table string, rows []Row) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", classifyPQ(err))
	}
	defer tx.Rollback()

	for _, r := range rows {
		raw, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode row for %s: %w", table, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sheet_rows (table_name, cells) VALUES ($1, $2)`, table, raw,
		); err != nil {
			return fmt.Errorf("failed to append row to %s: %w", table, classifyPQ(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit append to %s: %w", table, classifyPQ(err))
	}
	return nil
}

func (b *PostgresBackend) WriteRow(ctx context.Context, table string, handle int64, row Row) error {
	raw, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to encode row for %s: %w", table, err)
	}
	res, err := b.db.ExecContext(ctx,
		`UPDATE sheet_rows SET cells = $3 WHERE table_name = $1 AND row_id = $2`, table, handle, raw)
	if err != nil {
		return fmt.Errorf("failed to write row %d of %s: %w", handle, table, classifyPQ(err))
	}
	return expectOne(res, table, handle)
}

func (b *PostgresBackend) DeleteRow(ctx context.Context, table string, handle int64) error {
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM sheet_rows WHERE table_name = $1 AND row_id = $2`, table, handle)
	if err != nil {
		return fmt.Errorf("failed to delete row %d of %s: %w", handle, table, classifyPQ(err))
	}
	return expectOne(res, table, handle)
}

func (b *PostgresBackend) WriteHeaders(ctx context.Context, table string, headers []string) error {
	raw, err := json.Marshal(headers)
	if err != nil {
		return fmt.Errorf("failed to encode headers for %s: %w", table, err)
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO sheet_tables (table_name, headers) VALUES ($1, $2)
		ON CONFLICT (table_name) DO UPDATE SET headers = EXCLUDED.headers, updated_at = now()`,
		table, raw)
	if err != nil {
		return fmt.Errorf("failed to write headers of %s: %w", table, classifyPQ(err))
	}
	return nil
}

func expectOne(res sql.Result, table string, handle int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s row %d", ErrRowNotFound, table, handle)
	}
	return nil
}
