// Package db provides shared PostgreSQL helpers for bulk writes.
package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyFrom bulk-inserts rows into a table using the COPY protocol. Passing a
// pgx.Tx keeps the insert inside the caller's transaction.
func CopyFrom(ctx context.Context, c Copier, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := c.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", table)
	}
	if n != int64(len(rows)) {
		return n, eris.Errorf("db: COPY INTO %s: wrote %d of %d rows", table, n, len(rows))
	}
	return n, nil
}

// UpdateConfig describes a keyed bulk update.
type UpdateConfig struct {
	Table   string   // target table
	Key     string   // primary key column
	Columns []string // columns to overwrite, excluding Key
}

// UpdateFrom overwrites existing rows in one statement: rows are copied into
// a transaction-scoped temp table and joined on the key. Each row holds the
// key followed by cfg.Columns. It returns the number of rows updated.
func UpdateFrom(ctx context.Context, tx pgx.Tx, cfg UpdateConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if cfg.Key == "" || len(cfg.Columns) == 0 {
		return 0, eris.New("db: update: key and columns are required")
	}

	temp := pgx.Identifier{"_tmp_update_" + cfg.Table}.Sanitize()
	target := pgx.Identifier{cfg.Table}.Sanitize()

	createSQL := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP", temp, target)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: update: create temp table for %s", cfg.Table)
	}

	all := append([]string{cfg.Key}, cfg.Columns...)
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"_tmp_update_" + cfg.Table}, all, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: update: COPY into temp table for %s", cfg.Table)
	}

	sets := make([]string, len(cfg.Columns))
	for i, c := range cfg.Columns {
		col := pgx.Identifier{c}.Sanitize()
		sets[i] = fmt.Sprintf("%s = t.%s", col, col)
	}
	key := pgx.Identifier{cfg.Key}.Sanitize()
	updateSQL := fmt.Sprintf("UPDATE %s AS d SET %s FROM %s AS t WHERE d.%s = t.%s",
		target, strings.Join(sets, ", "), temp, key, key)

	tag, err := tx.Exec(ctx, updateSQL)
	if err != nil {
		return 0, eris.Wrapf(err, "db: update: apply to %s", cfg.Table)
	}
	if tag.RowsAffected() != int64(len(rows)) {
		return tag.RowsAffected(), eris.Errorf("db: update %s: matched %d of %d rows", cfg.Table, tag.RowsAffected(), len(rows))
	}
	return tag.RowsAffected(), nil
}
