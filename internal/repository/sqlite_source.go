package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	_ "modernc.org/sqlite"

	"codes-bot/internal/lookup"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// OpenSQLite opens the database file at path and checks it is reachable.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("repository: sqlite path must not be empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("repository: open sqlite %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: ping sqlite %s: %w", path, err)
	}
	return db, nil
}

// SQLiteSource serves the reference mapping from two columns of a table.
type SQLiteSource struct {
	db          *sql.DB
	table       string
	keyColumn   string
	valueColumn string
}

var _ lookup.Source = (*SQLiteSource)(nil)

func NewSQLiteSource(db *sql.DB, table, keyColumn, valueColumn string) (*SQLiteSource, error) {
	if db == nil {
		return nil, errors.New("repository: db must not be nil")
	}
	for _, id := range []string{table, keyColumn, valueColumn} {
		if !identifier.MatchString(id) {
			return nil, fmt.Errorf("repository: invalid sqlite identifier %q", id)
		}
	}
	if keyColumn == valueColumn {
		return nil, errors.New("repository: key and value columns must differ")
	}
	return &SQLiteSource{db: db, table: table, keyColumn: keyColumn, valueColumn: valueColumn}, nil
}

func (s *SQLiteSource) Name() string {
	return "sqlite:" + s.table
}

// Fetch reads every row. Rows with a NULL or blank column are skipped.
func (s *SQLiteSource) Fetch(ctx context.Context) ([]lookup.Entry, error) {
	query := fmt.Sprintf(`SELECT %s, %s FROM %s`, s.keyColumn, s.valueColumn, s.table)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("repository: query %s: %w", s.table, err)
	}
	defer func() { _ = rows.Close() }()

	var entries []lookup.Entry
	for rows.Next() {
		var key, value sql.NullString
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("repository: scan %s row: %w", s.table, err)
		}
		k, v := strings.TrimSpace(key.String), strings.TrimSpace(value.String)
		if !key.Valid || !value.Valid || k == "" || v == "" {
			continue
		}
		entries = append(entries, lookup.Entry{Key: k, Value: v})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: read %s rows: %w", s.table, err)
	}
	return entries, nil
}

// Put creates the table when missing and upserts entries in one transaction.
// An existing table needs a unique constraint on the key column.
func (s *SQLiteSource) Put(ctx context.Context, entries []lookup.Entry) (err error) {
	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s TEXT PRIMARY KEY, %s TEXT NOT NULL)`,
		s.table, s.keyColumn, s.valueColumn)
	if _, err := s.db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("repository: create %s: %w", s.table, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	upsert := fmt.Sprintf(`INSERT INTO %[1]s (%[2]s, %[3]s) VALUES (?, ?)
		ON CONFLICT(%[2]s) DO UPDATE SET %[3]s = excluded.%[3]s`, s.table, s.keyColumn, s.valueColumn)
	stmt, err := tx.PrepareContext(ctx, upsert)
	if err != nil {
		return fmt.Errorf("repository: prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range entries {
		if _, err = stmt.ExecContext(ctx, e.Key, e.Value); err != nil {
			return fmt.Errorf("repository: upsert %q: %w", e.Key, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("repository: commit: %w", err)
	}
	return nil
}
