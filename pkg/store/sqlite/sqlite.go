// Package sqlite implements store.Database on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/hookhost/pkg/store"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// MemoryPath opens a private in-memory database
const MemoryPath = ":memory:"

// DB is a SQLite-backed store.Database
type DB struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

var _ store.Database = (*DB)(nil)

// Open opens (creating if needed) the database at path
func Open(path string, logger zerolog.Logger) (*DB, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == MemoryPath {
		// Every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return &DB{
		db:     db,
		path:   path,
		logger: logger.With().Str("component", "sqlite").Str("path", path).Logger(),
	}, nil
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// Prepare returns a lazily executed statement
func (d *DB) Prepare(query string) (store.Statement, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query cannot be empty")
	}
	return &statement{db: d, query: query}, nil
}

// Exec runs raw SQL, which may contain several statements
func (d *DB) Exec(ctx context.Context, query string) (*store.ExecResult, error) {
	start := time.Now()
	if _, err := d.db.ExecContext(ctx, query); err != nil {
		return nil, err
	}
	return &store.ExecResult{
		Count:    countStatements(query),
		Duration: time.Since(start),
	}, nil
}

// Batch runs statements in a single transaction
func (d *DB) Batch(ctx context.Context, statements []store.Statement) ([]*store.Result, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin batch: %w", err)
	}

	results := make([]*store.Result, 0, len(statements))
	for i, s := range statements {
		stmt, ok := s.(*statement)
		if !ok || stmt.db != d {
			tx.Rollback()
			return nil, fmt.Errorf("batch statement %d was not prepared by this database", i)
		}

		var result *store.Result
		if returnsRows(stmt.query) {
			result, err = queryAll(ctx, tx, stmt.query, stmt.args)
		} else {
			result, err = execOne(ctx, tx, stmt.query, stmt.args)
		}
		if err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("batch statement %d failed: %w", i, err)
		}
		results = append(results, result)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit batch: %w", err)
	}
	return results, nil
}

// Dump exports schema and rows as SQL text
func (d *DB) Dump(ctx context.Context) ([]byte, error) {
	type object struct {
		kind, name, sql string
	}

	rows, err := d.db.QueryContext(ctx,
		"SELECT type, name, sql FROM sqlite_master WHERE sql IS NOT NULL AND name NOT LIKE 'sqlite_%' ORDER BY CASE type WHEN 'table' THEN 0 ELSE 1 END, name")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	var objects []object
	for rows.Next() {
		var o object
		if err := rows.Scan(&o.kind, &o.name, &o.sql); err != nil {
			rows.Close()
			return nil, err
		}
		objects = append(objects, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var b strings.Builder
	for _, o := range objects {
		b.WriteString(o.sql)
		b.WriteString(";\n")
		if o.kind != "table" {
			continue
		}

		raw, err := queryRaw(ctx, d.db, fmt.Sprintf("SELECT * FROM %q", o.name), nil, false)
		if err != nil {
			return nil, fmt.Errorf("failed to dump table %s: %w", o.name, err)
		}
		for _, values := range raw {
			literals := make([]string, len(values))
			for i, v := range values {
				literals[i] = sqlLiteral(v)
			}
			fmt.Fprintf(&b, "INSERT INTO %q VALUES (%s);\n", o.name, strings.Join(literals, ", "))
		}
	}

	return []byte(b.String()), nil
}

// statement binds arguments to a query and runs it on demand
type statement struct {
	db    *DB
	query string
	args  []any
}

func (s *statement) Query() string {
	return s.query
}

func (s *statement) Bind(args ...any) (store.Statement, error) {
	bound := make([]any, len(args))
	copy(bound, args)
	return &statement{db: s.db, query: s.query, args: bound}, nil
}

func (s *statement) First(ctx context.Context) (store.Row, error) {
	result, err := queryAll(ctx, s.db.db, s.query, s.args)
	if err != nil {
		return nil, err
	}
	if len(result.Results) == 0 {
		return nil, nil
	}
	return result.Results[0], nil
}

func (s *statement) All(ctx context.Context) (*store.Result, error) {
	return queryAll(ctx, s.db.db, s.query, s.args)
}

func (s *statement) Run(ctx context.Context) (*store.Result, error) {
	if returnsRows(s.query) {
		return queryAll(ctx, s.db.db, s.query, s.args)
	}
	return execOne(ctx, s.db.db, s.query, s.args)
}

func (s *statement) Raw(ctx context.Context, withColumns bool) ([][]any, error) {
	return queryRaw(ctx, s.db.db, s.query, s.args, withColumns)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execOne(ctx context.Context, q querier, query string, args []any) (*store.Result, error) {
	start := time.Now()
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	changes, _ := res.RowsAffected()
	lastID, _ := res.LastInsertId()
	return &store.Result{
		Results: []store.Row{},
		Success: true,
		Meta: store.Meta{
			Changes:     changes,
			LastRowID:   lastID,
			Duration:    time.Since(start),
			ChangedData: changes > 0,
		},
	}, nil
}

func queryAll(ctx context.Context, q querier, query string, args []any) (*store.Result, error) {
	start := time.Now()
	raw, err := queryRaw(ctx, q, query, args, true)
	if err != nil {
		return nil, err
	}

	columns := raw[0]
	rows := make([]store.Row, 0, len(raw)-1)
	for _, values := range raw[1:] {
		row := make(store.Row, len(columns))
		for i, col := range columns {
			row[col.(string)] = values[i]
		}
		rows = append(rows, row)
	}

	return &store.Result{
		Results: rows,
		Success: true,
		Meta: store.Meta{
			RowsRead: int64(len(rows)),
			Duration: time.Since(start),
		},
	}, nil
}

func queryRaw(ctx context.Context, q querier, query string, args []any, withColumns bool) ([][]any, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out [][]any
	if withColumns {
		header := make([]any, len(columns))
		for i, c := range columns {
			header[i] = c
		}
		out = append(out, header)
	}

	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		out = append(out, values)
	}
	return out, rows.Err()
}

func returnsRows(query string) bool {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH", "PRAGMA", "EXPLAIN", "VALUES":
		return true
	}
	return false
}

func countStatements(query string) int {
	count := 0
	for _, part := range strings.Split(query, ";") {
		if strings.TrimSpace(part) != "" {
			count++
		}
	}
	return count
}

func sqlLiteral(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case int64:
		return fmt.Sprintf("%d", val)
	case float64:
		return fmt.Sprintf("%g", val)
	case bool:
		if val {
			return "1"
		}
		return "0"
	case time.Time:
		return "'" + val.UTC().Format("2006-01-02 15:04:05") + "'"
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	default:
		return "'" + strings.ReplaceAll(fmt.Sprintf("%v", val), "'", "''") + "'"
	}
}
