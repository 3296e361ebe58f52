// Package store defines the relational store contract the plugin host consumes
// and the repositories it keeps on top of it: the plugin table and the
// plugin error log.
//
// The contract mirrors a prepared-statement database: Prepare returns a
// Statement that is bound and then executed with First, All, Run or Raw.
// Exec runs raw (possibly multi-statement) SQL, Batch runs several prepared
// statements atomically, and Dump exports the whole database.
package store

import (
	"context"
	"time"
)

// Row is a single result row keyed by column name
type Row map[string]any

// Meta describes the effect of an executed statement
type Meta struct {
	Changes     int64
	LastRowID   int64
	RowsRead    int64
	Duration    time.Duration
	ChangedData bool
}

// Result is the outcome of a statement
type Result struct {
	Results []Row
	Success bool
	Meta    Meta
}

// ExecResult is the outcome of a raw Exec call
type ExecResult struct {
	Count    int
	Duration time.Duration
}

// Statement is a prepared statement. Bind returns a new statement and never
// mutates the receiver.
type Statement interface {
	// Query returns the SQL text the statement was prepared from
	Query() string

	// Bind returns a statement with args bound to its placeholders
	Bind(args ...any) (Statement, error)

	// First returns the first row, or nil when there is none
	First(ctx context.Context) (Row, error)

	// All returns every row
	All(ctx context.Context) (*Result, error)

	// Run executes the statement for its side effects
	Run(ctx context.Context) (*Result, error)

	// Raw returns rows as positional values, column names first when requested
	Raw(ctx context.Context, withColumns bool) ([][]any, error)
}

// Database is the relational store handle
type Database interface {
	Prepare(query string) (Statement, error)
	Exec(ctx context.Context, query string) (*ExecResult, error)
	Batch(ctx context.Context, statements []Statement) ([]*Result, error)
	Dump(ctx context.Context) ([]byte, error)
}
