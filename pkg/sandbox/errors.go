package sandbox

import "errors"

var (
	// ErrUnsupportedCommand is returned when a query starts with a keyword that
	// is neither a known read nor a known write
	ErrUnsupportedCommand = errors.New("unsupported database command")

	// ErrForeignStatement is returned when a batch contains a statement that was
	// not prepared through the same sandboxed database
	ErrForeignStatement = errors.New("statement was not prepared by this sandboxed database")

	// ErrMultipleStatements is returned when a prepared query holds more than
	// one statement
	ErrMultipleStatements = errors.New("prepared query must hold a single statement")

	// ErrReservedTable is returned when a query names a table the host keeps
	// for itself
	ErrReservedTable = errors.New("query references a host table")

	// ErrNoBackend is returned when a resource has no backing store configured
	ErrNoBackend = errors.New("resource backend not configured")
)
