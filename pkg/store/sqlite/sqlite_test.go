package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harun/hookhost/pkg/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(MemoryPath, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(context.Background(), `
		CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL);
		INSERT INTO users (id, name) VALUES (1, 'ada');
		INSERT INTO users (id, name) VALUES (2, 'grace');
	`)
	require.NoError(t, err)
	return db
}

func TestDB_Statements(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	t.Run("all returns rows keyed by column", func(t *testing.T) {
		stmt, err := db.Prepare("SELECT id, name FROM users ORDER BY id")
		require.NoError(t, err)

		result, err := stmt.All(ctx)
		require.NoError(t, err)
		require.Len(t, result.Results, 2)
		assert.Equal(t, int64(1), result.Results[0]["id"])
		assert.Equal(t, "ada", result.Results[0]["name"])
		assert.True(t, result.Success)
	})

	t.Run("first with bound arguments", func(t *testing.T) {
		stmt, err := db.Prepare("SELECT name FROM users WHERE id = ?")
		require.NoError(t, err)
		bound, err := stmt.Bind(2)
		require.NoError(t, err)

		row, err := bound.First(ctx)
		require.NoError(t, err)
		assert.Equal(t, "grace", row["name"])

		missing, err := stmt.Bind(99)
		require.NoError(t, err)
		row, err = missing.First(ctx)
		require.NoError(t, err)
		assert.Nil(t, row)
	})

	t.Run("bind does not mutate the receiver", func(t *testing.T) {
		stmt, err := db.Prepare("SELECT name FROM users WHERE id = ?")
		require.NoError(t, err)
		_, err = stmt.Bind(1)
		require.NoError(t, err)

		_, err = stmt.First(ctx)
		assert.Error(t, err)
	})

	t.Run("run reports changes", func(t *testing.T) {
		stmt, err := db.Prepare("INSERT INTO users (name) VALUES (?)")
		require.NoError(t, err)
		bound, err := stmt.Bind("linus")
		require.NoError(t, err)

		result, err := bound.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), result.Meta.Changes)
		assert.Equal(t, int64(3), result.Meta.LastRowID)
		assert.True(t, result.Meta.ChangedData)
	})

	t.Run("raw returns positional values", func(t *testing.T) {
		stmt, err := db.Prepare("SELECT id, name FROM users WHERE id = 1")
		require.NoError(t, err)

		raw, err := stmt.Raw(ctx, true)
		require.NoError(t, err)
		require.Len(t, raw, 2)
		assert.Equal(t, []any{"id", "name"}, raw[0])
		assert.Equal(t, []any{int64(1), "ada"}, raw[1])
	})

	t.Run("empty query is rejected", func(t *testing.T) {
		_, err := db.Prepare("   ")
		assert.Error(t, err)
	})
}

func TestDB_Batch(t *testing.T) {
	ctx := context.Background()

	t.Run("commits all statements", func(t *testing.T) {
		db := openTestDB(t)
		insert, err := db.Prepare("INSERT INTO users (name) VALUES (?)")
		require.NoError(t, err)
		first, _ := insert.Bind("a")
		second, _ := insert.Bind("b")
		count, _ := db.Prepare("SELECT COUNT(*) AS n FROM users")

		results, err := db.Batch(ctx, []store.Statement{first, second, count})
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, int64(4), results[2].Results[0]["n"])
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		db := openTestDB(t)
		insert, _ := db.Prepare("INSERT INTO users (name) VALUES (?)")
		good, _ := insert.Bind("kept?")
		bad, _ := db.Prepare("INSERT INTO missing_table VALUES (1)")

		_, err := db.Batch(ctx, []store.Statement{good, bad})
		require.Error(t, err)

		count, _ := db.Prepare("SELECT COUNT(*) AS n FROM users")
		row, err := count.First(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), row["n"])
	})

	t.Run("rejects foreign statements", func(t *testing.T) {
		db := openTestDB(t)
		other := openTestDB(t)
		stmt, _ := other.Prepare("SELECT 1")

		_, err := db.Batch(ctx, []store.Statement{stmt})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not prepared by this database")
	})
}

func TestDB_Dump(t *testing.T) {
	db := openTestDB(t)

	dump, err := db.Dump(context.Background())
	require.NoError(t, err)

	text := string(dump)
	assert.Contains(t, text, "CREATE TABLE users")
	assert.Contains(t, text, `INSERT INTO "users" VALUES (1, 'ada');`)
	assert.Equal(t, 2, strings.Count(text, "INSERT INTO"))
}

func TestOpen(t *testing.T) {
	t.Run("requires a path", func(t *testing.T) {
		_, err := Open("", zerolog.Nop())
		assert.Error(t, err)
	})

	t.Run("opens a file database", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "host.db"), zerolog.Nop())
		require.NoError(t, err)
		defer db.Close()

		require.NoError(t, store.Migrate(context.Background(), db))
	})
}
