// Package historydb keeps a small SQLite index of saved diagnostic
// sessions so "recent sessions" and "worst trackers" queries are cheap
// without re-reading every session JSON file. It is derived data: the
// session artifacts under internal/sessionstore remain the source of
// truth, and the index can always be thrown away and rebuilt from them.
package historydb

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite connection holding the session index.
type DB struct {
	*sql.DB
}

//go:embed migrations/*.sql
var migrationsFS embed.FS

func migrationsSubFS() (fs.FS, error) {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("sub filesystem for embedded migrations: %w", err)
	}
	return sub, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}
	return nil
}

// Open opens (creating if needed) the session index at path and migrates it
// to the latest schema. Unlike a primary datastore, Open never refuses to
// run pending migrations or prompts for confirmation — a stale or corrupt
// index is always safe to drop and Rebuild.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session index: %w", err)
	}

	if err := applyPragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	db := &DB{sqlDB}
	sub, err := migrationsSubFS()
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.MigrateUp(sub); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}
