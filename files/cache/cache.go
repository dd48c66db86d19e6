// Package cache is the persistent account cache written by the files
// backend dispatcher after each successful passwd/group re-enumeration.
// Every refresh replaces a table's contents wholesale inside a single
// transaction, so a concurrent reader never observes a half-updated
// table (spec.md §6's "persists the result into a local cache inside a
// single transaction").
package cache

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // register the "sqlite" driver with database/sql
)

// PasswdEntry is one row of the re-enumerated user database.
type PasswdEntry struct {
	Name  string
	UID   int64
	GID   int64
	Gecos string
	Dir   string
	Shell string
}

// GroupEntry is one row of the re-enumerated group database.
type GroupEntry struct {
	Name    string
	GID     int64
	Members []string
}

// Store is a sqlite-backed account cache. It is safe for concurrent use,
// though in practice only the single event-loop goroutine driving the
// files backend ever calls into it.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the sqlite database at path and applies the
// schema. path may be ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open cache %q", path)
	}

	// sqlite permits only one writer; serialize through a single
	// connection rather than fight "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set WAL mode")
	}
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}

	return &Store{db: db}, nil
}

const ddl = `
CREATE TABLE IF NOT EXISTS users (
    name  TEXT PRIMARY KEY,
    uid   INTEGER NOT NULL,
    gid   INTEGER NOT NULL,
    gecos TEXT NOT NULL DEFAULT '',
    dir   TEXT NOT NULL DEFAULT '',
    shell TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS groups (
    name    TEXT PRIMARY KEY,
    gid     INTEGER NOT NULL,
    members TEXT NOT NULL DEFAULT ''
);
`

// ReplaceUsers atomically replaces the entire users table with entries.
// A reader never observes a mix of old and new rows.
func (s *Store) ReplaceUsers(ctx context.Context, entries []PasswdEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin users transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM users`); err != nil {
		return errors.Wrap(err, "clear users")
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO users (name, uid, gid, gecos, dir, shell) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare insert users")
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.Name, e.UID, e.GID, e.Gecos, e.Dir, e.Shell); err != nil {
			return errors.Wrapf(err, "insert user %q", e.Name)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit users transaction")
	}
	return nil
}

// ReplaceGroups atomically replaces the entire groups table with entries.
func (s *Store) ReplaceGroups(ctx context.Context, entries []GroupEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin groups transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM groups`); err != nil {
		return errors.Wrap(err, "clear groups")
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO groups (name, gid, members) VALUES (?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare insert groups")
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.Name, e.GID, joinMembers(e.Members)); err != nil {
			return errors.Wrapf(err, "insert group %q", e.Name)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit groups transaction")
	}
	return nil
}

// UserCount returns the number of rows currently in the users table.
func (s *Store) UserCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count users")
	}
	return n, nil
}

// GroupCount returns the number of rows currently in the groups table.
func (s *Store) GroupCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM groups`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count groups")
	}
	return n, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func joinMembers(members []string) string {
	out := ""
	for i, m := range members {
		if i > 0 {
			out += ","
		}
		out += m
	}
	return out
}
