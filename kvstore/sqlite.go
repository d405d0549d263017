package kvstore

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS entries (
	key   BLOB PRIMARY KEY,
	value BLOB NOT NULL
) WITHOUT ROWID;
`

// SQLiteStore is the persistent Store variant. SQLite gives us atomic
// single-key writes and crash recovery without taking on a full LSM engine.
//
// The connection is configured with WAL mode for concurrent reads during
// writes and a single writer connection to avoid SQLITE_BUSY churn.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM entries WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Put upserts in a single transaction so the newness report and the stored
// value cannot be torn apart by a concurrent writer or delete.
func (s *SQLiteStore) Put(key, value []byte) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	res, err := tx.Exec(
		`INSERT INTO entries (key, value) VALUES (?, ?) ON CONFLICT (key) DO NOTHING`,
		key, value,
	)
	if err != nil {
		tx.Rollback()
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return false, err
	}
	if n == 0 {
		if _, err := tx.Exec(`UPDATE entries SET value = ? WHERE key = ?`, value, key); err != nil {
			tx.Rollback()
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) Delete(key []byte) error {
	_, err := s.db.Exec(`DELETE FROM entries WHERE key = ?`, key)
	return err
}

func (s *SQLiteStore) Contains(key []byte) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM entries WHERE key = ?`, key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Flush checkpoints the WAL so readers of the database file observe all
// writes made so far.
func (s *SQLiteStore) Flush() error {
	_, err := s.db.Exec(`PRAGMA wal_checkpoint(PASSIVE);`)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
