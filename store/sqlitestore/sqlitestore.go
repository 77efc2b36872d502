// Package sqlitestore backs the Store contract with a single SQLite
// file for host builds. WAL mode plus synchronous writes give the
// read-after-power-loss guarantee the managers rely on.
package sqlitestore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"timelock-go/errcode"
	"timelock-go/store"
)

type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open creates or opens the database file, creating the directory
// structure if needed.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	// _journal_mode=WAL keeps single-page writes atomic across power
	// loss; _synchronous=FULL because every Put must be durable before
	// the triggering operation returns.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to store: %w", err)
	}
	// One writer at a time matches the single-owner access policy.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			ns  TEXT NOT NULL,
			k   TEXT NOT NULL,
			v   BLOB NOT NULL,
			PRIMARY KEY (ns, k)
		)`)
	if err != nil {
		return fmt.Errorf("migrating store: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Get(ns, key string) ([]byte, bool, error) {
	var v []byte
	err := s.db.QueryRow(`SELECT v FROM kv WHERE ns = ? AND k = ?`, ns, key).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading %s/%s: %w", ns, key, err)
	}
	return v, true, nil
}

func (s *Store) Put(ns, key string, val []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (ns, k, v) VALUES (?, ?, ?)
		 ON CONFLICT (ns, k) DO UPDATE SET v = excluded.v`,
		ns, key, val)
	if err != nil {
		return &errcode.E{C: errcode.StoreFailed, Op: "sqlitestore.put", Msg: ns + "/" + key, Err: err}
	}
	return nil
}

func (s *Store) Delete(ns, key string) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE ns = ? AND k = ?`, ns, key)
	if err != nil {
		return &errcode.E{C: errcode.StoreFailed, Op: "sqlitestore.delete", Msg: ns + "/" + key, Err: err}
	}
	return nil
}

func (s *Store) Keys(ns string) ([]string, error) {
	rows, err := s.db.Query(`SELECT k FROM kv WHERE ns = ?`, ns)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", ns, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *Store) WipeAll() error {
	_, err := s.db.Exec(`DELETE FROM kv`)
	if err != nil {
		return &errcode.E{C: errcode.StoreFailed, Op: "sqlitestore.wipe", Err: err}
	}
	return nil
}
