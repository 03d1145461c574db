package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteStore implements Store on a single-table SQLite database.
// WAL mode allows concurrent readers during indexing passes.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (or creates) a SQLite-backed store at path. cacheMB
// sizes the page cache; zero or negative means 64.
func OpenSQLite(path string, cacheMB int) (*SQLiteStore, error) {
	if cacheMB <= 0 {
		cacheMB = 64
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store %s: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		// Negative cache_size is KB.
		fmt.Sprintf("PRAGMA cache_size=%d", -cacheMB*1024),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}

	schema := `CREATE TABLE IF NOT EXISTS kv (
		k TEXT PRIMARY KEY,
		v BLOB NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create kv table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow("SELECT v FROM kv WHERE k = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *SQLiteStore) Put(key string, value []byte) error {
	_, err := s.db.Exec(
		"INSERT INTO kv (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v",
		key, value)
	return err
}

func (s *SQLiteStore) Delete(key string) error {
	_, err := s.db.Exec("DELETE FROM kv WHERE k = ?", key)
	return err
}

func (s *SQLiteStore) Clear() error {
	_, err := s.db.Exec("DELETE FROM kv")
	return err
}

func (s *SQLiteStore) ScanPrefix(prefix string, fn func(key string, value []byte) error) error {
	query := "SELECT k, v FROM kv ORDER BY k"
	args := []any{}
	if prefix != "" {
		if end := prefixUpperBound([]byte(prefix)); end != nil {
			query = "SELECT k, v FROM kv WHERE k >= ? AND k < ? ORDER BY k"
			args = []any{prefix, string(end)}
		} else {
			query = "SELECT k, v FROM kv WHERE k >= ? ORDER BY k"
			args = []any{prefix}
		}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
