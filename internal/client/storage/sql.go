package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Driver names accepted by OpenSQL.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS client_storage (
    storage_key TEXT PRIMARY KEY,
    storage_value TEXT NOT NULL,
    updated_at BIGINT NOT NULL
);
`

// SQLStore keeps values in a client_storage table.
type SQLStore struct {
	DB     *sql.DB
	driver string
}

// OpenSQL opens the database, checks the connection and creates the schema.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return NewSQLStore(db, driver), nil
}

// NewSQLStore wraps an open database. driver selects the placeholder style.
func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{DB: db, driver: driver}
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.DB.Close()
}

// bind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) bind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	var v string
	err := s.DB.QueryRowContext(ctx,
		s.bind(`SELECT storage_value FROM client_storage WHERE storage_key = ?`),
		key,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return []byte(v), nil
}

func (s *SQLStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.DB.ExecContext(ctx,
		s.bind(`INSERT INTO client_storage (storage_key, storage_value, updated_at) VALUES (?, ?, ?)
ON CONFLICT (storage_key) DO UPDATE SET storage_value = excluded.storage_value, updated_at = excluded.updated_at`),
		key, string(value), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	_, err := s.DB.ExecContext(ctx,
		s.bind(`DELETE FROM client_storage WHERE storage_key = ?`),
		key,
	)
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}
