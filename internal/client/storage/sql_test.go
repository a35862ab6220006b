package storage

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func setupMock(t *testing.T, driver string) (*SQLStore, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	return NewSQLStore(db, driver), mock, func() { db.Close() }
}

func TestSQLStore_GetPostgresPlaceholders(t *testing.T) {
	store, mock, cleanup := setupMock(t, DriverPostgres)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT storage_value FROM client_storage WHERE storage_key = $1`)).
		WithArgs(TokenKey).
		WillReturnRows(sqlmock.NewRows([]string{"storage_value"}).AddRow(`{"access":"a"}`))

	got, err := store.Get(context.Background(), TokenKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != `{"access":"a"}` {
		t.Errorf("Get = %q", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSQLStore_GetNotFound(t *testing.T) {
	store, mock, cleanup := setupMock(t, DriverSQLite)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT storage_value FROM client_storage WHERE storage_key = ?`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"storage_value"}))

	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v; want ErrNotFound", err)
	}
}

func TestSQLStore_SetUpserts(t *testing.T) {
	store, mock, cleanup := setupMock(t, DriverPostgres)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO client_storage (storage_key, storage_value, updated_at) VALUES ($1, $2, $3)`)).
		WithArgs("k", "v", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Set(context.Background(), "k", []byte("v")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSQLStore_DeleteError(t *testing.T) {
	store, mock, cleanup := setupMock(t, DriverPostgres)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM client_storage WHERE storage_key = $1`)).
		WithArgs("k").
		WillReturnError(errors.New("db fail"))

	err := store.Delete(context.Background(), "k")
	if err == nil || !strings.Contains(err.Error(), "db fail") {
		t.Errorf("expected wrapped db error, got %v", err)
	}
}

func TestOpenSQL_SQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tokens.db")

	store, err := OpenSQL(ctx, DriverSQLite, path)
	if err != nil {
		t.Fatalf("OpenSQL failed: %v", err)
	}
	defer store.Close()

	exerciseStore(t, store)
}

func TestOpenSQL_ErrorPaths(t *testing.T) {
	cases := []struct {
		name       string
		driver     string
		dsn        string
		wantSubstr string
	}{
		{"unknown driver", "tape", "x", "open tape"},
		{"unreachable postgres", DriverPostgres, "postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1", "ping postgres"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := OpenSQL(context.Background(), tc.driver, tc.dsn)
			if err == nil {
				t.Fatalf("OpenSQL(%q) did not return error", tc.dsn)
			}
			if !strings.Contains(err.Error(), tc.wantSubstr) {
				t.Errorf("OpenSQL(%q) error = %q; want substring %q", tc.dsn, err.Error(), tc.wantSubstr)
			}
		})
	}
}
