package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func userRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "username", "email", "password_hash", "first_name", "last_name", "phone",
		"roles", "is_active", "is_email_verified", "failed_login_attempts", "locked_until",
		"version", "created_at", "updated_at",
	})
}

func TestPGStoreFindByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("select (.+) from users where id=").
		WithArgs("u-1").
		WillReturnRows(userRows().AddRow(
			"u-1", "alice", "alice@example.com", "hash", "Alice", "Johnson", "",
			"user,admin", true, true, 0, nil, 3, now, now,
		))

	store := NewPGStore(db)
	user, err := store.FindByID(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if user.Username != "alice" || user.Version != 3 {
		t.Fatalf("unexpected user: %+v", user)
	}
	if len(user.Roles) != 2 || user.Roles[1] != "admin" {
		t.Fatalf("roles not decoded: %v", user.Roles)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreFindByIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select (.+) from users where id=").
		WithArgs("missing").
		WillReturnRows(userRows())

	store := NewPGStore(db)
	if _, err := store.FindByID(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGStoreUpdateVersionConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("update users set").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewPGStore(db)
	u := &User{ID: "u-1", Version: 2}
	if err := store.Update(context.Background(), u); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreUpdateBumpsVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("update users set").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewPGStore(db)
	u := &User{ID: "u-1", Version: 2}
	if err := store.Update(context.Background(), u); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if u.Version != 3 {
		t.Fatalf("version not bumped: %d", u.Version)
	}
}
