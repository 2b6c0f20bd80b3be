package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/go-charity/auth-server/internal/profile/domain"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestCreate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectExec(`^INSERT\s+INTO\s+staged_profiles`).
		WithArgs("p1", "u1", "A B", "123", nil, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &domain.StagedProfile{ID: "p1", UserID: "u1", FullName: "A B", Phone: "123", CreatedAt: now})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`^INSERT\s+INTO\s+staged_profiles`).WillReturnError(errors.New("fk violation"))

	if err := repo.Create(context.Background(), &domain.StagedProfile{ID: "p1", UserID: "u1"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestGetByUserID(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`(?s)^SELECT\s+id,.*FROM\s+staged_profiles\s+WHERE\s+user_id\s*=\s*\$1$`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "full_name", "phone", "tagline", "created_at"}).
			AddRow("p1", "u1", "A B", "123", "hello", now))

	p, err := repo.GetByUserID(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetByUserID: %v", err)
	}
	if p == nil || p.FullName != "A B" || p.Tagline != "hello" {
		t.Fatalf("unexpected profile: %+v", p)
	}

	mock.ExpectQuery(`staged_profiles`).WithArgs("u2").WillReturnError(sql.ErrNoRows)
	p, err = repo.GetByUserID(context.Background(), "u2")
	if err != nil || p != nil {
		t.Fatalf("missing profile: got %+v, %v", p, err)
	}
}
