package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/go-charity/auth-server/internal/refresh/domain"
	"github.com/go-charity/auth-server/internal/security"
)

func newPostgresWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestPostgres_CreateStoresHash(t *testing.T) {
	repo, mock, db := newPostgresWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	rec := &domain.Record{
		ID: "rawid", SubjectID: "u1", Role: "primary", Scope: security.ScopeDefault,
		ExpiresAt: now.Add(time.Hour), ValidDays: 30, CreatedAt: now,
	}
	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+refresh_records`).
		WithArgs(security.HashRefreshID("rawid"), "u1", "primary", "default", "", rec.ExpiresAt, 30, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgres_Find(t *testing.T) {
	repo, mock, db := newPostgresWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`(?s)^SELECT\s+subject_id,.*FROM\s+refresh_records\s+WHERE\s+id_hash\s*=\s*\$1\s+AND\s+subject_id\s*=\s*\$2$`).
		WithArgs(security.HashRefreshID("rawid"), "u1").
		WillReturnRows(sqlmock.NewRows([]string{"subject_id", "role", "scope", "mode", "expires_at", "valid_days", "created_at"}).
			AddRow("u1", "secondary", "otp", "login", now.Add(time.Hour), 30, now))

	rec, err := repo.Find(context.Background(), "rawid", "u1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if rec == nil || rec.ID != "rawid" || rec.Scope != security.ScopeOTP || rec.Mode != security.ModeLogin || rec.ValidDays != 30 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestPostgres_FindMissing(t *testing.T) {
	repo, mock, db := newPostgresWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`refresh_records`).WillReturnError(sql.ErrNoRows)
	rec, err := repo.Find(context.Background(), "rawid", "u2")
	if err != nil || rec != nil {
		t.Fatalf("Find(missing) = %+v, %v; want nil, nil", rec, err)
	}
}

func TestPostgres_DeleteReportsRowCount(t *testing.T) {
	cases := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"deleted", 1, true},
		{"lost race", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo, mock, db := newPostgresWithMock(t)
			defer db.Close()

			mock.ExpectExec(`^DELETE\s+FROM\s+refresh_records\s+WHERE\s+id_hash\s*=\s*\$1\s+AND\s+subject_id\s*=\s*\$2$`).
				WithArgs(security.HashRefreshID("rawid"), "u1").
				WillReturnResult(sqlmock.NewResult(0, tc.affected))

			got, err := repo.Delete(context.Background(), "rawid", "u1")
			if err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if got != tc.want {
				t.Errorf("Delete = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPostgres_DeleteError(t *testing.T) {
	repo, mock, db := newPostgresWithMock(t)
	defer db.Close()

	mock.ExpectExec(`DELETE`).WillReturnError(errors.New("conn reset"))
	if _, err := repo.Delete(context.Background(), "rawid", "u1"); err == nil {
		t.Fatal("expected error")
	}
}

func TestPostgres_DeleteExpired(t *testing.T) {
	repo, mock, db := newPostgresWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectExec(`^DELETE\s+FROM\s+refresh_records\s+WHERE\s+expires_at\s*<=\s*\$1$`).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.DeleteExpired(context.Background(), now)
	if err != nil || n != 4 {
		t.Fatalf("DeleteExpired = %d, %v; want 4, nil", n, err)
	}
}
