package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/fnplane/controlplane/internal/apperrors"
)

func asAppError(err error) (*apperrors.Error, bool) {
	var ae *apperrors.Error
	ok := errors.As(err, &ae)
	return ae, ok
}

func TestProjectCreateConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	s := New(db)
	ctx := context.Background()
	now := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO projects`).
		WithArgs("proj", now).
		WillReturnError(&mockPQError{msg: `pq: duplicate key value violates unique constraint "projects_pkey"`})

	err = s.Projects().Create(ctx, "proj", now)
	if err == nil {
		t.Fatalf("expected error")
	}
	ae, ok := asAppError(err)
	if !ok || ae.Code != "ProjectAlreadyExists" {
		t.Fatalf("wrong error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestProjectGetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	s := New(db)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT name, creation_time, deletion_request_time FROM projects`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"name", "creation_time", "deletion_request_time"}))

	_, err = s.Projects().Get(ctx, "missing")
	if err == nil {
		t.Fatalf("expected error")
	}
	ae, ok := asAppError(err)
	if !ok || ae.Code != "ProjectDoesNotExist" {
		t.Fatalf("wrong error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestProjectGetFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	s := New(db)
	ctx := context.Background()
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT name, creation_time, deletion_request_time FROM projects`).
		WithArgs("proj").
		WillReturnRows(sqlmock.NewRows([]string{"name", "creation_time", "deletion_request_time"}).
			AddRow("proj", now, nil))

	got, err := s.Projects().Get(ctx, "proj")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "proj" || got.DeletionRequestTime != nil {
		t.Fatalf("unexpected project: %+v", got)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestVersionCreateMissingProject(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	s := New(db)
	ctx := context.Background()
	now := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO versions`).
		WithArgs("proj", "v1", now).
		WillReturnError(&mockPQError{msg: `pq: insert or update on table "versions" violates foreign key constraint "versions_project_fkey"`})

	err = s.Versions().Create(ctx, "proj", "v1", now)
	if err == nil {
		t.Fatalf("expected error")
	}
	ae, ok := asAppError(err)
	if !ok || ae.Code != "ProjectDoesNotExist" {
		t.Fatalf("wrong error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

// mockPQError stands in for the error string lib/pq returns so
// isUniqueViolation/isForeignKeyViolation can be exercised without a real
// connection.
type mockPQError struct{ msg string }

func (e *mockPQError) Error() string { return e.msg }
