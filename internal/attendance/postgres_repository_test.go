package attendance

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func newMockRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepository(db), mock
}

func anyArgs(n int) []driver.Value {
	args := make([]driver.Value, n)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	return args
}

func testRecord() Record {
	return Record{
		ID:            "5f0c3d38-7c8e-4b0e-9a4e-2d5e4f1a9b10",
		SessionID:     "ABC123XY",
		RegNo:         "R1",
		DepartmentID:  "IT01",
		Timestamp:     time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		Status:        StatusPresent,
		IsWithinRange: true,
	}
}

func TestPostgresInsertRecordDuplicate(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("INSERT INTO attendance_records").
		WithArgs(anyArgs(9)...).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.InsertRecord(context.Background(), testRecord())
	if !errors.Is(err, ErrAlreadyMarked) {
		t.Fatalf("err = %v, want ErrAlreadyMarked", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresInsertRecordForeignKeyViolation(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("INSERT INTO attendance_records").
		WithArgs(anyArgs(9)...).
		WillReturnError(&pgconn.PgError{Code: "23503"})

	if err := repo.InsertRecord(context.Background(), testRecord()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresInsertRecordMissingSession(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("INSERT INTO attendance_records").
		WithArgs(anyArgs(9)...).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.InsertRecord(context.Background(), testRecord()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestPostgresDeleteSessionCascade(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM attendance_records WHERE session_id").
		WithArgs("ABC123XY").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM sessions WHERE session_id").
		WithArgs("ABC123XY").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	removed, err := repo.DeleteSession(context.Background(), "ABC123XY")
	if err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if removed != 3 {
		t.Fatalf("removed = %d, want 3", removed)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresDeleteStudentRollsBackWhenMissing(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM attendance_records WHERE reg_no").
		WithArgs("R9").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM students WHERE reg_no").
		WithArgs("R9").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	if _, err := repo.DeleteStudent(context.Background(), "R9"); !errors.Is(err, ErrStudentNotFound) {
		t.Fatalf("err = %v, want ErrStudentNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresGetSession(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	cols := []string{"session_id", "subject_code", "created_at", "expires_at", "created_by", "reference_lat", "reference_lng", "qr_image_url"}

	mock.ExpectQuery("FROM sessions WHERE session_id").
		WithArgs("ABC123XY").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("ABC123XY", "IT01", created, created.Add(5*time.Minute), "faculty", 11.0, 76.9, ""))
	mock.ExpectQuery("FROM sessions WHERE session_id").
		WithArgs("MISSING1").
		WillReturnError(sql.ErrNoRows)

	s, err := repo.GetSession(context.Background(), "ABC123XY")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if s.Reference == nil || s.Reference.Lat != 11.0 || s.Reference.Lng != 76.9 {
		t.Fatalf("reference = %+v", s.Reference)
	}
	if _, err := repo.GetSession(context.Background(), "MISSING1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestPostgresCreateStudentDuplicate(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("INSERT INTO students").
		WithArgs("R1", "Ashwin", "IT01", "ashwin@institution.edu").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.CreateStudent(context.Background(), Student{Name: "Ashwin", RegNo: "R1", DepartmentID: "IT01", Email: "ashwin@institution.edu"})
	if !errors.Is(err, ErrStudentExists) {
		t.Fatalf("err = %v, want ErrStudentExists", err)
	}
}

func TestPostgresSetSessionImage(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("UPDATE sessions SET qr_image_url").
		WithArgs("ABC123XY", "https://img.example/ABC123XY.png").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sessions SET qr_image_url").
		WithArgs("GONE0000", "https://img.example/GONE0000.png").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	if err := repo.SetSessionImage(ctx, "ABC123XY", "https://img.example/ABC123XY.png"); err != nil {
		t.Fatalf("SetSessionImage: %v", err)
	}
	if err := repo.SetSessionImage(ctx, "GONE0000", "https://img.example/GONE0000.png"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}
