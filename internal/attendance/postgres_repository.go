package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"qrattend/internal/geo"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresRepository persists attendance data in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	return hasCode(err, pgUniqueViolation)
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// CreateSession inserts a session; a taken id yields ErrSessionExists.
func (r *PostgresRepository) CreateSession(ctx context.Context, s Session) error {
	lat, lng := nullPoint(s.Reference)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, subject_code, created_at, expires_at, created_by, reference_lat, reference_lng, qr_image_url)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, s.SessionID, s.SubjectCode, s.CreatedAt, s.ExpiresAt, s.CreatedBy, lat, lng, s.QRImageURL)
	if isUniqueViolation(err) {
		return ErrSessionExists
	}
	return err
}

const sessionColumns = `session_id, subject_code, created_at, expires_at, created_by, reference_lat, reference_lng, qr_image_url`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var s Session
	var lat, lng sql.NullFloat64
	if err := row.Scan(&s.SessionID, &s.SubjectCode, &s.CreatedAt, &s.ExpiresAt, &s.CreatedBy, &lat, &lng, &s.QRImageURL); err != nil {
		return Session{}, err
	}
	s.Reference = pointFrom(lat, lng)
	return s, nil
}

// GetSession returns a single session by id.
func (r *PostgresRepository) GetSession(ctx context.Context, id string) (Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = $1`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	return s, err
}

// ListSessions returns sessions oldest first.
func (r *PostgresRepository) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY created_at, session_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// SetSessionImage stores the hosted QR image URL on a session.
func (r *PostgresRepository) SetSessionImage(ctx context.Context, id, url string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE sessions SET qr_image_url = $2 WHERE session_id = $1`, id, url)
	if err != nil {
		return err
	}
	return expectRows(res, ErrSessionNotFound)
}

// DeleteSession removes the session and its records in one transaction.
func (r *PostgresRepository) DeleteSession(ctx context.Context, id string) (int, error) {
	return r.cascade(ctx,
		`DELETE FROM attendance_records WHERE session_id = $1`,
		`DELETE FROM sessions WHERE session_id = $1`,
		id, ErrSessionNotFound)
}

// CreateStudent inserts a student; a taken register number yields ErrStudentExists.
func (r *PostgresRepository) CreateStudent(ctx context.Context, st Student) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO students (reg_no, name, department_id, email)
		VALUES ($1, $2, $3, $4)
	`, st.RegNo, st.Name, st.DepartmentID, st.Email)
	if isUniqueViolation(err) {
		return ErrStudentExists
	}
	return err
}

// UpdateStudent changes name and department of an existing student.
func (r *PostgresRepository) UpdateStudent(ctx context.Context, st Student) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE students SET name = $2, department_id = $3, email = $4 WHERE reg_no = $1
	`, st.RegNo, st.Name, st.DepartmentID, st.Email)
	if err != nil {
		return err
	}
	return expectRows(res, ErrStudentNotFound)
}

// GetStudent returns a student by register number.
func (r *PostgresRepository) GetStudent(ctx context.Context, regNo string) (Student, error) {
	var st Student
	err := r.db.QueryRowContext(ctx, `
		SELECT reg_no, name, department_id, email FROM students WHERE reg_no = $1
	`, regNo).Scan(&st.RegNo, &st.Name, &st.DepartmentID, &st.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return Student{}, ErrStudentNotFound
	}
	return st, err
}

// ListStudents returns all students ordered by register number.
func (r *PostgresRepository) ListStudents(ctx context.Context) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT reg_no, name, department_id, email FROM students ORDER BY reg_no`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Student
	for rows.Next() {
		var st Student
		if err := rows.Scan(&st.RegNo, &st.Name, &st.DepartmentID, &st.Email); err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, rows.Err()
}

// DeleteStudent removes the student and their records in one transaction.
func (r *PostgresRepository) DeleteStudent(ctx context.Context, regNo string) (int, error) {
	return r.cascade(ctx,
		`DELETE FROM attendance_records WHERE reg_no = $1`,
		`DELETE FROM students WHERE reg_no = $1`,
		regNo, ErrStudentNotFound)
}

// InsertRecord writes a record only while its session exists. The unique
// constraint on (session_id, reg_no) turns a duplicate into ErrAlreadyMarked;
// a session deleted between the EXISTS check and the insert trips the
// foreign key and reads as ErrSessionNotFound.
func (r *PostgresRepository) InsertRecord(ctx context.Context, rec Record) error {
	lat, lng := nullPoint(rec.Location)
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, session_id, reg_no, department_id, recorded_at, lat, lng, status, is_within_range)
		SELECT $1::uuid, $2::text, $3::text, $4::text, $5::timestamptz, $6::double precision, $7::double precision, $8::text, $9::boolean
		WHERE EXISTS (SELECT 1 FROM sessions WHERE session_id = $2::text)
	`, rec.ID, rec.SessionID, rec.RegNo, rec.DepartmentID, rec.Timestamp, lat, lng, string(rec.Status), rec.IsWithinRange)
	if isUniqueViolation(err) {
		return ErrAlreadyMarked
	}
	if hasCode(err, pgForeignKeyViolation) {
		return ErrSessionNotFound
	}
	if err != nil {
		return err
	}
	return expectRows(res, ErrSessionNotFound)
}

const recordColumns = `id, session_id, reg_no, department_id, recorded_at, lat, lng, status, is_within_range`

func scanRecord(row scanner) (Record, error) {
	var rec Record
	var lat, lng sql.NullFloat64
	var status string
	if err := row.Scan(&rec.ID, &rec.SessionID, &rec.RegNo, &rec.DepartmentID, &rec.Timestamp, &lat, &lng, &status, &rec.IsWithinRange); err != nil {
		return Record{}, err
	}
	rec.Location = pointFrom(lat, lng)
	rec.Status = Status(status)
	return rec, nil
}

// ListRecords returns records with basic filters, oldest first.
func (r *PostgresRepository) ListRecords(ctx context.Context, f RecordFilter) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM attendance_records`
	args := []any{}
	clauses := []string{}
	if f.SessionID != "" {
		args = append(args, f.SessionID)
		clauses = append(clauses, fmt.Sprintf("session_id = $%d", len(args)))
	}
	if f.RegNo != "" {
		args = append(args, f.RegNo)
		clauses = append(clauses, fmt.Sprintf("reg_no = $%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY recorded_at, id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// UpdateRecordStatus overrides the status and returns the updated record.
func (r *PostgresRepository) UpdateRecordStatus(ctx context.Context, id string, status Status) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE attendance_records SET status = $2 WHERE id = $1
		RETURNING `+recordColumns, id, string(status))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	return rec, err
}

// DeleteRecord removes one record by id.
func (r *PostgresRepository) DeleteRecord(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM attendance_records WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectRows(res, ErrRecordNotFound)
}

// cascade deletes dependent records then the owner row in one transaction,
// rolling back when the owner does not exist.
func (r *PostgresRepository) cascade(ctx context.Context, deleteRecords, deleteOwner, key string, notFound error) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, deleteRecords, key)
	if err != nil {
		return 0, err
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	res, err = tx.ExecContext(ctx, deleteOwner, key)
	if err != nil {
		return 0, err
	}
	if err := expectRows(res, notFound); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(removed), nil
}

func expectRows(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nullPoint(p *geo.Point) (sql.NullFloat64, sql.NullFloat64) {
	if p == nil {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: p.Lat, Valid: true}, sql.NullFloat64{Float64: p.Lng, Valid: true}
}

func pointFrom(lat, lng sql.NullFloat64) *geo.Point {
	if !lat.Valid || !lng.Valid {
		return nil
	}
	return &geo.Point{Lat: lat.Float64, Lng: lng.Float64}
}
