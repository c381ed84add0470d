package attendance

import "context"

// Repository persists sessions, students and records.
//
// Implementations must make InsertRecord reject a second record for the same
// (session, student) pair with ErrAlreadyMarked, and must apply the cascades of
// DeleteSession and DeleteStudent atomically.
type Repository interface {
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	ListSessions(ctx context.Context) ([]Session, error)
	SetSessionImage(ctx context.Context, id, url string) error
	// DeleteSession returns the number of records removed with the session.
	DeleteSession(ctx context.Context, id string) (int, error)

	CreateStudent(ctx context.Context, st Student) error
	UpdateStudent(ctx context.Context, st Student) error
	GetStudent(ctx context.Context, regNo string) (Student, error)
	ListStudents(ctx context.Context) ([]Student, error)
	// DeleteStudent returns the number of records removed with the student.
	DeleteStudent(ctx context.Context, regNo string) (int, error)

	// InsertRecord fails with ErrSessionNotFound if the session is gone.
	InsertRecord(ctx context.Context, r Record) error
	ListRecords(ctx context.Context, f RecordFilter) ([]Record, error)
	UpdateRecordStatus(ctx context.Context, id string, status Status) (Record, error)
	DeleteRecord(ctx context.Context, id string) error
}
