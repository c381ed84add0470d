package attendance

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"qrattend/internal/geo"
	"qrattend/internal/metrics"
)

const (
	sessionIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	sessionIDLength   = 8
	sessionIDAttempts = 5

	// DefaultExpiryMinutes is used when a session is created without an expiry.
	DefaultExpiryMinutes = 5
)

// Settings tunes the admission decision. Reference is the campus point used for
// sessions that carry none; Now overrides the clock.
type Settings struct {
	Reference    *geo.Point
	RadiusMeters float64
	Now          func() time.Time
}

// Service coordinates session lifecycle, admission and record maintenance.
type Service struct {
	repo      Repository
	reference *geo.Point
	radius    float64
	now       func() time.Time
	newID     func() (string, error)
}

// NewService creates a service backed by a repository.
func NewService(repo Repository, s Settings) *Service {
	if s.RadiusMeters <= 0 {
		s.RadiusMeters = geo.DefaultRadiusMeters
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return &Service{
		repo:      repo,
		reference: s.Reference,
		radius:    s.RadiusMeters,
		now:       s.Now,
		newID:     NewSessionID,
	}
}

// NewSessionID returns an 8 character upper-case alphanumeric id.
func NewSessionID() (string, error) {
	var b strings.Builder
	b.Grow(sessionIDLength)
	size := big.NewInt(int64(len(sessionIDAlphabet)))
	for i := 0; i < sessionIDLength; i++ {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		b.WriteByte(sessionIDAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeSessionID trims and upper-cases a typed or scanned session id.
func NormalizeSessionID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// CreateSession registers a new session expiring expiryMinutes from now.
// Generated ids are retried when they collide with an existing session.
func (s *Service) CreateSession(ctx context.Context, subjectCode string, expiryMinutes int, createdBy string, reference *geo.Point) (Session, error) {
	subjectCode = strings.TrimSpace(subjectCode)
	if subjectCode == "" || createdBy == "" {
		return Session{}, fmt.Errorf("%w: subject code and creator required", ErrInvalidInput)
	}
	if expiryMinutes == 0 {
		expiryMinutes = DefaultExpiryMinutes
	}
	if expiryMinutes < 0 {
		return Session{}, fmt.Errorf("%w: expiry must be positive", ErrInvalidInput)
	}

	now := s.now().UTC()
	sess := Session{
		SubjectCode: subjectCode,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Duration(expiryMinutes) * time.Minute),
		CreatedBy:   createdBy,
		Reference:   reference,
	}
	for attempt := 0; attempt < sessionIDAttempts; attempt++ {
		id, err := s.newID()
		if err != nil {
			return Session{}, fmt.Errorf("generate session id: %w", err)
		}
		sess.SessionID = id
		err = s.repo.CreateSession(ctx, sess)
		if errors.Is(err, ErrSessionExists) {
			continue
		}
		if err != nil {
			return Session{}, err
		}
		return sess, nil
	}
	return Session{}, ErrSessionExists
}

// GetSession returns a session by id.
func (s *Service) GetSession(ctx context.Context, id string) (Session, error) {
	return s.repo.GetSession(ctx, NormalizeSessionID(id))
}

// ListSessions returns sessions matching f.
func (s *Service) ListSessions(ctx context.Context, f SessionFilter) ([]Session, error) {
	all, err := s.repo.ListSessions(ctx)
	if err != nil || f == (SessionFilter{}) {
		return all, err
	}
	var out []Session
	for _, sess := range all {
		if f.match(sess) {
			out = append(out, sess)
		}
	}
	return out, nil
}

// ActiveSessions returns unexpired sessions whose subject code matches the department.
func (s *Service) ActiveSessions(ctx context.Context, departmentID string) ([]Session, error) {
	all, err := s.repo.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var out []Session
	for _, sess := range all {
		if sess.ActiveAt(now) && sess.SubjectCode == departmentID {
			out = append(out, sess)
		}
	}
	return out, nil
}

// AttachQRImage records where the session's QR image is hosted.
func (s *Service) AttachQRImage(ctx context.Context, id, url string) error {
	return s.repo.SetSessionImage(ctx, NormalizeSessionID(id), url)
}

// DeleteSession removes a session and its records.
func (s *Service) DeleteSession(ctx context.Context, id string) (int, error) {
	return s.repo.DeleteSession(ctx, NormalizeSessionID(id))
}

// Admit decides whether a submission is recorded as present, recorded as
// flagged or rejected, and writes the record when it is accepted.
func (s *Service) Admit(ctx context.Context, sub Submission) (Admission, error) {
	adm, err := s.admit(ctx, sub)
	metrics.ObserveAdmission(outcome(adm, err))
	return adm, err
}

func (s *Service) admit(ctx context.Context, sub Submission) (Admission, error) {
	sub.SessionID = NormalizeSessionID(sub.SessionID)
	if sub.SessionID == "" || sub.RegNo == "" {
		return Admission{}, fmt.Errorf("%w: session id and register number required", ErrInvalidInput)
	}

	sess, err := s.repo.GetSession(ctx, sub.SessionID)
	if err != nil {
		return Admission{}, err
	}
	now := s.now().UTC()
	if !sess.ActiveAt(now) {
		return Admission{}, ErrSessionExpired
	}

	existing, err := s.repo.ListRecords(ctx, RecordFilter{SessionID: sess.SessionID, RegNo: sub.RegNo})
	if err != nil {
		return Admission{}, err
	}
	if len(existing) > 0 {
		return Admission{}, ErrAlreadyMarked
	}

	adm := Admission{Session: sess}
	withinRange := true
	reference := sess.Reference
	if reference == nil {
		reference = s.reference
	}
	if sub.Location != nil && reference != nil {
		d := geo.Distance(*sub.Location, *reference)
		adm.Distance = &d
		withinRange = geo.WithinRadius(*sub.Location, *reference, s.radius)
	} else {
		adm.Notice = NoticeLocationUnavailable
	}

	status := StatusPresent
	if !withinRange {
		status = StatusFlagged
	}
	adm.Record = Record{
		ID:            uuid.NewString(),
		SessionID:     sess.SessionID,
		RegNo:         sub.RegNo,
		DepartmentID:  sub.DepartmentID,
		Timestamp:     now,
		Location:      sub.Location,
		Status:        status,
		IsWithinRange: withinRange,
	}
	// The repository repeats the duplicate check atomically with the write.
	if err := s.repo.InsertRecord(ctx, adm.Record); err != nil {
		return Admission{}, err
	}
	return adm, nil
}

func outcome(adm Admission, err error) string {
	switch {
	case err == nil:
		return string(adm.Record.Status)
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, ErrAlreadyMarked):
		return "already_marked"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	}
	return "error"
}

// ListRecords returns records matching f.
func (s *Service) ListRecords(ctx context.Context, f RecordFilter) ([]Record, error) {
	f.SessionID = NormalizeSessionID(f.SessionID)
	return s.repo.ListRecords(ctx, f)
}

// UpdateStatus overrides a record's status; IsWithinRange is left as admitted.
func (s *Service) UpdateStatus(ctx context.Context, recordID string, status Status) (Record, error) {
	if !status.Valid() {
		return Record{}, ErrInvalidStatus
	}
	if _, err := uuid.Parse(recordID); err != nil {
		return Record{}, ErrRecordNotFound
	}
	return s.repo.UpdateRecordStatus(ctx, recordID, status)
}

// DeleteRecord removes a single record by its id.
func (s *Service) DeleteRecord(ctx context.Context, recordID string) error {
	if _, err := uuid.Parse(recordID); err != nil {
		return ErrRecordNotFound
	}
	return s.repo.DeleteRecord(ctx, recordID)
}

// CreateStudent registers a student.
func (s *Service) CreateStudent(ctx context.Context, st Student) (Student, error) {
	st = trimStudent(st)
	if st.Name == "" || st.RegNo == "" || st.DepartmentID == "" {
		return Student{}, fmt.Errorf("%w: all fields are required", ErrInvalidInput)
	}
	if err := s.repo.CreateStudent(ctx, st); err != nil {
		return Student{}, err
	}
	return st, nil
}

// UpdateStudent edits name and department of the student with st.RegNo.
func (s *Service) UpdateStudent(ctx context.Context, st Student) (Student, error) {
	st = trimStudent(st)
	if st.Name == "" || st.RegNo == "" || st.DepartmentID == "" {
		return Student{}, fmt.Errorf("%w: all fields are required", ErrInvalidInput)
	}
	if err := s.repo.UpdateStudent(ctx, st); err != nil {
		return Student{}, err
	}
	return st, nil
}

// GetStudent returns a student by register number.
func (s *Service) GetStudent(ctx context.Context, regNo string) (Student, error) {
	return s.repo.GetStudent(ctx, strings.TrimSpace(regNo))
}

// ListStudents returns students matching f.
func (s *Service) ListStudents(ctx context.Context, f StudentFilter) ([]Student, error) {
	all, err := s.repo.ListStudents(ctx)
	if err != nil || f == (StudentFilter{}) {
		return all, err
	}
	var out []Student
	for _, st := range all {
		if f.match(st) {
			out = append(out, st)
		}
	}
	return out, nil
}

// DeleteStudent removes a student and their records.
func (s *Service) DeleteStudent(ctx context.Context, regNo string) (int, error) {
	return s.repo.DeleteStudent(ctx, strings.TrimSpace(regNo))
}

// StudentSummary reports how many of the department's sessions the student attended.
// Records overridden to absent do not count as attended.
func (s *Service) StudentSummary(ctx context.Context, regNo, departmentID string) (Summary, error) {
	sum := Summary{RegNo: regNo, DepartmentID: departmentID}
	if st, err := s.repo.GetStudent(ctx, regNo); err == nil {
		sum.Name = st.Name
	} else if !errors.Is(err, ErrStudentNotFound) {
		return Summary{}, err
	}

	sessions, err := s.repo.ListSessions(ctx)
	if err != nil {
		return Summary{}, err
	}
	inDepartment := make(map[string]bool)
	for _, sess := range sessions {
		if sess.SubjectCode == departmentID {
			inDepartment[sess.SessionID] = true
		}
	}
	sum.DepartmentSessions = len(inDepartment)

	records, err := s.repo.ListRecords(ctx, RecordFilter{RegNo: regNo})
	if err != nil {
		return Summary{}, err
	}
	sum.Records = records
	for _, rec := range records {
		if inDepartment[rec.SessionID] && rec.Status != StatusAbsent {
			sum.Attended++
		}
	}
	if sum.DepartmentSessions > 0 {
		sum.Percentage = float64(sum.Attended) / float64(sum.DepartmentSessions) * 100
	}
	return sum, nil
}

func trimStudent(st Student) Student {
	st.Name = strings.TrimSpace(st.Name)
	st.RegNo = strings.TrimSpace(st.RegNo)
	st.DepartmentID = strings.TrimSpace(st.DepartmentID)
	st.Email = strings.ToLower(strings.TrimSpace(st.Email))
	return st
}
