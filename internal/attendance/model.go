package attendance

import (
	"strings"
	"time"

	"qrattend/internal/geo"
)

// Status is the outcome stored on an attendance record.
type Status string

const (
	StatusPresent Status = "present"
	StatusFlagged Status = "flagged"
	StatusAbsent  Status = "absent"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusFlagged, StatusAbsent:
		return true
	}
	return false
}

// Session is a timed attendance window created by an admin.
type Session struct {
	SessionID   string     `json:"session_id"`
	SubjectCode string     `json:"subject_code"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	CreatedBy   string     `json:"created_by"`
	Reference   *geo.Point `json:"reference,omitempty"`
	QRImageURL  string     `json:"qr_image_url,omitempty"`
}

// ActiveAt reports whether the session still accepts marks at t.
func (s Session) ActiveAt(t time.Time) bool {
	return !t.After(s.ExpiresAt)
}

// Student is a registered student, keyed by register number. Email is the
// address OTP logins for this student must come from; students without one
// cannot log in.
type Student struct {
	Name         string `json:"name"`
	RegNo        string `json:"reg_no"`
	DepartmentID string `json:"department_id"`
	Email        string `json:"email,omitempty"`
}

// Record is one attendance mark for a (session, student) pair.
type Record struct {
	ID            string     `json:"id"`
	SessionID     string     `json:"session_id"`
	RegNo         string     `json:"reg_no"`
	DepartmentID  string     `json:"department_id"`
	Timestamp     time.Time  `json:"timestamp"`
	Location      *geo.Point `json:"location,omitempty"`
	Status        Status     `json:"status"`
	IsWithinRange bool       `json:"is_within_range"`
}

// RecordFilter narrows ListRecords. Empty fields match everything.
type RecordFilter struct {
	SessionID string
	RegNo     string
}

func (f RecordFilter) match(r Record) bool {
	if f.SessionID != "" && r.SessionID != f.SessionID {
		return false
	}
	if f.RegNo != "" && r.RegNo != f.RegNo {
		return false
	}
	return true
}

// SessionFilter narrows ListSessions. SubjectCode matches exactly; a non-zero
// Date matches sessions created on that calendar day in Date's location.
type SessionFilter struct {
	SubjectCode string
	Date        time.Time
}

func (f SessionFilter) match(s Session) bool {
	if f.SubjectCode != "" && s.SubjectCode != f.SubjectCode {
		return false
	}
	if !f.Date.IsZero() {
		y, m, d := f.Date.Date()
		sy, sm, sd := s.CreatedAt.In(f.Date.Location()).Date()
		if y != sy || m != sm || d != sd {
			return false
		}
	}
	return true
}

// StudentFilter narrows ListStudents. Query is a case-insensitive substring
// of the name or register number.
type StudentFilter struct {
	Query        string
	DepartmentID string
}

func (f StudentFilter) match(st Student) bool {
	if f.DepartmentID != "" && st.DepartmentID != f.DepartmentID {
		return false
	}
	if f.Query != "" {
		q := strings.ToLower(f.Query)
		if !strings.Contains(strings.ToLower(st.Name), q) && !strings.Contains(strings.ToLower(st.RegNo), q) {
			return false
		}
	}
	return true
}

// Submission is a student's attempt to mark attendance.
// A nil Location means the client could not obtain a reading.
type Submission struct {
	SessionID    string
	RegNo        string
	DepartmentID string
	Location     *geo.Point
}

// Notice is informational feedback attached to a successful admission.
type Notice string

// NoticeLocationUnavailable means the mark was admitted without location verification.
const NoticeLocationUnavailable Notice = "LocationUnavailable"

// Message is the user-facing text for the notice.
func (n Notice) Message() string {
	switch n {
	case NoticeLocationUnavailable:
		return "Location could not be verified. Attendance was marked without location verification."
	}
	return ""
}

// Admission is the result of a successful Admit call. Distance is the reading's
// distance from the reference point in meters, when it could be computed.
type Admission struct {
	Record   Record   `json:"record"`
	Session  Session  `json:"-"`
	Distance *float64 `json:"distance_m,omitempty"`
	Notice   Notice   `json:"notice,omitempty"`
}

// Summary is a student's attendance overview for their department.
type Summary struct {
	RegNo              string   `json:"reg_no"`
	Name               string   `json:"name,omitempty"`
	DepartmentID       string   `json:"department_id"`
	DepartmentSessions int      `json:"department_sessions"`
	Attended           int      `json:"attended"`
	Percentage         float64  `json:"percentage"`
	Records            []Record `json:"records"`
}
