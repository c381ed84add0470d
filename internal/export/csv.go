// Package export writes the admin CSV reports.
package export

import (
	"encoding/csv"
	"io"
	"time"

	"qrattend/internal/attendance"
)

var (
	attendanceHeader = []string{"Session ID", "Register Number", "Department", "Timestamp", "Status"}
	sessionsHeader   = []string{"Session ID", "Subject Code", "Created At", "Expires At", "Created By"}
	studentsHeader   = []string{"Name", "Register Number", "Department ID"}
)

// Attendance writes one row per record.
func Attendance(w io.Writer, records []attendance.Record) error {
	return write(w, attendanceHeader, len(records), func(i int) []string {
		r := records[i]
		return []string{r.SessionID, r.RegNo, r.DepartmentID, stamp(r.Timestamp), string(r.Status)}
	})
}

// Sessions writes one row per session.
func Sessions(w io.Writer, sessions []attendance.Session) error {
	return write(w, sessionsHeader, len(sessions), func(i int) []string {
		s := sessions[i]
		return []string{s.SessionID, s.SubjectCode, stamp(s.CreatedAt), stamp(s.ExpiresAt), s.CreatedBy}
	})
}

// Students writes one row per student.
func Students(w io.Writer, students []attendance.Student) error {
	return write(w, studentsHeader, len(students), func(i int) []string {
		s := students[i]
		return []string{s.Name, s.RegNo, s.DepartmentID}
	})
}

func write(w io.Writer, header []string, n int, row func(int) []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := cw.Write(row(i)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
