package attendance

import (
	"context"
	"errors"
	"strings"
	"time"
)

const demoFaculty = "faculty@institution.edu"

// SeedDemo loads a small fixed dataset relative to now: one open session and
// two expired ones, plus six students across four departments. Rows that
// already exist are left alone, so seeding twice is harmless.
func SeedDemo(ctx context.Context, repo Repository, now time.Time) error {
	now = now.UTC()
	sessions := []Session{
		{SessionID: "ABC123XY", SubjectCode: "IT01", CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(30 * time.Minute)},
		{SessionID: "DEF456ZW", SubjectCode: "CSE02", CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)},
		{SessionID: "GHI789QR", SubjectCode: "ECE03", CreatedAt: now.Add(-24 * time.Hour), ExpiresAt: now.Add(-23 * time.Hour)},
	}
	for _, s := range sessions {
		s.CreatedBy = demoFaculty
		if err := repo.CreateSession(ctx, s); err != nil && !errors.Is(err, ErrSessionExists) {
			return err
		}
	}

	students := []Student{
		{Name: "Ashwin", RegNo: "71812205101", DepartmentID: "IT01"},
		{Name: "Deepankumar", RegNo: "71812205102", DepartmentID: "IT01"},
		{Name: "Dharshankumar", RegNo: "71812205103", DepartmentID: "CSE02"},
		{Name: "Kavinraj", RegNo: "71812205104", DepartmentID: "CSE02"},
		{Name: "Prithiviraj", RegNo: "71812205105", DepartmentID: "ECE03"},
		{Name: "Haridass", RegNo: "71812205106", DepartmentID: "MECH04"},
	}
	for _, st := range students {
		st.Email = strings.ToLower(st.Name) + "@institution.edu"
		if err := repo.CreateStudent(ctx, st); err != nil && !errors.Is(err, ErrStudentExists) {
			return err
		}
	}
	return nil
}
