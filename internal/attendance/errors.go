package attendance

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session has expired")
	ErrSessionExists   = errors.New("session id already in use")
	ErrAlreadyMarked   = errors.New("attendance already marked for this session")
	ErrStudentNotFound = errors.New("student not found")
	ErrStudentExists   = errors.New("a student with this register number already exists")
	ErrRecordNotFound  = errors.New("attendance record not found")
	ErrInvalidStatus   = errors.New("status must be one of present, flagged, absent")
	ErrInvalidInput    = errors.New("invalid input")
)
