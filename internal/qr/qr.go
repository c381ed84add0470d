// Package qr encodes sessions into the QR payload students scan.
package qr

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"

	"qrattend/internal/attendance"
)

// ErrInvalidQRCode is returned for payloads that are not a session document.
var ErrInvalidQRCode = errors.New("invalid QR code")

// DefaultSize is the PNG edge length in pixels.
const DefaultSize = 256

// Payload is the JSON document embedded in a session QR code.
type Payload struct {
	SessionID   string    `json:"sessionId"`
	SubjectCode string    `json:"subjectCode"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
	CreatedBy   string    `json:"createdBy"`
}

// Encode returns the JSON payload for s.
func Encode(s attendance.Session) ([]byte, error) {
	return json.Marshal(Payload{
		SessionID:   s.SessionID,
		SubjectCode: s.SubjectCode,
		CreatedAt:   s.CreatedAt.UTC(),
		ExpiresAt:   s.ExpiresAt.UTC(),
		CreatedBy:   s.CreatedBy,
	})
}

// Decode parses scanned text back into a payload. Only sessionId is required;
// the registry stays the source of truth for expiry.
func Decode(data string) (Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidQRCode, err)
	}
	p.SessionID = attendance.NormalizeSessionID(p.SessionID)
	if p.SessionID == "" {
		return Payload{}, fmt.Errorf("%w: missing sessionId", ErrInvalidQRCode)
	}
	return p, nil
}

// PNG renders the session payload as a QR image.
func PNG(s attendance.Session, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultSize
	}
	payload, err := Encode(s)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(string(payload), qrcode.Medium, size)
}
