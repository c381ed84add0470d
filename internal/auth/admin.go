package auth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrBadCredentials = errors.New("invalid email or password")

// Admin checks the single faculty account against a bcrypt hash.
type Admin struct {
	email string
	hash  []byte
}

// NewAdmin uses hash when given, otherwise hashes password once at startup.
func NewAdmin(email, hash, password string) (*Admin, error) {
	a := &Admin{email: strings.ToLower(strings.TrimSpace(email))}
	if hash != "" {
		a.hash = []byte(hash)
		return a, nil
	}
	if password == "" {
		return nil, errors.New("admin password or password hash required")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash admin password: %w", err)
	}
	a.hash = h
	return a, nil
}

// Email returns the normalized admin email.
func (a *Admin) Email() string { return a.email }

// Check verifies the login pair.
func (a *Admin) Check(email, password string) error {
	if strings.ToLower(strings.TrimSpace(email)) != a.email {
		return ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(password)); err != nil {
		return ErrBadCredentials
	}
	return nil
}
