package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleAdmin   = "admin"
	RoleStudent = "student"

	typeAccess  = "access"
	typeRefresh = "refresh"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrWrongTokenUse = errors.New("token type not accepted here")
)

// TokenPair holds access and refresh tokens.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	AccessExp    time.Time `json:"access_expires_at"`
	RefreshExp   time.Time `json:"refresh_expires_at"`
}

// Claims represents JWT payload. Subject is the admin email or the student
// register number; Dept is set for students only.
type Claims struct {
	Role string `json:"role"`
	Dept string `json:"dept,omitempty"`
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// Issuer signs tokens with an HS256 key.
type Issuer struct {
	Name       string
	Key        []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Now        func() time.Time
}

func (i Issuer) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

// Issue issues signed access and refresh tokens.
func (i Issuer) Issue(subject, role, dept string) (TokenPair, error) {
	now := i.now()
	accessExp := now.Add(i.AccessTTL)
	refreshExp := now.Add(i.RefreshTTL)

	accessToken, err := i.sign(subject, role, dept, typeAccess, now, accessExp)
	if err != nil {
		return TokenPair{}, err
	}
	refreshToken, err := i.sign(subject, role, dept, typeRefresh, now, refreshExp)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
	}, nil
}

func (i Issuer) sign(subject, role, dept, typ string, now, exp time.Time) (string, error) {
	claims := Claims{
		Role: role,
		Dept: dept,
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.Name,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.Key)
}

// Parse validates a token and returns claims.
func (i Issuer) Parse(tokenStr string) (Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	}
	if i.Name != "" {
		opts = append(opts, jwt.WithIssuer(i.Name))
	}
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return i.Key, nil
	}, opts...)
	if err != nil {
		return Claims{}, errors.Join(ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	return *claims, nil
}

// Refresh exchanges a refresh token for a new pair with the same identity.
func (i Issuer) Refresh(refreshToken string) (TokenPair, error) {
	claims, err := i.Parse(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	if claims.Type != typeRefresh {
		return TokenPair{}, ErrWrongTokenUse
	}
	return i.Issue(claims.Subject, claims.Role, claims.Dept)
}
