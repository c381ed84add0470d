// Package otp issues and verifies one-time email login codes.
//
// Codes are stored only as bcrypt hashes and are never returned to the caller.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"qrattend/internal/mailer"
	"qrattend/internal/metrics"
)

var (
	ErrCooldown        = errors.New("an OTP was sent recently, please wait before requesting another")
	ErrExpired         = errors.New("OTP expired or not requested")
	ErrInvalid         = errors.New("invalid OTP")
	ErrTooManyAttempts = errors.New("too many attempts, request a new OTP")
	ErrInvalidEmail    = errors.New("email required")
)

const maxAttempts = 5

// Options tunes code lifetime and resend policy.
type Options struct {
	TTL      time.Duration
	Cooldown time.Duration
	HashCost int
	Now      func() time.Time
}

// Service sends codes by mail and checks them.
type Service struct {
	store    Store
	sender   mailer.Sender
	ttl      time.Duration
	cooldown time.Duration
	cost     int
	now      func() time.Time
	generate func() (string, error)
}

// NewService creates an OTP service.
func NewService(store Store, sender mailer.Sender, opts Options) *Service {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.HashCost == 0 {
		opts.HashCost = bcrypt.DefaultCost
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:    store,
		sender:   sender,
		ttl:      opts.TTL,
		cooldown: opts.Cooldown,
		cost:     opts.HashCost,
		now:      opts.Now,
		generate: Generate,
	}
}

// Generate returns a random 6-digit code in 100000..999999.
func Generate() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Send issues a new code for email and mails it. Mail failures are returned
// wrapped in mailer.ErrDelivery and leave no pending code behind.
func (s *Service) Send(ctx context.Context, email string) error {
	email = normalize(email)
	if email == "" {
		return ErrInvalidEmail
	}
	now := s.now()
	if prev, err := s.store.Get(ctx, email); err == nil {
		if s.cooldown > 0 && now.Sub(prev.SentAt) < s.cooldown && now.Before(prev.ExpiresAt) {
			return ErrCooldown
		}
	} else if !errors.Is(err, errEntryNotFound) {
		return err
	}

	code, err := s.generate()
	if err != nil {
		return fmt.Errorf("generate otp: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cost)
	if err != nil {
		return fmt.Errorf("hash otp: %w", err)
	}
	entry := Entry{Hash: hash, SentAt: now, ExpiresAt: now.Add(s.ttl)}
	if err := s.store.Put(ctx, email, entry, s.ttl); err != nil {
		return err
	}

	body := fmt.Sprintf("Your OTP is %s\n\nIt expires in %d minutes.", code, int(s.ttl.Minutes()))
	if err := s.sender.Send(ctx, email, "Your OTP Code", body); err != nil {
		metrics.ObserveOTPSend(false)
		_ = s.store.Delete(ctx, email)
		return err
	}
	metrics.ObserveOTPSend(true)
	return nil
}

// Verify checks code against the pending entry for email and consumes it on success.
// Every call is counted before the code is compared, so at most maxAttempts
// comparisons run per issued code, including concurrent ones.
func (s *Service) Verify(ctx context.Context, email, code string) error {
	email = normalize(email)
	entry, err := s.store.Get(ctx, email)
	if errors.Is(err, errEntryNotFound) {
		return ErrExpired
	}
	if err != nil {
		return err
	}
	if !s.now().Before(entry.ExpiresAt) {
		_ = s.store.Delete(ctx, email)
		return ErrExpired
	}

	n, err := s.store.Attempt(ctx, email)
	if errors.Is(err, errEntryNotFound) {
		return ErrExpired
	}
	if err != nil {
		return err
	}
	if n > maxAttempts {
		_ = s.store.Delete(ctx, email)
		return ErrTooManyAttempts
	}

	if err := bcrypt.CompareHashAndPassword(entry.Hash, []byte(strings.TrimSpace(code))); err != nil {
		if n == maxAttempts {
			_ = s.store.Delete(ctx, email)
			return ErrTooManyAttempts
		}
		return ErrInvalid
	}
	return s.store.Delete(ctx, email)
}
