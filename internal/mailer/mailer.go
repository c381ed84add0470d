// Package mailer delivers outbound email over SMTP.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/wneessen/go-mail"
)

// ErrDelivery wraps any transport failure so callers can map it to MailDeliveryFailure.
var ErrDelivery = errors.New("mail delivery failed")

// Sender sends a plain-text message.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPConfig holds the SMTP transport settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTP sends mail through an authenticated SMTP relay.
type SMTP struct {
	cfg SMTPConfig
}

// NewSMTP creates an SMTP sender.
func NewSMTP(cfg SMTPConfig) *SMTP {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTP{cfg: cfg}
}

// Send dials the relay and delivers one message.
func (s *SMTP) Send(ctx context.Context, to, subject, body string) error {
	m := mail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return fmt.Errorf("%w: invalid sender: %v", ErrDelivery, err)
	}
	if err := m.To(to); err != nil {
		return fmt.Errorf("%w: invalid recipient: %v", ErrDelivery, err)
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextPlain, body)

	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithTimeout(10 * time.Second),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	c, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	return nil
}

// New returns an SMTP sender for backend "smtp" and a Log sender otherwise.
func New(backend string, cfg SMTPConfig) Sender {
	if backend == "smtp" {
		return NewSMTP(cfg)
	}
	log.Println("WARNING: mail backend is log, emails are written to the log")
	return Log{}
}

// Log writes messages to the process log instead of sending them. Dev only.
type Log struct{}

// Send logs the message.
func (Log) Send(_ context.Context, to, subject, body string) error {
	log.Printf("mail to=%s subject=%q body=%q", to, subject, body)
	return nil
}

// Message is a captured outbound email.
type Message struct {
	To, Subject, Body string
}

// Recorder keeps messages in memory; tests use it to inspect what was sent.
type Recorder struct {
	mu   sync.Mutex
	Err  error
	sent []Message
}

// Send records the message, or fails with Err when set.
func (r *Recorder) Send(_ context.Context, to, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, r.Err)
	}
	r.sent = append(r.sent, Message{To: to, Subject: subject, Body: body})
	return nil
}

// Sent returns a copy of the recorded messages.
func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.sent))
	copy(out, r.sent)
	return out
}
