// Package notify sends the emails produced by the intake workflows.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrInvalidRecipient is returned for an empty or malformed address.
// Retrying cannot fix it.
var ErrInvalidRecipient = errors.New("notify: invalid recipient")

// Mailer delivers a plain-text email.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPConfig describes an SMTP relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPMailer sends through an SMTP relay with PLAIN auth when a username
// is configured. STARTTLS is negotiated by net/smtp when offered.
type SMTPMailer struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	now  func() time.Time
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail, now: time.Now}
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := checkRecipient(to); err != nil {
		return err
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	msg := m.message(to, subject, body)

	// smtp.SendMail takes no context; bound it here instead.
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.send(addr, auth, m.cfg.From, []string{to}, msg) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("notify: send to %s via %s: %w", to, addr, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notify: send to %s via %s: %w", to, addr, ctx.Err())
	}
}

func (m *SMTPMailer) message(to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", m.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

func checkRecipient(to string) error {
	if strings.TrimSpace(to) == "" || !strings.Contains(to, "@") || strings.ContainsAny(to, "\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidRecipient, to)
	}
	return nil
}

// LogMailer logs messages instead of sending them. It is the mailer used
// when no SMTP relay is configured.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := checkRecipient(to); err != nil {
		return err
	}
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "mail_not_sent",
		slog.String("to", to),
		slog.String("subject", subject),
		slog.Int("body_bytes", len(body)),
	)
	return nil
}

// Message is an email captured by Outbox.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Outbox records messages instead of sending them.
type Outbox struct {
	mu   sync.Mutex
	sent []Message
}

func (o *Outbox) Send(ctx context.Context, to, subject, body string) error {
	if err := checkRecipient(to); err != nil {
		return err
	}
	o.mu.Lock()
	o.sent = append(o.sent, Message{To: to, Subject: subject, Body: body})
	o.mu.Unlock()
	return nil
}

// Sent returns a copy of the recorded messages in send order.
func (o *Outbox) Sent() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Message(nil), o.sent...)
}
