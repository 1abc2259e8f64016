package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMTPMailer_Send(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{
		Host:     "mail.example.com",
		Username: "bot",
		Password: "secret",
		From:     "support@example.com",
	})
	m.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg string
	var gotAuth smtp.Auth
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotFrom, gotTo, gotMsg = addr, a, from, to, string(msg)
		return nil
	}

	require.NoError(t, m.Send(context.Background(), "ada@example.com", "Welcome to the app", "Hi,\n\nThanks."))

	assert.Equal(t, "mail.example.com:587", gotAddr)
	assert.NotNil(t, gotAuth)
	assert.Equal(t, "support@example.com", gotFrom)
	assert.Equal(t, []string{"ada@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: Welcome to the app\r\n")
	assert.Contains(t, gotMsg, "To: ada@example.com\r\n")
	assert.True(t, strings.HasSuffix(gotMsg, "\r\n\r\nHi,\r\n\r\nThanks."))
}

func TestSMTPMailer_NoAuthWithoutUsername(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "localhost", Port: 1025, From: "a@b.c"})
	var gotAuth smtp.Auth = smtp.PlainAuth("", "x", "y", "z")
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAuth = a
		assert.Equal(t, "localhost:1025", addr)
		return nil
	}
	require.NoError(t, m.Send(context.Background(), "ada@example.com", "s", "b"))
	assert.Nil(t, gotAuth)
}

func TestSMTPMailer_Errors(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "localhost", From: "a@b.c", Timeout: 20 * time.Millisecond})

	err := m.Send(context.Background(), "not-an-address", "s", "b")
	assert.ErrorIs(t, err, ErrInvalidRecipient)

	err = m.Send(context.Background(), "ada@example.com\r\nBcc: eve@example.com", "s", "b")
	assert.ErrorIs(t, err, ErrInvalidRecipient)

	relayDown := errors.New("connection refused")
	m.send = func(string, smtp.Auth, string, []string, []byte) error { return relayDown }
	assert.ErrorIs(t, m.Send(context.Background(), "ada@example.com", "s", "b"), relayDown)

	block := make(chan struct{})
	defer close(block)
	m.send = func(string, smtp.Auth, string, []string, []byte) error { <-block; return nil }
	assert.ErrorIs(t, m.Send(context.Background(), "ada@example.com", "s", "b"), context.DeadlineExceeded)
}

func TestOutbox(t *testing.T) {
	var o Outbox
	require.NoError(t, o.Send(context.Background(), "ada@example.com", "one", "1"))
	require.NoError(t, o.Send(context.Background(), "bob@example.com", "two", "2"))
	assert.ErrorIs(t, o.Send(context.Background(), "", "three", "3"), ErrInvalidRecipient)

	sent := o.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, Message{To: "ada@example.com", Subject: "one", Body: "1"}, sent[0])
	assert.Equal(t, "bob@example.com", sent[1].To)
}

func TestLogMailer(t *testing.T) {
	var buf bytes.Buffer
	m := LogMailer{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	require.NoError(t, m.Send(context.Background(), "ada@example.com", "Welcome to the app", "Hi"))
	assert.Contains(t, buf.String(), "mail_not_sent")
	assert.Contains(t, buf.String(), "to=ada@example.com")

	assert.ErrorIs(t, m.Send(context.Background(), "", "s", "b"), ErrInvalidRecipient)
}
