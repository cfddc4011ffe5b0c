package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// EmailSender delivers notifications over SMTP with plain auth, the way
// consumer providers like Gmail expect app-password clients to connect.
type EmailSender struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       []string

	// sendMail is swapped out in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailSender creates an EmailSender. The from address defaults to the
// username when empty.
func NewEmailSender(host string, port int, username, password, from string, to []string) *EmailSender {
	if from == "" {
		from = username
	}
	return &EmailSender{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		to:       to,
		sendMail: smtp.SendMail,
	}
}

// Send delivers the notification as a plain-text email to every recipient.
func (e *EmailSender) Send(ctx context.Context, title, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", title)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(message)
	b.WriteString("\r\n")

	addr := fmt.Sprintf("%s:%d", e.host, e.port)
	auth := smtp.PlainAuth("", e.username, e.password, e.host)
	if err := e.sendMail(addr, auth, e.from, e.to, []byte(b.String())); err != nil {
		return fmt.Errorf("email: send to %s: %w", strings.Join(e.to, ","), err)
	}
	return nil
}

// Name returns the sender identifier.
func (e *EmailSender) Name() string {
	return "email"
}
