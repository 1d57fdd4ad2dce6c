package alerts

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"
)

// SMTPSender sends alerts via email
type SMTPSender struct {
	host     string
	port     int
	user     string
	password string
	from     string
	to       []string
}

// NewSMTPSender creates a new SMTP sender
func NewSMTPSender(host string, port int, user, password, from string, to []string) *SMTPSender {
	return &SMTPSender{
		host:     host,
		port:     port,
		user:     user,
		password: password,
		from:     from,
		to:       to,
	}
}

// Send sends the notification via email
func (s *SMTPSender) Send(ctx context.Context, n *Notification) error {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(s.to, ", "))
	fmt.Fprintf(&msg, "Subject: [%s] %s\r\n", n.Severity, n.Title())
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(s.buildEmailBody(n))

	var auth smtp.Auth
	if s.user != "" {
		auth = smtp.PlainAuth("", s.user, s.password, s.host)
	}
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	if err := smtp.SendMail(addr, auth, s.from, s.to, []byte(msg.String())); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

func (s *SMTPSender) buildEmailBody(n *Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ROUNDWATCH - %s\n", n.Severity)
	b.WriteString("═══════════════════════════════════════\n\n")
	b.WriteString(n.Title() + "\n")
	b.WriteString("─────────────────────────────────────\n")
	for _, line := range n.Details() {
		b.WriteString(line + "\n")
	}
	b.WriteString("\n═══════════════════════════════════════\n")
	fmt.Fprintf(&b, "Environment: %s\n", n.Environment)
	fmt.Fprintf(&b, "Observed: %s\n", n.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Notification: %s\n", n.ID)
	return b.String()
}
