// Package mailer is the outbound notification port. Delivery is best-effort
// by contract: callers must never roll back state because a mail could not
// be sent, and an unconfigured mailer silently accepts everything.
package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// Recipient is one addressee of a message.
type Recipient struct {
	Address string
	Name    string
}

// Message is a prepared notification mail.
type Message struct {
	From     string
	FromName string
	To       []Recipient
	Subject  string
	// Body is HTML, matching the templates of the configuration provider.
	Body string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Nop accepts every message without doing anything. Used when no mail relay
// is configured.
type Nop struct{}

func (Nop) Send(context.Context, Message) error { return nil }

// SMTP delivers through a plain SMTP relay.
type SMTP struct {
	// Addr is host:port of the relay.
	Addr     string
	Username string
	Password string
}

// Send builds a minimal MIME message and submits it to the relay.
func (s *SMTP) Send(_ context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return nil
	}
	var auth smtp.Auth
	if s.Username != "" {
		host := s.Addr
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", s.Username, s.Password, host)
	}

	addrs := make([]string, len(msg.To))
	headers := make([]string, len(msg.To))
	for i, to := range msg.To {
		addrs[i] = to.Address
		headers[i] = fmt.Sprintf("%s <%s>", to.Name, to.Address)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s <%s>\r\n", msg.FromName, msg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(headers, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)

	if err := smtp.SendMail(s.Addr, auth, msg.From, addrs, []byte(b.String())); err != nil {
		return fmt.Errorf("mailer: send via %s: %w", s.Addr, err)
	}
	return nil
}
