package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
)

// SMTPSender sends email via an SMTP server.
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	from     string
}

// NewSMTPSender creates an SMTPSender.
func NewSMTPSender(host string, port int, username, password, from string) *SMTPSender {
	return &SMTPSender{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
	}
}

// Send delivers the message. When msg.HTML is set the body is a
// multipart/alternative with the plain-text part first.
func (s *SMTPSender) Send(_ context.Context, msg Message) error {
	raw := s.build(msg)
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}

	// Port 465 uses implicit TLS; 587 uses STARTTLS (smtp.SendMail handles this).
	if s.port == 465 {
		return s.sendImplicitTLS(addr, auth, msg.To, raw)
	}
	return smtp.SendMail(addr, auth, s.from, []string{msg.To}, raw)
}

func (s *SMTPSender) build(msg Message) []byte {
	headers := []string{
		"From: " + s.from,
		"To: " + msg.To,
		"Subject: " + msg.Subject,
		"MIME-Version: 1.0",
	}

	if msg.HTML == "" {
		lines := append(headers,
			"Content-Type: text/plain; charset=UTF-8",
			"",
			msg.Text,
		)
		return []byte(strings.Join(lines, "\r\n"))
	}

	const boundary = "np-otp-boundary"
	lines := append(headers,
		"Content-Type: multipart/alternative; boundary="+boundary,
		"",
		"--"+boundary,
		"Content-Type: text/plain; charset=UTF-8",
		"",
		msg.Text,
		"--"+boundary,
		"Content-Type: text/html; charset=UTF-8",
		"",
		msg.HTML,
		"--"+boundary+"--",
		"",
	)
	return []byte(strings.Join(lines, "\r\n"))
}

func (s *SMTPSender) sendImplicitTLS(addr string, auth smtp.Auth, to string, raw []byte) error {
	host, _, _ := net.SplitHostPort(addr)
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: host})
	if err != nil {
		return fmt.Errorf("smtp tls dial: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(s.from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp RCPT TO: %w", err)
	}
	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := wc.Write(raw); err != nil {
		return fmt.Errorf("smtp write body: %w", err)
	}
	return wc.Close()
}
