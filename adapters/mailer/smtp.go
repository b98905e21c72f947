package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"net/url"
	"time"

	"github.com/mobibase/mobibase/domain/object"
	"github.com/mobibase/mobibase/ports"
)

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string // sender email address
	FromName string // sender display name

	// TLS settings
	UseTLS      bool // Use STARTTLS
	SkipVerify  bool // Skip TLS certificate verification (for testing)
	UseImplicit bool // Use implicit TLS (port 465)

	// Timeouts
	Timeout time.Duration

	// Application settings
	BaseURL string // Base URL for verification links
	AppName string // Application name used in email subjects
}

// SMTP delivers verification emails over SMTP.
type SMTP struct {
	config SMTPConfig
	random ports.Random
}

// NewSMTP creates an SMTP-backed account mailer.
func NewSMTP(config SMTPConfig, random ports.Random) *SMTP {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.AppName == "" {
		config.AppName = "Mobibase"
	}
	return &SMTP{config: config, random: random}
}

// SetEmailVerifyToken stamps verification bookkeeping onto the user data.
func (m *SMTP) SetEmailVerifyToken(data object.Map) error {
	token, err := m.random.String(32)
	if err != nil {
		return err
	}
	data["_email_verify_token"] = token
	data["emailVerified"] = false
	return nil
}

// SendVerificationEmail delivers the verification link for a user.
func (m *SMTP) SendVerificationEmail(ctx context.Context, user object.Map) error {
	to := object.String(user, "email")
	if to == "" {
		return nil
	}
	username := object.String(user, "username")
	token := object.String(user, "_email_verify_token")

	link := fmt.Sprintf("%s/verify_email?token=%s&username=%s",
		m.config.BaseURL, url.QueryEscape(token), url.QueryEscape(username))

	subject := fmt.Sprintf("Please verify your e-mail for %s", m.config.AppName)
	body := fmt.Sprintf(
		"Hi,\r\n\r\nYou are being asked to confirm the e-mail address %s with %s.\r\n\r\n"+
			"Click here to confirm it:\r\n%s\r\n",
		to, m.config.AppName, link)

	return m.send(ctx, to, subject, body)
}

func (m *SMTP) send(ctx context.Context, to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", m.config.Host, m.config.Port)

	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("From: %s <%s>\r\n", m.config.FromName, m.config.From))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", to))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(body)

	if m.config.UseImplicit {
		return m.sendImplicitTLS(ctx, addr, to, buf.Bytes())
	}
	return m.sendSTARTTLS(ctx, addr, to, buf.Bytes())
}

// sendSTARTTLS sends email using STARTTLS (port 587/25).
func (m *SMTP) sendSTARTTLS(ctx context.Context, addr, to string, message []byte) error {
	dialer := &net.Dialer{Timeout: m.config.Timeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, m.config.Host)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	defer client.Close()

	if m.config.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			tlsConfig := &tls.Config{
				ServerName:         m.config.Host,
				InsecureSkipVerify: m.config.SkipVerify,
			}
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}

	if m.config.Username != "" {
		auth := smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(m.config.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(message); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}

	return client.Quit()
}

// sendImplicitTLS sends email using implicit TLS (port 465).
func (m *SMTP) sendImplicitTLS(ctx context.Context, addr, to string, message []byte) error {
	tlsConfig := &tls.Config{
		ServerName:         m.config.Host,
		InsecureSkipVerify: m.config.SkipVerify,
	}

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: m.config.Timeout},
		Config:    tlsConfig,
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial tls: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, m.config.Host)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	defer client.Close()

	if m.config.Username != "" {
		auth := smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(m.config.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(message); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}

	return client.Quit()
}

// Ensure interface compliance.
var _ ports.AccountMailer = (*SMTP)(nil)
