// Package mailer delivers account emails: verification codes and password
// reset links. These ride the operator's SMTP relay, not the per-user
// follow-up transport, so a user with no Gmail connection can still sign up.
package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/smtp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/osteele/liquid"

	"github.com/chasehq/followup/internal/pkg/logger"
)

// Mailer renders and sends account mail. Safe for concurrent use; parsed
// templates are cached per template name.
type Mailer struct {
	host     string
	port     int
	username string
	password string
	from     string
	fromName string
	baseURL  string

	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// New creates a mailer over the given SMTP relay. baseURL is the public
// address of the app, used in reset links.
func New(host string, port int, username, password, from, fromName, baseURL string) *Mailer {
	engine := liquid.NewEngine()
	// Blank strings count as missing: {{ name | default: "there" }}.
	engine.RegisterFilter("default", func(value any, defaultVal string) any {
		if value == nil {
			return defaultVal
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})
	return &Mailer{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		fromName: fromName,
		baseURL:  baseURL,
		engine:   engine,
	}
}

// SendVerificationCode emails the 6-digit signup code.
func (m *Mailer) SendVerificationCode(ctx context.Context, to, name, code string) error {
	html, err := m.render("verification", verificationTemplate, map[string]any{
		"name": name,
		"code": code,
	})
	if err != nil {
		return fmt.Errorf("render verification mail: %w", err)
	}
	return m.send(ctx, to, "Verify your email", html)
}

// SendPasswordReset emails the reset link for the given token.
func (m *Mailer) SendPasswordReset(ctx context.Context, to, name, token string) error {
	html, err := m.render("reset", resetTemplate, map[string]any{
		"name":      name,
		"reset_url": fmt.Sprintf("%s/reset-password?token=%s", m.baseURL, token),
	})
	if err != nil {
		return fmt.Errorf("render reset mail: %w", err)
	}
	return m.send(ctx, to, "Reset your password", html)
}

// render parses src once per name and renders it with bindings.
func (m *Mailer) render(name, src string, bindings map[string]any) (string, error) {
	var tpl *liquid.Template
	if cached, ok := m.cache.Load(name); ok {
		tpl = cached.(*liquid.Template)
	} else {
		parsed, err := m.engine.ParseString(src)
		if err != nil {
			return "", fmt.Errorf("parse template %s: %w", name, err)
		}
		m.cache.Store(name, parsed)
		tpl = parsed
	}
	out, err := tpl.Render(bindings)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (m *Mailer) send(ctx context.Context, to, subject, html string) error {
	msg, messageID := m.buildMessage(to, subject, html)
	addr := fmt.Sprintf("%s:%d", m.host, m.port)
	if err := m.sendSMTP(ctx, addr, m.from, to, msg); err != nil {
		return fmt.Errorf("account mail send failed: %w", err)
	}
	log.Printf("[Mailer] Sent %q to %s (id: %s)", subject, logger.RedactEmail(to), messageID)
	return nil
}

// buildMessage assembles the RFC 2822 message and returns it with its
// Message-ID.
func (m *Mailer) buildMessage(to, subject, html string) ([]byte, string) {
	messageID := fmt.Sprintf("%s@followup", uuid.New().String())

	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("From: %s <%s>\r\n", m.fromName, m.from))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", to))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	buf.WriteString(fmt.Sprintf("Message-ID: <%s>\r\n", messageID))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(html)
	buf.WriteString("\r\n")
	return buf.Bytes(), messageID
}

// sendSMTP performs the raw SMTP transaction with the relay. STARTTLS is
// used when the server offers it; AUTH runs only over the upgraded
// connection.
func (m *Mailer) sendSMTP(ctx context.Context, addr, from, to string, msg []byte) error {
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("SMTP connect to %s: %w", addr, err)
	}

	c, err := smtp.NewClient(conn, m.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("SMTP client: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: m.host}); err != nil {
			return fmt.Errorf("STARTTLS: %w", err)
		}
	}
	if m.username != "" && m.password != "" {
		auth := smtp.PlainAuth("", m.username, m.password, m.host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("SMTP auth: %w", err)
		}
	}

	if err := c.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("DATA close: %w", err)
	}
	return c.Quit()
}
