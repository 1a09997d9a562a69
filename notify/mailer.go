package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pwm-project/pwm-sub000/session"
)

// SMTPConfig configures Mailer.
type SMTPConfig struct {
	Host     string
	Port     string
	From     string
	Username string
	Password string
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer sends plain-text email through one SMTP relay.
type Mailer struct {
	cfg      SMTPConfig
	sendMail sendMailFunc
	now      func() time.Time
}

// NewMailer returns a Mailer. PLAIN auth is used only when Username is set.
func NewMailer(cfg SMTPConfig) *Mailer {
	if cfg.Port == "" {
		cfg.Port = "587"
	}
	return &Mailer{cfg: cfg, sendMail: smtp.SendMail, now: time.Now}
}

// SendEmail delivers item. An empty From falls back to the configured sender.
func (m *Mailer) SendEmail(ctx context.Context, item session.EmailItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if item.To == "" {
		return fmt.Errorf("smtp: empty recipient")
	}
	from := item.From
	if from == "" {
		from = m.cfg.From
	}
	if from == "" {
		return fmt.Errorf("smtp: no sender address configured")
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	addr := net.JoinHostPort(m.cfg.Host, m.cfg.Port)
	if err := m.sendMail(addr, auth, from, []string{item.To}, m.compose(from, item)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", addr, err)
	}
	return nil
}

func (m *Mailer) compose(from string, item session.EmailItem) []byte {
	now := m.now().UTC()
	domain := "localhost"
	if _, host, ok := strings.Cut(from, "@"); ok && host != "" {
		domain = host
	}

	var b strings.Builder
	b.WriteString("From: " + headerValue(from) + "\r\n")
	b.WriteString("To: " + headerValue(item.To) + "\r\n")
	b.WriteString("Subject: " + headerValue(item.Subject) + "\r\n")
	b.WriteString("Date: " + now.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("Message-ID: <" + ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String() + "@" + domain + ">\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(item.Body, "\n", "\r\n"))
	return []byte(b.String())
}

// headerValue strips line breaks so a value cannot inject extra headers.
func headerValue(v string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(v)
}
