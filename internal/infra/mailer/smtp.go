// Package mailer is the delivery collaborator. It never returns an error:
// missing credentials give a simulated send and transport problems give a
// fallback status carrying the masked error.
package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/finly-network/finly/internal/domain"
	"github.com/finly-network/finly/internal/infra/observability"
	"github.com/finly-network/finly/internal/logging"
)

// DefaultTimeout bounds the whole SMTP conversation.
const DefaultTimeout = 10 * time.Second

// Config holds SMTP credentials. Without From, Password and Host the mailer
// runs in simulation mode.
type Config struct {
	Host     string
	Port     int
	From     string
	Password string
	Timeout  time.Duration
}

// Configured reports whether real delivery is possible.
func (c Config) Configured() bool {
	return c.From != "" && c.Password != "" && c.Host != ""
}

// sendFunc performs one SMTP delivery of a fully formatted message.
type sendFunc func(ctx context.Context, cfg Config, to string, msg []byte) error

// SMTP implements domain.Deliverer.
type SMTP struct {
	cfg  Config
	send sendFunc
	log  *slog.Logger
	now  func() time.Time
}

// New creates an SMTP mailer.
func New(cfg Config) *SMTP {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &SMTP{cfg: cfg, send: sendSTARTTLS, log: logging.New("mailer"), now: time.Now}
}

// Deliver sends msg and reports the outcome.
func (m *SMTP) Deliver(ctx context.Context, msg domain.Message) domain.DeliveryResult {
	subject := msg.Subject
	if subject == "" {
		subject = domain.ReminderSubject(msg.Tone, msg.Recipient, msg.Amount)
	}
	body := msg.Body
	if strings.TrimSpace(body) == "" {
		deadline := msg.DeadlineDays
		if deadline <= 0 {
			deadline = domain.DefaultDeadlineDays
		}
		body = domain.DefaultReminderBody(msg.Recipient, msg.Amount, deadline)
	}
	stamp := m.now().UTC().Format(domain.TimestampLayout)

	if !m.cfg.Configured() {
		m.log.Info("simulated delivery", "to", msg.To, "subject", subject, "amount", msg.Amount)
		return m.record(domain.DeliveryResult{
			Status:    domain.StatusSimulated,
			To:        msg.To,
			Amount:    msg.Amount,
			Timestamp: stamp,
			Note:      "Credentials missing - switched to simulation",
		})
	}

	raw := formatMessage(m.cfg.From, msg.To, subject, body)
	if err := m.send(ctx, m.cfg, msg.To, raw); err != nil {
		masked := m.mask(err.Error())
		m.log.Warn("delivery failed, recorded as fallback", "to", msg.To, "error", masked)
		return m.record(domain.DeliveryResult{
			Status:      domain.StatusFallback,
			To:          msg.To,
			Amount:      msg.Amount,
			Timestamp:   stamp,
			ErrorMasked: masked,
		})
	}

	m.log.Info("message delivered", "to", msg.To, "subject", subject, "tone", msg.Tone)
	return m.record(domain.DeliveryResult{
		Status:    domain.StatusSent,
		To:        msg.To,
		Subject:   subject,
		Amount:    msg.Amount,
		Tone:      msg.Tone,
		Timestamp: stamp,
	})
}

func (m *SMTP) record(res domain.DeliveryResult) domain.DeliveryResult {
	observability.DeliveriesTotal.WithLabelValues(res.Status).Inc()
	return res
}

// mask strips the password from transport errors.
func (m *SMTP) mask(s string) string {
	if m.cfg.Password != "" {
		s = strings.ReplaceAll(s, m.cfg.Password, "***")
	}
	return s
}

// formatMessage builds an RFC 5322 plain-text message. The subject is
// Q-encoded since it may carry non-ASCII symbols.
func formatMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

// sendSTARTTLS dials, upgrades with STARTTLS, authenticates and sends.
// One deadline covers the whole exchange.
func sendSTARTTLS(ctx context.Context, cfg Config, to string, msg []byte) error {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", domain.ErrDeliveryFailure, addr, err)
	}
	deadline := time.Now().Add(cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: %v", domain.ErrDeliveryFailure, err)
	}
	defer c.Close()

	if err := c.StartTLS(&tls.Config{ServerName: cfg.Host}); err != nil {
		return fmt.Errorf("%w: starttls: %v", domain.ErrDeliveryFailure, err)
	}
	if err := c.Auth(smtp.PlainAuth("", cfg.From, cfg.Password, cfg.Host)); err != nil {
		return fmt.Errorf("%w: auth: %v", domain.ErrDeliveryFailure, err)
	}
	if err := c.Mail(cfg.From); err != nil {
		return fmt.Errorf("%w: mail from: %v", domain.ErrDeliveryFailure, err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("%w: rcpt to: %v", domain.ErrDeliveryFailure, err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("%w: data: %v", domain.ErrDeliveryFailure, err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("%w: write: %v", domain.ErrDeliveryFailure, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDeliveryFailure, err)
	}
	return c.Quit()
}
