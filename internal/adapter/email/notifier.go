// Package email sends engine escalations over SMTP.
package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/Strob0t/decisiongate/internal/port/notifier"
)

const providerName = "email"

// SMTPConfig holds the SMTP relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Password string
}

// sendFunc matches smtp.SendMail.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Notifier mails every escalation to a fixed recipient list.
type Notifier struct {
	cfg  SMTPConfig
	to   []string
	send sendFunc
	now  func() time.Time
}

// NewNotifier creates an email notifier for recipients.
func NewNotifier(cfg SMTPConfig, recipients []string) *Notifier {
	return &Notifier{cfg: cfg, to: recipients, send: smtp.SendMail, now: time.Now}
}

// Name implements notifier.Notifier.
func (n *Notifier) Name() string { return providerName }

// Send implements notifier.Notifier. smtp.SendMail takes no context, so
// cancellation is only honoured before the relay is contacted.
func (n *Notifier) Send(ctx context.Context, note notifier.Notification) error {
	if n.cfg.Host == "" || len(n.to) == 0 {
		return notifier.ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if n.cfg.Password != "" {
		auth = smtp.PlainAuth("", n.cfg.From, n.cfg.Password, n.cfg.Host)
	}
	addr := n.cfg.Host + ":" + strconv.Itoa(n.cfg.Port)
	if err := n.send(addr, auth, n.cfg.From, n.to, n.message(note)); err != nil {
		return fmt.Errorf("email send: %w", err)
	}
	return nil
}

func (n *Notifier) message(note notifier.Notification) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(n.to, ", "))
	fmt.Fprintf(&b, "Subject: [decisiongate][%s] %s\r\n", strings.ToUpper(string(note.Severity)), headerSafe(note.Title))
	fmt.Fprintf(&b, "Date: %s\r\n", n.now().Format(time.RFC1123Z))
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(note.Body)
	if note.Source != "" {
		fmt.Fprintf(&b, "\r\n\r\nSource: %s", note.Source)
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// headerSafe strips CR and LF so a title cannot inject headers.
func headerSafe(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

func init() {
	notifier.Register(providerName, func(config map[string]string) (notifier.Notifier, error) {
		if config["host"] == "" || config["from"] == "" || config["to"] == "" {
			return nil, fmt.Errorf("email notifier: host, from and to are required")
		}
		port := 587
		if v, err := strconv.Atoi(config["port"]); err == nil && v > 0 {
			port = v
		}
		var to []string
		for _, r := range strings.Split(config["to"], ",") {
			if r = strings.TrimSpace(r); r != "" {
				to = append(to, r)
			}
		}
		return NewNotifier(SMTPConfig{
			Host:     config["host"],
			Port:     port,
			From:     config["from"],
			Password: config["password"],
		}, to), nil
	})
}
