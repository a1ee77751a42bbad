package provider

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/acteon-dev/acteon/internal/action"
)

// EmailProvider delivers an action over SMTP, adapted from the
// teacher's EmailChannel notifier.
type EmailProvider struct {
	name     string
	host     string
	port     int
	from     string
	to       []string
	username string
	password string
}

func NewEmailProvider(name, host string, port int, from string, to []string, username, password string) *EmailProvider {
	return &EmailProvider{name: name, host: host, port: port, from: from, to: to, username: username, password: password}
}

func (e *EmailProvider) Name() string { return e.name }

func (e *EmailProvider) SupportsAttachments() bool { return false }

func (e *EmailProvider) Execute(ctx context.Context, act *action.Action) (Result, error) {
	subject := fmt.Sprintf("[acteon] %s action for %s", act.Type, act.Provider)
	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\n\nAction: %s\nNamespace: %s\nTenant: %s\n",
		e.from, strings.Join(e.to, ","), subject, string(act.Payload), act.ID, act.Namespace, act.Tenant)

	addr := fmt.Sprintf("%s:%d", e.host, e.port)
	var auth smtp.Auth
	if e.username != "" {
		auth = smtp.PlainAuth("", e.username, e.password, e.host)
	}

	if err := smtp.SendMail(addr, auth, e.from, e.to, []byte(body)); err != nil {
		return Result{Retryable: true}, fmt.Errorf("smtp send: %w", err)
	}
	return Result{Success: true}, nil
}

func (e *EmailProvider) HealthCheck(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", e.host, e.port)
	dialer := &net.Dialer{Timeout: 3 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp health check: %w", err)
	}
	return conn.Close()
}
