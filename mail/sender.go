// Package mail delivers one-time passcodes over SMTP.
package mail

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"

	"gopkg.in/gomail.v2"
)

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// AppName appears in subjects and bodies.
	AppName string
}

var ErrNoRecipient = errors.New("mail: empty recipient")

var otpTemplate = template.Must(template.New("otp").Parse(`
<h3>{{.Heading}}</h3>
<p>Your {{.AppName}} verification code is: <strong>{{.Code}}</strong></p>
<p>The code expires shortly. If you did not request it, you can ignore this email.</p>
`))

// Sender sends OTP emails. It satisfies goGuard.OTPSender.
type Sender struct {
	from    string
	appName string
	send    func(*gomail.Message) error
}

// NewSender dials cfg.Host for every message.
func NewSender(cfg Config) *Sender {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return newSender(cfg, dialer.DialAndSend)
}

// NewSenderWith sends through an existing gomail.Sender (for example a pooled
// SMTP connection or gomail.SendFunc).
func NewSenderWith(cfg Config, s gomail.Sender) *Sender {
	return newSender(cfg, func(m ...*gomail.Message) error { return gomail.Send(s, m...) })
}

func newSender(cfg Config, send func(...*gomail.Message) error) *Sender {
	if cfg.AppName == "" {
		cfg.AppName = "goGuard"
	}
	return &Sender{
		from:    cfg.From,
		appName: cfg.AppName,
		send:    func(m *gomail.Message) error { return send(m) },
	}
}

func subject(appName, purpose string) (string, string) {
	switch purpose {
	case "password_reset":
		return appName + " password reset code", "Password reset requested"
	default:
		return appName + " sign-in code", "Sign-in verification"
	}
}

// SendOTPEmail delivers code to email. It returns when the message is handed
// to the SMTP server or ctx is done, whichever comes first.
func (s *Sender) SendOTPEmail(ctx context.Context, email, code, purpose string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	subj, heading := subject(s.appName, purpose)
	var body strings.Builder
	if err := otpTemplate.Execute(&body, map[string]string{
		"Heading": heading,
		"AppName": s.appName,
		"Code":    code,
	}); err != nil {
		return fmt.Errorf("failed to render otp email: %w", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", email)
	m.SetHeader("Subject", subj)
	m.SetBody("text/html", body.String())

	errc := make(chan error, 1)
	go func() { errc <- s.send(m) }()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("failed to send otp email: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
