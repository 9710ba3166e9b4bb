package email

import (
	"fmt"
	"net/smtp"

	"armstrong.academy/cloud/internal/logger"
)

// Sender delivers a plain-text email. Handlers depend on this interface so
// tests can record deliveries instead of talking to an SMTP server.
type Sender interface {
	Send(to, subject, body string) error
}

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

type SMTPSender struct {
	config SMTPConfig
}

func NewSMTPSender(config SMTPConfig) *SMTPSender {
	return &SMTPSender{config: config}
}

func (s *SMTPSender) Send(to, subject, body string) error {
	if s.config.Host == "" || s.config.Port == "" || s.config.Username == "" || s.config.Password == "" {
		logger.Error("SMTP configuration missing")
		return fmt.Errorf("SMTP configuration missing")
	}

	from := s.config.From
	if from == "" {
		from = s.config.Username
	}

	auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)

	msg := []byte(fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"\r\n"+
		"%s\r\n", from, to, subject, body))

	addr := fmt.Sprintf("%s:%s", s.config.Host, s.config.Port)
	return smtp.SendMail(addr, auth, from, []string{to}, msg)
}

// LicenseEmail renders the message sent to a purchaser after checkout.
func LicenseEmail(licenseKey, productID string) (subject, body string) {
	subject = "Your License Key"
	body = fmt.Sprintf(`Thank you for your order!

Your license key is:

    %s

Run this to download your product:

    npx @armstrong/cli create %s

Each license allows a limited number of downloads. If you run out,
reply to this email and we will sort you out.

— Armstrong Academy`, licenseKey, productID)
	return subject, body
}
