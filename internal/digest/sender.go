package digest

import (
	"fmt"
	"time"

	gomail "gopkg.in/mail.v2"
)

// SMTPConfig holds delivery settings for the digest email.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"-"`
	From     string `mapstructure:"from"`
	To       string `mapstructure:"to"`
}

// Sender delivers rendered digests over SMTP with STARTTLS.
type Sender struct {
	cfg SMTPConfig
}

func NewSender(cfg SMTPConfig) *Sender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &Sender{cfg: cfg}
}

func (s *Sender) Send(payload Payload) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", s.cfg.To)
	m.SetHeader("Subject", payload.Subject)
	m.SetBody("text/plain", payload.Body)

	dialer := gomail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.User, s.cfg.Password)
	dialer.Timeout = 10 * time.Second
	dialer.StartTLSPolicy = gomail.MandatoryStartTLS

	if err := dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("sending digest to %s: %w", s.cfg.To, err)
	}
	return nil
}
