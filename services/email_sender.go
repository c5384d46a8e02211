package services

import (
	"fmt"
	"strconv"

	"marketplace-settlement/config"
	"marketplace-settlement/logger"

	"gopkg.in/gomail.v2"
)

type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPSender delivers queued emails. It is called by the Kafka email consumer.
type SMTPSender struct {
	from   string
	dialer mailDialer
	log    *logger.Logger
}

func NewSMTPSender(cfg config.Config, log *logger.Logger) (*SMTPSender, error) {
	from := cfg.EmailFrom
	if from == "" {
		from = cfg.SMTPUser
	}
	if from == "" {
		return nil, fmt.Errorf("email sender not configured (set EMAIL_FROM or SMTP_USER)")
	}
	if cfg.SMTPUser == "" || cfg.SMTPPass == "" {
		return nil, fmt.Errorf("smtp credentials not configured (set SMTP_USER and SMTP_PASS)")
	}
	port, err := strconv.Atoi(cfg.SMTPPort)
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP_PORT %q: %w", cfg.SMTPPort, err)
	}
	return &SMTPSender{
		from:   from,
		dialer: gomail.NewDialer(cfg.SMTPHost, port, cfg.SMTPUser, cfg.SMTPPass),
		log:    log,
	}, nil
}

func (s *SMTPSender) Send(to, subject, body string, attachments ...string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)
	for _, a := range attachments {
		if a != "" {
			m.Attach(a)
		}
	}

	if err := s.dialer.DialAndSend(m); err != nil {
		s.log.Error("Failed to send email to %s: %v", to, err)
		return fmt.Errorf("failed to send email: %w", err)
	}
	s.log.Info("Email sent to %s", to)
	return nil
}
