package service

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/k2patel/apcupsd-client/internal/logger"
	"github.com/k2patel/apcupsd-client/internal/models"
)

const defaultSubjectPrefix = "[UPS]"

// MailSender abstracts gomail's dialer so tests can capture messages.
type MailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// senderFactory builds a sender from SMTP settings; swapped in tests.
type senderFactory func(cfg models.SMTPConfig) MailSender

func gomailSender(cfg models.SMTPConfig) MailSender {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.SSL = cfg.UseSSL
	return d
}

// NotifyService formats and dispatches alert mail. Delivery failure
// never rolls back alert state: an alert is decided once fired.
type NotifyService struct {
	config    ConfigManager
	log       *logger.Logger
	newSender senderFactory
}

func NewNotifyService(config ConfigManager, log *logger.Logger) *NotifyService {
	return &NotifyService{
		config:    config,
		log:       log,
		newSender: gomailSender,
	}
}

// Send delivers one message covering the batch of events for a UPS.
// With no SMTP settings or recipients configured, it is a no-op.
func (s *NotifyService) Send(ctx context.Context, name string, events []models.AlertEvent) error {
	if len(events) == 0 {
		return nil
	}

	smtp, err := s.config.SMTP(ctx)
	if err != nil {
		return fmt.Errorf("load smtp settings: %w", err)
	}
	if smtp == nil || len(smtp.ToAddrs) == 0 {
		s.log.Debugw("alert mail skipped, no smtp recipients", "ups", name)
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", fromAddr(smtp))
	m.SetHeader("To", smtp.ToAddrs...)
	m.SetHeader("Subject", subject(smtp, name))
	m.SetBody("text/plain", body(events))

	if err := s.newSender(*smtp).DialAndSend(m); err != nil {
		return fmt.Errorf("send alert mail for %s: %w", name, err)
	}
	return nil
}

func fromAddr(smtp *models.SMTPConfig) string {
	if smtp.FromAddr != "" {
		return smtp.FromAddr
	}
	if smtp.Username != "" {
		return smtp.Username
	}
	return "ups@localhost"
}

func subject(smtp *models.SMTPConfig, name string) string {
	prefix := smtp.SubjectPrefix
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}
	return prefix + " " + name + " alert"
}

func body(events []models.AlertEvent) string {
	lines := make([]string, 0, len(events))
	for _, ev := range events {
		lines = append(lines, ev.Message)
	}
	return strings.Join(lines, "\n")
}
