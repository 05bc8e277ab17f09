package channels

import (
	"context"
	"fmt"
	"strings"

	"cadence/config"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

// Dialer is the part of gomail.Dialer the sender uses.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailSender delivers email steps over SMTP.
type EmailSender struct {
	dialer   Dialer
	from     string
	fromName string
	domain   string
	logger   logrus.FieldLogger
}

func NewEmailSender(cfg config.SMTPConfig, logger logrus.FieldLogger) *EmailSender {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return NewEmailSenderWithDialer(d, cfg.From, cfg.FromName, logger)
}

func NewEmailSenderWithDialer(d Dialer, from, fromName string, logger logrus.FieldLogger) *EmailSender {
	domain := "localhost"
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		domain = from[at+1:]
	}
	return &EmailSender{dialer: d, from: from, fromName: fromName, domain: domain, logger: logger}
}

// BuildMessage assembles the MIME message and returns it with its Message-ID.
func (s *EmailSender) BuildMessage(req Request) (*gomail.Message, string, error) {
	if req.Lead == nil || strings.TrimSpace(req.Lead.Email) == "" {
		return nil, "", ErrNoRecipient
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), s.domain)

	m := gomail.NewMessage()
	if s.fromName != "" {
		m.SetAddressHeader("From", s.from, s.fromName)
	} else {
		m.SetHeader("From", s.from)
	}
	m.SetHeader("To", req.Lead.Email)
	m.SetHeader("Subject", req.Subject)
	m.SetHeader("Message-ID", messageID)
	m.SetBody("text/html", req.Message)
	return m, messageID, nil
}

func (s *EmailSender) Send(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, messageID, err := s.BuildMessage(req)
	if err == ErrNoRecipient {
		return &Response{Success: false, Error: err.Error()}, nil
	}
	if err != nil {
		return nil, err
	}

	if err := s.dialer.DialAndSend(m); err != nil {
		s.logger.WithError(err).WithField("lead_id", req.Lead.ID).Error("SMTP send failed")
		return nil, fmt.Errorf("error sending email: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"lead_id":    req.Lead.ID,
		"message_id": messageID,
	}).Info("Email sent")
	return &Response{Success: true, MessageID: messageID}, nil
}
