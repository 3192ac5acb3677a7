package notification

import (
	"fmt"
	"net/smtp"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nbekele/outbreak-server/internal/protocol"
	"github.com/nbekele/outbreak-server/pkg/config"
)

// SmsSender delivers alert messages through an email-to-SMS gateway: one
// mail per recipient phone number, the phone number in the subject line,
// the way the upstream gateway expects.
type SmsSender struct {
	config *config.GatewayConfig
	log    *logrus.Logger
}

// NewSmsSender creates a new SMS sender
func NewSmsSender(cfg *config.GatewayConfig, log *logrus.Logger) *SmsSender {
	return &SmsSender{config: cfg, log: log}
}

// SendAlertMessage delivers one alert message to every recipient. Delivery
// failures are the dispatcher's concern; the correlation state is already
// committed when this runs.
func (s *SmsSender) SendAlertMessage(msg *protocol.AlertMessage) error {
	if len(msg.PhoneNumbers) == 0 {
		s.log.Warnf("alert %d has no recipients, nothing to send", msg.AlertID)
		return nil
	}

	// Skip sending if the gateway is not configured
	if s.config.Username == "" || s.config.Password == "" {
		s.log.Infof("gateway not configured, skipping SMS for alert %d to %d recipients:\n%s",
			msg.AlertID, len(msg.PhoneNumbers), msg.Body)
		return nil
	}

	gatewayEmail := msg.GatewayEmail
	if gatewayEmail == "" {
		gatewayEmail = s.config.EmailAddress
	}

	for _, phone := range msg.PhoneNumbers {
		if err := s.sendOne(gatewayEmail, phone, msg.SenderName, msg.Body); err != nil {
			return fmt.Errorf("failed to send SMS for alert %d to %s: %w", msg.AlertID, phone, err)
		}
	}

	s.log.Infof("alert %d notified to %d recipients", msg.AlertID, len(msg.PhoneNumbers))
	return nil
}

func (s *SmsSender) sendOne(gatewayEmail, phoneNumber, senderName, body string) error {
	message := fmt.Sprintf("From: %s <%s>\r\n", senderName, s.config.From)
	message += fmt.Sprintf("To: %s\r\n", gatewayEmail)
	message += fmt.Sprintf("Subject: %s\r\n", phoneNumber)
	message += fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	message += "\r\n"
	message += body

	auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	if err := smtp.SendMail(addr, auth, s.config.From, []string{gatewayEmail}, []byte(message)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// TestConnection tests the SMTP connection to the gateway
func (s *SmsSender) TestConnection() error {
	if s.config.Username == "" {
		return fmt.Errorf("gateway not configured")
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	return nil
}
