package correlation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nbekele/outbreak-server/internal/notification"
	"github.com/nbekele/outbreak-server/internal/protocol"
)

// Publisher sends an encoded message to the notification transport.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// NotifierConfig carries the message-building settings.
type NotifierConfig struct {
	BaseURL      string
	SenderName   string
	GatewayEmail string
}

// AlertNotifier builds the recipient list and message content for a new
// alert and hands the result to the external dispatcher. Its own success is
// constructing a valid message, not transport delivery.
type AlertNotifier struct {
	store     Store
	templates *notification.TemplateSet
	publisher Publisher
	config    NotifierConfig
	log       *logrus.Logger
}

// NewAlertNotifier creates an alert notifier.
func NewAlertNotifier(store Store, templates *notification.TemplateSet, publisher Publisher, cfg NotifierConfig, log *logrus.Logger) *AlertNotifier {
	return &AlertNotifier{
		store:     store,
		templates: templates,
		publisher: publisher,
		config:    cfg,
		log:       log,
	}
}

// SendNotificationsForNewAlert notifies the supervisors responsible for
// every report attached to the alert: distinct phone numbers, a message in
// the cluster's content language naming the health signal and the village
// of the most recent report, and a deep link to the assessment view.
func (n *AlertNotifier) SendNotificationsForNewAlert(ctx context.Context, alert *Alert) error {
	data, err := n.store.NotificationData(ctx, alert.ID)
	if err != nil {
		return fmt.Errorf("failed to load notification data for alert %d: %w", alert.ID, err)
	}

	link := fmt.Sprintf("%s/projects/%d/alerts/%d/assess",
		strings.TrimRight(n.config.BaseURL, "/"), data.ProjectID, alert.ID)

	body := n.templates.Render(data.LanguageCode, notification.MessageData{
		HealthSignalName: data.HealthSignalName,
		Village:          data.VillageOfLastReport,
		Link:             link,
	})

	msg := &protocol.AlertMessage{
		AlertID:        alert.ID,
		HealthSignalID: alert.HealthSignalID,
		PhoneNumbers:   data.SupervisorPhones,
		SenderName:     n.config.SenderName,
		GatewayEmail:   n.config.GatewayEmail,
		Body:           body,
		TriggeredAt:    time.Now(),
	}

	encoded, err := protocol.EncodeAlertMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to encode alert message: %w", err)
	}

	if err := n.publisher.Publish(ctx, strconv.Itoa(alert.HealthSignalID), encoded); err != nil {
		return fmt.Errorf("failed to publish alert message: %w", err)
	}

	n.log.Infof("queued notification for alert %d to %d supervisors", alert.ID, len(data.SupervisorPhones))
	return nil
}
