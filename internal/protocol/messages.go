package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of report lifecycle event
type EventType string

const (
	EventReportAdded     EventType = "report_added"
	EventReportDismissed EventType = "report_dismissed"
)

// ReportEvent is the ingestion-side message consumed by the correlation
// service. The report row already exists in the store when the event is
// published; the event only carries the reference.
type ReportEvent struct {
	Type           EventType `json:"type"`
	ReportID       int64     `json:"report_id"`
	HealthSignalID int       `json:"health_signal_id"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// AlertMessage is the notification message produced by the correlation
// service and consumed by the notification dispatcher.
type AlertMessage struct {
	AlertID        int64     `json:"alert_id"`
	HealthSignalID int       `json:"health_signal_id"`
	PhoneNumbers   []string  `json:"phone_numbers"`
	SenderName     string    `json:"sender_name"`
	GatewayEmail   string    `json:"gateway_email"`
	Body           string    `json:"body"`
	TriggeredAt    time.Time `json:"triggered_at"`
}

// EncodeReportEvent encodes a ReportEvent to JSON
func EncodeReportEvent(event *ReportEvent) ([]byte, error) {
	return json.Marshal(event)
}

// DecodeReportEvent decodes JSON to ReportEvent and validates it
func DecodeReportEvent(data []byte) (*ReportEvent, error) {
	var event ReportEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := validateReportEvent(&event); err != nil {
		return nil, err
	}
	return &event, nil
}

func validateReportEvent(event *ReportEvent) error {
	switch event.Type {
	case EventReportAdded, EventReportDismissed:
	default:
		return fmt.Errorf("unknown event type: %s", event.Type)
	}
	if event.ReportID <= 0 {
		return fmt.Errorf("report_id is required")
	}
	return nil
}

// EncodeAlertMessage encodes an AlertMessage to JSON
func EncodeAlertMessage(msg *AlertMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeAlertMessage decodes JSON to AlertMessage
func DecodeAlertMessage(data []byte) (*AlertMessage, error) {
	var msg AlertMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return &msg, nil
}
