package correlation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the engine's view of the geo-cluster store. Every ReportAdded or
// ReportDismissed invocation runs as exactly one InTransaction call: the
// whole set of reads and writes commits atomically or rolls back together.
type Store interface {
	// InTransaction runs fn inside a single transaction. Any error returned
	// by fn rolls back every write made through the Tx.
	InTransaction(ctx context.Context, fn func(Tx) error) error

	// NotificationData loads the read model for building an alert
	// notification. Runs outside the correlation transaction; the alert is
	// already committed when notifications are built.
	NotificationData(ctx context.Context, alertID int64) (*NotificationData, error)
}

// Tx is the set of row operations available inside one correlation pass.
// Lookup methods return nil (not an error) when the row is absent.
type Tx interface {
	ReportByID(id int64) (*Report, error)
	AlertRule(healthSignalID int) (*AlertRule, error)

	// CandidateReports returns the active reports for a health signal,
	// optionally restricted to those received at or after since.
	CandidateReports(healthSignalID int, since *time.Time) ([]*Report, error)

	SetReportLabel(reportID int64, label uuid.UUID) error
	// MergeLabel moves every report carrying label from to label to.
	MergeLabel(from, to uuid.UUID) error
	// SetReportLabels persists a recomputed partition.
	SetReportLabels(labels map[int64]uuid.UUID) error

	SetReportStatus(reportID int64, status ReportStatus) error
	SetAlertStatus(alertID int64, status AlertStatus) error

	ActiveReportsByLabel(label uuid.UUID) ([]*Report, error)
	// ActiveAlertForLabel returns the Pending or Escalated alert reachable
	// from the label's active reports, preferring Escalated.
	ActiveAlertForLabel(label uuid.UUID) (*Alert, error)
	// UnattachedActiveReportsByLabel returns the label's active reports that
	// are not yet a member of any active alert.
	UnattachedActiveReportsByLabel(label uuid.UUID) ([]*Report, error)

	CreateAlert(healthSignalID int, createdAt time.Time) (*Alert, error)
	// AttachReports inserts membership rows and promotes attached reports
	// from New to Pending.
	AttachReports(alertID int64, reportIDs []int64) error

	// InspectedAlertForReport returns the Pending or Dismissed alert the
	// report is a member of, if any.
	InspectedAlertForReport(reportID int64) (*Alert, error)
	// AlertMemberReports returns the alert's member reports, excluding the
	// given report id.
	AlertMemberReports(alertID int64, excludeReportID int64) ([]*Report, error)
}

// NotificationData is everything the aggregator needs to build one alert
// notification: the recipient list and the message substitution values.
type NotificationData struct {
	AlertID             int64
	ProjectID           int
	HealthSignalName    string
	LanguageCode        string
	VillageOfLastReport string
	SupervisorPhones    []string
}
