package correlation

import (
	"time"

	"github.com/google/uuid"
)

// ReportStatus is the lifecycle status of a field report.
type ReportStatus string

const (
	ReportStatusNew      ReportStatus = "NEW"
	ReportStatusPending  ReportStatus = "PENDING"
	ReportStatusRejected ReportStatus = "REJECTED"
	ReportStatusRemoved  ReportStatus = "REMOVED"
)

// AlertStatus is the lifecycle status of an alert.
type AlertStatus string

const (
	AlertStatusPending   AlertStatus = "PENDING"
	AlertStatusEscalated AlertStatus = "ESCALATED"
	AlertStatusDismissed AlertStatus = "DISMISSED"
	AlertStatusRejected  AlertStatus = "REJECTED"
	AlertStatusClosed    AlertStatus = "CLOSED"
)

// ReportType distinguishes individually attributable observations from
// aggregate submissions, which never enter correlation.
type ReportType string

const (
	ReportTypeSingle    ReportType = "SINGLE"
	ReportTypeAggregate ReportType = "AGGREGATE"
)

// Report is a single field observation. GroupLabel is uuid.Nil until the
// labeling engine has assigned a cluster.
type Report struct {
	ID              int64
	HealthSignalID  int
	DataCollectorID int
	Type            ReportType
	Lat             float64
	Lon             float64
	ReceivedAt      time.Time
	GroupLabel      uuid.UUID
	Status          ReportStatus
}

// Alert is a candidate or confirmed outbreak signal.
type Alert struct {
	ID             int64
	HealthSignalID int
	CreatedAt      time.Time
	Status         AlertStatus
}

// AlertRule is the per-health-signal trigger configuration. DaysThreshold
// and KilometersThreshold are optional; nil means no time window and no
// spatial grouping respectively.
type AlertRule struct {
	HealthSignalID      int
	CountThreshold      int
	DaysThreshold       *int
	KilometersThreshold *float64
}

var reportTransitions = map[ReportStatus][]ReportStatus{
	ReportStatusNew:     {ReportStatusPending, ReportStatusRemoved},
	ReportStatusPending: {ReportStatusRejected, ReportStatusRemoved},
}

var alertTransitions = map[AlertStatus][]AlertStatus{
	AlertStatusPending:   {AlertStatusEscalated, AlertStatusDismissed, AlertStatusRejected},
	AlertStatusEscalated: {AlertStatusClosed},
}

// CanTransition reports whether a report may move from its current status to next.
func (s ReportStatus) CanTransition(next ReportStatus) bool {
	for _, t := range reportTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// CanTransition reports whether an alert may move from its current status to next.
func (s AlertStatus) CanTransition(next AlertStatus) bool {
	for _, t := range alertTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Active reports still count as cluster evidence.
func (s ReportStatus) Active() bool {
	return s != ReportStatusRejected && s != ReportStatusRemoved
}

// Active alerts are the ones a report may belong to; a report is a member
// of at most one active alert at any time.
func (s AlertStatus) Active() bool {
	return s == AlertStatusPending || s == AlertStatusEscalated
}
