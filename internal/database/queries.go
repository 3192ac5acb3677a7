package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/nbekele/outbreak-server/internal/correlation"
)

const reportColumns = `id, health_signal_id, data_collector_id, report_type, lat, lon, received_at, group_label, status`

// Tx implements correlation.Tx over a single *sql.Tx.
type Tx struct {
	tx *sql.Tx
}

// ReportByID retrieves a report, or nil when it does not exist
func (t *Tx) ReportByID(id int64) (*correlation.Report, error) {
	query := `
		SELECT ` + reportColumns + `
		FROM reports
		WHERE id = $1
	`
	return scanReport(t.tx.QueryRow(query, id))
}

// AlertRule retrieves the rule for a health signal, or nil when none is configured
func (t *Tx) AlertRule(healthSignalID int) (*correlation.AlertRule, error) {
	query := `
		SELECT health_signal_id, count_threshold, days_threshold, kilometers_threshold
		FROM alert_rules
		WHERE health_signal_id = $1
	`

	var rule correlation.AlertRule
	var days sql.NullInt64
	var kilometers sql.NullFloat64
	err := t.tx.QueryRow(query, healthSignalID).Scan(
		&rule.HealthSignalID,
		&rule.CountThreshold,
		&days,
		&kilometers,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if days.Valid {
		d := int(days.Int64)
		rule.DaysThreshold = &d
	}
	if kilometers.Valid {
		km := kilometers.Float64
		rule.KilometersThreshold = &km
	}
	return &rule, nil
}

// CandidateReports retrieves the active single-type reports for a health
// signal, optionally restricted to those received at or after since
func (t *Tx) CandidateReports(healthSignalID int, since *time.Time) ([]*correlation.Report, error) {
	query := `
		SELECT ` + reportColumns + `
		FROM reports
		WHERE health_signal_id = $1
		  AND report_type = $2
		  AND status NOT IN ($3, $4)
	`
	args := []interface{}{
		healthSignalID,
		correlation.ReportTypeSingle,
		correlation.ReportStatusRejected,
		correlation.ReportStatusRemoved,
	}
	if since != nil {
		query += ` AND received_at >= $5`
		args = append(args, *since)
	}

	rows, err := t.tx.Query(query, args...)
	if err != nil {
		return nil, err
	}
	return scanReports(rows)
}

// SetReportLabel assigns a group label to a report
func (t *Tx) SetReportLabel(reportID int64, label uuid.UUID) error {
	_, err := t.tx.Exec(`UPDATE reports SET group_label = $1 WHERE id = $2`, label, reportID)
	return err
}

// MergeLabel moves every report carrying label from to label to
func (t *Tx) MergeLabel(from, to uuid.UUID) error {
	_, err := t.tx.Exec(`UPDATE reports SET group_label = $1 WHERE group_label = $2`, to, from)
	return err
}

// SetReportLabels persists a recomputed label partition
func (t *Tx) SetReportLabels(labels map[int64]uuid.UUID) error {
	for reportID, label := range labels {
		if err := t.SetReportLabel(reportID, label); err != nil {
			return err
		}
	}
	return nil
}

// SetReportStatus updates a report's status
func (t *Tx) SetReportStatus(reportID int64, status correlation.ReportStatus) error {
	_, err := t.tx.Exec(`UPDATE reports SET status = $1 WHERE id = $2`, status, reportID)
	return err
}

// SetAlertStatus updates an alert's status
func (t *Tx) SetAlertStatus(alertID int64, status correlation.AlertStatus) error {
	_, err := t.tx.Exec(`UPDATE alerts SET status = $1 WHERE id = $2`, status, alertID)
	return err
}

// ActiveReportsByLabel retrieves the active reports of a label group
func (t *Tx) ActiveReportsByLabel(label uuid.UUID) ([]*correlation.Report, error) {
	query := `
		SELECT ` + reportColumns + `
		FROM reports
		WHERE group_label = $1
		  AND status NOT IN ($2, $3)
	`
	rows, err := t.tx.Query(query, label, correlation.ReportStatusRejected, correlation.ReportStatusRemoved)
	if err != nil {
		return nil, err
	}
	return scanReports(rows)
}

// ActiveAlertForLabel retrieves the pending or escalated alert reachable
// from the label's active reports, preferring an escalated one
func (t *Tx) ActiveAlertForLabel(label uuid.UUID) (*correlation.Alert, error) {
	query := `
		SELECT a.id, a.health_signal_id, a.created_at, a.status
		FROM reports r
		JOIN alert_reports ar ON ar.report_id = r.id
		JOIN alerts a ON a.id = ar.alert_id
		WHERE r.group_label = $1
		  AND r.status NOT IN ($2, $3)
		  AND a.status IN ($4, $5)
		ORDER BY (a.status = $5) DESC
		LIMIT 1
	`
	return scanAlert(t.tx.QueryRow(query, label,
		correlation.ReportStatusRejected, correlation.ReportStatusRemoved,
		correlation.AlertStatusPending, correlation.AlertStatusEscalated))
}

// UnattachedActiveReportsByLabel retrieves the label's active reports that
// are not a member of any active alert
func (t *Tx) UnattachedActiveReportsByLabel(label uuid.UUID) ([]*correlation.Report, error) {
	query := `
		SELECT ` + reportColumns + `
		FROM reports r
		WHERE r.group_label = $1
		  AND r.status NOT IN ($2, $3)
		  AND NOT EXISTS (
			SELECT 1
			FROM alert_reports ar
			JOIN alerts a ON a.id = ar.alert_id
			WHERE ar.report_id = r.id
			  AND a.status IN ($4, $5)
		  )
	`
	rows, err := t.tx.Query(query, label,
		correlation.ReportStatusRejected, correlation.ReportStatusRemoved,
		correlation.AlertStatusPending, correlation.AlertStatusEscalated)
	if err != nil {
		return nil, err
	}
	return scanReports(rows)
}

// CreateAlert inserts a new pending alert
func (t *Tx) CreateAlert(healthSignalID int, createdAt time.Time) (*correlation.Alert, error) {
	alert := &correlation.Alert{
		HealthSignalID: healthSignalID,
		CreatedAt:      createdAt,
		Status:         correlation.AlertStatusPending,
	}

	query := `
		INSERT INTO alerts (health_signal_id, created_at, status)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	err := t.tx.QueryRow(query, healthSignalID, createdAt, alert.Status).Scan(&alert.ID)
	if err != nil {
		return nil, err
	}
	return alert, nil
}

// AttachReports inserts membership rows and promotes the attached reports
// from new to pending
func (t *Tx) AttachReports(alertID int64, reportIDs []int64) error {
	for _, reportID := range reportIDs {
		_, err := t.tx.Exec(`
			INSERT INTO alert_reports (alert_id, report_id)
			VALUES ($1, $2)
			ON CONFLICT (alert_id, report_id) DO NOTHING
		`, alertID, reportID)
		if err != nil {
			return err
		}
	}

	_, err := t.tx.Exec(`
		UPDATE reports
		SET status = $1
		WHERE id = ANY($2)
		  AND status = $3
	`, correlation.ReportStatusPending, pq.Array(reportIDs), correlation.ReportStatusNew)
	return err
}

// InspectedAlertForReport retrieves the pending or dismissed alert the
// report is a member of, or nil
func (t *Tx) InspectedAlertForReport(reportID int64) (*correlation.Alert, error) {
	query := `
		SELECT a.id, a.health_signal_id, a.created_at, a.status
		FROM alert_reports ar
		JOIN alerts a ON a.id = ar.alert_id
		WHERE ar.report_id = $1
		  AND a.status IN ($2, $3)
		LIMIT 1
	`
	return scanAlert(t.tx.QueryRow(query, reportID,
		correlation.AlertStatusPending, correlation.AlertStatusDismissed))
}

// AlertMemberReports retrieves the alert's member reports, excluding one report
func (t *Tx) AlertMemberReports(alertID int64, excludeReportID int64) ([]*correlation.Report, error) {
	query := `
		SELECT r.id, r.health_signal_id, r.data_collector_id, r.report_type, r.lat, r.lon, r.received_at, r.group_label, r.status
		FROM alert_reports ar
		JOIN reports r ON r.id = ar.report_id
		WHERE ar.alert_id = $1
		  AND r.id <> $2
	`
	rows, err := t.tx.Query(query, alertID, excludeReportID)
	if err != nil {
		return nil, err
	}
	return scanReports(rows)
}

// NotificationData loads the read model for an alert notification: distinct
// supervisor phone numbers, the health signal's name in the project's
// content language, and the village of the most recently received report.
func (db *DB) NotificationData(ctx context.Context, alertID int64) (*correlation.NotificationData, error) {
	data := &correlation.NotificationData{AlertID: alertID}

	metaQuery := `
		SELECT hs.project_id, COALESCE(hsc.name, hs.name), p.content_language
		FROM alerts a
		JOIN health_signals hs ON hs.id = a.health_signal_id
		JOIN projects p ON p.id = hs.project_id
		LEFT JOIN health_signal_contents hsc
		  ON hsc.health_signal_id = hs.id AND hsc.language_code = p.content_language
		WHERE a.id = $1
	`
	err := db.QueryRowContext(ctx, metaQuery, alertID).Scan(
		&data.ProjectID,
		&data.HealthSignalName,
		&data.LanguageCode,
	)
	if err != nil {
		return nil, err
	}

	villageQuery := `
		SELECT dc.village_name
		FROM alert_reports ar
		JOIN reports r ON r.id = ar.report_id
		JOIN data_collectors dc ON dc.id = r.data_collector_id
		WHERE ar.alert_id = $1
		ORDER BY r.received_at DESC
		LIMIT 1
	`
	err = db.QueryRowContext(ctx, villageQuery, alertID).Scan(&data.VillageOfLastReport)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	phoneQuery := `
		SELECT DISTINCT dc.supervisor_phone
		FROM alert_reports ar
		JOIN reports r ON r.id = ar.report_id
		JOIN data_collectors dc ON dc.id = r.data_collector_id
		WHERE ar.alert_id = $1
		ORDER BY dc.supervisor_phone
	`
	rows, err := db.QueryContext(ctx, phoneQuery, alertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var phone string
		if err := rows.Scan(&phone); err != nil {
			return nil, err
		}
		data.SupervisorPhones = append(data.SupervisorPhones, phone)
	}
	return data, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReport(row rowScanner) (*correlation.Report, error) {
	var r correlation.Report
	var label uuid.NullUUID
	err := row.Scan(
		&r.ID,
		&r.HealthSignalID,
		&r.DataCollectorID,
		&r.Type,
		&r.Lat,
		&r.Lon,
		&r.ReceivedAt,
		&label,
		&r.Status,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if label.Valid {
		r.GroupLabel = label.UUID
	}
	return &r, nil
}

func scanReports(rows *sql.Rows) ([]*correlation.Report, error) {
	defer rows.Close()

	var reports []*correlation.Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

func scanAlert(row rowScanner) (*correlation.Alert, error) {
	var a correlation.Alert
	err := row.Scan(&a.ID, &a.HealthSignalID, &a.CreatedAt, &a.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
