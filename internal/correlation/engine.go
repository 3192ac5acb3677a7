package correlation

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nbekele/outbreak-server/internal/labeling"
	"github.com/nbekele/outbreak-server/internal/metrics"
)

// Locker serializes correlation passes that touch overlapping label groups.
// The scope is coarse: one lock per health signal.
type Locker interface {
	Acquire(ctx context.Context, healthSignalID int) (release func(), err error)
}

// NopLocker performs no locking. Used in tests and single-process setups.
type NopLocker struct{}

func (NopLocker) Acquire(ctx context.Context, healthSignalID int) (func(), error) {
	return func() {}, nil
}

// Engine is the report correlation and alerting engine. It is the only
// component that creates, extends, or demotes alerts.
type Engine struct {
	store Store
	locks Locker
	log   *logrus.Logger
	now   func() time.Time
}

// NewEngine creates a correlation engine.
func NewEngine(store Store, locks Locker, log *logrus.Logger) *Engine {
	if locks == nil {
		locks = NopLocker{}
	}
	return &Engine{
		store: store,
		locks: locks,
		log:   log,
		now:   time.Now,
	}
}

// ReportAdded correlates a newly persisted single-type report: resolves its
// group label, merges any touched clusters, and evaluates the label group
// against the alert rule. Returns the created alert when the group crossed
// the count threshold, nil otherwise. All mutations commit as one
// transaction.
func (e *Engine) ReportAdded(ctx context.Context, reportID int64) (*Alert, error) {
	healthSignalID, reportType, err := e.peekReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if healthSignalID == 0 {
		e.log.Warnf("report %d does not exist, skipping correlation", reportID)
		return nil, nil
	}
	if reportType != ReportTypeSingle {
		return nil, nil
	}

	release, err := e.locks.Acquire(ctx, healthSignalID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire correlation lock for health signal %d: %w", healthSignalID, err)
	}
	defer release()

	var triggered *Alert
	err = e.store.InTransaction(ctx, func(tx Tx) error {
		report, err := tx.ReportByID(reportID)
		if err != nil {
			return err
		}
		if report == nil {
			e.log.Warnf("report %d disappeared before correlation", reportID)
			return nil
		}

		rule, err := e.ruleFor(tx, report.HealthSignalID)
		if err != nil {
			return err
		}

		label, err := e.resolveLabel(tx, report, rule)
		if err != nil {
			return err
		}
		if err := tx.SetReportLabel(report.ID, label); err != nil {
			return err
		}

		triggered, err = e.evaluateLabelGroup(tx, label, rule)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.ReportsCorrelated.Inc()
	if triggered != nil {
		metrics.AlertsTriggered.Inc()
	}
	return triggered, nil
}

// ReportDismissed removes a report from its cluster after a human operator
// rejected it. The report is rejected, the surviving reports of its old
// label are re-clustered, the alert is demoted when no resulting sub-group
// meets the threshold anymore, and every sub-group is re-evaluated so that
// a sub-cluster still satisfying the threshold is not silently orphaned.
// The whole dismissal is one transaction.
func (e *Engine) ReportDismissed(ctx context.Context, reportID int64) error {
	healthSignalID, _, err := e.peekReport(ctx, reportID)
	if err != nil {
		return err
	}
	if healthSignalID == 0 {
		e.log.Warnf("report %d does not exist, skipping dismissal", reportID)
		return nil
	}

	release, err := e.locks.Acquire(ctx, healthSignalID)
	if err != nil {
		return fmt.Errorf("failed to acquire correlation lock for health signal %d: %w", healthSignalID, err)
	}
	defer release()

	return e.store.InTransaction(ctx, func(tx Tx) error {
		alert, err := tx.InspectedAlertForReport(reportID)
		if err != nil {
			return err
		}
		if alert == nil {
			e.log.Warnf("report %d has no alert in pending or dismissed status, skipping dismissal", reportID)
			return nil
		}

		report, err := tx.ReportByID(reportID)
		if err != nil {
			return err
		}
		if report == nil {
			e.log.Warnf("report %d does not exist, skipping dismissal", reportID)
			return nil
		}

		rule, err := e.ruleFor(tx, report.HealthSignalID)
		if err != nil {
			return err
		}

		if rule.CountThreshold == 1 {
			// The cluster was always size 1: a direct 1:1 rejection, no
			// re-clustering needed.
			if report.Status.CanTransition(ReportStatusRejected) {
				if err := tx.SetReportStatus(report.ID, ReportStatusRejected); err != nil {
					return err
				}
			}
			if alert.Status.CanTransition(AlertStatusRejected) {
				if err := tx.SetAlertStatus(alert.ID, AlertStatusRejected); err != nil {
					return err
				}
				metrics.AlertsDemoted.Inc()
			}
			return nil
		}

		oldLabel := report.GroupLabel
		if err := tx.SetReportStatus(report.ID, ReportStatusRejected); err != nil {
			return err
		}

		if rule.KilometersThreshold != nil {
			if err := e.recomputeLabels(tx, oldLabel, rule); err != nil {
				return err
			}
		}

		members, err := tx.AlertMemberReports(alert.ID, reportID)
		if err != nil {
			return err
		}
		groups := groupActiveByLabel(members)

		anyGroupMeetsThreshold := false
		for _, g := range groups {
			if len(g) >= rule.CountThreshold {
				anyGroupMeetsThreshold = true
				break
			}
		}
		if !anyGroupMeetsThreshold && alert.Status.CanTransition(AlertStatusRejected) {
			if err := tx.SetAlertStatus(alert.ID, AlertStatusRejected); err != nil {
				return err
			}
			metrics.AlertsDemoted.Inc()
		}

		for _, label := range sortedLabels(groups) {
			if _, err := e.evaluateLabelGroup(tx, label, rule); err != nil {
				return err
			}
		}
		return nil
	})
}

// evaluateLabelGroup is the single threshold/merge decision shared by the
// add and the post-dismissal paths: does the label group already have an
// active alert, and if not, does it meet the count threshold.
func (e *Engine) evaluateLabelGroup(tx Tx, label uuid.UUID, rule *AlertRule) (*Alert, error) {
	existing, err := tx.ActiveAlertForLabel(label)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		// Catch-up sweep: every active, not-yet-attached report of the
		// label joins the existing alert, not just the triggering one.
		unattached, err := tx.UnattachedActiveReportsByLabel(label)
		if err != nil {
			return nil, err
		}
		if len(unattached) > 0 {
			if err := tx.AttachReports(existing.ID, reportIDs(unattached)); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	reports, err := tx.ActiveReportsByLabel(label)
	if err != nil {
		return nil, err
	}
	if len(reports) < rule.CountThreshold {
		return nil, nil
	}

	alert, err := tx.CreateAlert(rule.HealthSignalID, e.now())
	if err != nil {
		return nil, err
	}
	if err := tx.AttachReports(alert.ID, reportIDs(reports)); err != nil {
		return nil, err
	}
	return alert, nil
}

// resolveLabel runs single-linkage assignment against the candidate pool.
// Without a kilometers threshold there is no spatial grouping and every
// report forms its own cluster.
func (e *Engine) resolveLabel(tx Tx, report *Report, rule *AlertRule) (uuid.UUID, error) {
	if rule.KilometersThreshold == nil {
		return uuid.New(), nil
	}

	var since *time.Time
	if rule.DaysThreshold != nil {
		t := report.ReceivedAt.AddDate(0, 0, -*rule.DaysThreshold)
		since = &t
	}

	candidates, err := tx.CandidateReports(report.HealthSignalID, since)
	if err != nil {
		return uuid.Nil, err
	}

	label, relabels := labeling.Assign(toPoint(report), toPoints(candidates), *rule.KilometersThreshold*1000)
	for _, rl := range relabels {
		if err := tx.MergeLabel(rl.From, rl.To); err != nil {
			return uuid.Nil, err
		}
		metrics.LabelMerges.Inc()
	}
	return label, nil
}

// recomputeLabels re-partitions the surviving active reports of oldLabel.
// The radius is double the assignment threshold, carried over from the
// original recompute path (pairwise-merge radius vs. cluster-diameter
// radius; see DESIGN.md).
func (e *Engine) recomputeLabels(tx Tx, oldLabel uuid.UUID, rule *AlertRule) error {
	survivors, err := tx.ActiveReportsByLabel(oldLabel)
	if err != nil {
		return err
	}
	if len(survivors) == 0 {
		return nil
	}

	newLabels := labeling.Recompute(toPoints(survivors), *rule.KilometersThreshold*1000*2)
	if err := tx.SetReportLabels(newLabels); err != nil {
		return err
	}

	distinct := make(map[uuid.UUID]bool)
	for _, l := range newLabels {
		distinct[l] = true
	}
	if len(distinct) > 1 {
		metrics.LabelSplits.Inc()
	}
	return nil
}

func (e *Engine) ruleFor(tx Tx, healthSignalID int) (*AlertRule, error) {
	rule, err := tx.AlertRule(healthSignalID)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, fmt.Errorf("no alert rule configured for health signal %d", healthSignalID)
	}
	if rule.CountThreshold < 1 {
		return nil, fmt.Errorf("invalid count threshold %d for health signal %d", rule.CountThreshold, healthSignalID)
	}
	return rule, nil
}

// peekReport reads the health signal and type of a report outside the main
// transaction, to key the lock before the transaction begins. Returns a
// zero health signal id when the report does not exist.
func (e *Engine) peekReport(ctx context.Context, reportID int64) (int, ReportType, error) {
	var healthSignalID int
	var reportType ReportType
	err := e.store.InTransaction(ctx, func(tx Tx) error {
		report, err := tx.ReportByID(reportID)
		if err != nil {
			return err
		}
		if report != nil {
			healthSignalID = report.HealthSignalID
			reportType = report.Type
		}
		return nil
	})
	return healthSignalID, reportType, err
}

func groupActiveByLabel(reports []*Report) map[uuid.UUID][]*Report {
	groups := make(map[uuid.UUID][]*Report)
	for _, r := range reports {
		if !r.Status.Active() {
			continue
		}
		groups[r.GroupLabel] = append(groups[r.GroupLabel], r)
	}
	return groups
}

func sortedLabels(groups map[uuid.UUID][]*Report) []uuid.UUID {
	labels := make([]uuid.UUID, 0, len(groups))
	for l := range groups {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool {
		return bytes.Compare(labels[i][:], labels[j][:]) < 0
	})
	return labels
}

func reportIDs(reports []*Report) []int64 {
	ids := make([]int64, len(reports))
	for i, r := range reports {
		ids[i] = r.ID
	}
	return ids
}

func toPoint(r *Report) labeling.Point {
	return labeling.Point{ReportID: r.ID, Label: r.GroupLabel, Lat: r.Lat, Lon: r.Lon}
}

func toPoints(reports []*Report) []labeling.Point {
	points := make([]labeling.Point, len(reports))
	for i, r := range reports {
		points[i] = toPoint(r)
	}
	return points
}
