package correlation

import (
	"context"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// memStore is an in-memory Store for exercising the engine without a live
// transactional store. Rollback is not modeled; these tests drive the
// decision logic, not the storage layer.
type memStore struct {
	reports     map[int64]*Report
	alerts      map[int64]*Alert
	members     map[int64][]int64
	rules       map[int]*AlertRule
	nextAlertID int64

	relabelCalls int
}

func newMemStore(rules ...*AlertRule) *memStore {
	s := &memStore{
		reports: make(map[int64]*Report),
		alerts:  make(map[int64]*Alert),
		members: make(map[int64][]int64),
		rules:   make(map[int]*AlertRule),
	}
	for _, r := range rules {
		s.rules[r.HealthSignalID] = r
	}
	return s
}

func (s *memStore) InTransaction(ctx context.Context, fn func(Tx) error) error {
	return fn(&memTx{s})
}

func (s *memStore) NotificationData(ctx context.Context, alertID int64) (*NotificationData, error) {
	return &NotificationData{AlertID: alertID}, nil
}

func (s *memStore) addReport(id int64, healthSignalID int, lat float64) *Report {
	r := &Report{
		ID:             id,
		HealthSignalID: healthSignalID,
		Type:           ReportTypeSingle,
		Lat:            lat,
		ReceivedAt:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Minute),
		Status:         ReportStatusNew,
	}
	s.reports[id] = r
	return r
}

func (s *memStore) activeAlerts() []*Alert {
	var active []*Alert
	for _, a := range s.alerts {
		if a.Status.Active() {
			active = append(active, a)
		}
	}
	return active
}

type memTx struct {
	s *memStore
}

func (t *memTx) ReportByID(id int64) (*Report, error) {
	return t.s.reports[id], nil
}

func (t *memTx) AlertRule(healthSignalID int) (*AlertRule, error) {
	return t.s.rules[healthSignalID], nil
}

func (t *memTx) CandidateReports(healthSignalID int, since *time.Time) ([]*Report, error) {
	var result []*Report
	for _, r := range t.s.reports {
		if r.HealthSignalID != healthSignalID || r.Type != ReportTypeSingle || !r.Status.Active() {
			continue
		}
		if since != nil && r.ReceivedAt.Before(*since) {
			continue
		}
		result = append(result, r)
	}
	sortReports(result)
	return result, nil
}

func (t *memTx) SetReportLabel(reportID int64, label uuid.UUID) error {
	t.s.reports[reportID].GroupLabel = label
	return nil
}

func (t *memTx) MergeLabel(from, to uuid.UUID) error {
	for _, r := range t.s.reports {
		if r.GroupLabel == from {
			r.GroupLabel = to
		}
	}
	return nil
}

func (t *memTx) SetReportLabels(labels map[int64]uuid.UUID) error {
	t.s.relabelCalls++
	for id, label := range labels {
		t.s.reports[id].GroupLabel = label
	}
	return nil
}

func (t *memTx) SetReportStatus(reportID int64, status ReportStatus) error {
	t.s.reports[reportID].Status = status
	return nil
}

func (t *memTx) SetAlertStatus(alertID int64, status AlertStatus) error {
	t.s.alerts[alertID].Status = status
	return nil
}

func (t *memTx) ActiveReportsByLabel(label uuid.UUID) ([]*Report, error) {
	var result []*Report
	for _, r := range t.s.reports {
		if r.GroupLabel == label && r.Status.Active() {
			result = append(result, r)
		}
	}
	sortReports(result)
	return result, nil
}

func (t *memTx) ActiveAlertForLabel(label uuid.UUID) (*Alert, error) {
	var found *Alert
	for alertID, reportIDs := range t.s.members {
		alert := t.s.alerts[alertID]
		if !alert.Status.Active() {
			continue
		}
		for _, reportID := range reportIDs {
			r := t.s.reports[reportID]
			if r.GroupLabel == label && r.Status.Active() {
				if found == nil ||
					(alert.Status == AlertStatusEscalated && found.Status != AlertStatusEscalated) {
					found = alert
				}
				break
			}
		}
	}
	return found, nil
}

func (t *memTx) UnattachedActiveReportsByLabel(label uuid.UUID) ([]*Report, error) {
	var result []*Report
	for _, r := range t.s.reports {
		if r.GroupLabel != label || !r.Status.Active() {
			continue
		}
		if t.inActiveAlert(r.ID) {
			continue
		}
		result = append(result, r)
	}
	sortReports(result)
	return result, nil
}

func (t *memTx) CreateAlert(healthSignalID int, createdAt time.Time) (*Alert, error) {
	t.s.nextAlertID++
	alert := &Alert{
		ID:             t.s.nextAlertID,
		HealthSignalID: healthSignalID,
		CreatedAt:      createdAt,
		Status:         AlertStatusPending,
	}
	t.s.alerts[alert.ID] = alert
	return alert, nil
}

func (t *memTx) AttachReports(alertID int64, reportIDs []int64) error {
	for _, reportID := range reportIDs {
		if !contains(t.s.members[alertID], reportID) {
			t.s.members[alertID] = append(t.s.members[alertID], reportID)
		}
		if t.s.reports[reportID].Status == ReportStatusNew {
			t.s.reports[reportID].Status = ReportStatusPending
		}
	}
	return nil
}

func (t *memTx) InspectedAlertForReport(reportID int64) (*Alert, error) {
	for alertID, reportIDs := range t.s.members {
		alert := t.s.alerts[alertID]
		if alert.Status != AlertStatusPending && alert.Status != AlertStatusDismissed {
			continue
		}
		if contains(reportIDs, reportID) {
			return alert, nil
		}
	}
	return nil, nil
}

func (t *memTx) AlertMemberReports(alertID int64, excludeReportID int64) ([]*Report, error) {
	var result []*Report
	for _, reportID := range t.s.members[alertID] {
		if reportID == excludeReportID {
			continue
		}
		result = append(result, t.s.reports[reportID])
	}
	sortReports(result)
	return result, nil
}

func (t *memTx) inActiveAlert(reportID int64) bool {
	for alertID, reportIDs := range t.s.members {
		if t.s.alerts[alertID].Status.Active() && contains(reportIDs, reportID) {
			return true
		}
	}
	return false
}

func sortReports(reports []*Report) {
	sort.Slice(reports, func(i, j int) bool { return reports[i].ID < reports[j].ID })
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func testRule(healthSignalID, countThreshold int, km float64) *AlertRule {
	return &AlertRule{
		HealthSignalID:      healthSignalID,
		CountThreshold:      countThreshold,
		KilometersThreshold: &km,
	}
}

func testEngine(store *memStore) *Engine {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewEngine(store, nil, log)
}

// Roughly 0.009 degrees of latitude is 1 km.
func latKm(km float64) float64 {
	return km / 111.0
}

func TestReportAdded_BelowThreshold(t *testing.T) {
	store := newMemStore(testRule(1, 3, 5))
	engine := testEngine(store)
	ctx := context.Background()

	store.addReport(1, 1, 0)
	store.addReport(2, 1, latKm(1))

	for _, id := range []int64{1, 2} {
		alert, err := engine.ReportAdded(ctx, id)
		if err != nil {
			t.Fatalf("ReportAdded(%d) failed: %v", id, err)
		}
		if alert != nil {
			t.Fatalf("Expected no alert below threshold, got alert %d", alert.ID)
		}
	}

	if len(store.alerts) != 0 {
		t.Errorf("Expected no alerts, got %d", len(store.alerts))
	}
	if store.reports[1].GroupLabel != store.reports[2].GroupLabel {
		t.Error("Expected both reports in the same label group")
	}
	for _, id := range []int64{1, 2} {
		if store.reports[id].Status != ReportStatusNew {
			t.Errorf("Expected report %d to stay New, got %s", id, store.reports[id].Status)
		}
	}
}

func TestReportAdded_TriggersAlertAtThreshold(t *testing.T) {
	store := newMemStore(testRule(1, 3, 5))
	engine := testEngine(store)
	ctx := context.Background()

	store.addReport(1, 1, 0)
	store.addReport(2, 1, latKm(1))
	store.addReport(3, 1, latKm(2))

	engine.ReportAdded(ctx, 1)
	engine.ReportAdded(ctx, 2)
	alert, err := engine.ReportAdded(ctx, 3)
	if err != nil {
		t.Fatalf("ReportAdded failed: %v", err)
	}
	if alert == nil {
		t.Fatal("Expected an alert at the count threshold")
	}
	if alert.Status != AlertStatusPending {
		t.Errorf("Expected Pending alert, got %s", alert.Status)
	}

	if len(store.alerts) != 1 {
		t.Fatalf("Expected exactly one alert, got %d", len(store.alerts))
	}
	if len(store.members[alert.ID]) != 3 {
		t.Errorf("Expected 3 member reports, got %d", len(store.members[alert.ID]))
	}
	for _, id := range []int64{1, 2, 3} {
		if store.reports[id].Status != ReportStatusPending {
			t.Errorf("Expected report %d Pending, got %s", id, store.reports[id].Status)
		}
	}
}

func TestReportAdded_CatchUpSweep(t *testing.T) {
	store := newMemStore(testRule(1, 3, 5))
	engine := testEngine(store)
	ctx := context.Background()

	store.addReport(1, 1, 0)
	store.addReport(2, 1, latKm(1))
	store.addReport(3, 1, latKm(2))
	for _, id := range []int64{1, 2, 3} {
		engine.ReportAdded(ctx, id)
	}

	store.addReport(4, 1, latKm(3))
	alert, err := engine.ReportAdded(ctx, 4)
	if err != nil {
		t.Fatalf("ReportAdded failed: %v", err)
	}
	if alert != nil {
		t.Error("Expected no new alert when an active alert already covers the label")
	}

	if len(store.alerts) != 1 {
		t.Fatalf("Expected exactly one alert, got %d", len(store.alerts))
	}
	if len(store.members[1]) != 4 {
		t.Errorf("Expected 4 member reports after catch-up, got %d", len(store.members[1]))
	}
	if store.reports[4].Status != ReportStatusPending {
		t.Errorf("Expected report 4 Pending after attach, got %s", store.reports[4].Status)
	}
}

func TestReportAdded_MergesTouchedClusters(t *testing.T) {
	store := newMemStore(testRule(1, 3, 5))
	engine := testEngine(store)
	ctx := context.Background()

	// Two reports 9 km apart form separate clusters; a third lands between
	// them, within 5 km of both, and must merge everything into one group.
	store.addReport(1, 1, 0)
	store.addReport(2, 1, latKm(9))
	engine.ReportAdded(ctx, 1)
	engine.ReportAdded(ctx, 2)

	if store.reports[1].GroupLabel == store.reports[2].GroupLabel {
		t.Fatal("Expected distant reports in separate label groups")
	}

	store.addReport(3, 1, latKm(4.5))
	alert, err := engine.ReportAdded(ctx, 3)
	if err != nil {
		t.Fatalf("ReportAdded failed: %v", err)
	}

	label := store.reports[3].GroupLabel
	if store.reports[1].GroupLabel != label || store.reports[2].GroupLabel != label {
		t.Error("Expected all three reports merged into one label group")
	}
	if alert == nil {
		t.Fatal("Expected the merged cluster to trigger an alert")
	}
	if len(store.members[alert.ID]) != 3 {
		t.Errorf("Expected 3 member reports, got %d", len(store.members[alert.ID]))
	}
}

func TestReportAdded_AggregateReportSkipped(t *testing.T) {
	store := newMemStore(testRule(1, 1, 5))
	engine := testEngine(store)

	r := store.addReport(1, 1, 0)
	r.Type = ReportTypeAggregate

	alert, err := engine.ReportAdded(context.Background(), 1)
	if err != nil {
		t.Fatalf("ReportAdded failed: %v", err)
	}
	if alert != nil {
		t.Error("Expected aggregate report to bypass correlation")
	}
	if r.GroupLabel != uuid.Nil {
		t.Error("Expected aggregate report to stay unlabeled")
	}
}

func TestReportAdded_MissingReportIsNoOp(t *testing.T) {
	store := newMemStore(testRule(1, 3, 5))
	engine := testEngine(store)

	alert, err := engine.ReportAdded(context.Background(), 99)
	if err != nil {
		t.Fatalf("Expected missing report to be a logged no-op, got error: %v", err)
	}
	if alert != nil {
		t.Error("Expected no alert for a missing report")
	}
}

func TestReportAdded_MissingRuleFailsLoudly(t *testing.T) {
	store := newMemStore()
	engine := testEngine(store)

	store.addReport(1, 1, 0)
	if _, err := engine.ReportAdded(context.Background(), 1); err == nil {
		t.Fatal("Expected an error for a health signal without a configured rule")
	}
}

func TestReportDismissed_ThresholdOneFastPath(t *testing.T) {
	store := newMemStore(testRule(1, 1, 5))
	engine := testEngine(store)
	ctx := context.Background()

	store.addReport(1, 1, 0)
	alert, err := engine.ReportAdded(ctx, 1)
	if err != nil || alert == nil {
		t.Fatalf("Expected an alert for threshold 1, got %v, %v", alert, err)
	}

	if err := engine.ReportDismissed(ctx, 1); err != nil {
		t.Fatalf("ReportDismissed failed: %v", err)
	}

	if store.reports[1].Status != ReportStatusRejected {
		t.Errorf("Expected report Rejected, got %s", store.reports[1].Status)
	}
	if store.alerts[alert.ID].Status != AlertStatusRejected {
		t.Errorf("Expected alert Rejected, got %s", store.alerts[alert.ID].Status)
	}
	if store.relabelCalls != 0 {
		t.Errorf("Expected no re-clustering on the fast path, got %d recompute persists", store.relabelCalls)
	}
}

func TestReportDismissed_DemotesAlertBelowThreshold(t *testing.T) {
	store := newMemStore(testRule(1, 3, 5))
	engine := testEngine(store)
	ctx := context.Background()

	store.addReport(1, 1, 0)
	store.addReport(2, 1, latKm(1))
	store.addReport(3, 1, latKm(2))
	for _, id := range []int64{1, 2, 3} {
		engine.ReportAdded(ctx, id)
	}

	if err := engine.ReportDismissed(ctx, 2); err != nil {
		t.Fatalf("ReportDismissed failed: %v", err)
	}

	if store.reports[2].Status != ReportStatusRejected {
		t.Errorf("Expected dismissed report Rejected, got %s", store.reports[2].Status)
	}
	if store.alerts[1].Status != AlertStatusRejected {
		t.Errorf("Expected alert demoted to Rejected, got %s", store.alerts[1].Status)
	}
	if active := store.activeAlerts(); len(active) != 0 {
		t.Errorf("Expected no active alert after demotion, got %d", len(active))
	}
}

func TestReportDismissed_KeepsAlertWhenSubClusterStillMeetsThreshold(t *testing.T) {
	store := newMemStore(testRule(1, 2, 5))
	engine := testEngine(store)
	ctx := context.Background()

	store.addReport(1, 1, 0)
	store.addReport(2, 1, latKm(1))
	store.addReport(3, 1, latKm(2))
	for _, id := range []int64{1, 2, 3} {
		engine.ReportAdded(ctx, id)
	}

	if err := engine.ReportDismissed(ctx, 3); err != nil {
		t.Fatalf("ReportDismissed failed: %v", err)
	}

	if store.reports[3].Status != ReportStatusRejected {
		t.Errorf("Expected dismissed report Rejected, got %s", store.reports[3].Status)
	}
	if store.alerts[1].Status != AlertStatusPending {
		t.Errorf("Expected alert to stay Pending, got %s", store.alerts[1].Status)
	}
	if active := store.activeAlerts(); len(active) != 1 {
		t.Errorf("Expected the surviving sub-cluster to keep its active alert, got %d", len(active))
	}
}

func TestReportDismissed_BridgeRemovalSplitsClusterAndDemotesAlert(t *testing.T) {
	store := newMemStore(testRule(1, 2, 5))
	engine := testEngine(store)
	ctx := context.Background()

	// A chain of reports 4.5 km apart: 1 - 2 - 3 - 4. Each link is within
	// the 5 km assignment radius, so they form one cluster and one alert.
	store.addReport(1, 1, 0)
	store.addReport(2, 1, latKm(4.5))
	store.addReport(3, 1, latKm(9))
	store.addReport(4, 1, latKm(13.5))
	for _, id := range []int64{1, 2, 3, 4} {
		engine.ReportAdded(ctx, id)
	}
	if len(store.alerts) != 1 || len(store.members[1]) != 4 {
		t.Fatalf("Expected one alert with 4 members, got %d alerts, %d members",
			len(store.alerts), len(store.members[1]))
	}

	// Removing one inner link leaves a 9 km gap, still bridged by the
	// doubled 10 km recompute radius: one component, alert survives.
	if err := engine.ReportDismissed(ctx, 2); err != nil {
		t.Fatalf("ReportDismissed failed: %v", err)
	}
	if store.alerts[1].Status != AlertStatusPending {
		t.Fatalf("Expected alert to survive the first dismissal, got %s", store.alerts[1].Status)
	}
	oldLabel := store.reports[1].GroupLabel
	if store.reports[3].GroupLabel != oldLabel || store.reports[4].GroupLabel != oldLabel {
		t.Fatal("Expected survivors of the first dismissal to stay in one label group")
	}

	// Removing the remaining bridge leaves reports 1 and 4 at 13.5 km,
	// beyond the recompute radius: the cluster splits into two fresh
	// groups, neither meets the threshold, and the alert is demoted.
	if err := engine.ReportDismissed(ctx, 3); err != nil {
		t.Fatalf("ReportDismissed failed: %v", err)
	}

	if store.reports[1].GroupLabel == store.reports[4].GroupLabel {
		t.Error("Expected the surviving reports split into separate label groups")
	}
	if store.reports[1].GroupLabel == oldLabel || store.reports[4].GroupLabel == oldLabel {
		t.Error("Expected fresh labels for both sub-groups after the split")
	}
	if store.alerts[1].Status != AlertStatusRejected {
		t.Errorf("Expected alert demoted to Rejected, got %s", store.alerts[1].Status)
	}
	if active := store.activeAlerts(); len(active) != 0 {
		t.Errorf("Expected no active alerts after the split, got %d", len(active))
	}
	for _, id := range []int64{1, 4} {
		if store.reports[id].Status != ReportStatusPending {
			t.Errorf("Expected report %d to keep its Pending status, got %s", id, store.reports[id].Status)
		}
	}
	if store.relabelCalls != 2 {
		t.Errorf("Expected one recompute persist per dismissal, got %d", store.relabelCalls)
	}
}

func TestReportDismissed_NoActionableAlertIsNoOp(t *testing.T) {
	store := newMemStore(testRule(1, 3, 5))
	engine := testEngine(store)
	ctx := context.Background()

	store.addReport(1, 1, 0)
	engine.ReportAdded(ctx, 1)

	if err := engine.ReportDismissed(ctx, 1); err != nil {
		t.Fatalf("Expected dismissal without an actionable alert to be a no-op, got: %v", err)
	}
	if store.reports[1].Status != ReportStatusNew {
		t.Errorf("Expected report untouched, got %s", store.reports[1].Status)
	}
}

func TestReportDismissed_MissingReportIsNoOp(t *testing.T) {
	store := newMemStore(testRule(1, 3, 5))
	engine := testEngine(store)

	if err := engine.ReportDismissed(context.Background(), 42); err != nil {
		t.Fatalf("Expected missing report dismissal to be a no-op, got: %v", err)
	}
}
