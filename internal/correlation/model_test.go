package correlation

import "testing"

func TestReportStatusTransitions(t *testing.T) {
	cases := []struct {
		from    ReportStatus
		to      ReportStatus
		allowed bool
	}{
		{ReportStatusNew, ReportStatusPending, true},
		{ReportStatusNew, ReportStatusRemoved, true},
		{ReportStatusNew, ReportStatusRejected, false},
		{ReportStatusPending, ReportStatusRejected, true},
		{ReportStatusPending, ReportStatusRemoved, true},
		{ReportStatusPending, ReportStatusNew, false},
		{ReportStatusRejected, ReportStatusPending, false},
		{ReportStatusRemoved, ReportStatusNew, false},
	}

	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.allowed {
			t.Errorf("%s -> %s: expected %v, got %v", c.from, c.to, c.allowed, got)
		}
	}
}

func TestAlertStatusTransitions(t *testing.T) {
	cases := []struct {
		from    AlertStatus
		to      AlertStatus
		allowed bool
	}{
		{AlertStatusPending, AlertStatusEscalated, true},
		{AlertStatusPending, AlertStatusDismissed, true},
		{AlertStatusPending, AlertStatusRejected, true},
		{AlertStatusPending, AlertStatusClosed, false},
		{AlertStatusEscalated, AlertStatusClosed, true},
		{AlertStatusEscalated, AlertStatusRejected, false},
		{AlertStatusDismissed, AlertStatusPending, false},
		{AlertStatusRejected, AlertStatusPending, false},
		{AlertStatusClosed, AlertStatusPending, false},
	}

	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.allowed {
			t.Errorf("%s -> %s: expected %v, got %v", c.from, c.to, c.allowed, got)
		}
	}
}

func TestActiveStatuses(t *testing.T) {
	if !ReportStatusNew.Active() || !ReportStatusPending.Active() {
		t.Error("Expected New and Pending reports to be active")
	}
	if ReportStatusRejected.Active() || ReportStatusRemoved.Active() {
		t.Error("Expected Rejected and Removed reports to be inactive")
	}

	if !AlertStatusPending.Active() || !AlertStatusEscalated.Active() {
		t.Error("Expected Pending and Escalated alerts to be active")
	}
	for _, s := range []AlertStatus{AlertStatusDismissed, AlertStatusRejected, AlertStatusClosed} {
		if s.Active() {
			t.Errorf("Expected %s alert to be inactive", s)
		}
	}
}
