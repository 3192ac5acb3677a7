package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReportsCorrelated counts completed correlation passes for added reports.
	ReportsCorrelated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "correlation_reports_correlated_total",
		Help: "Number of reports that completed a correlation pass",
	})

	// AlertsTriggered counts alerts created by the aggregator.
	AlertsTriggered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "correlation_alerts_triggered_total",
		Help: "Number of alerts created when a cluster crossed its count threshold",
	})

	// AlertsDemoted counts alerts demoted to rejected by dismissal.
	AlertsDemoted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "correlation_alerts_demoted_total",
		Help: "Number of alerts demoted when evidence fell below the count threshold",
	})

	// LabelMerges counts cluster merges during label assignment.
	LabelMerges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "correlation_label_merges_total",
		Help: "Number of label groups merged into another during assignment",
	})

	// LabelSplits counts cluster splits during post-dismissal recompute.
	LabelSplits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "correlation_label_splits_total",
		Help: "Number of label groups split into several components after a dismissal",
	})
)
