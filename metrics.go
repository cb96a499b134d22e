/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package schemakit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus labels.
const (
	MetricsLabelQuery  = "query"
	MetricsLabelAction = "action"
	MetricsLabelStatus = "status"
	MetricsLabelTable  = "table"
)

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string
	// QueryDurationBuckets is a list of buckets for query duration histogram.
	QueryDurationBuckets []float64
	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// DefaultQueryDurationBuckets is default buckets for query and migration duration histograms.
var DefaultQueryDurationBuckets = []float64{0.001, 0.01, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// PrometheusMetrics represents collector of metrics for schema migrations and document import/export.
type PrometheusMetrics struct {
	QueryDurations     *prometheus.HistogramVec
	MigrationDurations *prometheus.HistogramVec
	ImportedRecords    *prometheus.CounterVec
}

// NewPrometheusMetrics creates a new metrics collector.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts is a more configurable version of creating PrometheusMetrics.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	buckets := opts.QueryDurationBuckets
	if buckets == nil {
		buckets = DefaultQueryDurationBuckets
	}
	return &PrometheusMetrics{
		QueryDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Name:        "db_query_duration_seconds",
			Help:        "A histogram of the SQL query durations.",
			Buckets:     buckets,
			ConstLabels: opts.ConstLabels,
		}, []string{MetricsLabelQuery}),
		MigrationDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Name:        "db_schema_migration_duration_seconds",
			Help:        "A histogram of the schema migration durations.",
			Buckets:     buckets,
			ConstLabels: opts.ConstLabels,
		}, []string{MetricsLabelAction, MetricsLabelStatus}),
		ImportedRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "db_document_imported_records_total",
			Help:        "A counter of the records inserted by document imports.",
			ConstLabels: opts.ConstLabels,
		}, []string{MetricsLabelTable}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm.QueryDurations, pm.MigrationDurations, pm.ImportedRecords)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.QueryDurations)
	prometheus.Unregister(pm.MigrationDurations)
	prometheus.Unregister(pm.ImportedRecords)
}

// ObserveQueryDuration observes the duration of an annotated SQL query.
func (pm *PrometheusMetrics) ObserveQueryDuration(query string, duration time.Duration) {
	pm.QueryDurations.With(prometheus.Labels{MetricsLabelQuery: query}).Observe(duration.Seconds())
}

// ObserveMigration observes the duration of a schema migration run.
func (pm *PrometheusMetrics) ObserveMigration(action, status string, duration time.Duration) {
	pm.MigrationDurations.With(prometheus.Labels{
		MetricsLabelAction: action,
		MetricsLabelStatus: status,
	}).Observe(duration.Seconds())
}

// AddImportedRecords increments the counter of records inserted into the table.
func (pm *PrometheusMetrics) AddImportedRecords(table string, n int) {
	pm.ImportedRecords.With(prometheus.Labels{MetricsLabelTable: table}).Add(float64(n))
}
