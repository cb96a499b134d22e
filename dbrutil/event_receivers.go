/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package dbrutil

import (
	"regexp"
	"strings"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/gocraft/dbr/v2"
)

// QueryMetricsCollector observes durations of annotated queries.
type QueryMetricsCollector interface {
	ObserveQueryDuration(query string, duration time.Duration)
}

// ParseAnnotationInQuery returns the first /* ... */ comment in the query that starts with the prefix.
// An empty string is returned if there is no such comment.
func ParseAnnotationInQuery(query, prefix string) string {
	for _, m := range annotationRegexp.FindAllStringSubmatch(query, -1) {
		if a := strings.TrimSpace(m[1]); strings.HasPrefix(a, prefix) {
			return a
		}
	}
	return ""
}

var annotationRegexp = regexp.MustCompile(`/\*(.*?)\*/`)

// Annotate prefixes the SQL query with the annotation comment.
func Annotate(query, annotation string) string {
	return "/* " + annotation + " */ " + query
}

// CompositeReceiver dispatches events to all wrapped receivers.
type CompositeReceiver struct {
	Receivers []dbr.EventReceiver
}

// NewCompositeReceiver creates a new CompositeReceiver.
func NewCompositeReceiver(receivers []dbr.EventReceiver) *CompositeReceiver {
	return &CompositeReceiver{Receivers: receivers}
}

// Event receives a simple notification when various events occur.
func (r *CompositeReceiver) Event(eventName string) {
	for _, recv := range r.Receivers {
		recv.Event(eventName)
	}
}

// EventKv receives a notification when various events occur along with optional key/value data.
func (r *CompositeReceiver) EventKv(eventName string, kvs map[string]string) {
	for _, recv := range r.Receivers {
		recv.EventKv(eventName, kvs)
	}
}

// EventErr receives a notification of an error if one occurs.
func (r *CompositeReceiver) EventErr(eventName string, err error) error {
	for _, recv := range r.Receivers {
		_ = recv.EventErr(eventName, err)
	}
	return err
}

// EventErrKv receives a notification of an error if one occurs along with optional key/value data.
func (r *CompositeReceiver) EventErrKv(eventName string, err error, kvs map[string]string) error {
	for _, recv := range r.Receivers {
		_ = recv.EventErrKv(eventName, err, kvs)
	}
	return err
}

// Timing receives the time an event took to happen.
func (r *CompositeReceiver) Timing(eventName string, nanoseconds int64) {
	for _, recv := range r.Receivers {
		recv.Timing(eventName, nanoseconds)
	}
}

// TimingKv receives the time an event took to happen along with optional key/value data.
func (r *CompositeReceiver) TimingKv(eventName string, nanoseconds int64, kvs map[string]string) {
	for _, recv := range r.Receivers {
		recv.TimingKv(eventName, nanoseconds, kvs)
	}
}

// QueryMetricsEventReceiver collects durations of the queries annotated with the prefix.
type QueryMetricsEventReceiver struct {
	*dbr.NullEventReceiver
	metricsCollector QueryMetricsCollector
	annotationPrefix string
}

// NewQueryMetricsEventReceiver creates a new QueryMetricsEventReceiver.
func NewQueryMetricsEventReceiver(mc QueryMetricsCollector, annotationPrefix string) *QueryMetricsEventReceiver {
	return &QueryMetricsEventReceiver{
		NullEventReceiver: &dbr.NullEventReceiver{},
		metricsCollector:  mc,
		annotationPrefix:  annotationPrefix,
	}
}

// TimingKv observes the query duration if the query is annotated.
func (r *QueryMetricsEventReceiver) TimingKv(eventName string, nanoseconds int64, kvs map[string]string) {
	annotation := ParseAnnotationInQuery(kvs["sql"], r.annotationPrefix)
	if annotation == "" {
		return
	}
	r.metricsCollector.ObserveQueryDuration(annotation, time.Duration(nanoseconds))
}

// SlowQueryLogEventReceiver logs annotated queries that took longer than the threshold.
type SlowQueryLogEventReceiver struct {
	*dbr.NullEventReceiver
	logger           log.FieldLogger
	annotationPrefix string
	minTime          time.Duration
}

// NewSlowQueryLogEventReceiver creates a new SlowQueryLogEventReceiver.
func NewSlowQueryLogEventReceiver(logger log.FieldLogger, minTime time.Duration, annotationPrefix string) *SlowQueryLogEventReceiver {
	return &SlowQueryLogEventReceiver{
		NullEventReceiver: &dbr.NullEventReceiver{},
		logger:            logger,
		annotationPrefix:  annotationPrefix,
		minTime:           minTime,
	}
}

// TimingKv logs the query if it is annotated and slow enough.
func (r *SlowQueryLogEventReceiver) TimingKv(eventName string, nanoseconds int64, kvs map[string]string) {
	annotation := ParseAnnotationInQuery(kvs["sql"], r.annotationPrefix)
	if annotation == "" {
		return
	}
	duration := time.Duration(nanoseconds)
	if duration < r.minTime {
		return
	}
	r.logger.Warn("slow SQL query",
		log.String("annotation", annotation),
		log.Int64("duration_ms", duration.Milliseconds()),
	)
}

// ErrorLogEventReceiver logs failed queries.
type ErrorLogEventReceiver struct {
	*dbr.NullEventReceiver
	logger log.FieldLogger
}

// NewErrorLogEventReceiver creates a new ErrorLogEventReceiver.
func NewErrorLogEventReceiver(logger log.FieldLogger) *ErrorLogEventReceiver {
	return &ErrorLogEventReceiver{NullEventReceiver: &dbr.NullEventReceiver{}, logger: logger}
}

// EventErrKv logs the error along with the failed query.
func (r *ErrorLogEventReceiver) EventErrKv(eventName string, err error, kvs map[string]string) error {
	r.logger.Debug("SQL query failed",
		log.String("event", eventName),
		log.String("sql", kvs["sql"]),
		log.Error(err),
	)
	return err
}
