package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/atrium/internal/authorization"
	"gorm.io/gorm"
)

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonDBLockTimeout        = "db_lock_timeout"
	JobReasonSerializationFailure = "serialization_failure"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonForbidden            = "forbidden"
	JobReasonUnknown              = "unknown"
)

const (
	InvitationStatusPending   = "pending"
	InvitationStatusAccepted  = "accepted"
	InvitationStatusCancelled = "cancelled"
	InvitationStatusExpired   = "expired"
)

const (
	QueueAudit        = "audit"
	QueueNotification = "notification"
)

const (
	BulkOutcomeSucceeded = "succeeded"
	BulkOutcomeFailed    = "failed"
)

// LifecycleMetrics captures background lifecycle health signals: the expiry
// sweeper, the async queues and bulk batch throughput.
type LifecycleMetrics struct {
	jobRuns               *prometheus.CounterVec
	jobDuration           *prometheus.HistogramVec
	jobTimeouts           *prometheus.CounterVec
	jobErrors             *prometheus.CounterVec
	runLoopLag            prometheus.Observer
	invitationTransitions *prometheus.CounterVec
	bulkItems             *prometheus.CounterVec
	queueDropped          *prometheus.CounterVec
	transitionCounts      map[string]map[string]prometheus.Counter
}

var (
	lifecycleMetricsOnce sync.Once
	lifecycleMetrics     *LifecycleMetrics
)

// Lifecycle returns the singleton lifecycle metrics registry.
func Lifecycle() *LifecycleMetrics {
	return LifecycleWithConfig(Config{})
}

// LifecycleWithConfig returns the singleton lifecycle metrics registry using config labels.
func LifecycleWithConfig(cfg Config) *LifecycleMetrics {
	lifecycleMetricsOnce.Do(func() {
		lifecycleMetrics = newLifecycleMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return lifecycleMetrics
}

// ResetLifecycleMetricsForTest resets the lifecycle metrics singleton for tests.
func ResetLifecycleMetricsForTest() {
	lifecycleMetricsOnce = sync.Once{}
	lifecycleMetrics = nil
}

func newLifecycleMetrics(registerer prometheus.Registerer, cfg Config) *LifecycleMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "atrium"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "atrium_job_runs_total",
		Help:        "Background job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "atrium_job_duration_seconds",
		Help:        "Background job latency.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "atrium_job_timeouts_total",
		Help:        "Background jobs that exceeded their run deadline.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "atrium_job_errors_total",
		Help:        "Background job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "atrium_job_runloop_lag_seconds",
		Help:        "Run loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	})
	invitationTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "atrium_invitation_transitions_total",
		Help:        "Invitation status transitions to validate lifecycle integrity.",
		ConstLabels: constLabels,
	}, []string{"from", "to"})
	bulkItems := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "atrium_bulk_items_total",
		Help:        "Bulk operation items by operation and outcome.",
		ConstLabels: constLabels,
	}, []string{"operation", "outcome"})
	queueDropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "atrium_queue_dropped_total",
		Help:        "Async queue entries dropped because the buffer was full.",
		ConstLabels: constLabels,
	}, []string{"queue"})

	registerer.MustRegister(
		jobRuns,
		jobDuration,
		jobTimeouts,
		jobErrors,
		runLoopLag,
		invitationTransitions,
		bulkItems,
		queueDropped,
	)

	transitionCounts := map[string]map[string]prometheus.Counter{
		InvitationStatusPending: {
			InvitationStatusAccepted: invitationTransitions.WithLabelValues(
				InvitationStatusPending, InvitationStatusAccepted,
			),
			InvitationStatusCancelled: invitationTransitions.WithLabelValues(
				InvitationStatusPending, InvitationStatusCancelled,
			),
			InvitationStatusExpired: invitationTransitions.WithLabelValues(
				InvitationStatusPending, InvitationStatusExpired,
			),
		},
	}

	return &LifecycleMetrics{
		jobRuns:               jobRuns,
		jobDuration:           jobDuration,
		jobTimeouts:           jobTimeouts,
		jobErrors:             jobErrors,
		runLoopLag:            runLoopLag,
		invitationTransitions: invitationTransitions,
		bulkItems:             bulkItems,
		queueDropped:          queueDropped,
		transitionCounts:      transitionCounts,
	}
}

// IncJobRun increments the run counter for a background job.
func (m *LifecycleMetrics) IncJobRun(job string) {
	if m == nil || m.jobRuns == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records background job latency in seconds.
func (m *LifecycleMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil || m.jobDuration == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// IncJobTimeout increments the timeout counter for the background job.
func (m *LifecycleMetrics) IncJobTimeout(job string) {
	if m == nil || m.jobTimeouts == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the background job error counter with classification.
func (m *LifecycleMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil || m.jobErrors == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *LifecycleMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil || m.runLoopLag == nil {
		return
	}
	lag := duration
	if lag < 0 {
		lag = 0
	}
	m.runLoopLag.Observe(lag.Seconds())
}

// IncInvitationTransition increments invitation status transition counters.
func (m *LifecycleMetrics) IncInvitationTransition(from, to string) {
	if m == nil || m.invitationTransitions == nil {
		return
	}
	if toCounters, ok := m.transitionCounts[from]; ok {
		if counter, ok := toCounters[to]; ok {
			counter.Inc()
			return
		}
	}
	m.invitationTransitions.WithLabelValues(from, to).Inc()
}

// AddInvitationTransitions increments a transition counter by count.
func (m *LifecycleMetrics) AddInvitationTransitions(from, to string, count int) {
	if m == nil || m.invitationTransitions == nil || count <= 0 {
		return
	}
	m.invitationTransitions.WithLabelValues(from, to).Add(float64(count))
}

// AddBulkItems increments the bulk item counter for an operation and outcome.
func (m *LifecycleMetrics) AddBulkItems(operation, outcome string, count int) {
	if m == nil || m.bulkItems == nil || count <= 0 {
		return
	}
	m.bulkItems.WithLabelValues(operation, outcome).Add(float64(count))
}

// IncQueueDropped increments the dropped entry counter for an async queue.
func (m *LifecycleMetrics) IncQueueDropped(queue string) {
	if m == nil || m.queueDropped == nil {
		return
	}
	m.queueDropped.WithLabelValues(queue).Inc()
}

// ClassifyJobReason maps background job errors to low-cardinality reasons.
func ClassifyJobReason(err error) string {
	if err == nil {
		return JobReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return JobReasonDeadlineExceeded
	}
	if isAuthorizationError(err) {
		return JobReasonForbidden
	}
	if isDBLockTimeout(err) {
		return JobReasonDBLockTimeout
	}
	if isSerializationFailure(err) {
		return JobReasonSerializationFailure
	}
	if isUniqueViolation(err) {
		return JobReasonUniqueViolation
	}
	return JobReasonUnknown
}

func isDBLockTimeout(err error) bool {
	return hasPGCode(err, "55P03")
}

func isSerializationFailure(err error) bool {
	return hasPGCode(err, "40001")
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return hasPGCode(err, "23505")
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isAuthorizationError(err error) bool {
	return errors.Is(err, authorization.ErrForbidden) ||
		errors.Is(err, authorization.ErrInvalidActor) ||
		errors.Is(err, authorization.ErrInvalidOrganization) ||
		errors.Is(err, authorization.ErrInvalidObject) ||
		errors.Is(err, authorization.ErrInvalidAction)
}
