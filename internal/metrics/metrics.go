package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	RunCount             prometheus.Counter
	TenantsProcessed     prometheus.Counter
	TenantsFailed        prometheus.Counter
	TenantsSkipped       prometheus.Counter
	MessagesIngested     prometheus.Counter
	MessagesDuplicate    prometheus.Counter
	SpamDetected         prometheus.Counter
	NotificationsSent    prometheus.Counter
	NotificationsFailed  prometheus.Counter
	NotificationsRetried prometheus.Counter
	RunDuration          prometheus.Histogram
}

// NewMetrics creates and registers all metrics on the given registerer
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunCount: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailwatch_run_count",
			Help: "Total number of scheduler passes",
		}),
		TenantsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailwatch_tenants_processed",
			Help: "Total number of successful per-tenant ingestion runs",
		}),
		TenantsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailwatch_tenants_failed",
			Help: "Total number of failed per-tenant ingestion runs",
		}),
		TenantsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailwatch_tenants_skipped",
			Help: "Total number of skipped per-tenant ingestion runs (disabled or locked)",
		}),
		MessagesIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailwatch_messages_ingested",
			Help: "Total number of newly persisted messages",
		}),
		MessagesDuplicate: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailwatch_messages_duplicate",
			Help: "Total number of rediscovered messages skipped as duplicates",
		}),
		SpamDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailwatch_spam_detected",
			Help: "Total number of messages classified as spam",
		}),
		NotificationsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailwatch_notifications_sent",
			Help: "Total number of notifications delivered",
		}),
		NotificationsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailwatch_notifications_failed",
			Help: "Total number of notifications terminally failed",
		}),
		NotificationsRetried: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailwatch_notifications_retried",
			Help: "Total number of notification retries scheduled",
		}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailwatch_run_duration_seconds",
			Help:    "Duration of scheduler passes",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
