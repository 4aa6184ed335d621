package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	CronRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "manageros_cron_requests_total",
		Help: "Cron endpoint requests by HTTP status code",
	}, []string{"code"})
	PairExecutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "manageros_cron_pair_executions_total",
		Help: "Job runs for one organization by terminal status",
	}, []string{"job", "status"})
	PairsLocked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "manageros_cron_pairs_locked_total",
		Help: "Job runs refused because another run held the pair lease",
	}, []string{"job"})
	NotificationsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "manageros_notifications_created_total",
		Help: "Notifications created by successful job runs",
	}, []string{"job"})
	PairDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "manageros_cron_pair_duration_seconds",
		Help:    "Wall time of one job run for one organization",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "manageros_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	EnqueueCounter   = prometheus.NewCounter(prometheus.CounterOpts{Name: "manageros_pairs_enqueued_total", Help: "Pairs enqueued by the scheduler"})
	WorkerRetries    = prometheus.NewCounter(prometheus.CounterOpts{Name: "manageros_worker_retries_total", Help: "Failed pairs scheduled for retry"})
	WorkerDeadLetter = prometheus.NewCounter(prometheus.CounterOpts{Name: "manageros_worker_dead_letter_total", Help: "Pairs moved to DLQ"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "manageros_queue_depth", Help: "Ready queue depth"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "manageros_queue_inflight", Help: "Pairs currently leased by workers"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			CronRequests,
			PairExecutions,
			PairsLocked,
			NotificationsCreated,
			PairDuration,
			RateLimitRejects,
			EnqueueCounter,
			WorkerRetries,
			WorkerDeadLetter,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
