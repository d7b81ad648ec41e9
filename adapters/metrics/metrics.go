// Package metrics provides Prometheus metrics collection for BillGate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for BillGate.
type Collector struct {
	// Payment metrics
	PaymentsCreated   *prometheus.CounterVec
	PaymentsCompleted *prometheus.CounterVec
	PaymentsFailed    *prometheus.CounterVec
	PaymentsExpired   prometheus.Counter

	// Webhook metrics
	WebhookEvents   *prometheus.CounterVec
	WebhookDuration *prometheus.HistogramVec

	// Quota metrics
	QuotaConsumed     *prometheus.CounterVec
	QuotaInsufficient *prometheus.CounterVec

	// Renewal metrics
	RenewalAttempts  *prometheus.CounterVec
	RenewalEscalated *prometheus.CounterVec

	// Sweep metrics
	SweepRuns         *prometheus.CounterVec
	SweepLastDuration prometheus.Gauge

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter

	// HTTP metrics
	HTTPInFlight prometheus.Gauge
}

// New creates a new metrics collector registered on the default registry.
func New() *Collector {
	return build(promauto.With(prometheus.DefaultRegisterer))
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	return build(promauto.With(reg))
}

func build(factory promauto.Factory) *Collector {
	return &Collector{
		PaymentsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "billgate",
				Name:      "payments_created_total",
				Help:      "Total number of payments created",
			},
			[]string{"gateway", "renewal"},
		),
		PaymentsCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "billgate",
				Name:      "payments_completed_total",
				Help:      "Total number of payments confirmed by a gateway",
			},
			[]string{"gateway"},
		),
		PaymentsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "billgate",
				Name:      "payments_failed_total",
				Help:      "Total number of payments reported failed by a gateway",
			},
			[]string{"gateway"},
		),
		PaymentsExpired: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "billgate",
				Name:      "payments_expired_total",
				Help:      "Total number of pending payments expired by the sweeper",
			},
		),

		WebhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "billgate",
				Name:      "webhook_events_total",
				Help:      "Total number of inbound gateway events by outcome",
			},
			[]string{"gateway", "outcome"},
		),
		WebhookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "billgate",
				Name:      "webhook_duration_seconds",
				Help:      "Webhook processing duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"gateway"},
		),

		QuotaConsumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "billgate",
				Name:      "quota_consumed_total",
				Help:      "Total quota units consumed",
			},
			[]string{"quota"},
		),
		QuotaInsufficient: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "billgate",
				Name:      "quota_insufficient_total",
				Help:      "Total quota consume attempts rejected for insufficient balance",
			},
			[]string{"quota"},
		),

		RenewalAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "billgate",
				Name:      "renewal_attempts_total",
				Help:      "Total renewal charge attempts by result",
			},
			[]string{"result"},
		),
		RenewalEscalated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "billgate",
				Name:      "renewal_escalated_total",
				Help:      "Total renewal failure escalations by action",
			},
			[]string{"action"},
		),

		SweepRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "billgate",
				Name:      "sweep_runs_total",
				Help:      "Total sweeper runs by result",
			},
			[]string{"result"},
		),
		SweepLastDuration: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "billgate",
				Name:      "sweep_last_duration_seconds",
				Help:      "Duration of the last sweeper run in seconds",
			},
		),

		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "billgate",
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "billgate",
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),

		HTTPInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "billgate",
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being served",
			},
		),
	}
}
