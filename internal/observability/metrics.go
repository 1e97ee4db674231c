package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venue_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "venue_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	DBTxRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "venue_db_tx_retries_total",
			Help: "Serializable transactions retried after a 40001",
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "venue_outbox_lag_seconds",
			Help: "Lag of outbox publishing",
		},
	)

	RabbitPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "venue_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "venue_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)

	GatewayCallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venue_gateway_callbacks_total",
			Help: "Gateway webhook callbacks by action and protocol code",
		},
		[]string{"action", "code"},
	)

	BookingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venue_booking_transitions_total",
			Help: "Booking status transitions",
		},
		[]string{"from", "to"},
	)

	SelectConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "venue_select_conflicts_total",
			Help: "Select attempts refused because a competing booking holds the slot",
		},
	)

	StaleTransactionsCanceled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "venue_stale_transactions_canceled_total",
			Help: "Pending ledger transactions canceled by the sweeper",
		},
	)
)
