package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatment_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatment_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Space metrics
	SpacesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatment_spaces_active",
			Help: "Space coordinators currently running",
		},
	)

	SessionsAttached = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatment_sessions_attached_total",
			Help: "Total transport sessions attached to a space",
		},
	)

	SessionsDetached = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatment_sessions_detached_total",
			Help: "Total transport sessions detached from a space",
		},
	)

	// Row metrics
	RowMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatment_row_mutations_total",
			Help: "Total accepted row mutations",
		},
		[]string{"type"}, // "add", "edit", "delete", "reorder"
	)

	Rebalances = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatment_rebalances_total",
			Help: "Total bulk position rebalances",
		},
	)

	// Lock metrics
	LocksGranted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatment_locks_granted_total",
			Help: "Total edit locks granted",
		},
	)

	LocksDenied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatment_locks_denied_total",
			Help: "Total edit lock acquires denied",
		},
	)

	LocksExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatment_locks_expired_total",
			Help: "Total edit locks released by lease expiry",
		},
	)

	LockConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatment_lock_conflicts_total",
			Help: "Total edits rejected for not holding the lock",
		},
	)

	// Vote metrics
	VotesCast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatment_votes_cast_total",
			Help: "Total reaction votes",
		},
		[]string{"polarity", "outcome"}, // outcome: "accepted" or "duplicate"
	)

	// Broadcast metrics
	EventsBroadcast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatment_events_broadcast_total",
			Help: "Total events fanned out to space participants",
		},
		[]string{"type"},
	)
)
