package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "eyeclinic"

var (
	once sync.Once

	appointmentCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointments_created_total",
			Help:      "Count of appointments created by source.",
		},
		[]string{"source"},
	)

	appointmentMoved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointments_moved_total",
			Help:      "Count of appointments moved or edited in time.",
		},
	)

	appointmentCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointments_cancelled_total",
			Help:      "Count of appointments cancelled.",
		},
	)

	bookingRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_rejected_total",
			Help:      "Count of rejected booking writes by reason.",
		},
		[]string{"reason"},
	)

	concurrentRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "concurrent_retries_total",
			Help:      "Count of writes retried after a concurrent modification.",
		},
	)

	slotGeneration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "slot_generation_seconds",
			Help:      "Time spent listing available slots.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Count of notifications by kind and outcome.",
		},
		[]string{"kind", "status"},
	)

	configVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clinic_config_version",
			Help:      "Current version of the clinic rules.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of API requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			appointmentCreated, appointmentMoved, appointmentCancelled, bookingRejected,
			concurrentRetries, slotGeneration, notifications, configVersion, httpRequests,
		)
	})
}

func IncAppointmentCreated(source string) {
	appointmentCreated.WithLabelValues(source).Inc()
}

func IncAppointmentMoved() {
	appointmentMoved.Inc()
}

func IncAppointmentCancelled() {
	appointmentCancelled.Inc()
}

func IncBookingRejected(reason string) {
	bookingRejected.WithLabelValues(reason).Inc()
}

func IncConcurrentRetry() {
	concurrentRetries.Inc()
}

func ObserveSlotGeneration(seconds float64) {
	slotGeneration.Observe(seconds)
}

func IncNotification(kind, status string) {
	notifications.WithLabelValues(kind, status).Inc()
}

func SetConfigVersion(v int64) {
	configVersion.Set(float64(v))
}

func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
