// Package metrics exposes Prometheus counters for bookings, lifecycle
// transitions, reminders and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what services and workers report to.
type Recorder interface {
	AppointmentCreated()
	BookingConflict()
	StatusTransition(to string)
	ReminderSent(lead time.Duration)
	ReminderFailed(lead time.Duration)
	ReminderSkipped(lead time.Duration)
	NotificationDelivered(channel string, ok bool)
	NotificationsPurged(n int64)
	HTTPRequest(method, route string, status int, d time.Duration)
}

type Collector struct {
	appointmentsCreated prometheus.Counter
	bookingConflicts    prometheus.Counter
	transitions         *prometheus.CounterVec
	reminders           *prometheus.CounterVec
	deliveries          *prometheus.CounterVec
	purged              prometheus.Counter
	httpRequests        *prometheus.CounterVec
	httpLatency         *prometheus.HistogramVec
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		appointmentsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medbook_appointments_created_total",
			Help: "Appointments successfully booked.",
		}),
		bookingConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medbook_booking_conflicts_total",
			Help: "Booking attempts rejected because the interval was taken.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medbook_appointment_transitions_total",
			Help: "Appointment status transitions by target status.",
		}, []string{"status"}),
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medbook_reminders_total",
			Help: "Reminder outcomes by lead time.",
		}, []string{"lead", "outcome"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medbook_notification_deliveries_total",
			Help: "Notification channel deliveries.",
		}, []string{"channel", "outcome"}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medbook_notifications_purged_total",
			Help: "Notifications removed by the retention job.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medbook_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medbook_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		c.appointmentsCreated,
		c.bookingConflicts,
		c.transitions,
		c.reminders,
		c.deliveries,
		c.purged,
		c.httpRequests,
		c.httpLatency,
	)
	return c
}

func (c *Collector) AppointmentCreated() { c.appointmentsCreated.Inc() }

func (c *Collector) BookingConflict() { c.bookingConflicts.Inc() }

func (c *Collector) StatusTransition(to string) { c.transitions.WithLabelValues(to).Inc() }

func (c *Collector) ReminderSent(lead time.Duration) {
	c.reminders.WithLabelValues(lead.String(), "sent").Inc()
}

func (c *Collector) ReminderFailed(lead time.Duration) {
	c.reminders.WithLabelValues(lead.String(), "failed").Inc()
}

func (c *Collector) ReminderSkipped(lead time.Duration) {
	c.reminders.WithLabelValues(lead.String(), "skipped").Inc()
}

func (c *Collector) NotificationDelivered(channel string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	c.deliveries.WithLabelValues(channel, outcome).Inc()
}

func (c *Collector) NotificationsPurged(n int64) { c.purged.Add(float64(n)) }

func (c *Collector) HTTPRequest(method, route string, status int, d time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Nop discards everything. Used by tests and one-shot CLI commands.
type Nop struct{}

func (Nop) AppointmentCreated() {}
func (Nop) BookingConflict() {}
func (Nop) StatusTransition(string) {}
func (Nop) ReminderSent(time.Duration) {}
func (Nop) ReminderFailed(time.Duration) {}
func (Nop) ReminderSkipped(time.Duration) {}
func (Nop) NotificationDelivered(string, bool) {}
func (Nop) NotificationsPurged(int64) {}
func (Nop) HTTPRequest(string, string, int, time.Duration) {}
