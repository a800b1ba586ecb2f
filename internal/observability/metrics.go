package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "skooty", Name: "bookings_created_total", Help: "Rides created by riders"})
	BookingsCancelled    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "skooty", Name: "bookings_cancelled_total", Help: "Rides cancelled by riders"})
	RidesCompletedTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "skooty", Name: "rides_completed_total", Help: "Rides that reached Completed"})

	RouteRequestsTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "skooty", Name: "route_requests_total", Help: "Route computations attempted"})
	RouteUnavailableTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "skooty", Name: "route_unavailable_total", Help: "Route computations that came back unavailable"})

	DriverLocationsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "skooty", Name: "driver_locations_total", Help: "Driver position reports ingested"})
	PresenceWritesTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "skooty", Name: "presence_writes_total", Help: "Presence documents written to Redis"})
	PresenceWriteErrors  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "skooty", Name: "presence_write_errors_total", Help: "Presence writes that failed after retries"})

	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "skooty", Name: "active_subscriptions", Help: "Live ride/driver document subscriptions"})
	ActiveSessions      = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "skooty", Name: "active_booking_sessions", Help: "Booking controllers currently running"})
	WSConnections       = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "skooty", Name: "ws_connections", Help: "Rider websocket connections currently attached"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "skooty", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "skooty",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
