package prometheus

import (
	"strconv"
	"time"

	"redscout/pkg/config"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Installation metrics
	WorkspaceInstallCounter *prometheus.CounterVec
	ActiveWorkspacesGauge   prometheus.Gauge

	// Command metrics
	CommandCounter          *prometheus.CounterVec
	CommandRejectionCounter *prometheus.CounterVec
	SearchDurationHistogram prometheus.Histogram

	// Notification metrics
	WebhookDeliveryCounter *prometheus.CounterVec
	WebhookTestCounter     *prometheus.CounterVec

	// Database operation metrics
	DBOperationHistogram *prometheus.HistogramVec

	// Request metrics
	RequestDurationHistogram *prometheus.HistogramVec
	APIRequestCounter        *prometheus.CounterVec
	APIErrorCounter          *prometheus.CounterVec

	// Namespace prefix for metrics
	namespace string
)

// InitMetrics initializes all Prometheus metrics
func InitMetrics(cfg *config.Config) {
	namespace = cfg.Metrics.Prefix

	// Installation metrics
	WorkspaceInstallCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workspace_installs_total",
			Help:      "Total number of workspace OAuth installations",
		},
		[]string{"outcome"},
	)

	ActiveWorkspacesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_workspaces",
		Help:      "Number of currently active workspaces",
	})

	// Command metrics
	CommandCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total number of slash commands processed",
		},
		[]string{"subcommand", "outcome"},
	)

	CommandRejectionCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_rejections_total",
			Help:      "Total number of commands rejected before dispatch",
		},
		[]string{"reason"},
	)

	SearchDurationHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "search_duration_seconds",
		Help:      "Duration of search provider calls in seconds",
		Buckets:   prometheus.DefBuckets,
	})

	// Notification metrics
	WebhookDeliveryCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Total number of webhook delivery attempts by terminal outcome",
		},
		[]string{"outcome"},
	)

	WebhookTestCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_tests_total",
			Help:      "Total number of webhook test messages",
		},
		[]string{"outcome"},
	)

	// Database operation metrics
	DBOperationHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_operation_duration_seconds",
			Help:      "Duration of database operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Request metrics
	RequestDurationHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	APIRequestCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Total number of API requests",
		},
		[]string{"method", "path"},
	)

	APIErrorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_errors_total",
			Help:      "Total number of API errors",
		},
		[]string{"method", "path", "status"},
	)
}

// MetricsMiddleware tracks request metrics
func MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			// Track API request count
			APIRequestCounter.With(prometheus.Labels{
				"method": c.Request().Method,
				"path":   c.Path(),
			}).Inc()

			// Process the request
			err := next(c)

			// Track request duration
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(c.Response().Status)
			RequestDurationHistogram.With(prometheus.Labels{
				"method": c.Request().Method,
				"path":   c.Path(),
				"status": status,
			}).Observe(duration)

			// Track errors
			if c.Response().Status >= 400 {
				APIErrorCounter.With(prometheus.Labels{
					"method": c.Request().Method,
					"path":   c.Path(),
					"status": status,
				}).Inc()
			}

			return err
		}
	}
}

// HandlerFunc returns a HTTP handler for metrics endpoint
func HandlerFunc() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}

// TrackDBOperation returns a function that tracks database operation duration
func TrackDBOperation(operation string) func(time.Time) {
	return func(startTime time.Time) {
		if DBOperationHistogram == nil {
			return
		}
		duration := time.Since(startTime).Seconds()
		DBOperationHistogram.With(prometheus.Labels{
			"operation": operation,
		}).Observe(duration)
	}
}

// RecordCommand increments the command counter
func RecordCommand(subcommand, outcome string) {
	if CommandCounter != nil {
		CommandCounter.With(prometheus.Labels{
			"subcommand": subcommand,
			"outcome":    outcome,
		}).Inc()
	}
}

// RecordRejection increments the command rejection counter
func RecordRejection(reason string) {
	if CommandRejectionCounter != nil {
		CommandRejectionCounter.With(prometheus.Labels{"reason": reason}).Inc()
	}
}

// RecordDelivery increments the webhook delivery counter
func RecordDelivery(outcome string) {
	if WebhookDeliveryCounter != nil {
		WebhookDeliveryCounter.With(prometheus.Labels{"outcome": outcome}).Inc()
	}
}

// RecordWebhookTest increments the webhook test counter
func RecordWebhookTest(outcome string) {
	if WebhookTestCounter != nil {
		WebhookTestCounter.With(prometheus.Labels{"outcome": outcome}).Inc()
	}
}

// RecordInstall increments the workspace installation counter
func RecordInstall(outcome string) {
	if WorkspaceInstallCounter != nil {
		WorkspaceInstallCounter.With(prometheus.Labels{"outcome": outcome}).Inc()
	}
}

// ObserveSearchDuration records the duration of one search provider call
func ObserveSearchDuration(d time.Duration) {
	if SearchDurationHistogram != nil {
		SearchDurationHistogram.Observe(d.Seconds())
	}
}
