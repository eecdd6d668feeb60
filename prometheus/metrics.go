package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counter metrics
var (
	// Tenant migration runs
	MigrationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskapp_tenant_migrations_total",
			Help: "Total number of tenant data migrations",
		},
		[]string{"direction", "outcome"}, // outcome is "success" or "failure"
	)

	// Documents moved between databases
	DocumentsMigratedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskapp_documents_migrated_total",
			Help: "Total number of documents copied during tenant migrations",
		},
		[]string{"collection", "direction"},
	)

	// Legacy records normalized by the backfill
	BackfillCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskapp_backfill_updates_total",
			Help: "Total number of legacy records normalized by the backfill",
		},
		[]string{"collection"},
	)

	// Indexes created by provisioning
	IndexesCreatedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskapp_indexes_created_total",
			Help: "Total number of indexes created",
		},
		[]string{"collection"},
	)

	// Resolver routing decisions
	RouteCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskapp_collection_routes_total",
			Help: "Total number of collection resolutions by placement",
		},
		[]string{"placement"}, // placement is "shared" or "dedicated"
	)

	// Tenant operation counter
	TenantOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskapp_tenant_operations_total",
			Help: "Total number of tenant operations",
		},
		[]string{"operation"}, // operation can be "create", "switch_mode", "delete", etc.
	)

	// Error counters
	ErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskapp_errors_total",
			Help: "Total number of errors by type",
		},
		[]string{"type"}, // type can be "integrity_check", "provisioning", "db_error" etc.
	)

	// HTTP request counter by endpoint and status
	HTTPRequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskapp_http_requests_total",
			Help: "Total number of HTTP requests by endpoint and status",
		},
		[]string{"endpoint", "method", "status"},
	)
)

// Histogram metrics
var (
	// Request duration
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskapp_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status"},
	)

	// Database operation duration
	DBOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskapp_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Tenant migration duration
	MigrationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskapp_tenant_migration_duration_seconds",
			Help:    "Duration of tenant data migrations in seconds",
			Buckets: []float64{.05, .1, .5, 1, 5, 15, 60, 300},
		},
		[]string{"direction"},
	)
)

// Gauge metrics
var (
	// System info
	InfoGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskapp_info",
			Help: "Information about the task service",
		},
		[]string{"version"},
	)

	// Apps needing backfill as of the last status probe
	PendingBackfillGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskapp_backfill_pending",
			Help: "Number of legacy records still needing normalization",
		},
		[]string{"collection"},
	)
)

func init() {
	// Register counters
	prometheus.MustRegister(MigrationCounter)
	prometheus.MustRegister(DocumentsMigratedCounter)
	prometheus.MustRegister(BackfillCounter)
	prometheus.MustRegister(IndexesCreatedCounter)
	prometheus.MustRegister(RouteCounter)
	prometheus.MustRegister(TenantOperationCounter)
	prometheus.MustRegister(ErrorCounter)
	prometheus.MustRegister(HTTPRequestCounter)

	// Register histograms
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(DBOperationDuration)
	prometheus.MustRegister(MigrationDuration)

	// Register gauges
	prometheus.MustRegister(InfoGauge)
	prometheus.MustRegister(PendingBackfillGauge)

	// Set initial service info
	InfoGauge.With(prometheus.Labels{"version": "1.0.0"}).Set(1)
}

// GetPrometheusHandler returns an HTTP handler for the Prometheus metrics
func GetPrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// TrackDBOperation measures database operation durations
func TrackDBOperation(operation string) func(time.Time) {
	startTime := time.Now()
	return func(endTime time.Time) {
		duration := time.Since(startTime).Seconds()
		DBOperationDuration.With(prometheus.Labels{
			"operation": operation,
		}).Observe(duration)
	}
}

// RecordMigration records the outcome and duration of a tenant migration
func RecordMigration(direction string, success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	MigrationCounter.With(prometheus.Labels{"direction": direction, "outcome": outcome}).Inc()
	MigrationDuration.With(prometheus.Labels{"direction": direction}).Observe(duration.Seconds())
}

// RecordDocumentsMigrated adds to the migrated document counter
func RecordDocumentsMigrated(collection, direction string, count int64) {
	DocumentsMigratedCounter.With(prometheus.Labels{
		"collection": collection,
		"direction":  direction,
	}).Add(float64(count))
}

// RecordBackfill adds to the backfill counter
func RecordBackfill(collection string, count int64) {
	BackfillCounter.With(prometheus.Labels{"collection": collection}).Add(float64(count))
}

// RecordIndexesCreated adds to the created index counter
func RecordIndexesCreated(collection string, count int) {
	IndexesCreatedCounter.With(prometheus.Labels{"collection": collection}).Add(float64(count))
}

// RecordRoute records a resolver placement decision
func RecordRoute(placement string) {
	RouteCounter.With(prometheus.Labels{"placement": placement}).Inc()
}

// RecordTenantOperation records a tenant operation
func RecordTenantOperation(operation string) {
	TenantOperationCounter.With(prometheus.Labels{"operation": operation}).Inc()
}

// RecordError records an error by type
func RecordError(errorType string) {
	ErrorCounter.With(prometheus.Labels{"type": errorType}).Inc()
}

// UpdatePendingBackfill sets the pending backfill gauge for a collection
func UpdatePendingBackfill(collection string, count int64) {
	PendingBackfillGauge.With(prometheus.Labels{"collection": collection}).Set(float64(count))
}

// MetricsMiddleware creates a middleware function that captures metrics for each request
func MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			// Execute the request handler
			err := next(c)

			// Record request duration
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(c.Response().Status)
			endpoint := c.Path()
			method := c.Request().Method

			// Record metrics
			RequestDuration.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   status,
			}).Observe(duration)

			HTTPRequestCounter.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   status,
			}).Inc()

			return err
		}
	}
}
