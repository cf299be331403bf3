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
	LoginCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "predict_login_total",
			Help: "Total number of login attempts",
		},
	)

	RegisterCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "predict_register_total",
			Help: "Total number of caller registrations",
		},
	)

	// HTTP request counter by endpoint and status
	HTTPRequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predict_http_requests_total",
			Help: "Total number of HTTP requests by endpoint and status",
		},
		[]string{"endpoint", "method", "status"},
	)

	// Authentication failures by internal reason code
	AuthErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predict_auth_errors_total",
			Help: "Total number of authentication errors",
		},
		[]string{"type"}, // missing_token, invalid_token, caller_inactive, ...
	)

	// Cross-tenant denials per company
	ForbiddenCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predict_forbidden_total",
			Help: "Total number of tenant isolation denials",
		},
		[]string{"company_id"},
	)

	// Training outcomes per candidate algorithm
	TrainingCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predict_training_runs_total",
			Help: "Total number of candidate training runs by outcome",
		},
		[]string{"family", "algorithm", "status"}, // status: ok, error
	)

	PredictionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predict_predictions_total",
			Help: "Total number of served predictions",
		},
		[]string{"family"},
	)
)

// Histogram metrics
var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "predict_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status"},
	)

	DBOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "predict_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"}, // query, insert, update, delete
	)

	TrainingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "predict_training_duration_seconds",
			Help:    "Wall time of a full training request per family",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"family"},
	)
)

// Gauge metrics
var (
	InfoGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "predict_info",
			Help: "Information about the prediction service",
		},
		[]string{"version"},
	)

	ActiveModelsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "predict_active_models",
			Help: "Number of accounts with an active model per family",
		},
		[]string{"family"},
	)
)

func init() {
	prometheus.MustRegister(LoginCounter)
	prometheus.MustRegister(RegisterCounter)
	prometheus.MustRegister(HTTPRequestCounter)
	prometheus.MustRegister(AuthErrorCounter)
	prometheus.MustRegister(ForbiddenCounter)
	prometheus.MustRegister(TrainingCounter)
	prometheus.MustRegister(PredictionCounter)

	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(DBOperationDuration)
	prometheus.MustRegister(TrainingDuration)

	prometheus.MustRegister(InfoGauge)
	prometheus.MustRegister(ActiveModelsGauge)

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

// ObserveTraining records the wall time of one training request
func ObserveTraining(family string, start time.Time) {
	TrainingDuration.With(prometheus.Labels{"family": family}).Observe(time.Since(start).Seconds())
}

// RecordAuthError records an authentication error by reason code
func RecordAuthError(errorType string) {
	AuthErrorCounter.With(prometheus.Labels{"type": errorType}).Inc()
}

// RecordForbidden records a tenant isolation denial
func RecordForbidden(companyID uint) {
	ForbiddenCounter.With(prometheus.Labels{
		"company_id": strconv.FormatUint(uint64(companyID), 10),
	}).Inc()
}

// RecordTrainingRun records the outcome of one candidate fit
func RecordTrainingRun(family, algorithm, status string) {
	TrainingCounter.With(prometheus.Labels{
		"family":    family,
		"algorithm": algorithm,
		"status":    status,
	}).Inc()
}

// RecordPrediction records one served prediction
func RecordPrediction(family string) {
	PredictionCounter.With(prometheus.Labels{"family": family}).Inc()
}

// MetricsMiddleware creates a middleware function that captures metrics for each request
func MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(c.Response().Status)
			endpoint := c.Path()
			method := c.Request().Method

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
