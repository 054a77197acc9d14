package metrics

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry           *prometheus.Registry
	registryOnce       sync.Once
	defaultMetricsPath = "/metrics"
	metricsEnabled     = true

	// Ingest metrics
	ChunksReceived   *prometheus.CounterVec
	UploadsAssembled prometheus.Counter
	UploadsExpired   prometheus.Counter
	ParseFailures    prometheus.Counter
	CallsIngested    prometheus.Counter

	// Lifecycle metrics
	StatusTransitions *prometheus.CounterVec
	DuplicateTriggers prometheus.Counter
	CallsInFlight     prometheus.Gauge

	// STT metrics
	STTRequestsTotal *prometheus.CounterVec
	STTLatency       *prometheus.HistogramVec
	AudioCompressed  *prometheus.CounterVec

	// Analysis metrics
	AnalysisRequestsTotal *prometheus.CounterVec
	AnalysisLatency       *prometheus.HistogramVec
	JobsSwept             *prometheus.CounterVec

	// Repair metrics
	RepairRuns    prometheus.Counter
	RepairUpdates *prometheus.CounterVec

	// AMQP metrics
	AMQPPublishedMessages *prometheus.CounterVec
	AMQPConnectionStatus  prometheus.Gauge
)

// Init initializes all metrics and registers them with Prometheus
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		ChunksReceived = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callqa_chunks_received_total",
				Help: "Total number of upload chunks received",
			},
			[]string{"terminal"},
		)

		UploadsAssembled = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "callqa_uploads_assembled_total",
				Help: "Total number of uploads fully reassembled",
			},
		)

		UploadsExpired = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "callqa_uploads_expired_total",
				Help: "Total number of incomplete upload sessions reclaimed by the sweeper",
			},
		)

		ParseFailures = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "callqa_filename_parse_failures_total",
				Help: "Total number of uploads rejected by the filename parser",
			},
		)

		CallsIngested = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "callqa_calls_ingested_total",
				Help: "Total number of call records created",
			},
		)

		StatusTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callqa_status_transitions_total",
				Help: "Total number of call status transitions",
			},
			[]string{"from", "to"},
		)

		DuplicateTriggers = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "callqa_duplicate_triggers_total",
				Help: "Total number of processing triggers refused because the call was already claimed",
			},
		)

		CallsInFlight = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "callqa_calls_in_flight",
				Help: "Number of calls currently transcribing or analyzing",
			},
		)

		STTRequestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callqa_stt_requests_total",
				Help: "Total number of STT requests by vendor and status",
			},
			[]string{"vendor", "status"},
		)

		STTLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callqa_stt_latency_seconds",
				Help:    "Latency of STT requests",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
			},
			[]string{"vendor"},
		)

		AudioCompressed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callqa_audio_compressed_total",
				Help: "Total number of audio files pushed through the compression gate",
			},
			[]string{"result"},
		)

		AnalysisRequestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callqa_analysis_requests_total",
				Help: "Total number of rubric analysis requests by vendor and status",
			},
			[]string{"vendor", "status"},
		)

		AnalysisLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callqa_analysis_latency_seconds",
				Help:    "Latency of rubric analysis requests",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
			},
			[]string{"vendor"},
		)

		JobsSwept = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callqa_analysis_jobs_swept_total",
				Help: "Total number of outbox jobs handled by the reconciliation sweep",
			},
			[]string{"outcome"},
		)

		RepairRuns = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "callqa_repair_runs_total",
				Help: "Total number of consistency repair passes",
			},
		)

		RepairUpdates = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callqa_repair_updates_total",
				Help: "Total number of records changed by consistency repair",
			},
			[]string{"rule"},
		)

		AMQPPublishedMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callqa_amqp_published_messages_total",
				Help: "Total number of AMQP messages published by queue and status",
			},
			[]string{"queue", "status"},
		)

		AMQPConnectionStatus = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "callqa_amqp_connection_status",
				Help: "Current AMQP connection status (1 connected, 0 disconnected)",
			},
		)

		registry.MustRegister(
			ChunksReceived,
			UploadsAssembled,
			UploadsExpired,
			ParseFailures,
			CallsIngested,
			StatusTransitions,
			DuplicateTriggers,
			CallsInFlight,
			STTRequestsTotal,
			STTLatency,
			AudioCompressed,
			AnalysisRequestsTotal,
			AnalysisLatency,
			JobsSwept,
			RepairRuns,
			RepairUpdates,
			AMQPPublishedMessages,
			AMQPConnectionStatus,
		)

		logger.Debug("Metrics registry initialized")
	})
}

// GetRegistry returns the Prometheus registry
func GetRegistry() *prometheus.Registry {
	return registry
}

// SetMetricsEnabled toggles metric recording at runtime
func SetMetricsEnabled(enabled bool) {
	metricsEnabled = enabled
}

// IsMetricsEnabled returns whether metric recording is active
func IsMetricsEnabled() bool {
	return metricsEnabled
}

// RegisterHandler registers the metrics HTTP handler
func RegisterHandler(mux *http.ServeMux) {
	if registry != nil {
		handler := promhttp.HandlerFor(
			registry,
			promhttp.HandlerOpts{EnableOpenMetrics: true},
		)
		mux.Handle(defaultMetricsPath, handler)
	}
}

// StartMetrics initializes metrics and serves them on the given port
func StartMetrics(logger *logrus.Logger, enabled bool, port int) {
	metricsEnabled = enabled
	if !enabled {
		logger.Info("Metrics are disabled")
		return
	}

	Init(logger)

	mux := http.NewServeMux()
	RegisterHandler(mux)

	go func() {
		addr := fmt.Sprintf(":%d", port)
		logger.WithField("addr", addr).Info("Starting metrics server")
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.WithError(err).Error("Metrics server stopped")
		}
	}()
}

// RecordStatusTransition records a successful call status transition
func RecordStatusTransition(from, to string) {
	if metricsEnabled && StatusTransitions != nil {
		StatusTransitions.WithLabelValues(from, to).Inc()
	}
}

// RecordSTTRequest records an STT request outcome
func RecordSTTRequest(vendor, status string) {
	if metricsEnabled && STTRequestsTotal != nil {
		STTRequestsTotal.WithLabelValues(vendor, status).Inc()
	}
}

// ObserveSTTLatency returns a completion function that records the elapsed time
func ObserveSTTLatency(vendor string) func() {
	if !metricsEnabled || STTLatency == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		STTLatency.WithLabelValues(vendor).Observe(time.Since(start).Seconds())
	}
}

// RecordAnalysisRequest records a rubric analysis outcome
func RecordAnalysisRequest(vendor, status string) {
	if metricsEnabled && AnalysisRequestsTotal != nil {
		AnalysisRequestsTotal.WithLabelValues(vendor, status).Inc()
	}
}

// ObserveAnalysisLatency returns a completion function that records the elapsed time
func ObserveAnalysisLatency(vendor string) func() {
	if !metricsEnabled || AnalysisLatency == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		AnalysisLatency.WithLabelValues(vendor).Observe(time.Since(start).Seconds())
	}
}

// RecordAMQPPublish records an AMQP publish attempt
func RecordAMQPPublish(queue, status string) {
	if metricsEnabled && AMQPPublishedMessages != nil {
		AMQPPublishedMessages.WithLabelValues(queue, status).Inc()
	}
}

// SetAMQPConnectionStatus sets the AMQP connection gauge
func SetAMQPConnectionStatus(connected bool) {
	if !metricsEnabled || AMQPConnectionStatus == nil {
		return
	}
	if connected {
		AMQPConnectionStatus.Set(1)
	} else {
		AMQPConnectionStatus.Set(0)
	}
}

// RecordRepairUpdate records one record changed by a repair rule
func RecordRepairUpdate(rule string) {
	if metricsEnabled && RepairUpdates != nil {
		RepairUpdates.WithLabelValues(rule).Inc()
	}
}
