package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fireshakti/noc-engine/internal/workflow"
)

// Collector holds Prometheus metrics for the NOC engine
type Collector struct {
	TransitionsTotal         *prometheus.CounterVec
	TransitionConflictsTotal *prometheus.CounterVec
	OTPIssuedTotal           prometheus.Counter
	OTPVerificationsTotal    *prometheus.CounterVec
	BlocksMinedTotal         prometheus.Counter
	MiningDuration           prometheus.Histogram
	CertificatesIssuedTotal  prometheus.Counter
	CertificateVerifications *prometheus.CounterVec
	NotificationsTotal       *prometheus.CounterVec
	HTTPRequestsTotal        *prometheus.CounterVec
	HTTPRequestDuration      *prometheus.HistogramVec
}

// NewCollector creates and registers all metrics
func NewCollector() *Collector {
	return &Collector{
		TransitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noc_engine_transitions_total",
				Help: "Total number of application status transitions",
			},
			[]string{"from", "to", "result"},
		),
		TransitionConflictsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noc_engine_transition_conflicts_total",
				Help: "Total number of transitions rejected by the state guard",
			},
			[]string{"from", "to"},
		),
		OTPIssuedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "noc_engine_otp_issued_total",
				Help: "Total number of one-time passwords issued",
			},
		),
		OTPVerificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noc_engine_otp_verifications_total",
				Help: "Total number of OTP verification attempts by result",
			},
			[]string{"result"},
		),
		BlocksMinedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "noc_engine_ledger_blocks_mined_total",
				Help: "Total number of blocks appended to the ledger",
			},
		),
		MiningDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "noc_engine_ledger_mining_duration_seconds",
				Help:    "Time spent mining a block",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
		),
		CertificatesIssuedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "noc_engine_certificates_issued_total",
				Help: "Total number of certificates issued",
			},
		),
		CertificateVerifications: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noc_engine_certificate_verifications_total",
				Help: "Total number of certificate verification lookups by result",
			},
			[]string{"result"},
		),
		NotificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noc_engine_notifications_total",
				Help: "Total number of notification deliveries by channel and status",
			},
			[]string{"channel", "status"},
		),
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noc_engine_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "noc_engine_http_request_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// RecordTransition implements workflow.TransitionRecorder
func (c *Collector) RecordTransition(from, to workflow.ApplicationStatus, ok bool) {
	result := "ok"
	if !ok {
		result = "conflict"
		c.TransitionConflictsTotal.WithLabelValues(string(from), string(to)).Inc()
	}
	c.TransitionsTotal.WithLabelValues(string(from), string(to), result).Inc()
}

// RecordOTPIssued implements auth.MetricsRecorder
func (c *Collector) RecordOTPIssued() {
	c.OTPIssuedTotal.Inc()
}

// RecordOTPVerification implements auth.MetricsRecorder
func (c *Collector) RecordOTPVerification(result string) {
	c.OTPVerificationsTotal.WithLabelValues(result).Inc()
}

// RecordBlockMined implements ledger.MiningRecorder
func (c *Collector) RecordBlockMined(duration time.Duration) {
	c.BlocksMinedTotal.Inc()
	c.MiningDuration.Observe(duration.Seconds())
}

// RecordCertificateIssued implements certificate.MetricsRecorder
func (c *Collector) RecordCertificateIssued() {
	c.CertificatesIssuedTotal.Inc()
}

// RecordCertificateVerification implements certificate.MetricsRecorder
func (c *Collector) RecordCertificateVerification(result string) {
	c.CertificateVerifications.WithLabelValues(result).Inc()
}

// RecordNotification implements notification.MetricsRecorder
func (c *Collector) RecordNotification(channel, status string) {
	c.NotificationsTotal.WithLabelValues(channel, status).Inc()
}
