package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics 定义业务监控指标
type BusinessMetrics struct {
	DonationTransitionsTotal *prometheus.CounterVec
	DepositEventsTotal       *prometheus.CounterVec
	GatewayRequestsTotal     *prometheus.CounterVec
	PurchaseQueueDepth       prometheus.Gauge
	JobRunDuration           *prometheus.HistogramVec
	JobSkippedTotal          *prometheus.CounterVec
	SettledAmountTotal       prometheus.Counter
	OperatorAlertsTotal      *prometheus.CounterVec
}

// Business 包加载时即注册，测试里直接调用业务代码也不会空指针
var Business = newBusinessMetrics()

func newBusinessMetrics() *BusinessMetrics {
	return &BusinessMetrics{
		DonationTransitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "donation_transitions_total",
			Help: "Applied donation state transitions",
		}, []string{"from", "to"}),
		DepositEventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "donation_deposit_events_total",
			Help: "Bank deposit notifications by outcome",
		}, []string{"outcome"}), // matched, unmatched, duplicate, invalid
		GatewayRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "donation_marketplace_requests_total",
			Help: "Marketplace API attempts by operation and result",
		}, []string{"op", "result"}),
		PurchaseQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "donation_purchase_queue_depth",
			Help: "Purchase jobs waiting in the in-process queue",
		}),
		JobRunDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "donation_job_duration_seconds",
			Help:    "Duration of scheduled jobs",
			Buckets: prometheus.DefBuckets,
		}, []string{"job", "result"}),
		JobSkippedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "donation_job_skipped_total",
			Help: "Scheduler ticks skipped",
		}, []string{"job", "reason"}), // overlap, locked
		SettledAmountTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "donation_settled_amount_total",
			Help: "Total amount settled with partners, minor units",
		}),
		OperatorAlertsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "donation_operator_alerts_total",
			Help: "Alerts raised for manual handling",
		}, []string{"kind"}),
	}
}
