package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 同步周期耗时（秒）
	CycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailwatcher_cycle_duration_seconds",
			Help:    "Duration of one mailbox sync cycle in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3min
		},
		[]string{"status"}, // status: ok, query_failed
	)

	// 被跳过的周期（上一个周期仍在运行）
	CycleSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailwatcher_cycle_skipped_total",
			Help: "Scheduled cycles skipped because a cycle was still running",
		},
	)

	// 邮件处理计数
	MessageProcessedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailwatcher_messages_total",
			Help: "Messages handled by the sync pipeline, by outcome",
		},
		[]string{"outcome"}, // outcome: skipped, detail_failed, classify_failed, recorded, record_failed
	)

	// EWS 调用延迟（毫秒）
	EWSCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailwatcher_ews_call_latency_ms",
			Help:    "Mail server SOAP call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12), // 10ms to ~40s
		},
		[]string{"operation", "status"},
	)

	// 推理调用延迟（毫秒）
	InferenceLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailwatcher_inference_latency_ms",
			Help:    "Inference endpoint call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"kind", "status"}, // kind: classify, translate
	)

	// 分类结果计数
	VerdictCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailwatcher_verdicts_total",
			Help: "Classification verdicts, by verdict and deciding rule",
		},
		[]string{"verdict", "rule"}, // rule: model, keyword, default
	)

	// 通知发送计数
	NotificationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailwatcher_notifications_total",
			Help: "Alert notifications, by channel and status",
		},
		[]string{"channel", "status"},
	)

	// 去重集合大小
	DedupStoreSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailwatcher_dedup_store_size",
			Help: "Number of message ids in the dedup store",
		},
	)
)

// RecordCycle 记录一个同步周期
func RecordCycle(status string, duration time.Duration) {
	CycleDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// IncrementCycleSkipped 记录一次被跳过的周期
func IncrementCycleSkipped() {
	CycleSkipped.Inc()
}

// IncrementMessage 增加邮件处理计数
func IncrementMessage(outcome string) {
	MessageProcessedCount.WithLabelValues(outcome).Inc()
}

// RecordEWSCallLatency 记录 EWS 调用延迟
func RecordEWSCallLatency(operation, status string, duration time.Duration) {
	EWSCallLatency.WithLabelValues(operation, status).Observe(float64(duration.Milliseconds()))
}

// RecordInferenceLatency 记录推理调用延迟
func RecordInferenceLatency(kind, status string, duration time.Duration) {
	InferenceLatency.WithLabelValues(kind, status).Observe(float64(duration.Milliseconds()))
}

// IncrementVerdict 增加分类结果计数
func IncrementVerdict(verdict, rule string) {
	VerdictCount.WithLabelValues(verdict, rule).Inc()
}

// IncrementNotification 增加通知计数
func IncrementNotification(channel, status string) {
	NotificationCount.WithLabelValues(channel, status).Inc()
}

// SetDedupStoreSize 设置去重集合大小
func SetDedupStoreSize(n int) {
	DedupStoreSize.Set(float64(n))
}
