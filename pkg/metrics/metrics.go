package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 工单处理计数，按最终状态区分
	TicketProcessedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_processed_count",
			Help: "Total number of inbound tickets processed",
		},
		[]string{"status"}, // classified, filtered, archived, drafted, forwarded_to_support, failed
	)

	// 分类调用延迟（毫秒）
	ClassifyLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "classify_latency_ms",
			Help:    "Email classification latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"category"},
	)

	// 草稿生成延迟（毫秒）
	DraftLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "draft_latency_ms",
			Help:    "Draft generation latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10),
		},
		[]string{"outcome"}, // ok, empty, error
	)

	// 出站发送计数
	MailSendCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_send_count",
			Help: "Total number of outbound send attempts",
		},
		[]string{"outcome"}, // ok, error
	)

	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// 知识库检索计数
	KnowledgeQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowledge_query_count",
			Help: "Total number of knowledge base retrieval queries",
		},
		[]string{"outcome"}, // hit, empty
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Total number of database queries above the slow threshold",
		},
	)

	// 慢查询耗时分布（秒）
	SlowQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "db_slow_query_duration_seconds",
			Help:    "Duration of slow database queries in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 8),
		},
	)
)

// IncrementTicketProcessed 增加工单处理计数
func IncrementTicketProcessed(status string) {
	TicketProcessedCount.WithLabelValues(status).Inc()
}

// RecordClassifyLatency 记录分类延迟
func RecordClassifyLatency(category string, duration time.Duration) {
	ClassifyLatency.WithLabelValues(category).Observe(float64(duration.Milliseconds()))
}

// RecordDraftLatency 记录草稿生成延迟
func RecordDraftLatency(outcome string, duration time.Duration) {
	DraftLatency.WithLabelValues(outcome).Observe(float64(duration.Milliseconds()))
}

// IncrementMailSend 增加发送计数
func IncrementMailSend(outcome string) {
	MailSendCount.WithLabelValues(outcome).Inc()
}

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// IncrementKnowledgeQuery 增加知识库检索计数
func IncrementKnowledgeQuery(outcome string) {
	KnowledgeQueryCount.WithLabelValues(outcome).Inc()
}

// IncrementSlowQuery 增加慢查询计数
func IncrementSlowQuery(duration time.Duration) {
	SlowQueryCount.Inc()
	SlowQueryDuration.Observe(duration.Seconds())
}
