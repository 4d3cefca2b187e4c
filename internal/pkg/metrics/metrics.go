// Package metrics 提供 Prometheus 监控指标定义和工具函数。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 分类相关指标
var (
	// ClassificationsTotal 分类结果总数
	ClassificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawldiag_classifications_total",
		Help: "Total number of failure classifications",
	}, []string{"type", "confidence", "rule"})

	// ClassifierPanicsTotal 分类过程中被恢复的 panic 次数
	ClassifierPanicsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawldiag_classifier_panics_total",
		Help: "Total number of panics recovered inside the classifier",
	})

	// NonCriticalFilteredTotal 被过滤的非关键网络错误（按资源类别）
	NonCriticalFilteredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawldiag_noncritical_filtered_total",
		Help: "Total number of network errors filtered as non-critical",
	}, []string{"category"}) // category: images, fonts, analytics, tracking, consent, ads, social, cdn

	// BackoffDelay 建议的退避延迟分布
	BackoffDelay = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crawldiag_backoff_suggested_delay_seconds",
		Help:    "Suggested backoff delay in seconds",
		Buckets: []float64{1, 2, 4, 5, 6, 8, 10, 30, 60, 300},
	})
)

// 去重相关指标
var (
	// DebounceEntries 进程内去重表当前条目数
	DebounceEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crawldiag_debounce_entries",
		Help: "Current number of entries in the in-memory debounce table",
	})

	// DebounceEvictionsTotal 过期淘汰的去重条目数
	DebounceEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawldiag_debounce_evictions_total",
		Help: "Total number of debounce entries evicted after expiry",
	})

	// DebounceBackendErrorsTotal 去重后端（Redis）错误次数
	DebounceBackendErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawldiag_debounce_backend_errors_total",
		Help: "Total number of debounce backend failures (fail-open)",
	})

	// SuggestionsSuppressedTotal 冷却期内被抑制的建议
	SuggestionsSuppressedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawldiag_suggestions_suppressed_total",
		Help: "Total number of suggestions suppressed by the debouncer",
	}, []string{"action"})
)

// 早期挑战检测相关指标
var (
	// EarlyDetectionsTotal 早期检测结果（按命中探测）
	EarlyDetectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawldiag_early_detections_total",
		Help: "Total number of early challenge detections",
	}, []string{"type"}) // type: title, content, url, none, detection_failed

	// EarlyDetectionDuration 早期检测耗时
	EarlyDetectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crawldiag_early_detection_duration_seconds",
		Help:    "Early challenge detection duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})
)

// 诊断记录队列相关指标
var (
	// RecordQueueDepth 诊断记录队列深度
	RecordQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crawldiag_record_queue_depth",
		Help: "Current diagnostic record queue depth",
	})

	// RecordThroughput 记录吞吐
	RecordThroughput = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawldiag_record_throughput_total",
		Help: "Diagnostic record throughput",
	}, []string{"direction"}) // direction: pushed, popped
)

// HTTP API 相关指标
var (
	// HTTPRequestsTotal HTTP 请求总数
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawldiag_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration HTTP 请求耗时分布
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crawldiag_http_request_duration_seconds",
		Help:    "HTTP request latencies in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	}, []string{"method", "path"})

	// IngestRateLimitedTotal 被限流拒绝的分类请求
	IngestRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawldiag_ingest_rate_limited_total",
		Help: "Total number of classify requests rejected by the ingest rate limiter",
	})

	// IngestRateLimitErrorsTotal 限流器后端错误（请求被放行）
	IngestRateLimitErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawldiag_ingest_rate_limit_errors_total",
		Help: "Total number of ingest rate limiter backend errors",
	})
)

// 浏览器相关指标
var (
	// BrowserProbesTotal 浏览器探测运行次数
	BrowserProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawldiag_browser_probes_total",
		Help: "Total number of browser probe runs",
	}, []string{"status"}) // status: success, failed

	// BrowserEventsTotal 采集到的页面事件
	BrowserEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawldiag_browser_events_total",
		Help: "Total number of page events collected",
	}, []string{"kind"}) // kind: console, network, page_error
)

// 系统指标
var (
	// ServiceUptime 服务启动时间（Unix timestamp）
	ServiceUptime = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crawldiag_service_uptime_seconds",
		Help: "Service start time as unix timestamp",
	})
)
