package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 接入结果标签
const (
	OutcomeOK    = "ok"
	OutcomeStale = "stale" // 历史已写入，热表因事件过期未覆盖
	OutcomeError = "error"
)

// Metrics 接入与分析指标
type Metrics struct {
	ingestTotal       *prometheus.CounterVec
	ingestDuration    *prometheus.HistogramVec
	analyticsDuration *prometheus.HistogramVec
	analyticsErrors   *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New 创建并注册指标；reg 为 nil 时使用独立的 Registry
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		ingestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chargegazer_ingest_total",
			Help: "Telemetry records processed by device kind and outcome.",
		}, []string{"kind", "outcome"}),
		ingestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chargegazer_ingest_duration_seconds",
			Help:    "Latency of the dual-write ingestion transaction.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		analyticsDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chargegazer_analytics_duration_seconds",
			Help:    "Latency of analytics queries by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		analyticsErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chargegazer_analytics_errors_total",
			Help: "Analytics failures by operation.",
		}, []string{"op"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chargegazer_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.ingestTotal,
		m.ingestDuration,
		m.analyticsDuration,
		m.analyticsErrors,
		m.httpRequests,
	)

	return m
}

// ObserveIngest 记录一次接入
func (m *Metrics) ObserveIngest(kind, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.ingestTotal.WithLabelValues(kind, outcome).Inc()
	m.ingestDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
}

// ObserveAnalytics 记录一次分析查询
func (m *Metrics) ObserveAnalytics(op string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.analyticsDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
	if err != nil {
		m.analyticsErrors.WithLabelValues(op).Inc()
	}
}

// ObserveHTTP 记录 HTTP 请求
func (m *Metrics) ObserveHTTP(route string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, statusClass(status)).Inc()
}

// Handler /metrics 处理器
func (m *Metrics) Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
