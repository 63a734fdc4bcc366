// Package metrics 汇总服务暴露的 Prometheus 指标。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 帧转发方向。
const (
	DirectionUpstream   = "client_to_upstream"
	DirectionDownstream = "upstream_to_client"
)

// 中继会话结果。
const (
	ResultEstablished = "established"
	ResultDialFailed  = "dial_failed"
	ResultNotReady    = "not_ready"
)

// Metrics 服务指标集合。
type Metrics struct {
	registry *prometheus.Registry

	RelayActive   prometheus.Gauge
	RelaySessions *prometheus.CounterVec
	RelayFrames   *prometheus.CounterVec
	RelayDropped  prometheus.Counter
	RelayDuration prometheus.Histogram

	ChatStreams    *prometheus.CounterVec
	ChatDuration   prometheus.Histogram
	Transcriptions *prometheus.CounterVec

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New 在独立的 Registry 上创建并注册全部指标。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := build(promauto.With(reg))
	m.registry = reg
	return m
}

// NewNop 创建不注册到任何 Registry 的指标，供测试和可选依赖使用。
func NewNop() *Metrics {
	return build(promauto.With(nil))
}

func build(f promauto.Factory) *Metrics {
	return &Metrics{
		RelayActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "career_relay_active_sessions",
			Help: "Current number of realtime relay sessions",
		}),
		RelaySessions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "career_relay_sessions_total",
			Help: "Realtime relay sessions by establishment result",
		}, []string{"result"}),
		RelayFrames: f.NewCounterVec(prometheus.CounterOpts{
			Name: "career_relay_frames_total",
			Help: "Frames forwarded by the realtime relay",
		}, []string{"direction"}),
		RelayDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "career_relay_dropped_frames_total",
			Help: "Client frames dropped by the inbound rate limiter",
		}),
		RelayDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "career_relay_session_duration_seconds",
			Help:    "Lifetime of realtime relay sessions",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		ChatStreams: f.NewCounterVec(prometheus.CounterOpts{
			Name: "career_chat_streams_total",
			Help: "Streaming chat completions by outcome",
		}, []string{"status"}),
		ChatDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "career_chat_stream_duration_seconds",
			Help:    "Duration of streaming chat completions",
			Buckets: prometheus.DefBuckets,
		}),
		Transcriptions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "career_transcriptions_total",
			Help: "Voice note transcriptions by outcome",
		}, []string{"status"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "career_http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "career_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Handler 返回 /metrics 处理器。
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest 记录一次 HTTP 请求。
func (m *Metrics) RecordHTTPRequest(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
