package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector 指标收集器
// 所有方法对 nil 接收者安全，未启用指标时直接传 nil
type MetricsCollector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 讨论指标
	mutationsTotal *prometheus.CounterVec
	cascadeSize    prometheus.Histogram

	// 实时推送指标
	presenceRooms       prometheus.Gauge
	presenceUsers       prometheus.Gauge
	presenceConnections prometheus.Gauge
	broadcastsTotal     *prometheus.CounterVec
	deliveryFailures    *prometheus.CounterVec
	reaperEvictions     prometheus.Counter

	// 通知指标
	notificationsTotal *prometheus.CounterVec
}

// NewMetricsCollector 创建指标收集器并注册到 reg
func NewMetricsCollector(reg prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(reg)
	return &MetricsCollector{
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		mutationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forum_mutations_total",
				Help: "Thread, post and reaction mutations by operation and outcome",
			},
			[]string{"operation", "status"},
		),

		cascadeSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "forum_cascade_deleted_posts",
				Help:    "Number of posts marked deleted by one cascading delete",
				Buckets: []float64{1, 2, 5, 10, 50, 100, 500, 1000},
			},
		),

		presenceRooms: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "forum_presence_rooms",
				Help: "Number of thread rooms with at least one user",
			},
		),

		presenceUsers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "forum_presence_users",
				Help: "Number of presence entries across all rooms",
			},
		),

		presenceConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "forum_presence_connections",
				Help: "Number of connections joined to at least one room",
			},
		),

		broadcastsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forum_broadcasts_total",
				Help: "Events fanned out to thread rooms",
			},
			[]string{"event"},
		),

		deliveryFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forum_delivery_failures_total",
				Help: "Frames that could not be queued on a connection",
			},
			[]string{"event"},
		),

		reaperEvictions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "forum_reaper_evictions_total",
				Help: "Presence entries evicted for inactivity",
			},
		),

		notificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forum_notifications_total",
				Help: "Notification deliveries by type and outcome",
			},
			[]string{"type", "status"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *MetricsCollector) RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordMutation 记录一次写操作
func (m *MetricsCollector) RecordMutation(operation string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.mutationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordCascade 记录级联删除的帖子数量
func (m *MetricsCollector) RecordCascade(deleted int64) {
	if m == nil {
		return
	}
	m.cascadeSize.Observe(float64(deleted))
}

// UpdatePresence 更新在线状态
func (m *MetricsCollector) UpdatePresence(rooms, users, connections int) {
	if m == nil {
		return
	}
	m.presenceRooms.Set(float64(rooms))
	m.presenceUsers.Set(float64(users))
	m.presenceConnections.Set(float64(connections))
}

// RecordBroadcast 记录一次房间推送及失败数
func (m *MetricsCollector) RecordBroadcast(event string, failed int) {
	if m == nil {
		return
	}
	m.broadcastsTotal.WithLabelValues(event).Inc()
	if failed > 0 {
		m.deliveryFailures.WithLabelValues(event).Add(float64(failed))
	}
}

// RecordEvictions 记录清理数量
func (m *MetricsCollector) RecordEvictions(n int) {
	if m == nil || n == 0 {
		return
	}
	m.reaperEvictions.Add(float64(n))
}

// RecordNotification 记录通知投递结果
func (m *MetricsCollector) RecordNotification(kind string, err error) {
	if m == nil {
		return
	}
	status := "sent"
	if err != nil {
		status = "failed"
	}
	m.notificationsTotal.WithLabelValues(kind, status).Inc()
}
