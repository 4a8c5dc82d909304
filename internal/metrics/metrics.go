package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP 请求指标
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lecturehub_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lecturehub_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 任务指标
	TasksSubmittedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lecturehub_tasks_submitted_total",
			Help: "Total number of lecture tasks submitted",
		},
	)

	TasksCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lecturehub_tasks_completed_total",
			Help: "Total number of lecture tasks finished, by terminal status",
		},
		[]string{"status"},
	)

	// 流水线阶段指标
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lecturehub_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.5, 1, 5, 15, 60, 180, 600, 1800},
		},
		[]string{"stage", "result"},
	)

	StageErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lecturehub_stage_errors_total",
			Help: "Total number of stage failures by error kind",
		},
		[]string{"stage", "kind", "class"},
	)

	// 数据库连接池指标
	DBConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lecturehub_db_connections_in_use",
			Help: "Number of database connections in use",
		},
	)

	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lecturehub_db_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	// 错误指标
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lecturehub_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "type"},
	)
)

// RecordHTTPRequest 记录 HTTP 请求
func RecordHTTPRequest(method, path string, status int, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// RecordTaskSubmitted 记录任务提交
func RecordTaskSubmitted() {
	TasksSubmittedTotal.Inc()
}

// RecordTaskCompleted 记录任务终态
func RecordTaskCompleted(status string) {
	TasksCompletedTotal.WithLabelValues(status).Inc()
}

// RecordStage 记录阶段耗时
func RecordStage(stage string, ok bool, duration float64) {
	result := "ok"
	if !ok {
		result = "error"
	}
	StageDuration.WithLabelValues(stage, result).Observe(duration)
}

// RecordStageError 记录阶段失败分类
func RecordStageError(stage, kind string, transientErr bool) {
	class := "permanent"
	if transientErr {
		class = "transient"
	}
	StageErrorsTotal.WithLabelValues(stage, kind, class).Inc()
}

// UpdateDBPoolStats 更新数据库连接池统计
func UpdateDBPoolStats(inUse, idle int32) {
	DBConnectionsInUse.Set(float64(inUse))
	DBConnectionsIdle.Set(float64(idle))
}

// RecordError 记录错误
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// statusClass 将 HTTP 状态码转为类别
func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
